package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"grism/internal/array"
	"grism/internal/cutout"
	"grism/internal/detmodel"
	"grism/internal/fit"
)

// runConfig is the optional grism.toml of a run. Zero fields keep the
// library defaults.
type runConfig struct {
	Model   modelConfig   `toml:"model"`
	Fit     fitConfig     `toml:"fit"`
	LineFit lineFitConfig `toml:"linefit"`

	// abzp is set when [model].abzp was given.
	abzp bool
}

type modelConfig struct {
	Grow      int     `toml:"grow"`
	MinSize   int     `toml:"min_size"`
	Margin    int     `toml:"margin"`
	Edge      int     `toml:"edge"`
	MinUsable int     `toml:"min_usable"`
	Jobs      int     `toml:"jobs"`
	Store     bool    `toml:"store"`
	ABZP      float64 `toml:"abzp"`
}

type fitConfig struct {
	PolyOrder  int      `toml:"poly_order"`
	FWHM       float64  `toml:"fwhm"`
	ZMin       float64  `toml:"zmin"`
	ZMax       float64  `toml:"zmax"`
	Step       float64  `toml:"step"`
	ZoomFactor int      `toml:"zoom_factor"`
	ZoomGrow   int      `toml:"zoom_grow"`
	Solver     string   `toml:"solver"`
	MinSupport float64  `toml:"min_support"`
	Templates  []string `toml:"templates"`
	// ContamMask removes contamination-dominated pixels from the fit mask.
	ContamMask bool `toml:"contam_mask"`
}

type lineFitConfig struct {
	PolyOrder int     `toml:"poly_order"`
	Min       float64 `toml:"min"`
	Max       float64 `toml:"max"`
	Step      float64 `toml:"step"`
	Skip      int     `toml:"skip"`
	FWHM      float64 `toml:"fwhm"`
}

func defaultRunConfig() runConfig {
	lg := fit.DefaultLineGrid()
	return runConfig{
		Model: modelConfig{Grow: 1},
		Fit: fitConfig{
			PolyOrder:  1,
			FWHM:       fit.DefaultFWHM,
			ZoomFactor: 10,
			ZoomGrow:   7,
			Solver:     "svd",
		},
		LineFit: lineFitConfig{
			PolyOrder: 3,
			Min:       lg.Min,
			Max:       lg.Max,
			Step:      lg.Step,
			Skip:      lg.Skip,
			FWHM:      48,
		},
	}
}

// loadRunConfig reads path over the defaults. An empty path returns the
// defaults.
func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return runConfig{}, fmt.Errorf("%s: %w", path, err)
		}
		return runConfig{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return runConfig{}, fmt.Errorf("%s: unknown key %q", path, undec[0].String())
	}
	cfg.abzp = meta.IsDefined("model", "abzp")
	if meta.IsDefined("fit", "zmin") != meta.IsDefined("fit", "zmax") {
		return runConfig{}, fmt.Errorf("%s: [fit] needs both zmin and zmax", path)
	}
	if err := cfg.Validate(); err != nil {
		return runConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values no run can use and clamps the rest.
func (c *runConfig) Validate() error {
	if c.Model.Grow < 1 {
		c.Model.Grow = 1
	}
	if c.Model.Jobs < 0 {
		c.Model.Jobs = 0
	}
	if c.Fit.PolyOrder < 0 || c.LineFit.PolyOrder < 0 {
		return fmt.Errorf("poly_order must be >= 0")
	}
	if c.Fit.ZMax < c.Fit.ZMin {
		return fmt.Errorf("[fit] zmax %g below zmin %g", c.Fit.ZMax, c.Fit.ZMin)
	}
	if c.Fit.Step < 0 {
		return fmt.Errorf("[fit] step must be positive")
	}
	if _, err := fit.NewSolver(c.Fit.Solver); err != nil {
		return fmt.Errorf("[fit] %w", err)
	}
	if c.Fit.ZoomFactor < 2 {
		c.Fit.ZoomFactor = 2
	}
	if c.Fit.ZoomGrow < 1 {
		c.Fit.ZoomGrow = 1
	}
	if c.LineFit.Max <= c.LineFit.Min || c.LineFit.Step <= 0 {
		return fmt.Errorf("[linefit] needs min < max and step > 0")
	}
	if c.LineFit.Skip < 1 {
		c.LineFit.Skip = 1
	}
	if c.LineFit.FWHM <= 0 {
		return fmt.Errorf("[linefit] fwhm must be positive")
	}
	return nil
}

func (c runConfig) modelOptions() detmodel.Options {
	thumb := detmodel.DefaultThumbOptions()
	if c.Model.MinSize > 0 {
		thumb.MinSize = c.Model.MinSize
	}
	if c.Model.Margin > 0 {
		thumb.Margin = c.Model.Margin
	}
	if c.Model.Edge > 0 {
		thumb.Edge = c.Model.Edge
	}
	if c.Model.MinUsable > 0 {
		thumb.MinUsable = c.Model.MinUsable
	}
	return detmodel.Options{Grow: c.Model.Grow, Thumb: thumb, Jobs: c.Model.Jobs}
}

// applyZeropoint rewrites the photometric keywords of im so that its AB
// zeropoint is the configured one.
func (c runConfig) applyZeropoint(im array.ImageData) array.ImageData {
	if !c.abzp {
		return im
	}
	im.PhotPlam = 1
	im.PhotFlam = math.Pow(10, -(c.Model.ABZP+21.10-18.6921)/2.5)
	return im
}

func (c runConfig) cutoutOptions() cutout.Options {
	opts := cutout.DefaultOptions()
	opts.UseContamMask = c.Fit.ContamMask
	return opts
}

// searchRange returns the configured redshift range, falling back to the
// filter's default.
func (c runConfig) searchRange(filter string) (fit.Range, error) {
	if c.Fit.ZMax > c.Fit.ZMin {
		r := fit.Range{ZMin: c.Fit.ZMin, ZMax: c.Fit.ZMax, Step: c.Fit.Step}
		if r.Step == 0 {
			r.Step = 0.003
		}
		return r, nil
	}
	r, ok := fit.DefaultRange(filter)
	if !ok {
		return fit.Range{}, fmt.Errorf("no default redshift range for filter %q; set [fit] zmin and zmax", strings.TrimSpace(filter))
	}
	if c.Fit.Step > 0 {
		r.Step = c.Fit.Step
	}
	return r, nil
}

func (c runConfig) lineGrid() fit.LineGrid {
	return fit.LineGrid{Min: c.LineFit.Min, Max: c.LineFit.Max, Step: c.LineFit.Step, Skip: c.LineFit.Skip}
}
