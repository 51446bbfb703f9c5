package scene

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"grism/internal/array"
	"grism/internal/calib"
	"grism/internal/detmodel"
	"grism/internal/templates"
)

// SynthOptions describe a synthetic field.
type SynthOptions struct {
	Rows, Cols int
	Pad        int
	Sources    int
	Seed       uint64
	// Redshifts are drawn uniformly from [ZMin, ZMax).
	ZMin, ZMax float64
	// Line is the emission line or complex given to every source.
	Line string
	// Amplitude scales every source spectrum.
	Amplitude float64
	// Sigma is the per-pixel noise; 0 means 1e-3 of the brightest model
	// pixel.
	Sigma      float64
	Instrument string
	Filter     string
	Logger     *zap.Logger
}

// DefaultSynthOptions returns a small G141-like field.
func DefaultSynthOptions() SynthOptions {
	return SynthOptions{
		Rows: 256, Cols: 256, Pad: 50,
		Sources:   12,
		Seed:      1,
		ZMin:      0.7,
		ZMax:      1.5,
		Line:      "Ha",
		Amplitude: 1,
		Filter:    "G141",
	}
}

// Synthesize places Gaussian sources with power-law continua and one
// emission line at random redshifts, disperses them with solver and adds
// Gaussian noise. The same options and seed give the same scene.
func Synthesize(ctx context.Context, solver calib.TraceSolver, opts SynthOptions) (*Scene, error) {
	if opts.Rows <= 0 || opts.Cols <= 0 {
		return nil, fmt.Errorf("scene: invalid size %dx%d", opts.Rows, opts.Cols)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Amplitude == 0 {
		opts.Amplitude = 1
	}
	if opts.Line == "" {
		opts.Line = "Ha"
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	uniform := func(lo, hi float64) float64 {
		return lo + (hi-lo)*rng.Float64()
	}

	direct := array.New(opts.Rows, opts.Cols)
	seg := array.NewInt(opts.Rows, opts.Cols)
	const margin = 30
	if opts.Rows <= 2*margin || opts.Cols <= 2*margin {
		return nil, fmt.Errorf("scene: %dx%d leaves no room inside a %d pixel margin", opts.Rows, opts.Cols, margin)
	}
	for id := 1; id <= opts.Sources; id++ {
		y := uniform(margin, float64(opts.Rows-margin))
		x := uniform(margin, float64(opts.Cols-margin))
		sigma := uniform(1, 2.5)
		amp := uniform(1, 10)
		paint(direct, seg, int32(id), y, x, sigma, amp)
	}

	im := array.NewImageData(direct).WithPad(opts.Pad)
	im.Instrument, im.Filter = opts.Instrument, opts.Filter
	segP := seg.Pad(opts.Pad)
	m, err := detmodel.New(im, segP, solver, detmodel.Options{Logger: opts.Logger})
	if err != nil {
		return nil, err
	}

	line, err := templates.Line(opts.Line, 500, true)
	if err != nil {
		return nil, err
	}
	var truth []Truth
	for _, id := range segP.Labels() {
		tr := Truth{
			ID:       id,
			Z:        uniform(opts.ZMin, opts.ZMax),
			Line:     opts.Line,
			LineFlux: uniform(20, 200) * opts.Amplitude,
			Beta:     uniform(-2.5, -1),
		}
		cont := templates.PowerLaw("continuum", tr.Beta, 1000, 20000, 5).Zscale(tr.Z, opts.Amplitude)
		spec := cont.Add(line.Zscale(tr.Z, tr.LineFlux))
		res, err := m.ComputeForObject(ctx, id, detmodel.ObjectRequest{Spectrum: &spec, InPlace: true})
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", id, err)
		}
		if res.Status == detmodel.StatusComputed {
			truth = append(truth, tr)
		}
	}

	full := m.Full()
	sigma := opts.Sigma
	if sigma <= 0 {
		sigma = 1e-3 * full.Max()
		if sigma <= 0 {
			sigma = 1
		}
	}
	sci := full.Data()
	for i := range sci {
		sci[i] += sigma * rng.NormFloat64()
	}
	grism := array.NewImageData(full)
	sh := full.Shape()
	grism.Err = array.Full(sh.Rows, sh.Cols, sigma)
	for r := 0; r < sh.Rows; r++ {
		for c := 0; c < sh.Cols; c++ {
			if r < opts.Pad || c < opts.Pad || r >= sh.Rows-opts.Pad || c >= sh.Cols-opts.Pad {
				grism.DQ.Set(r, c, 1)
			}
		}
	}
	grism.Pad = opts.Pad
	grism.Instrument, grism.Filter = opts.Instrument, opts.Filter

	opts.Logger.Debug("scene synthesized",
		zap.Int("sources", len(truth)),
		zap.Float64("sigma", sigma),
		zap.Uint64("seed", opts.Seed),
	)
	return &Scene{Direct: im, Seg: segP, Grism: grism, Truth: truth}, nil
}

// paint adds a circular Gaussian source and labels the pixels above 5% of
// its peak that no other source has claimed.
func paint(direct *array.Array2D, seg *array.Int2D, id int32, y, x, sigma, amp float64) {
	sh := direct.Shape()
	rad := int(math.Ceil(3 * sigma))
	yc, xc := int(math.Round(y)), int(math.Round(x))
	for r := max(0, yc-rad); r <= min(sh.Rows-1, yc+rad); r++ {
		for c := max(0, xc-rad); c <= min(sh.Cols-1, xc+rad); c++ {
			dy, dx := float64(r)-y, float64(c)-x
			v := amp * math.Exp(-(dy*dy+dx*dx)/(2*sigma*sigma))
			direct.Add(r, c, v)
			if v > 0.05*amp && seg.At(r, c) == 0 {
				seg.Set(r, c, id)
			}
		}
	}
}
