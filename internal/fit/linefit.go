package fit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"grism/internal/array"
	"grism/internal/pipeline"
	"grism/internal/templates"
	"grism/internal/trace"
)

// LineGrid is the wavelength sampling of a line scan: line profiles are
// sampled on [Min, Max) every Step Å and centred on every Skip-th sample.
type LineGrid struct {
	Min, Max, Step float64
	Skip           int
}

// DefaultLineGrid covers the G141 bandpass.
func DefaultLineGrid() LineGrid {
	return LineGrid{Min: 1.12e4, Max: 1.65e4, Step: 1, Skip: 4}
}

// Waves returns the sample wavelengths and the line centres.
func (g LineGrid) Waves() (waves, centers []float64) {
	if g.Step <= 0 || g.Max <= g.Min {
		return nil, nil
	}
	n := int(math.Ceil((g.Max - g.Min) / g.Step))
	waves = make([]float64, 0, n)
	for i := 0; i < n; i++ {
		waves = append(waves, g.Min+float64(i)*g.Step)
	}
	skip := max(g.Skip, 1)
	for i := skip / 2; i < len(waves); i += skip {
		centers = append(centers, waves[i])
	}
	return waves, centers
}

// LineOptions configure LineSearch.
type LineOptions struct {
	Grid LineGrid
	// FWHM of the line in Å; 0 means 48.
	FWHM float64
}

// LineScan is the outcome of LineSearch.
type LineScan struct {
	Centers []float64
	// Coeffs[i] are the continuum and line coefficients at Centers[i]; the
	// line coefficient is last.
	Coeffs [][]float64
	Chi2   []float64

	Best      int
	Center    float64
	Flux      float64
	Model     *array.Array2D
	Continuum *array.Array2D
}

// LineSearch fits the continuum polynomial plus one Gaussian line whose
// centre is scanned over the wavelength grid. Unlike FitAt there is no
// background column and the line is kept however little of it falls in the
// fit mask.
func (e *Engine) LineSearch(ctx context.Context, opts LineOptions) (*LineScan, error) {
	if opts.FWHM <= 0 {
		opts.FWHM = 48
	}
	if opts.Grid == (LineGrid{}) {
		opts.Grid = DefaultLineGrid()
	}
	waves, centers := opts.Grid.Waves()
	if len(centers) == 0 {
		return nil, fmt.Errorf("fit: empty line grid %+v", opts.Grid)
	}

	name := strconv.Itoa(e.cut.Beam.ID())
	ctx, span := trace.Start(ctx, trace.ScopeStage, "linefit:"+name)
	defer span.End("")
	start := time.Now()
	pipeline.Emit(e.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageFit, Status: pipeline.StatusWorking})

	rms := opts.FWHM / 2.35
	line := func(center float64) templates.Spectrum {
		flux := make([]float64, len(waves))
		norm := 1 / math.Sqrt(2*math.Pi*rms*rms)
		for i, w := range waves {
			d := center - w
			flux[i] = norm * math.Exp(-d*d/(2*rms*rms))
		}
		return templates.Spectrum{Name: "line", Line: true, Wave: waves, Flux: flux}
	}

	scan := &LineScan{
		Centers: centers,
		Coeffs:  make([][]float64, len(centers)),
		Chi2:    make([]float64, len(centers)),
	}
	err := e.parallel(ctx, len(centers), func(i int) error {
		res, err := e.fitAt(0, []templates.Spectrum{line(centers[i])}, basis{})
		if err != nil {
			return err
		}
		scan.Coeffs[i], scan.Chi2[i] = res.Coeffs, res.Chi2
		return nil
	})
	if err != nil {
		pipeline.Emit(e.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageFit, Status: pipeline.StatusError, Err: err})
		return nil, err
	}

	scan.Best = argmin(scan.Chi2)
	scan.Center = centers[scan.Best]
	best, err := e.fitAt(0, []templates.Spectrum{line(scan.Center)}, basis{})
	if err != nil {
		return nil, err
	}
	e.report(best)
	scan.Model = best.Model
	coeffs := append([]float64(nil), best.Coeffs...)
	last := len(coeffs) - 1
	b := e.cut.Beam
	scan.Flux = coeffs[last] * b.TotalFlux() / b.FluxUnit()
	coeffs[last] = 0
	scan.Continuum = e.model(best.Design, coeffs)

	e.opts.Logger.Info("line fit",
		zap.Int("id", b.ID()),
		zap.String("order", b.Order()),
		zap.Float64("center", scan.Center),
		zap.Float64("flux", scan.Flux),
		zap.Float64("chi2", scan.Chi2[scan.Best]),
		zap.Int("grid", len(centers)),
	)
	span.WithExtra("center", strconv.FormatFloat(scan.Center, 'f', 1, 64))
	pipeline.Emit(e.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageFit, Status: pipeline.StatusDone, Elapsed: time.Since(start)})
	return scan, nil
}
