package fit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"grism/internal/kernel"
	"grism/internal/pipeline"
	"grism/internal/templates"
	"grism/internal/trace"
)

// ErrEmptyGrid is returned when the redshift range yields no grid points.
var ErrEmptyGrid = errors.New("fit: empty redshift grid")

// SearchOptions configure a redshift search.
type SearchOptions struct {
	Range Range
	// ZoomFactor subdivides grid intervals near minima; 0 means 10.
	ZoomFactor int
	// ZoomGrow widens the zoomed region by this many grid points; 0 means 7.
	ZoomGrow int
	// Coarse templates are fitted over the grid; Final templates are refit at
	// the best redshift to produce line fluxes. Nil Final reuses Coarse.
	Coarse []templates.Spectrum
	Final  []templates.Spectrum
}

// GridPoint is the fit summary at one trial redshift.
type GridPoint struct {
	Z      float64
	Chi2   float64
	Coeffs []float64
	// Zoom marks points added by refinement.
	Zoom bool
}

// LineFlux is the fitted flux of one line template, in units of the beam's
// flux unit.
type LineFlux struct {
	Name string  `json:"name" yaml:"name"`
	Flux float64 `json:"flux" yaml:"flux"`
}

// Redshift is the outcome of Search.
type Redshift struct {
	// Grid holds coarse and zoom points sorted by redshift.
	Grid []GridPoint
	// CoarseBest and Best are the minimum chi-square over the coarse grid and
	// over the merged grid.
	CoarseBest GridPoint
	Best       GridPoint
	Peaks      int
	Threshold  float64
	DoF        int

	// Fit is the refit with the final templates at Best.Z.
	Fit Result
	// Continuum is Fit's model with every line coefficient zeroed.
	Continuum *Result
	Model1D   templates.Spectrum
	Cont1D    templates.Spectrum
	Lines     []LineFlux
}

// Search scans the redshift range coarsely, refines around the chi-square
// minima and refits the best redshift with the final templates.
func (e *Engine) Search(ctx context.Context, opts SearchOptions) (*Redshift, error) {
	if opts.ZoomFactor <= 0 {
		opts.ZoomFactor = 10
	}
	if opts.ZoomGrow <= 0 {
		opts.ZoomGrow = 7
	}
	if opts.Final == nil {
		opts.Final = opts.Coarse
	}
	zgrid := LogZGrid(opts.Range.ZMin, opts.Range.ZMax, opts.Range.Step)
	if len(zgrid) == 0 {
		return nil, fmt.Errorf("%w: [%g, %g) step %g", ErrEmptyGrid, opts.Range.ZMin, opts.Range.ZMax, opts.Range.Step)
	}

	name := strconv.Itoa(e.cut.Beam.ID())
	ctx, span := trace.Start(ctx, trace.ScopeStage, "redshift:"+name)
	defer span.End("")
	start := time.Now()
	pipeline.Emit(e.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageFit, Status: pipeline.StatusWorking})

	coarse, err := e.evaluate(ctx, zgrid, opts.Coarse, false)
	if err != nil {
		pipeline.Emit(e.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageFit, Status: pipeline.StatusError, Err: err})
		return nil, err
	}
	dof := float64(e.DoF())
	chi2 := make([]float64, len(coarse))
	for i, p := range coarse {
		chi2[i] = p.Chi2
	}
	lo, hi := minMax(chi2)

	// Minima of chi-square are the peaks of (min-chi2)/DoF.
	y := make([]float64, len(chi2))
	for i, c := range chi2 {
		nu := (lo - c) / dof
		if nu > -0.004 {
			y[i] = nu + 0.01
		}
	}
	peaks := kernel.FindPeaks(y, 0.003, 20)
	threshold := 0.001
	if (hi-lo)/dof > 0.01 && len(peaks) < 5 {
		threshold = 0.01
	}
	chi2nu := make([]float64, len(chi2))
	for i, c := range chi2 {
		chi2nu[i] = c / dof
	}
	zoom := ZoomZGrid(zgrid, chi2nu, threshold, opts.ZoomFactor, opts.ZoomGrow)
	refined, err := e.evaluate(ctx, zoom, opts.Coarse, true)
	if err != nil {
		pipeline.Emit(e.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageFit, Status: pipeline.StatusError, Err: err})
		return nil, err
	}

	out := &Redshift{
		CoarseBest: coarse[argmin(chi2)],
		Peaks:      len(peaks),
		Threshold:  threshold,
		DoF:        e.DoF(),
	}
	out.Grid = append(coarse, refined...)
	sort.SliceStable(out.Grid, func(a, b int) bool { return out.Grid[a].Z < out.Grid[b].Z })
	out.Best = out.Grid[0]
	for _, p := range out.Grid[1:] {
		if p.Chi2 < out.Best.Chi2 {
			out.Best = p
		}
	}

	final, err := e.FitAt(out.Best.Z, opts.Final)
	if err != nil {
		pipeline.Emit(e.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageFit, Status: pipeline.StatusError, Err: err})
		return nil, err
	}
	e.report(final)
	out.Fit = final
	if err := e.products(out, opts.Final); err != nil {
		return nil, err
	}

	e.opts.Logger.Info("redshift fit",
		zap.Int("id", e.cut.Beam.ID()),
		zap.String("order", e.cut.Beam.Order()),
		zap.Float64("z", out.Best.Z),
		zap.Float64("chi2", out.Best.Chi2),
		zap.Int("dof", out.DoF),
		zap.Int("coarse", len(coarse)),
		zap.Int("zoom", len(refined)),
		zap.Int("peaks", out.Peaks),
	)
	span.WithExtra("z", strconv.FormatFloat(out.Best.Z, 'f', 4, 64))
	pipeline.Emit(e.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageFit, Status: pipeline.StatusDone, Elapsed: time.Since(start)})
	return out, nil
}

// evaluate fits every redshift of zgrid in parallel. Results keep the grid
// order.
func (e *Engine) evaluate(ctx context.Context, zgrid []float64, tmpl []templates.Spectrum, zoom bool) ([]GridPoint, error) {
	tracer, parent := trace.FromContext(ctx), trace.CurrentSpan(ctx).SpanID
	out := make([]GridPoint, len(zgrid))
	err := e.parallel(ctx, len(zgrid), func(i int) error {
		res, err := e.FitAt(zgrid[i], tmpl)
		if err != nil {
			return err
		}
		trace.Point(tracer, trace.ScopeBeam, "z", strconv.FormatFloat(zgrid[i], 'f', 5, 64), parent)
		out[i] = GridPoint{Z: zgrid[i], Chi2: res.Chi2, Coeffs: res.Coeffs, Zoom: zoom}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// parallel runs fn for 0..n-1 on at most Jobs goroutines and stops at the
// first error.
func (e *Engine) parallel(ctx context.Context, n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	jobs := e.opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, n))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return fn(i)
		})
	}
	return g.Wait()
}

// products derives the continuum model, the 1D spectra and the line fluxes
// from the final fit.
func (e *Engine) products(r *Redshift, tmpl []templates.Spectrum) error {
	b := e.cut.Beam
	fit := r.Fit
	ns := e.poly.NSimple()

	cont := fit
	cont.Coeffs = append([]float64(nil), fit.Coeffs...)
	for i, c := range fit.Columns {
		if c.Line {
			cont.Coeffs[ns+i] = 0
		}
	}
	cont.Model = e.model(cont.Design, cont.Coeffs)
	cont.Chi2 = e.chi2(cont.Model)
	r.Continuum = &cont

	lam := b.Lam()
	flux := make([]float64, len(lam))
	for k, y := range e.poly.Y {
		c := fit.Coeffs[e.poly.NBg+k]
		for j := range flux {
			flux[j] += y[j] * c
		}
	}
	poly, err := templates.New("polynomial continuum", lam, flux)
	if err != nil {
		return err
	}
	r.Model1D, r.Cont1D = poly, poly
	r.Model1D.Name, r.Cont1D.Name = "model", "continuum"

	for i, c := range fit.Columns {
		coeff := fit.Coeffs[ns+i]
		if c.Excluded != Included {
			if c.Line {
				r.Lines = append(r.Lines, LineFlux{Name: templates.LineLabel(c.Name)})
			}
			continue
		}
		scaled := tmpl[i].Zscale(fit.Z, coeff)
		r.Model1D = r.Model1D.Add(scaled)
		if c.Line {
			r.Lines = append(r.Lines, LineFlux{Name: templates.LineLabel(c.Name), Flux: coeff * b.TotalFlux() / b.FluxUnit()})
		} else {
			r.Cont1D = r.Cont1D.Add(scaled)
		}
	}
	return nil
}

func argmin(v []float64) int {
	best := 0
	for i, x := range v {
		if x < v[best] {
			best = i
		}
	}
	return best
}

func minMax(v []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range v {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	return lo, hi
}
