// Package fit fits dispersed templates to a beam cutout: a linear
// least-squares solve at fixed redshift, a coarse-to-fine redshift search
// and a single emission-line scan over wavelength.
package fit

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"grism/internal/array"
	"grism/internal/cutout"
	"grism/internal/diag"
	"grism/internal/pipeline"
	"grism/internal/templates"
)

// Exclusion says why a template did not enter a solve.
type Exclusion uint8

const (
	Included Exclusion = iota
	// NoOverlap: the redshifted template misses the beam wavelengths.
	NoOverlap
	// Faint: the template's model peak inside the fit mask is below
	// MinSupport of its overall peak.
	Faint
)

func (e Exclusion) String() string {
	switch e {
	case Included:
		return "included"
	case NoOverlap:
		return "no overlap"
	case Faint:
		return "faint in fit mask"
	default:
		return "unknown"
	}
}

// Column describes one template column of the design matrix.
type Column struct {
	Name     string
	Line     bool
	Excluded Exclusion
}

// Options configure an Engine.
type Options struct {
	PolyOrder int
	Solver    Solver
	// MinSupport is the smallest ratio of a template's model peak inside the
	// fit mask to its overall peak; 0 means 0.2.
	MinSupport float64
	// Jobs bounds parallel grid evaluation; <=0 means GOMAXPROCS.
	Jobs int

	Logger   *zap.Logger
	Reporter diag.Reporter
	Progress pipeline.ProgressSink
}

func (o *Options) normalize() {
	if o.PolyOrder < 0 {
		o.PolyOrder = 0
	}
	if o.Solver == nil {
		o.Solver = SVDSolver{}
	}
	if o.MinSupport <= 0 {
		o.MinSupport = 0.2
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Reporter == nil {
		o.Reporter = diag.NopReporter{}
	}
}

// Engine fits templates to one cutout. It is safe for concurrent FitAt
// calls.
type Engine struct {
	cut  *cutout.Context
	poly cutout.Poly
	opts Options
	// rows lists the fit-mask pixels.
	rows []int
}

// New prepares an engine for c.
func New(c *cutout.Context, opts Options) (*Engine, error) {
	opts.normalize()
	e := &Engine{cut: c, opts: opts, poly: c.Poly(opts.PolyOrder)}
	for i, ok := range c.FitMask.Flat() {
		if ok {
			e.rows = append(e.rows, i)
		}
	}
	if len(e.rows) == 0 {
		return nil, fmt.Errorf("%w: object %d order %s", cutout.ErrNoFitPixels, c.Beam.ID(), c.Beam.Order())
	}
	return e, nil
}

// Cutout returns the context being fitted.
func (e *Engine) Cutout() *cutout.Context { return e.cut }

// Poly returns the continuum basis.
func (e *Engine) Poly() cutout.Poly { return e.poly }

// DoF returns the number of fitted pixels.
func (e *Engine) DoF() int { return len(e.rows) }

// Result is a fit at one redshift.
type Result struct {
	Z float64
	// Columns describes the templates, in input order; their coefficients
	// follow the Poly().NSimple() continuum coefficients.
	Columns []Column
	// Coeffs holds one value per design column; excluded columns are zero.
	Coeffs []float64
	Chi2   float64
	// Design holds the flattened columns of the full design matrix.
	Design [][]float64
	Model  *array.Array2D
}

// basis selects the columns of a solve besides the polynomial.
type basis struct {
	// background adds the constant background terms.
	background bool
	// support drops templates that are faint inside the fit mask.
	support bool
}

// FitAt fits the background, the continuum polynomial and the templates
// redshifted to z.
func (e *Engine) FitAt(z float64, tmpl []templates.Spectrum) (Result, error) {
	return e.fitAt(z, tmpl, basis{background: true, support: true})
}

func (e *Engine) fitAt(z float64, tmpl []templates.Spectrum, bs basis) (Result, error) {
	b := e.cut.Beam
	lo, hi := b.LamRange()

	poly := e.poly.Columns
	if !bs.background {
		poly = poly[e.poly.NBg:]
	}
	res := Result{Z: z, Columns: make([]Column, len(tmpl))}
	design := make([][]float64, 0, len(poly)+len(tmpl))
	design = append(design, poly...)
	use := make([]bool, 0, cap(design))
	for range poly {
		use = append(use, true)
	}

	for i, t := range tmpl {
		res.Columns[i] = Column{Name: t.Name, Line: t.Line}
		zt := t.Zscale(z, 1)
		if !zt.Overlaps(lo, hi) {
			res.Columns[i].Excluded = NoOverlap
			design = append(design, e.cut.Flat.Data())
			use = append(use, false)
			continue
		}
		m, err := b.RenderModel(&zt, nil)
		if err != nil {
			return Result{}, fmt.Errorf("template %q at z=%.4f: %w", t.Name, z, err)
		}
		col := m.Data()
		peak := floats.Max(col)
		var inMask float64
		for _, r := range e.rows {
			inMask = max(inMask, col[r])
		}
		if !(peak > 0) || (bs.support && inMask/peak < e.opts.MinSupport) {
			res.Columns[i].Excluded = Faint
			use = append(use, false)
		} else {
			use = append(use, true)
		}
		design = append(design, col)
	}
	res.Design = design

	coeffs, err := e.solve(design, use)
	if err != nil {
		return Result{}, fmt.Errorf("z=%.4f: %w", z, err)
	}
	res.Coeffs = coeffs
	res.Model = e.model(design, coeffs)
	res.Chi2 = e.chi2(res.Model)
	return res, nil
}

// solve fits the used columns over the fit mask. Columns are scaled to unit
// norm before solving and the coefficients scaled back.
func (e *Engine) solve(design [][]float64, use []bool) ([]float64, error) {
	var idx []int
	for j, ok := range use {
		if ok {
			idx = append(idx, j)
		}
	}
	coeffs := make([]float64, len(design))
	if len(idx) == 0 {
		return coeffs, nil
	}
	n := len(e.rows)
	a := mat.NewDense(n, len(idx), nil)
	norm := make([]float64, len(idx))
	for k, j := range idx {
		col := design[j]
		var s float64
		for _, r := range e.rows {
			s += col[r] * col[r]
		}
		norm[k] = math.Sqrt(s)
		if norm[k] == 0 {
			norm[k] = 1
		}
		for i, r := range e.rows {
			a.Set(i, k, col[r]/norm[k])
		}
	}
	sci := e.cut.Sci.Data()
	y := mat.NewVecDense(n, nil)
	for i, r := range e.rows {
		y.SetVec(i, sci[r])
	}
	x, err := e.opts.Solver.Solve(a, y)
	if err != nil {
		return nil, err
	}
	for k, j := range idx {
		coeffs[j] = x.AtVec(k) / norm[k]
	}
	return coeffs, nil
}

func (e *Engine) model(design [][]float64, coeffs []float64) *array.Array2D {
	out := array.Zeros(e.cut.Beam.Shape())
	data := out.Data()
	for j, col := range design {
		if coeffs[j] != 0 {
			floats.AddScaled(data, coeffs[j], col)
		}
	}
	return out
}

func (e *Engine) chi2(model *array.Array2D) float64 {
	sci, ivar, m := e.cut.Sci.Data(), e.cut.Ivar.Data(), model.Data()
	var chi2 float64
	for _, r := range e.rows {
		d := sci[r] - m[r]
		chi2 += d * d * ivar[r]
	}
	return chi2
}

// report records the templates a fit left out.
func (e *Engine) report(res Result) {
	subject := diag.Subject{ID: e.cut.Beam.ID(), Order: e.cut.Beam.Order()}
	for _, c := range res.Columns {
		switch c.Excluded {
		case NoOverlap:
			e.opts.Reporter.Report(diag.New(diag.SevInfo, diag.FitTemplateNoCover, subject,
				fmt.Sprintf("%s at z=%.4f", c.Name, res.Z)))
		case Faint:
			e.opts.Reporter.Report(diag.New(diag.SevInfo, diag.FitTemplateFaint, subject,
				fmt.Sprintf("%s at z=%.4f", c.Name, res.Z)))
		}
	}
	if ncol := len(res.Coeffs); len(e.rows) < ncol {
		e.opts.Reporter.Report(diag.NewWarning(diag.FitUnderconstrained, subject,
			fmt.Sprintf("%d pixels for %d columns", len(e.rows), ncol)))
	}
}
