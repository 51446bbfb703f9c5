// Package cutout prepares one beam of one object for fitting: the matching
// grism pixels, the contamination from every other modelled beam, the pixel
// masks and the polynomial continuum basis shared by every trial redshift.
package cutout

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"grism/internal/array"
	"grism/internal/detmodel"
	"grism/internal/disperse"
	"grism/internal/kernel"
)

// ErrNoFitPixels is returned when no pixel survives the fit mask.
var ErrNoFitPixels = errors.New("cutout: no pixels to fit")

// Options hold the masking thresholds.
type Options struct {
	// FitFraction keeps pixels whose flat model exceeds this fraction of its
	// peak.
	FitFraction float64
	// Pixels whose flat model is below ResidualFraction of its peak and whose
	// residual exceeds ResidualSigma are rejected.
	ResidualFraction float64
	ResidualSigma    float64
	// ContamSN and ModelSN flag pixels where contamination is significant
	// and the object is not; the flagged region is grown by ContamGrow.
	ContamSN   float64
	ModelSN    float64
	ContamGrow int
	// UseContamMask removes the contaminated region from the fit mask.
	UseContamMask bool
}

// DefaultOptions returns the thresholds used when none are configured.
func DefaultOptions() Options {
	return Options{
		FitFraction:      0.01,
		ResidualFraction: 0.05,
		ResidualSigma:    5,
		ContamSN:         10,
		ModelSN:          3,
		ContamGrow:       5,
	}
}

// Context is a beam together with everything needed to fit it. Arrays are in
// the beam frame and must not be modified by callers.
type Context struct {
	Beam  *disperse.Beam
	Grism array.ImageData
	// Contam is the detector model in the beam frame without this beam.
	Contam *array.Array2D
	// Sci is the science cutout minus contamination.
	Sci  *array.Array2D
	Ivar *array.Array2D
	// Bad marks DQ>0, ERR==0 or SCI==0 pixels.
	Bad *array.Mask2D
	// Flat is the beam model for a flat f_λ spectrum.
	Flat    *array.Array2D
	FitMask *array.Mask2D
	// ContamMask marks heavily contaminated pixels, grown.
	ContamMask *array.Mask2D

	opts Options
}

// New cuts the beam footprint out of grism and full, the detector model.
// When registered is set, the beam's current model is part of full and is
// removed from the contamination estimate.
func New(beam *disperse.Beam, grism array.ImageData, full *array.Array2D, registered bool, opts Options) (*Context, error) {
	if err := grism.Validate(); err != nil {
		return nil, err
	}
	if grism.Err == nil {
		return nil, fmt.Errorf("%w: grism exposure has no ERR plane", array.ErrShape)
	}
	if full != nil && full.Shape() != grism.Shape() {
		return nil, fmt.Errorf("%w: detector model %v, grism exposure %v", disperse.ErrShapeMismatch, full.Shape(), grism.Shape())
	}
	cut, err := beam.CutoutImage(grism)
	if err != nil {
		return nil, err
	}
	shape := beam.Shape()

	contam := array.Zeros(shape)
	if full != nil {
		if contam, err = beam.CutoutFromFullImage(full); err != nil {
			return nil, err
		}
		if registered {
			if contam, err = contam.Minus(beam.Model()); err != nil {
				return nil, err
			}
		}
	}

	flat, err := beam.RenderModel(nil, nil)
	if err != nil {
		return nil, err
	}

	c := &Context{
		Beam:   beam,
		Grism:  cut,
		Contam: contam,
		Flat:   flat,
		opts:   opts,
	}
	c.masks()
	if c.FitMask.Count() == 0 {
		return c, fmt.Errorf("%w: object %d order %s", ErrNoFitPixels, beam.ID(), beam.Order())
	}
	return c, nil
}

// FromModel builds the context of one order of id from the detector model.
func FromModel(m *detmodel.Model, id int, order string, grism array.ImageData, opts Options) (*Context, error) {
	beams, err := m.Beams(id)
	if err != nil {
		return nil, err
	}
	for _, b := range beams {
		if b.Order() == order {
			return New(b, grism, m.Full(), true, opts)
		}
	}
	return nil, fmt.Errorf("%w: id %d has no order %q", detmodel.ErrObjectNotFound, id, order)
}

func (c *Context) masks() {
	shape := c.Beam.Shape()
	sci, errp := c.Grism.Sci.Data(), c.Grism.Err.Data()
	var dq []int32
	if c.Grism.DQ != nil {
		dq = c.Grism.DQ.Data()
	}

	c.Bad = array.NewMask(shape)
	c.Ivar = array.Zeros(shape)
	c.Sci = array.Zeros(shape)
	bad, ivar, scif := c.Bad.Flat(), c.Ivar.Data(), c.Sci.Data()
	contam, flat, model := c.Contam.Data(), c.Flat.Data(), c.Beam.Model().Data()
	for i := range sci {
		bad[i] = sci[i] == 0 || errp[i] == 0 || (dq != nil && dq[i] > 0)
		if !bad[i] {
			ivar[i] = 1 / (errp[i] * errp[i])
		}
	}
	floats.SubTo(scif, sci, contam)

	peak := c.Flat.Max()
	c.FitMask = array.NewMask(shape)
	fit := c.FitMask.Flat()
	flagged := array.NewMask(shape)
	cm := flagged.Flat()
	for i := range fit {
		sn := math.Sqrt(ivar[i])
		fit[i] = !bad[i] && ivar[i] != 0 && flat[i] > c.opts.FitFraction*peak
		resid := math.Abs(scif[i]-flat[i]) * sn
		if flat[i] < c.opts.ResidualFraction*peak && resid > c.opts.ResidualSigma {
			fit[i] = false
		}
		cm[i] = contam[i]*sn > c.opts.ContamSN && model[i]*sn < c.opts.ModelSN
	}
	c.ContamMask = kernel.MaximumFilter(flagged, c.opts.ContamGrow)
	if c.opts.UseContamMask {
		for i, v := range c.ContamMask.Flat() {
			if v {
				fit[i] = false
			}
		}
	}
}

// DoF returns the number of pixels in the fit mask.
func (c *Context) DoF() int { return c.FitMask.Count() }

// Options returns the thresholds the context was built with.
func (c *Context) Options() Options { return c.opts }

// Extract optimally extracts the contamination-subtracted science cutout.
func (c *Context) Extract(bin int) (disperse.Extraction, error) {
	return c.Beam.OptimalExtract(c.Sci, c.Ivar, bin)
}
