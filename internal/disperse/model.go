package disperse

import (
	"fmt"

	"grism/internal/array"
	"grism/internal/kernel"
	"grism/internal/templates"
)

// ComputeModel recomputes the beam's own model for spec (nil for flat f_λ)
// and records spec as the current template.
func (b *Beam) ComputeModel(spec *templates.Spectrum) error {
	model, err := b.RenderModel(spec, nil)
	if err != nil {
		return err
	}
	return b.SetModel(model, spec)
}

// SetModel installs a model rendered by RenderModel for spec. The beam keeps
// model; callers must not modify it afterwards.
func (b *Beam) SetModel(model *array.Array2D, spec *templates.Spectrum) error {
	if model == nil || model.Shape() != b.shape {
		return fmt.Errorf("%w: model for beam %v", ErrShapeMismatch, b.shape)
	}
	b.model = model
	if spec == nil {
		b.params.Spectrum = nil
	} else {
		s := *spec
		b.params.Spectrum = &s
	}
	return nil
}

// RenderModel returns a new array holding the model for spec, optionally
// dispersing thumb instead of the beam's own thumbnail. The beam is not
// modified, so RenderModel may be called concurrently.
func (b *Beam) RenderModel(spec *templates.Spectrum, thumb *array.Array2D) (*array.Array2D, error) {
	out := array.Zeros(b.shape)
	if err := b.RenderInto(out, spec, thumb); err != nil {
		return nil, err
	}
	return out, nil
}

// RenderInto adds the model for spec into out, which must have the beam
// shape.
func (b *Beam) RenderInto(out *array.Array2D, spec *templates.Spectrum, thumb *array.Array2D) error {
	if out.Shape() != b.shape {
		return fmt.Errorf("%w: output %v, beam %v", ErrShapeMismatch, out.Shape(), b.shape)
	}
	if thumb == nil {
		thumb = b.params.Thumb
	} else if thumb.Shape() != b.thumbShape {
		return fmt.Errorf("%w: thumbnail %v, direct image %v", ErrShapeMismatch, thumb.Shape(), b.thumbShape)
	}
	w, err := b.weights(spec)
	if err != nil {
		return err
	}
	return b.scatter(thumb, w, out)
}

// weights returns the per-anchor scatter weights: the sensitivity times the
// template resampled onto the anchor wavelengths.
func (b *Beam) weights(spec *templates.Spectrum) ([]float64, error) {
	w := append([]float64(nil), b.sensBeam...)
	if spec == nil {
		return w, nil
	}
	scale, err := kernel.InterpConserve(b.lamSorted, spec.Wave, spec.Flux)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", spec.Name, err)
	}
	for k, i := range b.lamSort {
		w[i] *= scale[k]
	}
	return w, nil
}

func (b *Beam) scatter(thumb *array.Array2D, w []float64, out *array.Array2D) error {
	return kernel.Scatter(kernel.ScatterInput{
		Thumb:     thumb,
		Seg:       b.params.Seg,
		ID:        b.label,
		FlatIndex: b.flatIndex,
		RowFrac:   b.yfracBeam,
		Weight:    w,
		Center:    b.x0,
		Out:       out.Data(),
		OutShape:  b.shape,
	})
}

// Model returns the current 2D model. Callers must not modify it.
func (b *Beam) Model() *array.Array2D { return b.model }

// Spectrum returns the template of the current model, nil for flat f_λ.
func (b *Beam) Spectrum() *templates.Spectrum { return b.params.Spectrum }

// ID returns the object id.
func (b *Beam) ID() int { return b.params.ID }

// Order returns the spectral order label.
func (b *Beam) Order() string { return b.params.Order }

// Shape returns the beam frame shape: thumbnail rows by thumbnail columns
// plus the number of anchors.
func (b *Beam) Shape() array.Shape { return b.shape }

// ThumbShape returns the direct thumbnail shape.
func (b *Beam) ThumbShape() array.Shape { return b.thumbShape }

// Origin returns the thumbnail origin in the model frame.
func (b *Beam) Origin() [2]int { return b.params.Origin }

// Direct returns the direct thumbnail.
func (b *Beam) Direct() *array.Array2D { return b.params.Thumb }

// Seg returns the segmentation thumbnail.
func (b *Beam) Seg() *array.Int2D { return b.params.Seg }

// TotalFlux returns the summed thumbnail flux inside the object's segment.
func (b *Beam) TotalFlux() float64 { return b.totalFlux }

// FluxUnit returns the flux density unit of the sensitivity curves.
func (b *Beam) FluxUnit() float64 { return b.unit }

// Lam returns the wavelength of every beam column.
func (b *Beam) Lam() []float64 { return b.lam }

// YTrace returns the trace position of every beam column.
func (b *Beam) YTrace() []float64 { return b.ytrace }

// Sensitivity returns the bin-width corrected sensitivity of every column.
func (b *Beam) Sensitivity() []float64 { return b.sens }

// LamBeam returns the wavelengths at the anchor offsets.
func (b *Beam) LamBeam() []float64 { return b.lamBeam }

// SensitivityBeam returns the sensitivity at the anchor offsets.
func (b *Beam) SensitivityBeam() []float64 { return b.sensBeam }

// LamRange returns the smallest and largest anchor wavelength.
func (b *Beam) LamRange() (float64, float64) {
	return b.lamSorted[0], b.lamSorted[len(b.lamSorted)-1]
}

// Params returns the inputs needed to rebuild the beam with its current
// template.
func (b *Beam) Params() Params {
	p := b.params
	if p.Spectrum != nil {
		s := *p.Spectrum
		p.Spectrum = &s
	}
	return p
}

// Clone returns an independent beam sharing the immutable calibration
// grids. The model and template are copied.
func (b *Beam) Clone() *Beam {
	out := &Beam{
		params:     b.Params(),
		label:      b.label,
		unit:       b.unit,
		thumbShape: b.thumbShape,
		shape:      b.shape,
		x0:         b.x0,
		dx:         b.dx,
		ytraceBeam: b.ytraceBeam,
		lamBeam:    b.lamBeam,
		yfracBeam:  b.yfracBeam,
		sensBeam:   b.sensBeam,
		lamSort:    b.lamSort,
		lamSorted:  b.lamSorted,
		flatIndex:  b.flatIndex,
		dxfull:     b.dxfull,
		ytrace:     b.ytrace,
		lam:        b.lam,
		sens:       b.sens,
		totalFlux:  b.totalFlux,
		model:      b.model.Clone(),
	}
	return out
}
