package disperse

import (
	"fmt"
	"math"

	"grism/internal/array"
	"grism/internal/kernel"
)

// Extraction is an optimally weighted 1D spectrum.
type Extraction struct {
	Wave []float64
	Flux []float64
	Err  []float64
}

// Profile returns the spatial weighting profile: the flat-spectrum model with
// negative values clipped, normalized to unit sum in every column. Columns
// without model flux are zero.
func (b *Beam) Profile() (*array.Array2D, error) {
	b.profileOnce.Do(func() {
		m, err := b.RenderModel(nil, nil)
		if err != nil {
			b.profileErr = err
			return
		}
		data := m.Data()
		for i, v := range data {
			if v < 0 {
				data[i] = 0
			}
		}
		sums := m.ColumnSums()
		for r := 0; r < m.Rows(); r++ {
			row := m.Row(r)
			for c := range row {
				if sums[c] > 0 {
					row[c] /= sums[c]
				}
			}
		}
		b.profile = m
	})
	return b.profile, b.profileErr
}

// OptimalExtract performs a Horne (1986) extraction of data with inverse
// variance ivar (nil for unit weights). With bin > 1 the result is boxcar
// smoothed and subsampled every bin columns. Columns with no weight report
// zero flux and zero error.
func (b *Beam) OptimalExtract(data, ivar *array.Array2D, bin int) (Extraction, error) {
	if data == nil || data.Shape() != b.shape {
		return Extraction{}, fmt.Errorf("%w: data %v, beam %v", ErrShapeMismatch, shapeOf(data), b.shape)
	}
	if ivar != nil && ivar.Shape() != b.shape {
		return Extraction{}, fmt.Errorf("%w: ivar %v, beam %v", ErrShapeMismatch, ivar.Shape(), b.shape)
	}
	prof, err := b.Profile()
	if err != nil {
		return Extraction{}, err
	}

	cols := b.shape.Cols
	num := make([]float64, cols)
	den := make([]float64, cols)
	for r := 0; r < b.shape.Rows; r++ {
		p := prof.Row(r)
		d := data.Row(r)
		for c := 0; c < cols; c++ {
			w := 1.0
			if ivar != nil {
				w = ivar.At(r, c)
			}
			num[c] += p[c] * d[c] * w
			den[c] += p[c] * p[c] * w
		}
	}
	flux := make([]float64, cols)
	vr := make([]float64, cols)
	for c := range flux {
		if den[c] > 0 {
			flux[c] = num[c] / den[c]
			vr[c] = 1 / den[c]
		}
	}

	wave := b.lam
	if bin > 1 {
		var idx []int
		flux, vr, idx = kernel.BoxcarBin(flux, vr, bin)
		wave = make([]float64, len(idx))
		for k, i := range idx {
			wave[k] = b.lam[i]
		}
	} else {
		wave = append([]float64(nil), wave...)
	}
	out := Extraction{Wave: wave, Flux: flux, Err: make([]float64, len(vr))}
	for i, v := range vr {
		if v > 0 {
			out.Err[i] = math.Sqrt(v)
		}
	}
	return out, nil
}

func shapeOf(a *array.Array2D) array.Shape {
	if a == nil {
		return array.Shape{}
	}
	return a.Shape()
}
