package disperse

import (
	"math"

	"grism/internal/kernel"
)

// PixelAt returns the fractional beam column sampling wavelength w, by
// linear interpolation of the column wavelengths. Values outside the
// wavelength coverage are clamped to the first or last column.
func (b *Beam) PixelAt(w float64) float64 {
	lam, pix := b.monotonicAxis()
	return kernel.InterpClamped(w, lam, pix)
}

// AxisTicks returns wavelength tick positions every step Å within the
// coverage of the beam, together with the beam column of each tick.
func (b *Beam) AxisTicks(step float64) (pix, wave []float64) {
	if step <= 0 {
		return nil, nil
	}
	lam, idx := b.monotonicAxis()
	lo, hi := lam[0], lam[len(lam)-1]
	for t := math.Ceil(lo/step) * step; t <= hi; t += step {
		wave = append(wave, t)
		pix = append(pix, kernel.InterpClamped(t, lam, idx))
	}
	return pix, wave
}

// monotonicAxis returns the column wavelengths in ascending order with their
// column numbers.
func (b *Beam) monotonicAxis() ([]float64, []float64) {
	n := len(b.lam)
	lam := make([]float64, n)
	pix := make([]float64, n)
	desc := n > 1 && b.lam[n-1] < b.lam[0]
	for i := range lam {
		j := i
		if desc {
			j = n - 1 - i
		}
		lam[i] = b.lam[j]
		pix[i] = float64(j)
	}
	return lam, pix
}
