// Package templates provides rest-frame spectral templates: continuum
// shapes loaded from tables and Gaussian emission-line complexes.
package templates

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"grism/internal/kernel"
	"grism/internal/table"
)

// ErrEmpty is returned for a spectrum with no samples.
var ErrEmpty = errors.New("templates: empty spectrum")

// Spectrum is a sampled 1D spectral energy distribution (Å, f_λ). Wave is
// ascending. Values are never modified in place.
type Spectrum struct {
	Name string
	// Line marks emission-line templates, which are reported as line fluxes
	// and dropped from continuum reconstructions.
	Line bool
	Wave []float64
	Flux []float64
}

// New validates and copies a wave/flux pair, sorting by wavelength if needed.
func New(name string, wave, flux []float64) (Spectrum, error) {
	if len(wave) != len(flux) {
		return Spectrum{}, fmt.Errorf("%w: wave=%d flux=%d", kernel.ErrLength, len(wave), len(flux))
	}
	if len(wave) == 0 {
		return Spectrum{}, ErrEmpty
	}
	w := append([]float64(nil), wave...)
	f := append([]float64(nil), flux...)
	if !sort.Float64sAreSorted(w) {
		idx := make([]int, len(w))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return wave[idx[a]] < wave[idx[b]] })
		for i, j := range idx {
			w[i], f[i] = wave[j], flux[j]
		}
	}
	return Spectrum{Name: name, Wave: w, Flux: f}, nil
}

// Validate reports whether the spectrum can be resampled: matching lengths,
// at least one sample, ascending wavelengths.
func (s Spectrum) Validate() error {
	if len(s.Wave) != len(s.Flux) {
		return fmt.Errorf("%w: wave=%d flux=%d", kernel.ErrLength, len(s.Wave), len(s.Flux))
	}
	if len(s.Wave) == 0 {
		return ErrEmpty
	}
	if !kernel.IsSorted(s.Wave) {
		return fmt.Errorf("template %q: %w", s.Name, kernel.ErrUnsorted)
	}
	return nil
}

// Load reads a two-column ASCII template and normalizes it to unit flux
// density at 5500 Å.
func Load(path, name string) (Spectrum, error) {
	w, f, err := table.ReadColumns(path)
	if err != nil {
		return Spectrum{}, err
	}
	s, err := New(name, w, f)
	if err != nil {
		return Spectrum{}, fmt.Errorf("%s: %w", path, err)
	}
	return s.NormalizeAt(5500), nil
}

// Len returns the number of samples.
func (s Spectrum) Len() int { return len(s.Wave) }

// Range returns the first and last wavelength.
func (s Spectrum) Range() (float64, float64) {
	if len(s.Wave) == 0 {
		return 0, 0
	}
	return s.Wave[0], s.Wave[len(s.Wave)-1]
}

// At evaluates the spectrum at w by linear interpolation, zero outside.
func (s Spectrum) At(w float64) float64 {
	return kernel.InterpLinear(w, s.Wave, s.Flux)
}

// Zscale redshifts the spectrum to z and multiplies the flux by scale.
func (s Spectrum) Zscale(z, scale float64) Spectrum {
	out := Spectrum{Name: s.Name, Line: s.Line, Wave: append([]float64(nil), s.Wave...), Flux: append([]float64(nil), s.Flux...)}
	floats.Scale(1+z, out.Wave)
	floats.Scale(scale, out.Flux)
	return out
}

// Scale returns the spectrum with flux multiplied by f.
func (s Spectrum) Scale(f float64) Spectrum { return s.Zscale(0, f) }

// NormalizeAt scales the spectrum to unit flux at w (clamped to the ends).
// A zero value at w leaves the spectrum unchanged.
func (s Spectrum) NormalizeAt(w float64) Spectrum {
	v := kernel.InterpClamped(w, s.Wave, s.Flux)
	if v == 0 || math.IsNaN(v) {
		return s
	}
	return s.Scale(1 / v)
}

// Add sums two spectra on the union of their wavelength grids. Each is
// linearly interpolated and taken to be zero outside its own range.
func (s Spectrum) Add(o Spectrum) Spectrum {
	grid := make([]float64, 0, len(s.Wave)+len(o.Wave))
	grid = append(grid, s.Wave...)
	grid = append(grid, o.Wave...)
	sort.Float64s(grid)
	uniq := grid[:0]
	for i, w := range grid {
		if i == 0 || w != uniq[len(uniq)-1] {
			uniq = append(uniq, w)
		}
	}
	out := Spectrum{Name: s.Name, Line: s.Line, Wave: uniq, Flux: make([]float64, len(uniq))}
	for i, w := range uniq {
		out.Flux[i] = s.At(w) + o.At(w)
	}
	return out
}

// Overlaps reports whether the spectrum has any coverage in [lo, hi].
func (s Spectrum) Overlaps(lo, hi float64) bool {
	if len(s.Wave) == 0 {
		return false
	}
	a, b := s.Range()
	return a <= hi && b >= lo
}

// Resample evaluates the spectrum on wave by flux-conserving interpolation.
// wave must be ascending.
func (s Spectrum) Resample(wave []float64) ([]float64, error) {
	return kernel.InterpConserve(wave, s.Wave, s.Flux)
}

// PowerLaw returns f_λ ∝ λ^beta sampled every step Å over [lo, hi],
// normalized at 5500 Å.
func PowerLaw(name string, beta, lo, hi, step float64) Spectrum {
	var w, f []float64
	for x := lo; x <= hi; x += step {
		w = append(w, x)
		f = append(f, math.Pow(x/5500, beta))
	}
	return Spectrum{Name: name, Wave: w, Flux: f}
}
