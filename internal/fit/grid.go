package fit

import (
	"math"
	"strings"
)

// Range is a redshift interval searched with a coarse step in ln(1+z).
type Range struct {
	ZMin, ZMax float64
	Step       float64
}

// DefaultRange returns the search range for a grism filter: the redshifts
// at which Hα or [OIII] fall inside the filter bandpass.
func DefaultRange(filter string) (Range, bool) {
	switch strings.ToUpper(filter) {
	case "G102":
		return Range{ZMin: 0.78e4/6563 - 1, ZMax: 1.2e4/5007 - 1, Step: 0.001}, true
	case "G141":
		return Range{ZMin: 1.1e4/6563 - 1, ZMax: 1.65e4/5007 - 1, Step: 0.003}, true
	default:
		return Range{}, false
	}
}

// LogZGrid returns redshifts evenly spaced by step in ln(1+z) over
// [zmin, zmax).
func LogZGrid(zmin, zmax, step float64) []float64 {
	if step <= 0 || zmax <= zmin {
		return nil
	}
	lo, hi := math.Log1p(zmin), math.Log1p(zmax)
	n := int(math.Ceil((hi - lo) / step))
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v := lo + float64(i)*step
		if v >= hi {
			break
		}
		out = append(out, math.Expm1(v))
	}
	return out
}

// ZoomZGrid returns new redshifts that subdivide, factor times, every grid
// interval touching a point whose reduced chi-square lies within threshold
// of the minimum. Selected points are first widened by grow grid steps.
// The points returned never coincide with the input grid.
func ZoomZGrid(zgrid, chi2nu []float64, threshold float64, factor, grow int) []float64 {
	n := len(zgrid)
	if n < 2 || len(chi2nu) != n || factor < 2 {
		return nil
	}
	best := chi2nu[0]
	for _, v := range chi2nu {
		best = min(best, v)
	}
	sel := make([]bool, n)
	for i, v := range chi2nu {
		if v < best+threshold || v == best {
			lo, hi := max(0, i-grow/2), min(n-1, i+grow/2)
			for k := lo; k <= hi; k++ {
				sel[k] = true
			}
		}
	}
	var out []float64
	for i := 0; i < n-1; i++ {
		if !sel[i] && !sel[i+1] {
			continue
		}
		dz := (zgrid[i+1] - zgrid[i]) / float64(factor)
		for k := 1; k < factor; k++ {
			out = append(out, zgrid[i]+float64(k)*dz)
		}
	}
	return out
}
