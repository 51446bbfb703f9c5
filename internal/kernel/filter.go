package kernel

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"grism/internal/array"
)

// Convolve1D convolves values with a kernel using half-sample symmetric
// ("reflect") boundaries: d c b a | a b c d | d c b a.
func Convolve1D(values, kern []float64) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n == 0 || len(kern) == 0 {
		return out
	}
	half := len(kern) / 2
	for i := 0; i < n; i++ {
		var s float64
		for j, w := range kern {
			s += w * values[reflect(i+half-j, n)]
		}
		out[i] = s
	}
	return out
}

func reflect(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i - 1
	}
	return i
}

// BoxcarBin smooths a spectrum and its variance with a uniform kernel of
// width bin and keeps every bin-th sample starting at bin/2. The variance is
// convolved with the squared kernel. bin <= 1 returns copies.
func BoxcarBin(flux, variance []float64, bin int) ([]float64, []float64, []int) {
	if bin <= 1 {
		idx := make([]int, len(flux))
		for i := range idx {
			idx[i] = i
		}
		return append([]float64(nil), flux...), append([]float64(nil), variance...), idx
	}
	kern := make([]float64, bin)
	floats.AddConst(1/float64(bin), kern)
	kern2 := floats.MulTo(make([]float64, bin), kern, kern)
	cf := Convolve1D(flux, kern)
	cv := Convolve1D(variance, kern2)

	var idx []int
	for i := bin / 2; i < len(flux); i += bin {
		idx = append(idx, i)
	}
	f := make([]float64, len(idx))
	v := make([]float64, len(idx))
	for k, i := range idx {
		f[k] = cf[i]
		v[k] = cv[i]
	}
	return f, v, idx
}

// MaximumFilter grows a mask: a pixel is set when any pixel of the
// size×size window centred on it is set. Windows are clipped at the edges.
func MaximumFilter(m *array.Mask2D, size int) *array.Mask2D {
	s := m.Shape()
	out := array.NewMask(s)
	if size < 1 {
		size = 1
	}
	lo := size / 2
	hi := size - lo - 1
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			if !m.At(r, c) {
				continue
			}
			for rr := max(0, r-hi); rr <= min(s.Rows-1, r+lo); rr++ {
				for cc := max(0, c-hi); cc <= min(s.Cols-1, c+lo); cc++ {
					out.Set(rr, cc, true)
				}
			}
		}
	}
	return out
}

// FindPeaks returns the indices of local maxima of y above
// thres*(max-min)+min, thinned so that no two peaks are closer than minDist
// (higher peaks win). Indices are ascending.
func FindPeaks(y []float64, thres float64, minDist int) []int {
	n := len(y)
	if n < 3 {
		return nil
	}
	lo, hi := floats.Min(y), floats.Max(y)
	level := thres*(hi-lo) + lo

	var peaks []int
	for i := 1; i < n-1; i++ {
		if y[i]-y[i-1] > 0 && y[i+1]-y[i] < 0 && y[i] > level {
			peaks = append(peaks, i)
		}
	}
	if len(peaks) <= 1 || minDist <= 1 {
		return peaks
	}

	order := append([]int(nil), peaks...)
	sort.SliceStable(order, func(a, b int) bool { return y[order[a]] > y[order[b]] })
	removed := make([]bool, n)
	for i := range removed {
		removed[i] = true
	}
	for _, p := range peaks {
		removed[p] = false
	}
	for _, p := range order {
		if removed[p] {
			continue
		}
		for i := max(0, p-minDist); i <= min(n-1, p+minDist); i++ {
			removed[i] = true
		}
		removed[p] = false
	}
	out := peaks[:0]
	for i := 0; i < n; i++ {
		if !removed[i] {
			out = append(out, i)
		}
	}
	return out
}
