// Package kernel holds the numeric primitives the dispersion engine is built
// on: flux-conserving resampling, the per-pixel scatter ("raster") kernel,
// segmentation statistics and a few 1D/2D filters.
//
// Every function here is pure: inputs are never modified except for the
// explicit output buffer of Scatter.
package kernel

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnsorted is returned when an abscissa that must be ascending is not.
var ErrUnsorted = errors.New("kernel: abscissa not sorted ascending")

// ErrLength is returned for mismatched input lengths.
var ErrLength = errors.New("kernel: length mismatch")

// IsSorted reports whether x is non-decreasing.
func IsSorted(x []float64) bool {
	for i := 1; i < len(x); i++ {
		if x[i] < x[i-1] {
			return false
		}
	}
	return true
}

// InterpConserve resamples the piecewise-linear function (xOld, yOld) onto
// xNew conserving flux: each output value is the mean of the input function
// over the output pixel, whose edges are the midpoints between neighbouring
// xNew values. The input is taken to be zero outside [xOld[0], xOld[n-1]].
//
// Both xOld and xNew must be ascending; callers own any sort permutation.
func InterpConserve(xNew, xOld, yOld []float64) ([]float64, error) {
	if len(xOld) != len(yOld) {
		return nil, fmt.Errorf("%w: x=%d y=%d", ErrLength, len(xOld), len(yOld))
	}
	if !IsSorted(xOld) {
		return nil, fmt.Errorf("%w: source grid", ErrUnsorted)
	}
	if !IsSorted(xNew) {
		return nil, fmt.Errorf("%w: target grid", ErrUnsorted)
	}
	out := make([]float64, len(xNew))
	if len(xOld) == 0 || len(xNew) == 0 {
		return out, nil
	}
	if len(xNew) == 1 {
		out[0] = InterpLinear(xNew[0], xOld, yOld)
		return out, nil
	}

	cum := cumulativeTrapz(xOld, yOld)
	n := len(xNew)
	lo := xNew[0] - 0.5*(xNew[1]-xNew[0])
	ilo := integralTo(lo, xOld, yOld, cum)
	for i := 0; i < n; i++ {
		var hi float64
		if i == n-1 {
			hi = xNew[n-1] + 0.5*(xNew[n-1]-xNew[n-2])
		} else {
			hi = 0.5 * (xNew[i] + xNew[i+1])
		}
		ihi := integralTo(hi, xOld, yOld, cum)
		if hi > lo {
			out[i] = (ihi - ilo) / (hi - lo)
		} else {
			out[i] = InterpLinear(xNew[i], xOld, yOld)
		}
		lo, ilo = hi, ihi
	}
	return out, nil
}

// InterpLinear evaluates the piecewise-linear function (xp, fp) at x, zero
// outside the support. xp must be ascending.
func InterpLinear(x float64, xp, fp []float64) float64 {
	n := len(xp)
	if n == 0 || x < xp[0] || x > xp[n-1] {
		return 0
	}
	i := sort.SearchFloat64s(xp, x)
	if i < n && xp[i] == x {
		return fp[i]
	}
	if i == 0 {
		return fp[0]
	}
	j := i - 1
	t := (x - xp[j]) / (xp[i] - xp[j])
	return fp[j] + t*(fp[i]-fp[j])
}

// InterpClamped is numpy.interp: linear inside the support and clamped to the
// end values outside it.
func InterpClamped(x float64, xp, fp []float64) float64 {
	n := len(xp)
	if n == 0 {
		return 0
	}
	if x <= xp[0] {
		return fp[0]
	}
	if x >= xp[n-1] {
		return fp[n-1]
	}
	return InterpLinear(x, xp, fp)
}

func cumulativeTrapz(x, y []float64) []float64 {
	cum := make([]float64, len(x))
	for i := 1; i < len(x); i++ {
		cum[i] = cum[i-1] + 0.5*(y[i-1]+y[i])*(x[i]-x[i-1])
	}
	return cum
}

// integralTo returns the integral of the piecewise-linear function from
// x[0] to t.
func integralTo(t float64, x, y, cum []float64) float64 {
	n := len(x)
	if t <= x[0] {
		return 0
	}
	if t >= x[n-1] {
		return cum[n-1]
	}
	i := sort.SearchFloat64s(x, t)
	j := i - 1
	dt := t - x[j]
	yt := y[j] + (y[i]-y[j])*dt/(x[i]-x[j])
	return cum[j] + 0.5*(y[j]+yt)*dt
}
