package kernel

import (
	"fmt"

	"grism/internal/array"
)

// ScatterInput describes one rasterization of a thumbnail through an index
// map. FlatIndex[k] is the output position reached by the thumbnail pixel at
// Center when dispersed to offset k; every other pixel lands at the same
// position shifted by its (row, col) distance from Center.
type ScatterInput struct {
	Thumb *array.Array2D
	Seg   *array.Int2D
	ID    int32

	FlatIndex []int
	RowFrac   []float64
	Weight    []float64

	// Center is the (row, col) thumbnail pixel the index map was built for.
	Center [2]int

	Out      []float64
	OutShape array.Shape
}

// Scatter adds the flux of every thumbnail pixel belonging to ID into Out.
// Each contribution is split between the target row and the one below it in
// proportion (1-RowFrac[k], RowFrac[k]) and scaled by Weight[k]. Targets
// outside OutShape are dropped per row and per column; nothing wraps.
//
// The iteration order is fixed, so repeated calls on a zeroed buffer are
// bit-identical.
func Scatter(in ScatterInput) error {
	n := len(in.FlatIndex)
	if len(in.RowFrac) != n || len(in.Weight) != n {
		return fmt.Errorf("%w: index=%d frac=%d weight=%d", ErrLength, n, len(in.RowFrac), len(in.Weight))
	}
	if in.Thumb == nil || in.Seg == nil || in.Thumb.Shape() != in.Seg.Shape() {
		return fmt.Errorf("%w: thumbnail and segmentation differ", array.ErrShape)
	}
	if len(in.Out) != in.OutShape.Size() {
		return fmt.Errorf("%w: buffer %d for %v", array.ErrShape, len(in.Out), in.OutShape)
	}
	rows, cols := in.OutShape.Rows, in.OutShape.Cols
	if cols == 0 {
		return nil
	}

	baseRow := make([]int, n)
	baseCol := make([]int, n)
	for k, idx := range in.FlatIndex {
		baseRow[k] = floorDiv(idx, cols)
		baseCol[k] = idx - baseRow[k]*cols
	}

	ts := in.Thumb.Shape()
	for r := 0; r < ts.Rows; r++ {
		dr := r - in.Center[0]
		for c := 0; c < ts.Cols; c++ {
			if in.Seg.At(r, c) != in.ID {
				continue
			}
			f := in.Thumb.At(r, c)
			if f == 0 {
				continue
			}
			dc := c - in.Center[1]
			for k := 0; k < n; k++ {
				col := baseCol[k] + dc
				if col < 0 || col >= cols {
					continue
				}
				row := baseRow[k] + dr
				w := in.Weight[k] * f
				frac := in.RowFrac[k]
				if row >= 0 && row < rows {
					in.Out[row*cols+col] += w * (1 - frac)
				}
				if row+1 >= 0 && row+1 < rows {
					in.Out[(row+1)*cols+col] += w * frac
				}
			}
		}
	}
	return nil
}

// FloorInt returns floor(v) using the biased truncation int(v+bias)-bias,
// which is exact for v > -bias.
func FloorInt(v float64) int {
	const bias = 20
	return int(v+bias) - bias
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
