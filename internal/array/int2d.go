package array

import (
	"fmt"
	"sort"
)

// Int2D is a row-major int32 image, used for segmentation maps and
// data-quality flags.
type Int2D struct {
	shape Shape
	data  []int32
}

// NewInt returns a zero-filled rows×cols integer array.
func NewInt(rows, cols int) *Int2D {
	return &Int2D{shape: Shape{rows, cols}, data: make([]int32, rows*cols)}
}

// IntFromSlice wraps data (copied) as a rows×cols integer array.
func IntFromSlice(rows, cols int, data []int32) (*Int2D, error) {
	if rows*cols != len(data) {
		return nil, fmt.Errorf("%w: %d values for (%d,%d)", ErrShape, len(data), rows, cols)
	}
	out := NewInt(rows, cols)
	copy(out.data, data)
	return out, nil
}

// Shape returns the array extent.
func (a *Int2D) Shape() Shape { return a.shape }

// At returns the element at (r, c).
func (a *Int2D) At(r, c int) int32 { return a.data[r*a.shape.Cols+c] }

// Set stores v at (r, c).
func (a *Int2D) Set(r, c int, v int32) { a.data[r*a.shape.Cols+c] = v }

// Data returns the flattened backing slice.
func (a *Int2D) Data() []int32 { return a.data }

// Clone returns a deep copy.
func (a *Int2D) Clone() *Int2D {
	out := &Int2D{shape: a.shape, data: make([]int32, len(a.data))}
	copy(out.data, a.data)
	return out
}

// Slice copies rows [r0,r1) and columns [c0,c1) into a new array.
func (a *Int2D) Slice(r0, r1, c0, c1 int) (*Int2D, error) {
	if r0 < 0 || c0 < 0 || r1 > a.shape.Rows || c1 > a.shape.Cols || r1 < r0 || c1 < c0 {
		return nil, fmt.Errorf("%w: slice [%d:%d, %d:%d] of %v", ErrShape, r0, r1, c0, c1, a.shape)
	}
	out := NewInt(r1-r0, c1-c0)
	for r := r0; r < r1; r++ {
		copy(out.data[(r-r0)*out.shape.Cols:(r-r0+1)*out.shape.Cols], a.data[r*a.shape.Cols+c0:r*a.shape.Cols+c1])
	}
	return out, nil
}

// Pad returns a copy surrounded by n zero rows/columns on every side.
func (a *Int2D) Pad(n int) *Int2D {
	if n <= 0 {
		return a.Clone()
	}
	out := NewInt(a.shape.Rows+2*n, a.shape.Cols+2*n)
	for r := 0; r < a.shape.Rows; r++ {
		dst := out.data[(r+n)*out.shape.Cols+n : (r+n)*out.shape.Cols+n+a.shape.Cols]
		copy(dst, a.data[r*a.shape.Cols:(r+1)*a.shape.Cols])
	}
	return out
}

// Labels returns the sorted distinct positive values.
func (a *Int2D) Labels() []int {
	seen := make(map[int32]struct{})
	for _, v := range a.data {
		if v > 0 {
			seen[v] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, int(v))
	}
	sort.Ints(out)
	return out
}

// Equal reports equality of shape and contents.
func (a *Int2D) Equal(b *Int2D) bool {
	if b == nil || a.shape != b.shape {
		return false
	}
	for i, v := range a.data {
		if v != b.data[i] {
			return false
		}
	}
	return true
}
