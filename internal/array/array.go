// Package array provides the dense two-dimensional arrays shared by the
// dispersion and fitting packages.
//
// Arrays are stored row-major. Operations that change geometry (Slice, Pad,
// Window) always return new values and never alias the receiver's storage, so
// several beams can hold cutouts of "the same" image without seeing each
// other's writes.
package array

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrShape is returned when two arrays or a buffer and a shape disagree.
var ErrShape = errors.New("array: shape mismatch")

// Shape is the (rows, cols) extent of a 2D array.
type Shape struct {
	Rows int
	Cols int
}

// Size returns Rows*Cols.
func (s Shape) Size() int { return s.Rows * s.Cols }

func (s Shape) String() string { return fmt.Sprintf("(%d,%d)", s.Rows, s.Cols) }

// Array2D is a row-major float64 image.
type Array2D struct {
	shape Shape
	data  []float64
}

// New returns a zero-filled rows×cols array.
func New(rows, cols int) *Array2D {
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	return &Array2D{shape: Shape{rows, cols}, data: make([]float64, rows*cols)}
}

// Zeros returns a zero-filled array with the given shape.
func Zeros(s Shape) *Array2D { return New(s.Rows, s.Cols) }

// FromSlice wraps data (copied) as a rows×cols array.
func FromSlice(rows, cols int, data []float64) (*Array2D, error) {
	if rows*cols != len(data) {
		return nil, fmt.Errorf("%w: %d values for (%d,%d)", ErrShape, len(data), rows, cols)
	}
	out := New(rows, cols)
	copy(out.data, data)
	return out, nil
}

// Full returns an array with every element set to v.
func Full(rows, cols int, v float64) *Array2D {
	out := New(rows, cols)
	for i := range out.data {
		out.data[i] = v
	}
	return out
}

// Shape returns the array extent.
func (a *Array2D) Shape() Shape { return a.shape }

// Rows returns the number of rows.
func (a *Array2D) Rows() int { return a.shape.Rows }

// Cols returns the number of columns.
func (a *Array2D) Cols() int { return a.shape.Cols }

// Len returns the number of elements.
func (a *Array2D) Len() int { return len(a.data) }

// At returns the element at (r, c).
func (a *Array2D) At(r, c int) float64 { return a.data[r*a.shape.Cols+c] }

// Set stores v at (r, c).
func (a *Array2D) Set(r, c int, v float64) { a.data[r*a.shape.Cols+c] = v }

// Add adds v to the element at (r, c).
func (a *Array2D) Add(r, c int, v float64) { a.data[r*a.shape.Cols+c] += v }

// Data returns the flattened backing slice. Writes through it are visible in a.
func (a *Array2D) Data() []float64 { return a.data }

// Row returns a view of row r.
func (a *Array2D) Row(r int) []float64 {
	off := r * a.shape.Cols
	return a.data[off : off+a.shape.Cols]
}

// Clone returns a deep copy.
func (a *Array2D) Clone() *Array2D {
	out := &Array2D{shape: a.shape, data: make([]float64, len(a.data))}
	copy(out.data, a.data)
	return out
}

// Zero sets every element to zero in place.
func (a *Array2D) Zero() {
	clear(a.data)
}

// SameShape reports whether a and b have identical extents.
func (a *Array2D) SameShape(b *Array2D) bool {
	return b != nil && a.shape == b.shape
}

// Sum returns the sum of all elements.
func (a *Array2D) Sum() float64 {
	return floats.Sum(a.data)
}

// Max returns the largest element, or -Inf for an empty array.
func (a *Array2D) Max() float64 {
	if len(a.data) == 0 {
		return math.Inf(-1)
	}
	return floats.Max(a.data)
}

// Min returns the smallest element, or +Inf for an empty array.
func (a *Array2D) Min() float64 {
	if len(a.data) == 0 {
		return math.Inf(1)
	}
	return floats.Min(a.data)
}

// ColumnSums returns the per-column sums across rows.
func (a *Array2D) ColumnSums() []float64 {
	out := make([]float64, a.shape.Cols)
	for r := 0; r < a.shape.Rows; r++ {
		floats.Add(out, a.Row(r))
	}
	return out
}

// Scaled returns a new array with every element multiplied by f.
func (a *Array2D) Scaled(f float64) *Array2D {
	out := a.Clone()
	floats.Scale(f, out.data)
	return out
}

// Minus returns a-b as a new array.
func (a *Array2D) Minus(b *Array2D) (*Array2D, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrShape, a.shape, b.shape)
	}
	out := a.Clone()
	floats.Sub(out.data, b.data)
	return out, nil
}

// AddInPlace adds b elementwise into a.
func (a *Array2D) AddInPlace(b *Array2D) error {
	if !a.SameShape(b) {
		return fmt.Errorf("%w: %v vs %v", ErrShape, a.shape, b.shape)
	}
	floats.Add(a.data, b.data)
	return nil
}

// Slice copies rows [r0,r1) and columns [c0,c1) into a new array.
func (a *Array2D) Slice(r0, r1, c0, c1 int) (*Array2D, error) {
	if r0 < 0 || c0 < 0 || r1 > a.shape.Rows || c1 > a.shape.Cols || r1 < r0 || c1 < c0 {
		return nil, fmt.Errorf("%w: slice [%d:%d, %d:%d] of %v", ErrShape, r0, r1, c0, c1, a.shape)
	}
	out := New(r1-r0, c1-c0)
	for r := r0; r < r1; r++ {
		copy(out.Row(r-r0), a.data[r*a.shape.Cols+c0:r*a.shape.Cols+c1])
	}
	return out, nil
}

// Pad returns a copy surrounded by n zero rows/columns on every side.
func (a *Array2D) Pad(n int) *Array2D {
	if n <= 0 {
		return a.Clone()
	}
	out := New(a.shape.Rows+2*n, a.shape.Cols+2*n)
	for r := 0; r < a.shape.Rows; r++ {
		copy(out.Row(r + n)[n:], a.Row(r))
	}
	return out
}

// Equal reports bitwise equality of shape and contents.
func (a *Array2D) Equal(b *Array2D) bool {
	if !a.SameShape(b) {
		return false
	}
	for i, v := range a.data {
		if math.Float64bits(v) != math.Float64bits(b.data[i]) {
			return false
		}
	}
	return true
}
