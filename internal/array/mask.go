package array

// Mask2D is a boolean selection over a 2D array, stored flattened row-major.
type Mask2D struct {
	shape Shape
	data  []bool
}

// NewMask returns an all-false mask.
func NewMask(s Shape) *Mask2D {
	return &Mask2D{shape: s, data: make([]bool, s.Size())}
}

// Shape returns the mask extent.
func (m *Mask2D) Shape() Shape { return m.shape }

// At returns the flag at (r, c).
func (m *Mask2D) At(r, c int) bool { return m.data[r*m.shape.Cols+c] }

// Set stores v at (r, c).
func (m *Mask2D) Set(r, c int, v bool) { m.data[r*m.shape.Cols+c] = v }

// Flat returns the flattened flags. Writes through it are visible in m.
func (m *Mask2D) Flat() []bool { return m.data }

// Count returns the number of true flags.
func (m *Mask2D) Count() int {
	n := 0
	for _, v := range m.data {
		if v {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (m *Mask2D) Clone() *Mask2D {
	out := &Mask2D{shape: m.shape, data: make([]bool, len(m.data))}
	copy(out.data, m.data)
	return out
}

// Not returns the complement as a new mask.
func (m *Mask2D) Not() *Mask2D {
	out := m.Clone()
	for i, v := range out.data {
		out.data[i] = !v
	}
	return out
}
