package cutout

import "gonum.org/v1/gonum/floats"

// Poly is the continuum basis: a constant background followed by the flat
// model weighted by powers of the normalized column coordinate.
type Poly struct {
	Order int
	// Columns are flattened beam-frame basis vectors; the first NBg are
	// background terms.
	Columns [][]float64
	NBg     int
	// Y[k] is x^k sampled at every beam column, used to turn the polynomial
	// coefficients into a 1D continuum.
	Y [][]float64
}

// NPoly returns the number of polynomial terms.
func (p Poly) NPoly() int { return p.Order + 1 }

// NSimple returns the number of columns before the templates.
func (p Poly) NSimple() int { return p.NBg + p.NPoly() }

// Poly builds the continuum basis of the given order (order >= 0).
func (c *Context) Poly(order int) Poly {
	if order < 0 {
		order = 0
	}
	shape := c.Beam.Shape()
	nx := shape.Cols
	half := float64(nx) / 2
	flat := c.Flat.Data()

	p := Poly{Order: order, NBg: 1}
	bg := make([]float64, len(flat))
	floats.AddConst(1, bg)
	p.Columns = append(p.Columns, bg)
	for k := 0; k <= order; k++ {
		col := make([]float64, len(flat))
		for i, f := range flat {
			col[i] = ipow((float64(i%nx)-half)/half, k) * f
		}
		p.Columns = append(p.Columns, col)

		y := make([]float64, nx)
		for j := range y {
			y[j] = ipow((float64(j)-half)/half, k)
		}
		p.Y = append(p.Y, y)
	}
	return p
}

func ipow(v float64, n int) float64 {
	out := 1.0
	for ; n > 0; n-- {
		out *= v
	}
	return out
}
