package disperse

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"grism/internal/array"
)

// ParentSlice returns the beam footprint [r0,r1) × [c0,c1) in the model
// frame. It may extend past the detector.
func (b *Beam) ParentSlice() (r0, r1, c0, c1 int) {
	o := b.params.Origin
	r0 = o[0]
	r1 = o[0] + b.shape.Rows
	c0 = o[1] + b.dxfull[0] + b.x0[1]
	c1 = c0 + b.shape.Cols
	return r0, r1, c0, c1
}

// ContainedIn reports whether the whole footprint lies inside an array of
// shape s.
func (b *Beam) ContainedIn(s array.Shape) bool {
	r0, r1, c0, c1 := b.ParentSlice()
	return r0 >= 0 && c0 >= 0 && r1 <= s.Rows && c1 <= s.Cols
}

// overlap returns the footprint clipped to s, as local and parent ranges.
func (b *Beam) overlap(s array.Shape) (lr0, lc0, pr0, pr1, pc0, pc1 int, ok bool) {
	r0, r1, c0, c1 := b.ParentSlice()
	pr0, pr1 = max(r0, 0), min(r1, s.Rows)
	pc0, pc1 = max(c0, 0), min(c1, s.Cols)
	if pr0 >= pr1 || pc0 >= pc1 {
		return 0, 0, 0, 0, 0, 0, false
	}
	return pr0 - r0, pc0 - c0, pr0, pr1, pc0, pc1, true
}

// AddToFullImage adds data, an array in the beam frame, into full. Only the
// part of the footprint that overlaps full is transferred. A footprint
// entirely off the detector returns ErrOutOfBounds and leaves full
// unchanged.
func (b *Beam) AddToFullImage(data, full *array.Array2D) error {
	return b.addScaled(data, full, 1)
}

// SubtractFromFullImage removes data from full; the exact inverse of
// AddToFullImage for the same data.
func (b *Beam) SubtractFromFullImage(data, full *array.Array2D) error {
	return b.addScaled(data, full, -1)
}

func (b *Beam) addScaled(data, full *array.Array2D, sign float64) error {
	if data == nil || data.Shape() != b.shape {
		return fmt.Errorf("%w: data %v, beam %v", ErrShapeMismatch, shapeOf(data), b.shape)
	}
	lr0, lc0, pr0, pr1, pc0, pc1, ok := b.overlap(full.Shape())
	if !ok {
		return fmt.Errorf("%w: object %d order %s", ErrOutOfBounds, b.params.ID, b.params.Order)
	}
	n := pc1 - pc0
	for pr := pr0; pr < pr1; pr++ {
		src := data.Row(lr0 + pr - pr0)[lc0 : lc0+n]
		dst := full.Row(pr)[pc0:pc1]
		if sign > 0 {
			floats.Add(dst, src)
		} else {
			floats.AddScaled(dst, -1, src)
		}
	}
	return nil
}

// CutoutFromFullImage returns the beam-frame window of full. Pixels of the
// footprint that fall off the detector are zero. A footprint entirely off
// the detector returns ErrOutOfBounds.
func (b *Beam) CutoutFromFullImage(full *array.Array2D) (*array.Array2D, error) {
	if b.ContainedIn(full.Shape()) {
		r0, r1, c0, c1 := b.ParentSlice()
		return full.Slice(r0, r1, c0, c1)
	}
	lr0, lc0, pr0, pr1, pc0, pc1, ok := b.overlap(full.Shape())
	if !ok {
		return nil, fmt.Errorf("%w: object %d order %s", ErrOutOfBounds, b.params.ID, b.params.Order)
	}
	out := array.Zeros(b.shape)
	n := pc1 - pc0
	for pr := pr0; pr < pr1; pr++ {
		copy(out.Row(lr0 + pr - pr0)[lc0:lc0+n], full.Row(pr)[pc0:pc1])
	}
	return out, nil
}

// CutoutImage applies CutoutFromFullImage to every plane of an exposure.
// DQ pixels off the detector are flagged 1.
func (b *Beam) CutoutImage(im array.ImageData) (array.ImageData, error) {
	out := im
	var err error
	if out.Sci, err = b.CutoutFromFullImage(im.Sci); err != nil {
		return array.ImageData{}, err
	}
	if im.Err != nil {
		if out.Err, err = b.CutoutFromFullImage(im.Err); err != nil {
			return array.ImageData{}, err
		}
	}
	out.Ref = nil
	r0, _, c0, _ := b.ParentSlice()
	out.Origin = [2]int{im.Origin[0] + r0, im.Origin[1] + c0}
	if im.DQ != nil {
		dq := array.NewInt(b.shape.Rows, b.shape.Cols)
		s := im.DQ.Shape()
		for r := 0; r < b.shape.Rows; r++ {
			for c := 0; c < b.shape.Cols; c++ {
				pr, pc := r0+r, c0+c
				if pr < 0 || pc < 0 || pr >= s.Rows || pc >= s.Cols {
					dq.Set(r, c, 1)
					continue
				}
				dq.Set(r, c, im.DQ.At(pr, pc))
			}
		}
		out.DQ = dq
	}
	return out, nil
}
