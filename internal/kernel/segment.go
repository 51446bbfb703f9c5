package kernel

import (
	"math"

	"grism/internal/array"
)

// Limits summarizes the pixels of one segmentation label.
type Limits struct {
	YMin, YMax int
	XMin, XMax int
	// YCen, XCen are the weight-image centroid of the segment.
	YCen, XCen float64
	Area       int
	Flux       float64
}

// Found reports whether the segment exists and has a usable centroid.
func (l Limits) Found() bool {
	return l.Area > 0 && !math.IsNaN(l.XCen) && !math.IsNaN(l.YCen) &&
		!math.IsInf(l.XCen, 0) && !math.IsInf(l.YCen, 0)
}

// SegmentationLimits computes the bounding box, weighted centroid, pixel
// count and weight sum of the pixels labelled id. Area is zero and the
// centroid NaN when the label is absent or carries no weight.
func SegmentationLimits(seg *array.Int2D, id int32, weight *array.Array2D) (Limits, error) {
	if weight != nil && weight.Shape() != seg.Shape() {
		return Limits{}, array.ErrShape
	}
	s := seg.Shape()
	lim := Limits{YMin: s.Rows, XMin: s.Cols, YMax: -1, XMax: -1}
	var sx, sy, sw float64
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			if seg.At(r, c) != id {
				continue
			}
			w := 1.0
			if weight != nil {
				w = weight.At(r, c)
			}
			lim.Area++
			lim.Flux += w
			sw += w
			sx += w * float64(c)
			sy += w * float64(r)
			lim.YMin = min(lim.YMin, r)
			lim.YMax = max(lim.YMax, r)
			lim.XMin = min(lim.XMin, c)
			lim.XMax = max(lim.XMax, c)
		}
	}
	if lim.Area == 0 || sw == 0 {
		lim.XCen, lim.YCen = math.NaN(), math.NaN()
		if lim.Area == 0 {
			lim.YMin, lim.XMin, lim.YMax, lim.XMax = 0, 0, 0, 0
		}
		return lim, nil
	}
	lim.XCen = sx / sw
	lim.YCen = sy / sw
	return lim, nil
}
