package array

import (
	"fmt"
	"math"
)

// ImageData bundles the planes of one exposure together with its placement
// in the detector frame. Values are treated as immutable: Slice and WithPad
// return new ImageData values backed by fresh arrays.
type ImageData struct {
	Sci *Array2D
	Err *Array2D
	DQ  *Int2D
	// Ref is an optional reference image (already resampled to this frame)
	// used instead of Sci for direct-image thumbnails.
	Ref *Array2D

	// Origin is the (row, col) of the lower-left pixel in detector coordinates.
	Origin [2]int
	Pad    int

	PhotFlam float64
	PhotPlam float64

	Instrument string
	Filter     string
}

// NewImageData returns an ImageData with zero ERR/DQ planes matching sci.
func NewImageData(sci *Array2D) ImageData {
	s := sci.Shape()
	return ImageData{
		Sci:      sci,
		Err:      Zeros(s),
		DQ:       NewInt(s.Rows, s.Cols),
		PhotFlam: 1,
		PhotPlam: 1,
	}
}

// Shape returns the extent of the science plane.
func (im ImageData) Shape() Shape { return im.Sci.Shape() }

// Thumb returns the plane used for direct-image thumbnails: Ref when present,
// otherwise Sci.
func (im ImageData) Thumb() *Array2D {
	if im.Ref != nil {
		return im.Ref
	}
	return im.Sci
}

// ABZP returns the AB magnitude zeropoint implied by PhotFlam and PhotPlam.
func (im ImageData) ABZP() float64 {
	return ABZeropoint(im.PhotFlam, im.PhotPlam)
}

// ABZeropoint converts an inverse sensitivity (flux density per count rate)
// and pivot wavelength (Å) into an AB zeropoint.
func ABZeropoint(photflam, photplam float64) float64 {
	if photflam <= 0 || photplam <= 0 {
		return 0
	}
	return -2.5*math.Log10(photflam) - 21.10 - 5*math.Log10(photplam) + 18.6921
}

// Validate checks that every present plane matches the science shape.
func (im ImageData) Validate() error {
	if im.Sci == nil {
		return fmt.Errorf("%w: missing SCI plane", ErrShape)
	}
	s := im.Sci.Shape()
	if im.Err != nil && im.Err.Shape() != s {
		return fmt.Errorf("%w: ERR %v vs SCI %v", ErrShape, im.Err.Shape(), s)
	}
	if im.DQ != nil && im.DQ.Shape() != s {
		return fmt.Errorf("%w: DQ %v vs SCI %v", ErrShape, im.DQ.Shape(), s)
	}
	if im.Ref != nil && im.Ref.Shape() != s {
		return fmt.Errorf("%w: REF %v vs SCI %v", ErrShape, im.Ref.Shape(), s)
	}
	return nil
}

// Slice returns the sub-image rows [r0,r1), cols [c0,c1) with its origin
// shifted accordingly.
func (im ImageData) Slice(r0, r1, c0, c1 int) (ImageData, error) {
	out := im
	var err error
	if out.Sci, err = im.Sci.Slice(r0, r1, c0, c1); err != nil {
		return ImageData{}, err
	}
	if im.Err != nil {
		if out.Err, err = im.Err.Slice(r0, r1, c0, c1); err != nil {
			return ImageData{}, err
		}
	}
	if im.DQ != nil {
		if out.DQ, err = im.DQ.Slice(r0, r1, c0, c1); err != nil {
			return ImageData{}, err
		}
	}
	if im.Ref != nil {
		if out.Ref, err = im.Ref.Slice(r0, r1, c0, c1); err != nil {
			return ImageData{}, err
		}
	}
	out.Origin = [2]int{im.Origin[0] + r0, im.Origin[1] + c0}
	return out, nil
}

// WithPad returns a copy padded by pad pixels on every side. The padded
// pixels carry DQ=1 so they never enter a fit.
func (im ImageData) WithPad(pad int) ImageData {
	if pad <= 0 {
		return im
	}
	out := im
	out.Sci = im.Sci.Pad(pad)
	if im.Err != nil {
		out.Err = im.Err.Pad(pad)
	}
	if im.DQ != nil {
		dq := im.DQ.Pad(pad)
		s := dq.Shape()
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				if r < pad || c < pad || r >= s.Rows-pad || c >= s.Cols-pad {
					dq.Set(r, c, 1)
				}
			}
		}
		out.DQ = dq
	}
	if im.Ref != nil {
		out.Ref = im.Ref.Pad(pad)
	}
	out.Pad = im.Pad + pad
	return out
}
