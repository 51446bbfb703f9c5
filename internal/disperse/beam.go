// Package disperse models one spectral order ("beam") of one object: it maps
// a direct-image thumbnail through the instrument calibration into a
// synthetic 2D spectrum and moves that spectrum in and out of the full
// detector frame.
//
// A Beam is built once per (object, order). Its trace, wavelength,
// sensitivity and index map are fixed at construction; only the model flux
// changes as different spectra are tried.
package disperse

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"fortio.org/safecast"
	"gonum.org/v1/gonum/floats"

	"grism/internal/array"
	"grism/internal/calib"
	"grism/internal/kernel"
	"grism/internal/templates"
)

var (
	// ErrShapeMismatch is returned when a data, ivar or thumbnail array does
	// not have the shape the beam expects. Nothing is modified.
	ErrShapeMismatch = errors.New("disperse: shape mismatch")
	// ErrOutOfBounds is returned when a beam footprint misses the detector.
	ErrOutOfBounds = errors.New("disperse: footprint outside detector")
	// ErrTraceOutside is returned when the trace leaves the beam frame.
	ErrTraceOutside = errors.New("disperse: trace outside beam frame")
)

// Params are the minimal inputs needed to rebuild a beam bit-for-bit from
// the same calibration.
type Params struct {
	ID    int
	Order string
	// Origin is the (row, col) of the thumbnail's first pixel in the frame
	// of the model array.
	Origin [2]int
	// Center is the (row, col) offset of the object centroid from the
	// thumbnail center, in pixels.
	Center [2]float64
	Pad    int
	Grow   int

	Thumb *array.Array2D
	Seg   *array.Int2D

	// Spectrum is the template of the current model; nil means flat f_λ.
	Spectrum *templates.Spectrum
}

// Beam is the disperser for one object and order.
type Beam struct {
	params Params
	unit   float64

	// label is the segmentation value of the object.
	label      int32
	thumbShape array.Shape
	shape      array.Shape
	x0         [2]int

	// Anchor offsets and the quantities sampled there.
	dx         []int
	ytraceBeam []float64
	lamBeam    []float64
	yfracBeam  []float64
	sensBeam   []float64
	lamSort    []int
	lamSorted  []float64
	flatIndex  []int

	// Full-width quantities, one per beam column.
	dxfull []int
	ytrace []float64
	lam    []float64
	sens   []float64

	totalFlux float64

	model *array.Array2D

	profileOnce sync.Once
	profile     *array.Array2D
	profileErr  error
}

// New builds the beam described by p against the calibration. The model
// starts at zero; call ComputeModel to fill it.
func New(p Params, solver calib.TraceSolver) (*Beam, error) {
	if p.Thumb == nil || p.Seg == nil {
		return nil, fmt.Errorf("%w: missing thumbnail or segmentation", ErrShapeMismatch)
	}
	if p.Thumb.Shape() != p.Seg.Shape() {
		return nil, fmt.Errorf("%w: thumbnail %v, segmentation %v", ErrShapeMismatch, p.Thumb.Shape(), p.Seg.Shape())
	}
	label, err := safecast.Conv[int32](p.ID)
	if err != nil {
		return nil, fmt.Errorf("object id %d: %w", p.ID, err)
	}
	if p.Grow < 1 {
		p.Grow = 1
	}
	sh := p.Thumb.Shape()
	b := &Beam{
		params:     p,
		label:      label,
		unit:       solver.FluxUnit(),
		thumbShape: sh,
		x0:         [2]int{sh.Rows / 2, sh.Cols / 2},
	}
	if p.Spectrum != nil {
		s := *p.Spectrum
		b.params.Spectrum = &s
	}

	lo, hi, err := solver.Anchors(p.Order)
	if err != nil {
		return nil, err
	}
	if p.Grow > 1 {
		lo, hi = lo*p.Grow, (hi-1)*p.Grow
	}
	for d := lo; d < hi; d++ {
		b.dx = append(b.dx, d)
	}
	if len(b.dx) < 2 {
		return nil, fmt.Errorf("%w: order %q has fewer than two anchors", calib.ErrConfigurationMissing, p.Order)
	}

	grow := float64(p.Grow)
	xq := (float64(sh.Cols/2+p.Origin[1]) + p.Center[1] - float64(p.Pad)) / grow
	yq := (float64(sh.Rows/2+p.Origin[0]) + p.Center[0] - float64(p.Pad)) / grow

	dxq := make([]float64, len(b.dx))
	for k, d := range b.dx {
		dxq[k] = (float64(d) - 0.5) / grow
	}
	b.ytraceBeam, b.lamBeam, err = solver.Trace(p.Order, xq, yq, dxq)
	if err != nil {
		return nil, err
	}
	scaleBy(b.ytraceBeam, grow)

	sw, st, err := solver.Sensitivity(p.Order)
	if err != nil {
		return nil, err
	}
	b.sensBeam, b.lamSort, err = sensitivityOn(b.lamBeam, sw, st, b.unit)
	if err != nil {
		return nil, fmt.Errorf("order %q: %w", p.Order, err)
	}
	b.lamSorted = gather(b.lamBeam, b.lamSort)

	nx := len(b.dx)
	b.shape = array.Shape{Rows: sh.Rows, Cols: sh.Cols + nx}

	b.yfracBeam = make([]float64, nx)
	b.flatIndex = make([]int, nx)
	for k, y := range b.ytraceBeam {
		iy := kernel.FloorInt(y)
		b.yfracBeam[k] = y - math.Floor(y)
		row := iy + b.x0[0]
		if row < 0 || row >= b.shape.Rows {
			return nil, fmt.Errorf("%w: order %q row %d at dx=%d", ErrTraceOutside, p.Order, row, b.dx[k])
		}
		b.flatIndex[k] = row*b.shape.Cols + b.dx[k] - b.dx[0] + b.x0[1]
	}

	b.dxfull = make([]int, b.shape.Cols)
	dxf := make([]float64, b.shape.Cols)
	for i := range b.dxfull {
		b.dxfull[i] = i + b.dx[0] - b.x0[1]
		dxf[i] = (float64(b.dxfull[i]) + p.Center[1] - 0.5) / grow
	}
	b.ytrace, b.lam, err = solver.Trace(p.Order, xq, yq, dxf)
	if err != nil {
		return nil, err
	}
	scaleBy(b.ytrace, grow)
	b.sens, _, err = sensitivityOn(b.lam, sw, st, b.unit)
	if err != nil {
		return nil, fmt.Errorf("order %q: %w", p.Order, err)
	}

	for r := 0; r < sh.Rows; r++ {
		for c := 0; c < sh.Cols; c++ {
			if p.Seg.At(r, c) == label {
				b.totalFlux += p.Thumb.At(r, c)
			}
		}
	}
	b.model = array.Zeros(b.shape)
	return b, nil
}

// Rebuild constructs the beam and computes its model from p.Spectrum.
func Rebuild(p Params, solver calib.TraceSolver) (*Beam, error) {
	b, err := New(p, solver)
	if err != nil {
		return nil, err
	}
	if err := b.ComputeModel(p.Spectrum); err != nil {
		return nil, err
	}
	return b, nil
}

// sensitivityOn resamples a throughput curve onto lam (in wavelength order)
// and converts it to flux density per count with the local bin width.
func sensitivityOn(lam, wave, thr []float64, unit float64) ([]float64, []int, error) {
	if len(lam) < 2 {
		return nil, nil, fmt.Errorf("%w: need at least two wavelengths", kernel.ErrLength)
	}
	idx := argsort(lam)
	ys, err := kernel.InterpConserve(gather(lam, idx), wave, thr)
	if err != nil {
		return nil, nil, err
	}
	out := make([]float64, len(lam))
	for k, i := range idx {
		out[i] = ys[k]
	}
	for i := range out {
		var dl float64
		if i == 0 {
			dl = lam[1] - lam[0]
		} else {
			dl = lam[i] - lam[i-1]
		}
		out[i] *= unit * math.Abs(dl)
	}
	return out, idx, nil
}

// argsort is stable: equal wavelengths keep anchor order, so a rebuilt beam
// scatters in the same order as the original.
func argsort(v []float64) []int {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })
	return idx
}

func gather(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = v[i]
	}
	return out
}

func scaleBy(v []float64, f float64) {
	if f == 1 {
		return
	}
	floats.Scale(f, v)
}
