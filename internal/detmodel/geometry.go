package detmodel

import (
	"errors"
	"fmt"
	"math"

	"fortio.org/safecast"

	"grism/internal/array"
	"grism/internal/calib"
	"grism/internal/diag"
	"grism/internal/disperse"
	"grism/internal/kernel"
	"grism/internal/templates"
)

// Status is the outcome of modelling one object.
type Status uint8

const (
	// StatusComputed means at least one beam was built.
	StatusComputed Status = iota
	// StatusNotFound means the id is absent from the segmentation image or
	// catalog, or its centroid is undefined.
	StatusNotFound
	// StatusEdge means the object touches the direct-image border and would
	// not disperse onto the detector.
	StatusEdge
	// StatusTooSmall means the clamped thumbnail is below the usable size.
	StatusTooSmall
	// StatusNoBeams means every order was too faint or failed to build.
	StatusNoBeams
)

func (s Status) String() string {
	switch s {
	case StatusComputed:
		return "computed"
	case StatusNotFound:
		return "not found"
	case StatusEdge:
		return "edge"
	case StatusTooSmall:
		return "too small"
	case StatusNoBeams:
		return "no beams"
	default:
		return "unknown"
	}
}

// Skipped reports whether the status is a deliberate skip rather than a
// built object or a missing one.
func (s Status) Skipped() bool {
	return s == StatusEdge || s == StatusTooSmall || s == StatusNoBeams
}

// Geometry places an object's thumbnail in the direct image.
type Geometry struct {
	ID     int
	Limits kernel.Limits
	// Size is the thumbnail half-size; the thumbnail spans
	// [YC-Size, YC+Size) × [XC-Size, XC+Size).
	Size   int
	YC, XC int
	// Center is the centroid offset from (YC, XC).
	Center [2]float64
	// Origin is the thumbnail's first pixel in the detector-model frame.
	Origin [2]int
	Thumb  *array.Array2D
	Seg    *array.Int2D
}

// BeamFailure records an order that could not be built.
type BeamFailure struct {
	Order string
	Err   error
}

// built is the pure outcome of geometry plus beam construction for one id.
type built struct {
	ID       int
	Status   Status
	Geometry Geometry
	Beams    []*disperse.Beam
	Failures []BeamFailure
	Diags    []diag.Diagnostic
}

// Geometry locates id in the segmentation image and cuts its thumbnail.
func (m *Model) Geometry(id int) (Geometry, Status, error) {
	m.mu.Lock()
	catalog := m.catalog
	m.mu.Unlock()
	g, st, _, err := m.geometry(id, catalog)
	return g, st, err
}

func (m *Model) geometry(id int, catalog map[int][2]float64) (Geometry, Status, diag.Diagnostic, error) {
	subject := diag.Subject{ID: id}
	label, err := safecast.Conv[int32](id)
	if err != nil {
		return Geometry{}, StatusNotFound, diag.New(diag.SevWarning, diag.ModObjectNotFound, subject, "id out of range"), nil
	}
	var pos [2]float64
	var hasPos bool
	if catalog != nil {
		pos, hasPos = catalog[id]
		if !hasPos {
			return Geometry{}, StatusNotFound, diag.NewWarning(diag.ModObjectNotFound, subject, "not in catalog"), nil
		}
	}

	img := m.direct.Thumb()
	lim, err := kernel.SegmentationLimits(m.seg, label, img)
	if err != nil {
		return Geometry{}, StatusNotFound, diag.Diagnostic{}, err
	}
	if !lim.Found() {
		return Geometry{}, StatusNotFound, diag.NewWarning(diag.ModObjectNotFound, subject, "not in segmentation image"), nil
	}

	sh := img.Shape()
	pad := m.direct.Pad
	if lim.YMax < pad-5 || lim.YMin > sh.Rows-pad+5 ||
		lim.XMin == 0 || lim.XMax == sh.Cols-1 || lim.YMax == sh.Rows-1 {
		return Geometry{}, StatusEdge, diag.New(diag.SevInfo, diag.ModEdgeSkipped, subject,
			fmt.Sprintf("segment [%d:%d, %d:%d] touches the image edge", lim.YMin, lim.YMax, lim.XMin, lim.XMax)), nil
	}

	y, x := lim.YCen, lim.XCen
	if hasPos {
		y, x = pos[0], pos[1]
	}
	yc, xc := int(math.Round(y)), int(math.Round(x))

	t := m.opts.Thumb
	size := int(math.Ceil(max(x-float64(lim.XMin), float64(lim.XMax)-x, y-float64(lim.YMin), float64(lim.YMax)-y)))
	size = max(size+t.Margin, t.MinSize)
	size = min(size, xc-t.Edge, yc-t.Edge, sh.Cols-xc-t.Edge, sh.Rows-yc-t.Edge)
	if size < t.MinUsable {
		return Geometry{}, StatusTooSmall, diag.New(diag.SevInfo, diag.ModThumbTooSmall, subject,
			fmt.Sprintf("thumbnail half-size %d below %d", size, t.MinUsable)), nil
	}

	thumb, err := img.Slice(yc-size, yc+size, xc-size, xc+size)
	if err != nil {
		return Geometry{}, StatusTooSmall, diag.Diagnostic{}, err
	}
	seg, err := m.seg.Slice(yc-size, yc+size, xc-size, xc+size)
	if err != nil {
		return Geometry{}, StatusTooSmall, diag.Diagnostic{}, err
	}
	in, err := kernel.SegmentationLimits(seg, label, thumb)
	if err != nil {
		return Geometry{}, StatusNotFound, diag.Diagnostic{}, err
	}
	if in.Area == 0 {
		return Geometry{}, StatusNotFound, diag.NewWarning(diag.ModObjectNotFound, subject, "not inside its thumbnail"), nil
	}

	return Geometry{
		ID:     id,
		Limits: lim,
		Size:   size,
		YC:     yc,
		XC:     xc,
		Center: [2]float64{y - float64(yc), x - float64(xc)},
		Origin: [2]int{yc - size + m.direct.Origin[0], xc - size + m.direct.Origin[1]},
		Thumb:  thumb,
		Seg:    seg,
	}, StatusComputed, diag.Diagnostic{}, nil
}

// Magnitude returns the AB magnitude of the segment flux of id using the
// direct-image zeropoint. A nonpositive flux gives +Inf.
func (m *Model) Magnitude(id int) (float64, error) {
	label, err := safecast.Conv[int32](id)
	if err != nil {
		return 0, err
	}
	lim, err := kernel.SegmentationLimits(m.seg, label, m.direct.Thumb())
	if err != nil {
		return 0, err
	}
	return magnitude(m.direct.ABZP(), lim.Flux), nil
}

func magnitude(abzp, flux float64) float64 {
	if !(flux > 0) {
		return math.Inf(1)
	}
	return abzp - 2.5*math.Log10(flux)
}

// buildBeams constructs and computes the beams of g for the requested orders
// (all calibrated orders when orders is empty). Orders fainter than their
// calibrated limit are skipped; a zero mag selects every order. The model of
// each beam is computed with spec.
func (m *Model) buildBeams(g Geometry, mag float64, orders []string, spec *templates.Spectrum) ([]*disperse.Beam, []BeamFailure, []diag.Diagnostic) {
	if len(orders) == 0 {
		orders = m.solver.Orders()
	}
	var (
		beams    []*disperse.Beam
		failures []BeamFailure
		diags    []diag.Diagnostic
	)
	for _, order := range orders {
		subject := diag.Subject{ID: g.ID, Order: order}
		if limit := m.solver.FaintLimit(order); mag != 0 && mag > limit {
			diags = append(diags, diag.New(diag.SevInfo, diag.ModOrderTooFaint, subject,
				fmt.Sprintf("mag %.2f fainter than %.2f", mag, limit)))
			continue
		}
		b, err := disperse.New(disperse.Params{
			ID:       g.ID,
			Order:    order,
			Origin:   g.Origin,
			Center:   g.Center,
			Pad:      m.direct.Pad,
			Grow:     m.opts.Grow,
			Thumb:    g.Thumb,
			Seg:      g.Seg,
			Spectrum: spec,
		}, m.solver)
		if err == nil {
			err = b.ComputeModel(spec)
		}
		if err != nil {
			failures = append(failures, BeamFailure{Order: order, Err: err})
			d := diag.NewError(diag.ModBeamBuildFailed, subject, err.Error())
			if errors.Is(err, calib.ErrConfigurationMissing) {
				d = d.WithNote("order skipped; other orders proceed")
			}
			diags = append(diags, d)
			continue
		}
		beams = append(beams, b)
	}
	return beams, failures, diags
}

// build runs geometry and beam construction without touching the registry
// or the detector array.
func (m *Model) build(id int, mag float64, orders []string, spec *templates.Spectrum, catalog map[int][2]float64) built {
	res := built{ID: id}
	g, st, d, err := m.geometry(id, catalog)
	if err != nil {
		res.Status = StatusNotFound
		res.Diags = append(res.Diags, diag.NewError(diag.ModObjectNotFound, diag.Subject{ID: id}, err.Error()))
		return res
	}
	if st != StatusComputed {
		res.Status = st
		res.Diags = append(res.Diags, d)
		return res
	}
	res.Geometry = g
	res.Beams, res.Failures, res.Diags = m.buildBeams(g, mag, orders, spec)
	if len(res.Beams) == 0 {
		res.Status = StatusNoBeams
		res.Diags = append(res.Diags, diag.NewWarning(diag.ModNoBeams, diag.Subject{ID: id}, "no order was built"))
		return res
	}
	res.Status = StatusComputed
	return res
}
