package detmodel

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/goleak"

	"grism/internal/array"
	"grism/internal/calib"
	"grism/internal/diag"
	"grism/internal/pipeline"
	"grism/internal/templates"
)

const unit = 1e-17

type object struct {
	id       int32
	row, col int
	flux     float64
}

// scene draws 5×5 squares centred on each object into a 120×300 direct
// image.
func scene(objs ...object) (array.ImageData, *array.Int2D) {
	sci := array.New(120, 300)
	seg := array.NewInt(120, 300)
	for _, o := range objs {
		for r := o.row - 2; r <= o.row+2; r++ {
			for c := o.col - 2; c <= o.col+2; c++ {
				sci.Set(r, c, o.flux)
				seg.Set(r, c, o.id)
			}
		}
	}
	return array.NewImageData(sci), seg
}

func twoObjects() (array.ImageData, *array.Int2D) {
	return scene(object{id: 1, row: 30, col: 100, flux: 2}, object{id: 2, row: 90, col: 120, flux: 3})
}

func singleOrder() *calib.Config {
	return calib.LinearConfig(unit, calib.LinearOrder{Name: "A", DX0: 0, DX1: 100, Lambda0: 10000, Dispersion: 1})
}

func newModel(t *testing.T, solver calib.TraceSolver, bag *diag.Bag, objs ...object) *Model {
	t.Helper()
	direct, seg := twoObjects()
	if len(objs) > 0 {
		direct, seg = scene(objs...)
	}
	opts := Options{Jobs: 4}
	if bag != nil {
		opts.Reporter = diag.BagReporter{Bag: bag}
	}
	m, err := New(direct, seg, solver, opts)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return m
}

func compute(t *testing.T, m *Model, id int, req ObjectRequest) ObjectResult {
	t.Helper()
	res, err := m.ComputeForObject(context.Background(), id, req)
	if err != nil {
		t.Fatalf("compute %d: %v", id, err)
	}
	return res
}

// registrySum rebuilds the detector model from the registered beams.
func registrySum(t *testing.T, m *Model) *array.Array2D {
	t.Helper()
	sum := array.Zeros(m.Shape())
	for _, id := range m.IDs() {
		beams, err := m.Beams(id)
		if err != nil {
			t.Fatalf("beams %d: %v", id, err)
		}
		for _, b := range beams {
			if err := b.AddToFullImage(b.Model(), sum); err != nil {
				t.Fatalf("add %d: %v", id, err)
			}
		}
	}
	return sum
}

func TestGeometryFromSegmentation(t *testing.T) {
	m := newModel(t, singleOrder(), nil)
	g, st, err := m.Geometry(1)
	if err != nil || st != StatusComputed {
		t.Fatalf("geometry = %v, %v", st, err)
	}
	if g.Size != 26 {
		t.Errorf("size = %d, want 26", g.Size)
	}
	if g.YC != 30 || g.XC != 100 {
		t.Errorf("center = (%d,%d), want (30,100)", g.YC, g.XC)
	}
	if g.Origin != [2]int{4, 74} {
		t.Errorf("origin = %v, want [4 74]", g.Origin)
	}
	if g.Thumb.Shape() != (array.Shape{Rows: 52, Cols: 52}) {
		t.Errorf("thumb shape = %v", g.Thumb.Shape())
	}
	if g.Center != [2]float64{0, 0} {
		t.Errorf("center offset = %v, want zero", g.Center)
	}
}

func TestCatalogOverridesCentroid(t *testing.T) {
	m := newModel(t, singleOrder(), nil)
	m.SetCatalog(map[int][2]float64{1: {30.4, 100.2}})
	g, st, err := m.Geometry(1)
	if err != nil || st != StatusComputed {
		t.Fatalf("geometry = %v, %v", st, err)
	}
	if math.Abs(g.Center[0]-0.4) > 1e-12 || math.Abs(g.Center[1]-0.2) > 1e-12 {
		t.Errorf("center offset = %v, want [0.4 0.2]", g.Center)
	}
	if _, st, _ := m.Geometry(2); st != StatusNotFound {
		t.Errorf("id missing from catalog: status = %v, want not found", st)
	}
}

func TestThumbnailSizing(t *testing.T) {
	tests := []struct {
		name string
		obj  object
		want Status
	}{
		{"touches left edge", object{id: 5, row: 60, col: 2, flux: 1}, StatusEdge},
		{"touches bottom edge", object{id: 5, row: 117, col: 150, flux: 1}, StatusEdge},
		{"too close to top", object{id: 5, row: 4, col: 150, flux: 1}, StatusTooSmall},
		{"interior", object{id: 5, row: 60, col: 150, flux: 1}, StatusComputed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newModel(t, singleOrder(), nil, tt.obj)
			if _, st, err := m.Geometry(5); err != nil || st != tt.want {
				t.Fatalf("status = %v (%v), want %v", st, err, tt.want)
			}
		})
	}
}

func TestNotFoundIsNotAnError(t *testing.T) {
	bag := diag.NewBag(10)
	m := newModel(t, singleOrder(), bag)
	res := compute(t, m, 9, ObjectRequest{InPlace: true, Store: true})
	if res.Status != StatusNotFound {
		t.Fatalf("status = %v, want not found", res.Status)
	}
	if m.Full().Sum() != 0 {
		t.Fatalf("detector model changed")
	}
	if _, ok := m.Entry(9); ok {
		t.Fatalf("absent object registered")
	}
	if bag.Count(diag.ModObjectNotFound) != 1 {
		t.Fatalf("diagnostics = %v", bag.Items())
	}
	if err := m.Remove(9); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("remove = %v, want ErrObjectNotFound", err)
	}
}

func TestUpsertReplacesContribution(t *testing.T) {
	m := newModel(t, singleOrder(), nil)
	compute(t, m, 1, ObjectRequest{InPlace: true, Store: true})
	compute(t, m, 2, ObjectRequest{InPlace: true, Store: true})
	before := m.Full()

	pl := templates.PowerLaw("pl", -2, 5000, 12000, 5)
	compute(t, m, 1, ObjectRequest{Spectrum: &pl, InPlace: true, Store: true})
	after := m.Full()

	ref := newModel(t, singleOrder(), nil)
	compute(t, ref, 1, ObjectRequest{Spectrum: &pl, InPlace: true, Store: true})
	compute(t, ref, 2, ObjectRequest{InPlace: true, Store: true})
	if !after.Equal(ref.Full()) {
		t.Fatalf("model after re-upsert differs from newA + B")
	}
	if !after.Equal(registrySum(t, m)) {
		t.Fatalf("model differs from the sum of registered beams")
	}

	beams, err := m.Beams(2)
	if err != nil {
		t.Fatalf("beams: %v", err)
	}
	r0, r1, c0, c1 := beams[0].ParentSlice()
	for r := r0; r < r1; r++ {
		for c := c0; c < min(c1, before.Cols()); c++ {
			if before.At(r, c) != after.At(r, c) {
				t.Fatalf("object 2 pixel (%d,%d) changed: %v -> %v", r, c, before.At(r, c), after.At(r, c))
			}
		}
	}
}

func TestUpsertWithPrebuiltBeams(t *testing.T) {
	m := newModel(t, singleOrder(), nil)
	compute(t, m, 1, ObjectRequest{InPlace: true, Store: true})
	pl := templates.PowerLaw("pl", 1, 5000, 12000, 5)
	res := compute(t, m, 1, ObjectRequest{Spectrum: &pl, InPlace: false})
	if err := m.Upsert(1, res.Beams); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !m.Full().Equal(res.Model) {
		t.Fatalf("detector model != upserted beams")
	}
	if err := m.Upsert(2, res.Beams); err == nil {
		t.Fatalf("upsert accepted beams of another object")
	}
}

func TestNotInPlaceLeavesModelAlone(t *testing.T) {
	m := newModel(t, singleOrder(), nil)
	compute(t, m, 1, ObjectRequest{InPlace: true, Store: true})
	before := m.Full()
	e, _ := m.Entry(1)
	registered := e.(Computed).Beams[0].Model().Clone()

	pl := templates.PowerLaw("pl", -1, 5000, 12000, 5)
	res := compute(t, m, 1, ObjectRequest{Spectrum: &pl})
	if res.Model == nil || res.Model.Sum() <= 0 {
		t.Fatalf("no object-only model returned")
	}
	if !m.Full().Equal(before) {
		t.Fatalf("detector model changed")
	}
	e, _ = m.Entry(1)
	if !e.(Computed).Beams[0].Model().Equal(registered) {
		t.Fatalf("registered beam model changed")
	}
}

func TestStoreFalseKeepsTemplateOnly(t *testing.T) {
	m := newModel(t, singleOrder(), nil)
	pl := templates.PowerLaw("pl", -1, 5000, 12000, 5)
	compute(t, m, 1, ObjectRequest{Spectrum: &pl, InPlace: true})
	compute(t, m, 2, ObjectRequest{InPlace: true})
	e, ok := m.Entry(1)
	if !ok {
		t.Fatalf("object 1 not registered")
	}
	u, ok := e.(Uncomputed)
	if !ok || u.Spectrum == nil || u.Spectrum.Name != "pl" {
		t.Fatalf("entry = %#v, want Uncomputed with template", e)
	}
	if !m.Full().Equal(registrySum(t, m)) {
		t.Fatalf("model differs from rebuilt beams")
	}
	for _, id := range []int{1, 2} {
		if err := m.Remove(id); err != nil {
			t.Fatalf("remove %d: %v", id, err)
		}
	}
	if m.Full().Sum() != 0 || m.Full().Max() != 0 {
		t.Fatalf("residual left after removing every object")
	}
}

func TestFaintOrdersSkipped(t *testing.T) {
	bag := diag.NewBag(10)
	m := newModel(t, twoOrders(), bag)
	res := compute(t, m, 1, ObjectRequest{Mag: 25, InPlace: true, Store: true})
	if len(res.Beams) != 1 || res.Beams[0].Order() != "A" {
		t.Fatalf("beams = %d, want only order A", len(res.Beams))
	}
	if bag.Count(diag.ModOrderTooFaint) != 1 {
		t.Fatalf("diagnostics = %v", bag.Items())
	}

	res = compute(t, m, 2, ObjectRequest{InPlace: true, Store: true})
	if len(res.Beams) != 2 {
		t.Fatalf("zero magnitude built %d orders, want 2", len(res.Beams))
	}

	res = compute(t, m, 2, ObjectRequest{Mag: 40, Orders: []string{"A", "B"}})
	if res.Status != StatusNoBeams || len(res.Beams) != 0 {
		t.Fatalf("status = %v, want no beams", res.Status)
	}
}

func twoOrders() *calib.Config {
	return calib.LinearConfig(unit,
		calib.LinearOrder{Name: "A", DX0: 0, DX1: 100, Lambda0: 10000, Dispersion: 1, FaintLimit: 30},
		calib.LinearOrder{Name: "B", DX0: -60, DX1: -20, Lambda0: 10000, Dispersion: -1, FaintLimit: 20},
	)
}

func TestStoreFalseKeepsCompositedOrders(t *testing.T) {
	m := newModel(t, twoOrders(), nil)
	compute(t, m, 1, ObjectRequest{Mag: 25, InPlace: true, Store: true})
	res := compute(t, m, 1, ObjectRequest{InPlace: true})
	if len(res.Beams) != 1 || res.Beams[0].Order() != "A" {
		t.Fatalf("recomputed beams = %d, want only order A", len(res.Beams))
	}
	e, _ := m.Entry(1)
	u, ok := e.(Uncomputed)
	if !ok || u.Mag != 25 || len(u.Orders) != 1 || u.Orders[0] != "A" {
		t.Fatalf("entry = %#v, want Uncomputed mag 25 orders [A]", e)
	}
	if !m.Full().Equal(registrySum(t, m)) {
		t.Fatalf("model differs from rebuilt beams")
	}

	pl := templates.PowerLaw("pl", -1, 5000, 12000, 5)
	compute(t, m, 1, ObjectRequest{Spectrum: &pl, InPlace: true})
	if err := m.Remove(1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if m.Full().Min() != 0 || m.Full().Max() != 0 {
		t.Fatalf("residual after remove: min %g max %g", m.Full().Min(), m.Full().Max())
	}
}

func TestUpsertedSubsetSurvivesStoreFalse(t *testing.T) {
	m := newModel(t, twoOrders(), nil)
	res := compute(t, m, 1, ObjectRequest{Orders: []string{"B"}})
	if err := m.Upsert(1, res.Beams); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	compute(t, m, 1, ObjectRequest{InPlace: true})
	if err := m.Remove(1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if m.Full().Min() != 0 || m.Full().Max() != 0 {
		t.Fatalf("residual after remove: min %g max %g", m.Full().Min(), m.Full().Max())
	}
}

func TestMissingOrderFailsOnlyThatOrder(t *testing.T) {
	m := newModel(t, singleOrder(), nil)
	res := compute(t, m, 1, ObjectRequest{Orders: []string{"A", "C"}})
	if res.Status != StatusComputed || len(res.Beams) != 1 {
		t.Fatalf("status = %v beams = %d", res.Status, len(res.Beams))
	}
	if len(res.Failures) != 1 || !errors.Is(res.Failures[0].Err, calib.ErrConfigurationMissing) {
		t.Fatalf("failures = %v", res.Failures)
	}
	if m.Full().Sum() != 0 {
		t.Fatalf("order subset composited into the model")
	}
}

func TestComputeFullMatchesSerial(t *testing.T) {
	defer goleak.VerifyNone(t)

	var events []pipeline.Event
	ch := make(chan pipeline.Event, 64)
	m := newModel(t, singleOrder(), nil)
	m.opts.Progress = pipeline.ChannelSink{Ch: ch}

	res, err := m.ComputeFull(context.Background(), FullRequest{Store: true})
	if err != nil {
		t.Fatalf("compute full: %v", err)
	}
	close(ch)
	for evt := range ch {
		events = append(events, evt)
	}
	if res.Computed != 2 || res.Skipped != 0 || res.NotFound != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Objects[0].ID != 1 || res.Objects[1].ID != 2 {
		t.Fatalf("objects out of order: %d, %d", res.Objects[0].ID, res.Objects[1].ID)
	}
	if len(events) == 0 {
		t.Fatalf("no progress events")
	}

	serial := newModel(t, singleOrder(), nil)
	for _, id := range []int{1, 2} {
		mag, err := serial.Magnitude(id)
		if err != nil {
			t.Fatalf("magnitude: %v", err)
		}
		compute(t, serial, id, ObjectRequest{Mag: mag, InPlace: true, Store: true})
	}
	if !m.Full().Equal(serial.Full()) {
		t.Fatalf("parallel model differs from serial model")
	}

	// A second pass replaces rather than doubles the contributions.
	if _, err := m.ComputeFull(context.Background(), FullRequest{Store: true}); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !m.Full().Equal(serial.Full()) {
		t.Fatalf("recompute changed the model")
	}
}

func TestComputeFullMagnitudes(t *testing.T) {
	defer goleak.VerifyNone(t)
	solver := calib.LinearConfig(unit, calib.LinearOrder{Name: "A", DX0: 0, DX1: 100, Lambda0: 10000, Dispersion: 1, FaintLimit: 20})
	m := newModel(t, solver, nil)

	if _, err := m.ComputeFull(context.Background(), FullRequest{IDs: []int{1, 2}, Mags: []float64{1, 2, 3}}); err == nil {
		t.Fatalf("length mismatch accepted")
	}
	res, err := m.ComputeFull(context.Background(), FullRequest{IDs: []int{1, 2}, Mags: []float64{25}})
	if err != nil {
		t.Fatalf("compute full: %v", err)
	}
	if res.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2", res.Skipped)
	}
	res, err = m.ComputeFull(context.Background(), FullRequest{IDs: []int{1, 2}, Mags: []float64{15, 25}})
	if err != nil {
		t.Fatalf("compute full: %v", err)
	}
	if res.Computed != 1 || res.Skipped != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestMagnitudeFromSegmentFlux(t *testing.T) {
	m := newModel(t, singleOrder(), nil)
	got, err := m.Magnitude(1)
	if err != nil {
		t.Fatalf("magnitude: %v", err)
	}
	want := m.Direct().ABZP() - 2.5*math.Log10(50)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("mag = %v, want %v", got, want)
	}
	if mag, _ := m.Magnitude(42); !math.IsInf(mag, 1) {
		t.Fatalf("absent segment mag = %v, want +Inf", mag)
	}
}

func TestComputeFullCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := newModel(t, singleOrder(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.ComputeFull(ctx, FullRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if m.Full().Sum() != 0 {
		t.Fatalf("cancelled run touched the model")
	}
}
