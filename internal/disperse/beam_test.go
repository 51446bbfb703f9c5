package disperse

import (
	"errors"
	"math"
	"testing"

	"fortio.org/safecast"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"grism/internal/array"
	"grism/internal/calib"
	"grism/internal/templates"
)

const unit = 1e-17

func linearSolver(slope, offset float64) *calib.Config {
	return calib.LinearConfig(unit, calib.LinearOrder{
		Name: "A", DX0: 0, DX1: 100,
		Lambda0: 10000, Dispersion: 1,
		Slope: slope, Offset: offset,
	})
}

// squareThumb returns a 40×40 thumbnail with flux 2 in a 5×5 square
// labelled 7.
func squareThumb() (*array.Array2D, *array.Int2D) {
	thumb := array.New(40, 40)
	seg := array.NewInt(40, 40)
	for r := 18; r < 23; r++ {
		for c := 18; c < 23; c++ {
			thumb.Set(r, c, 2)
			seg.Set(r, c, 7)
		}
	}
	return thumb, seg
}

func buildBeam(t *testing.T, solver calib.TraceSolver, origin [2]int) *Beam {
	t.Helper()
	thumb, seg := squareThumb()
	b, err := New(Params{ID: 7, Order: "A", Origin: origin, Thumb: thumb, Seg: seg}, solver)
	if err != nil {
		t.Fatalf("new beam: %v", err)
	}
	return b
}

func TestScenarioSquareFlatSpectrum(t *testing.T) {
	b := buildBeam(t, linearSolver(0, 0), [2]int{100, 100})
	if got := b.Shape(); got != (array.Shape{Rows: 40, Cols: 140}) {
		t.Fatalf("shape = %v, want (40,140)", got)
	}
	if got := b.TotalFlux(); got != 50 {
		t.Fatalf("total flux = %v, want 50", got)
	}
	if err := b.ComputeModel(nil); err != nil {
		t.Fatalf("compute: %v", err)
	}
	sum := b.Model().Sum()
	want := 2.0 * 25 * 100 * unit
	if math.Abs(sum-want) > 1e-9*want {
		t.Fatalf("model sum = %g, want %g", sum, want)
	}

	// Columns fully covered by the 5-pixel-wide source carry 2×5×5 units.
	cols := b.Model().ColumnSums()
	for c := 24; c < 118; c++ {
		if math.Abs(cols[c]-50*unit) > 1e-9*50*unit {
			t.Fatalf("column %d sum = %g, want %g", c, cols[c], 50*unit)
		}
	}

	ext, err := b.OptimalExtract(b.Model(), nil, 0)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for c := 24; c < 118; c++ {
		if math.Abs(ext.Flux[c]-50*unit) > 1e-9*50*unit {
			t.Fatalf("extracted flux[%d] = %g, want %g", c, ext.Flux[c], 50*unit)
		}
	}
	// Columns the trace never reaches carry no weight.
	if ext.Flux[0] != 0 || ext.Err[0] != 0 {
		t.Fatalf("empty column extracted as %g ± %g", ext.Flux[0], ext.Err[0])
	}
}

func TestConservationWithSlopedTrace(t *testing.T) {
	b := buildBeam(t, linearSolver(0.05, 0.3), [2]int{0, 0})
	if err := b.ComputeModel(nil); err != nil {
		t.Fatalf("compute: %v", err)
	}
	var sens float64
	for _, s := range b.SensitivityBeam() {
		sens += s
	}
	want := b.TotalFlux() * sens
	if got := b.Model().Sum(); math.Abs(got-want) > 1e-9*want {
		t.Fatalf("model sum = %g, want %g", got, want)
	}
}

func TestRoundTripExtractionFollowsTemplate(t *testing.T) {
	thumb := array.New(21, 21)
	seg := array.NewInt(21, 21)
	thumb.Set(10, 10, 1)
	seg.Set(10, 10, 3)
	b, err := New(Params{ID: 3, Order: "A", Thumb: thumb, Seg: seg}, linearSolver(0.02, 0.4))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ramp, _ := templates.New("ramp", []float64{9000, 11000}, []float64{1, 3})
	model, err := b.RenderModel(&ramp, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	flat, err := b.OptimalExtract(mustRender(t, b), nil, 0)
	if err != nil {
		t.Fatalf("extract flat: %v", err)
	}
	got, err := b.OptimalExtract(model, nil, 0)
	if err != nil {
		t.Fatalf("extract ramp: %v", err)
	}
	for c := range got.Flux {
		if flat.Flux[c] == 0 {
			continue
		}
		ratio := got.Flux[c] / flat.Flux[c]
		if want := ramp.At(got.Wave[c]); math.Abs(ratio-want) > 1e-9 {
			t.Fatalf("column %d (%.1f Å): ratio %v, want %v", c, got.Wave[c], ratio, want)
		}
	}
}

func mustRender(t *testing.T, b *Beam) *array.Array2D {
	t.Helper()
	m, err := b.RenderModel(nil, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return m
}

func TestRenderDoesNotMutate(t *testing.T) {
	b := buildBeam(t, linearSolver(0, 0), [2]int{})
	if err := b.ComputeModel(nil); err != nil {
		t.Fatal(err)
	}
	before := b.Model().Clone()
	spec := templates.PowerLaw("red", 2, 9000, 11000, 5)
	if _, err := b.RenderModel(&spec, nil); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !b.Model().Equal(before) || b.Spectrum() != nil {
		t.Fatalf("RenderModel modified the beam")
	}
}

func TestRenderRejectsThumbShape(t *testing.T) {
	b := buildBeam(t, linearSolver(0, 0), [2]int{})
	_, err := b.RenderModel(nil, array.New(10, 10))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestExtractRejectsShape(t *testing.T) {
	b := buildBeam(t, linearSolver(0, 0), [2]int{})
	if _, err := b.OptimalExtract(array.New(3, 3), nil, 0); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for data, got %v", err)
	}
	if _, err := b.OptimalExtract(array.Zeros(b.Shape()), array.New(3, 3), 0); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for ivar, got %v", err)
	}
}

func TestExtractBinned(t *testing.T) {
	b := buildBeam(t, linearSolver(0, 0), [2]int{})
	if err := b.ComputeModel(nil); err != nil {
		t.Fatal(err)
	}
	ext, err := b.OptimalExtract(b.Model(), nil, 4)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(ext.Wave) != 35 || ext.Wave[0] != b.Lam()[2] {
		t.Fatalf("binned axis: len=%d first=%v", len(ext.Wave), ext.Wave[0])
	}
}

func TestRebuildIsBitIdentical(t *testing.T) {
	b := buildBeam(t, linearSolver(0.03, 0.1), [2]int{5, 9})
	spec := templates.PowerLaw("blue", -1, 9000, 11000, 2)
	if err := b.ComputeModel(&spec); err != nil {
		t.Fatal(err)
	}
	again, err := Rebuild(b.Params(), linearSolver(0.03, 0.1))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !again.Model().Equal(b.Model()) {
		t.Fatalf("rebuilt model differs")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	b := buildBeam(t, linearSolver(0, 0), [2]int{})
	c := b.Clone()
	if err := c.ComputeModel(nil); err != nil {
		t.Fatal(err)
	}
	if b.Model().Sum() != 0 {
		t.Fatalf("clone shares the model buffer")
	}
}

func TestNewRejectsTraceOutsideFrame(t *testing.T) {
	thumb, seg := squareThumb()
	_, err := New(Params{ID: 7, Order: "A", Thumb: thumb, Seg: seg}, linearSolver(0, 30))
	if !errors.Is(err, ErrTraceOutside) {
		t.Fatalf("expected ErrTraceOutside, got %v", err)
	}
	_, err = New(Params{ID: 7, Order: "B", Thumb: thumb, Seg: seg}, linearSolver(0, 0))
	if !errors.Is(err, calib.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
}

func TestNewRejectsIDOutsideLabelRange(t *testing.T) {
	thumb, seg := squareThumb()
	_, err := New(Params{ID: 1<<32 + 7, Order: "A", Thumb: thumb, Seg: seg}, linearSolver(0, 0))
	if !errors.Is(err, safecast.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestSetModelInstallsRenderedModel(t *testing.T) {
	b := buildBeam(t, linearSolver(0, 0), [2]int{})
	pl := templates.PowerLaw("pl", -1, 5000, 12000, 5)
	model, err := b.RenderModel(&pl, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if err := b.SetModel(array.New(3, 3), &pl); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if b.Model().Sum() != 0 || b.Spectrum() != nil {
		t.Fatalf("rejected model was installed")
	}
	if err := b.SetModel(model, &pl); err != nil {
		t.Fatalf("set model: %v", err)
	}
	if b.Spectrum() == nil || b.Spectrum().Name != "pl" {
		t.Fatalf("template not recorded")
	}
	again := buildBeam(t, linearSolver(0, 0), [2]int{})
	if err := again.ComputeModel(&pl); err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !again.Model().Equal(b.Model()) {
		t.Fatalf("installed model differs from ComputeModel")
	}
}

func TestAxisTicks(t *testing.T) {
	b := buildBeam(t, linearSolver(0, 0), [2]int{})
	pix, wave := b.AxisTicks(50)
	if diff := cmp.Diff([]float64{10000, 10050, 10100}, wave); diff != "" {
		t.Fatalf("ticks mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]float64{20.5, 70.5, 120.5}, pix, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("pixels mismatch:\n%s", diff)
	}
	if got := b.PixelAt(10000); math.Abs(got-20.5) > 1e-9 {
		t.Fatalf("PixelAt = %v, want 20.5", got)
	}
}
