package cutout

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"grism/internal/array"
	"grism/internal/calib"
	"grism/internal/detmodel"
	"grism/internal/disperse"
)

func solver() *calib.Config {
	return calib.LinearConfig(1, calib.LinearOrder{
		Name: "A", DX0: 0, DX1: 100,
		Lambda0: 10000, Dispersion: 1,
	})
}

// square returns a 40×40 thumbnail with flux 2 in a 5×5 square labelled id.
func square(id int32) (*array.Array2D, *array.Int2D) {
	thumb := array.New(40, 40)
	seg := array.NewInt(40, 40)
	for r := 18; r < 23; r++ {
		for c := 18; c < 23; c++ {
			thumb.Set(r, c, 2)
			seg.Set(r, c, id)
		}
	}
	return thumb, seg
}

func beam(t *testing.T, id int32, origin [2]int) *disperse.Beam {
	t.Helper()
	thumb, seg := square(id)
	b, err := disperse.New(disperse.Params{ID: int(id), Order: "A", Origin: origin, Thumb: thumb, Seg: seg}, solver())
	if err != nil {
		t.Fatalf("new beam: %v", err)
	}
	if err := b.ComputeModel(nil); err != nil {
		t.Fatalf("compute: %v", err)
	}
	return b
}

// scene composites object 7 and a contaminant 8 offset by four rows and
// observes the sum with uniform errors.
func scene(t *testing.T) (a, b *disperse.Beam, full *array.Array2D, grism array.ImageData) {
	t.Helper()
	a = beam(t, 7, [2]int{20, 20})
	b = beam(t, 8, [2]int{24, 30})
	full = array.New(80, 200)
	for _, x := range []*disperse.Beam{a, b} {
		if err := x.AddToFullImage(x.Model(), full); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	grism = array.NewImageData(full.Clone())
	grism.Err = array.Full(80, 200, 0.1)
	return a, b, full, grism
}

func TestContaminationExcludesOwnBeam(t *testing.T) {
	a, b, full, grism := scene(t)
	c, err := New(a, grism, full, true, DefaultOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	only := array.New(80, 200)
	if err := b.AddToFullImage(b.Model(), only); err != nil {
		t.Fatalf("add: %v", err)
	}
	want, err := a.CutoutFromFullImage(only)
	if err != nil {
		t.Fatalf("cutout: %v", err)
	}
	if diff := cmp.Diff(want.Data(), c.Contam.Data(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("contamination mismatch (-want +got):\n%s", diff)
	}
	// Science minus contamination leaves the object alone.
	if diff := cmp.Diff(a.Model().Data(), c.Sci.Data(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("cleaned science mismatch (-want +got):\n%s", diff)
	}
}

func TestUnregisteredBeamKeepsFullContamination(t *testing.T) {
	a, _, full, grism := scene(t)
	c, err := New(a, grism, full, false, DefaultOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	want, _ := a.CutoutFromFullImage(full)
	if !c.Contam.Equal(want) {
		t.Fatalf("contamination should be the whole detector model")
	}
}

func TestBadPixelsLeaveFitMask(t *testing.T) {
	a, _, full, grism := scene(t)
	// Detector pixels on the trace of object 7 (thumb row 20 → row 40).
	grism.DQ.Set(40, 60, 4)
	grism.Err.Set(40, 70, 0)
	grism.Sci.Set(40, 80, 0)

	c, err := New(a, grism, full, true, DefaultOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r0, _, c0, _ := a.ParentSlice()
	for _, col := range []int{60, 70, 80} {
		r, cc := 40-r0, col-c0
		if !c.Bad.At(r, cc) {
			t.Errorf("pixel (40,%d) not flagged bad", col)
		}
		if c.FitMask.At(r, cc) {
			t.Errorf("bad pixel (40,%d) left in fit mask", col)
		}
		if c.Ivar.At(r, cc) != 0 {
			t.Errorf("ivar at (40,%d) = %v, want 0", col, c.Ivar.At(r, cc))
		}
	}
	if !c.FitMask.At(40-r0, 90-c0) {
		t.Errorf("clean trace pixel missing from fit mask")
	}
	if c.FitMask.At(0, 90-c0) {
		t.Errorf("pixel without model flux in fit mask")
	}
	if got, want := c.DoF(), c.FitMask.Count(); got != want {
		t.Errorf("DoF = %d, want %d", got, want)
	}
}

func TestContamMask(t *testing.T) {
	a, _, full, grism := scene(t)
	base, err := New(a, grism, full, true, DefaultOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r0, _, c0, _ := a.ParentSlice()
	// Row 45 carries only the contaminant.
	if !base.ContamMask.At(45-r0, 90-c0) {
		t.Fatalf("contaminated pixel not flagged")
	}
	if base.ContamMask.At(30-r0, 90-c0) {
		t.Fatalf("clean pixel flagged as contaminated")
	}

	opts := DefaultOptions()
	opts.UseContamMask = true
	masked, err := New(a, grism, full, true, opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if masked.DoF() >= base.DoF() {
		t.Fatalf("DoF with contamination mask = %d, want < %d", masked.DoF(), base.DoF())
	}
}

func TestNoFitPixels(t *testing.T) {
	a, _, full, grism := scene(t)
	grism.Err = array.New(80, 200)
	_, err := New(a, grism, full, true, DefaultOptions())
	if !errors.Is(err, ErrNoFitPixels) {
		t.Fatalf("err = %v, want ErrNoFitPixels", err)
	}
}

func TestRejectsDetectorShape(t *testing.T) {
	a, _, _, grism := scene(t)
	_, err := New(a, grism, array.New(10, 10), true, DefaultOptions())
	if !errors.Is(err, disperse.ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestPolyBasis(t *testing.T) {
	a, _, full, grism := scene(t)
	c, err := New(a, grism, full, true, DefaultOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p := c.Poly(2)
	if got, want := len(p.Columns), 4; got != want {
		t.Fatalf("columns = %d, want %d", got, want)
	}
	if p.NSimple() != 4 || p.NPoly() != 3 || p.NBg != 1 {
		t.Fatalf("sizes = %d/%d/%d, want 4/3/1", p.NSimple(), p.NPoly(), p.NBg)
	}
	for i, v := range p.Columns[0] {
		if v != 1 {
			t.Fatalf("background[%d] = %v, want 1", i, v)
		}
	}
	if diff := cmp.Diff(c.Flat.Data(), p.Columns[1]); diff != "" {
		t.Fatalf("zeroth-order column is not the flat model:\n%s", diff)
	}
	nx := a.Shape().Cols
	if got := p.Y[1][nx/2]; got != 0 {
		t.Errorf("x at the central column = %v, want 0", got)
	}
	if got := p.Y[2][0]; got != 1 {
		t.Errorf("x² at the first column = %v, want 1", got)
	}
}

func TestFromModel(t *testing.T) {
	direct := array.New(80, 200)
	seg := array.NewInt(80, 200)
	for r := 38; r < 43; r++ {
		for c := 18; c < 23; c++ {
			direct.Set(r, c, 2)
			seg.Set(r, c, 7)
		}
	}
	m, err := detmodel.New(array.NewImageData(direct), seg, solver(), detmodel.Options{})
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if _, err := m.ComputeForObject(context.Background(), 7, detmodel.ObjectRequest{Store: true, InPlace: true}); err != nil {
		t.Fatalf("compute: %v", err)
	}
	grism := array.NewImageData(m.Full())
	grism.Err = array.Full(80, 200, 0.1)

	c, err := FromModel(m, 7, "A", grism, DefaultOptions())
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	for i, v := range c.Contam.Data() {
		if v > 1e-12 || v < -1e-12 {
			t.Fatalf("contam[%d] = %g, want 0 for an isolated object", i, v)
		}
	}
	if _, err := FromModel(m, 7, "B", grism, DefaultOptions()); !errors.Is(err, detmodel.ErrObjectNotFound) {
		t.Fatalf("missing order err = %v, want ErrObjectNotFound", err)
	}
}
