package disperse

import (
	"errors"
	"math"
	"testing"

	"grism/internal/array"
)

func TestAddInsideUsesWholeFootprint(t *testing.T) {
	b := buildBeam(t, linearSolver(0, 0), [2]int{10, 10})
	if err := b.ComputeModel(nil); err != nil {
		t.Fatal(err)
	}
	full := array.New(100, 200)
	if !b.ContainedIn(full.Shape()) {
		t.Fatalf("footprint should be contained")
	}
	if err := b.AddToFullImage(b.Model(), full); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got, want := full.Sum(), b.Model().Sum(); math.Abs(got-want) > 1e-12*want {
		t.Fatalf("full sum = %g, want %g", got, want)
	}
	cut, err := b.CutoutFromFullImage(full)
	if err != nil {
		t.Fatalf("cutout: %v", err)
	}
	if !cut.Equal(b.Model()) {
		t.Fatalf("cutout differs from model")
	}
	if err := b.SubtractFromFullImage(b.Model(), full); err != nil {
		t.Fatal(err)
	}
	if full.Sum() != 0 || full.Max() != 0 {
		t.Fatalf("subtract did not restore zeros")
	}
}

func TestFullyOutsideIsNoOp(t *testing.T) {
	b := buildBeam(t, linearSolver(0, 0), [2]int{500, 500})
	if err := b.ComputeModel(nil); err != nil {
		t.Fatal(err)
	}
	full := array.Full(50, 50, 1)
	before := full.Clone()
	if err := b.AddToFullImage(b.Model(), full); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if !full.Equal(before) {
		t.Fatalf("detector modified by off-detector beam")
	}
	if _, err := b.CutoutFromFullImage(full); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds from cutout, got %v", err)
	}
}

func TestStraddlingEdgeTouchesOnlyOverlap(t *testing.T) {
	// Footprint rows [-15, 25), cols [30, 170) on a 60×100 detector.
	b := buildBeam(t, linearSolver(0, 0), [2]int{-15, 30})
	if err := b.ComputeModel(nil); err != nil {
		t.Fatal(err)
	}
	full := array.New(60, 100)
	if b.ContainedIn(full.Shape()) {
		t.Fatalf("footprint should straddle")
	}
	if err := b.AddToFullImage(b.Model(), full); err != nil {
		t.Fatalf("add: %v", err)
	}
	var want float64
	for r := 15; r < 40; r++ {
		for c := 0; c < 70; c++ {
			want += b.Model().At(r, c)
		}
	}
	if got := full.Sum(); math.Abs(got-want) > 1e-12*math.Abs(want) {
		t.Fatalf("full sum = %g, want %g", got, want)
	}
	for r := 25; r < 60; r++ {
		for c := 0; c < 100; c++ {
			if full.At(r, c) != 0 {
				t.Fatalf("pixel (%d,%d) outside footprint modified", r, c)
			}
		}
	}

	cut, err := b.CutoutFromFullImage(full)
	if err != nil {
		t.Fatalf("cutout: %v", err)
	}
	if cut.At(20, 30) != b.Model().At(20, 30) {
		t.Fatalf("overlap pixel not read back")
	}
	if cut.At(5, 30) != 0 || cut.At(20, 90) != 0 {
		t.Fatalf("off-detector pixels should be zero")
	}
}

func TestCutoutImageFlagsOffDetector(t *testing.T) {
	b := buildBeam(t, linearSolver(0, 0), [2]int{-15, 30})
	im := array.NewImageData(array.Full(60, 100, 1))
	im.Err = array.Full(60, 100, 0.1)
	cut, err := b.CutoutImage(im)
	if err != nil {
		t.Fatalf("cutout image: %v", err)
	}
	if cut.DQ.At(0, 0) != 1 || cut.DQ.At(20, 10) != 0 {
		t.Fatalf("DQ flags wrong")
	}
	if cut.Sci.Shape() != b.Shape() {
		t.Fatalf("shape = %v", cut.Sci.Shape())
	}
}
