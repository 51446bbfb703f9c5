package kernel

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"grism/internal/array"
)

func TestInterpConserveConstant(t *testing.T) {
	xOld := []float64{0, 10, 20, 30}
	yOld := []float64{3, 3, 3, 3}
	xNew := []float64{5, 6, 7, 8, 20, 25}
	got, err := InterpConserve(xNew, xOld, yOld)
	if err != nil {
		t.Fatalf("interp: %v", err)
	}
	want := []float64{3, 3, 3, 3, 3, 3}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("constant resample mismatch (-want +got):\n%s", diff)
	}
}

func TestInterpConserveZeroOutside(t *testing.T) {
	got, err := InterpConserve([]float64{-10, -9, 50, 51}, []float64{0, 10}, []float64{1, 1})
	if err != nil {
		t.Fatalf("interp: %v", err)
	}
	for i, v := range got {
		if v != 0 {
			t.Errorf("y[%d] = %v, want 0", i, v)
		}
	}
}

func TestInterpConserveIntegral(t *testing.T) {
	// A narrow triangle resampled onto a coarse grid keeps its area.
	xOld := []float64{9, 10, 11}
	yOld := []float64{0, 4, 0}
	xNew := make([]float64, 21)
	for i := range xNew {
		xNew[i] = float64(i)
	}
	got, err := InterpConserve(xNew, xOld, yOld)
	if err != nil {
		t.Fatalf("interp: %v", err)
	}
	var area float64
	for _, v := range got {
		area += v
	}
	if math.Abs(area-4) > 1e-12 {
		t.Fatalf("area = %v, want 4", area)
	}
}

func TestInterpConserveRejectsUnsorted(t *testing.T) {
	_, err := InterpConserve([]float64{1, 2}, []float64{2, 1}, []float64{0, 0})
	if !errors.Is(err, ErrUnsorted) {
		t.Fatalf("expected ErrUnsorted, got %v", err)
	}
}

func TestFloorInt(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0.2, 0},
		{1.99, 1},
		{-0.1, -1},
		{-1, -1},
		{-3.5, -4},
	}
	for _, tt := range tests {
		if got := FloorInt(tt.in); got != tt.want {
			t.Errorf("FloorInt(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestScatterSplitsRows(t *testing.T) {
	thumb := array.Full(1, 1, 2)
	seg := array.NewInt(1, 1)
	seg.Set(0, 0, 5)
	out := make([]float64, 3*4)
	err := Scatter(ScatterInput{
		Thumb:     thumb,
		Seg:       seg,
		ID:        5,
		FlatIndex: []int{0*4 + 1, 1*4 + 2},
		RowFrac:   []float64{0.25, 0.5},
		Weight:    []float64{1, 10},
		Out:       out,
		OutShape:  array.Shape{Rows: 3, Cols: 4},
	})
	if err != nil {
		t.Fatalf("scatter: %v", err)
	}
	want := []float64{
		0, 1.5, 0, 0,
		0, 0.5, 10, 0,
		0, 0, 10, 0,
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("scatter mismatch (-want +got):\n%s", diff)
	}
}

func TestScatterClipsWithoutWrapping(t *testing.T) {
	thumb := array.Full(1, 3, 1)
	seg := array.NewInt(1, 3)
	for c := 0; c < 3; c++ {
		seg.Set(0, c, 1)
	}
	out := make([]float64, 2*2)
	// Center pixel lands in column 0; its left neighbour would be column -1.
	err := Scatter(ScatterInput{
		Thumb: thumb, Seg: seg, ID: 1,
		FlatIndex: []int{0},
		RowFrac:   []float64{0},
		Weight:    []float64{1},
		Center:    [2]int{0, 1},
		Out:       out,
		OutShape:  array.Shape{Rows: 2, Cols: 2},
	})
	if err != nil {
		t.Fatalf("scatter: %v", err)
	}
	want := []float64{1, 1, 0, 0}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("scatter mismatch (-want +got):\n%s", diff)
	}
}

func TestSegmentationLimits(t *testing.T) {
	seg := array.NewInt(6, 6)
	w := array.New(6, 6)
	for r := 1; r <= 3; r++ {
		for c := 2; c <= 4; c++ {
			seg.Set(r, c, 7)
			w.Set(r, c, 1)
		}
	}
	lim, err := SegmentationLimits(seg, 7, w)
	if err != nil {
		t.Fatalf("limits: %v", err)
	}
	if lim.YMin != 1 || lim.YMax != 3 || lim.XMin != 2 || lim.XMax != 4 {
		t.Errorf("bbox = %+v", lim)
	}
	if lim.Area != 9 || lim.Flux != 9 {
		t.Errorf("area, flux = %d, %v, want 9, 9", lim.Area, lim.Flux)
	}
	if lim.YCen != 2 || lim.XCen != 3 {
		t.Errorf("centroid = (%v, %v), want (2, 3)", lim.YCen, lim.XCen)
	}

	missing, _ := SegmentationLimits(seg, 8, w)
	if missing.Found() || missing.Area != 0 {
		t.Errorf("absent id reported found: %+v", missing)
	}
}

func TestBoxcarBin(t *testing.T) {
	flux := []float64{1, 1, 1, 1, 1, 1}
	vr := []float64{1, 1, 1, 1, 1, 1}
	f, v, idx := BoxcarBin(flux, vr, 2)
	if diff := cmp.Diff([]int{1, 3, 5}, idx); diff != "" {
		t.Fatalf("idx mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 1, 1}, f, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("flux mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0.5, 0.5, 0.5}, v, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("variance mismatch:\n%s", diff)
	}
}

func TestReflectIndex(t *testing.T) {
	got := []int{reflect(-2, 4), reflect(-1, 4), reflect(4, 4), reflect(5, 4)}
	if diff := cmp.Diff([]int{1, 0, 3, 2}, got); diff != "" {
		t.Fatalf("reflect mismatch:\n%s", diff)
	}
}

func TestFindPeaksMinDist(t *testing.T) {
	y := []float64{0, 5, 0, 3, 0, 0, 0, 0, 4, 0}
	got := FindPeaks(y, 0.1, 3)
	if diff := cmp.Diff([]int{1, 8}, got); diff != "" {
		t.Fatalf("peaks mismatch:\n%s", diff)
	}
	if all := FindPeaks(y, 0.1, 1); len(all) != 3 {
		t.Fatalf("peaks without thinning = %v", all)
	}
}

func TestMaximumFilter(t *testing.T) {
	m := array.NewMask(array.Shape{Rows: 7, Cols: 7})
	m.Set(3, 3, true)
	got := MaximumFilter(m, 5)
	if got.Count() != 25 {
		t.Fatalf("count = %d, want 25", got.Count())
	}
	if !got.At(1, 1) || !got.At(5, 5) || got.At(0, 0) {
		t.Fatalf("window misplaced")
	}
}
