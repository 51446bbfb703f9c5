package fit

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/mat"
)

func TestSolversAgreeOnOverdetermined(t *testing.T) {
	// y = 2 + 3x sampled exactly.
	a := mat.NewDense(5, 2, nil)
	b := mat.NewVecDense(5, nil)
	for i := 0; i < 5; i++ {
		x := float64(i)
		a.Set(i, 0, 1)
		a.Set(i, 1, x)
		b.SetVec(i, 2+3*x)
	}
	want := []float64{2, 3}
	for _, s := range []Solver{SVDSolver{}, QRSolver{}} {
		x, err := s.Solve(a, b)
		if err != nil {
			t.Fatalf("%s: %v", s.Name(), err)
		}
		if diff := cmp.Diff(want, x.RawVector().Data, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("%s solution mismatch (-want +got):\n%s", s.Name(), diff)
		}
	}
}

func TestSVDMinimumNormOnDuplicateColumns(t *testing.T) {
	a := mat.NewDense(3, 2, []float64{1, 1, 2, 2, 3, 3})
	b := mat.NewVecDense(3, []float64{2, 4, 6})
	x, err := SVDSolver{}.Solve(a, b)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if diff := cmp.Diff([]float64{1, 1}, x.RawVector().Data, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("minimum-norm solution mismatch (-want +got):\n%s", diff)
	}
}

func TestSVDZeroMatrix(t *testing.T) {
	a := mat.NewDense(3, 2, nil)
	b := mat.NewVecDense(3, []float64{1, 2, 3})
	x, err := SVDSolver{}.Solve(a, b)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if x.AtVec(0) != 0 || x.AtVec(1) != 0 {
		t.Fatalf("solution = %v, want zeros", x.RawVector().Data)
	}
}

func TestQRRejectsUnderdetermined(t *testing.T) {
	a := mat.NewDense(1, 2, []float64{1, 1})
	b := mat.NewVecDense(1, []float64{1})
	if _, err := (QRSolver{}).Solve(a, b); !errors.Is(err, ErrSingular) {
		t.Fatalf("err = %v, want ErrSingular", err)
	}
}

func TestNewSolver(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "svd", false},
		{"svd", "svd", false},
		{"lstsq", "svd", false},
		{"qr", "qr", false},
		{"cholesky", "", true},
	}
	for _, tt := range tests {
		s, err := NewSolver(tt.name)
		if (err != nil) != tt.wantErr {
			t.Fatalf("NewSolver(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err == nil && s.Name() != tt.want {
			t.Errorf("NewSolver(%q) = %s, want %s", tt.name, s.Name(), tt.want)
		}
	}
}

func TestLogZGrid(t *testing.T) {
	z := LogZGrid(0.5, 1.5, 0.01)
	if len(z) == 0 || math.Abs(z[0]-0.5) > 1e-12 {
		t.Fatalf("grid starts at %v, want 0.5", z)
	}
	for i := 1; i < len(z); i++ {
		step := math.Log1p(z[i]) - math.Log1p(z[i-1])
		if math.Abs(step-0.01) > 1e-9 {
			t.Fatalf("step %d = %v, want 0.01", i, step)
		}
	}
	if last := z[len(z)-1]; last >= 1.5 {
		t.Fatalf("last = %v, want < 1.5", last)
	}
	if LogZGrid(1, 0.5, 0.01) != nil {
		t.Fatalf("reversed range should be empty")
	}
}

func TestZoomZGrid(t *testing.T) {
	z := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	chi2 := []float64{9, 8, 7, 6, 5, 1, 5, 6, 7, 8}
	got := ZoomZGrid(z, chi2, 0.5, 4, 1)
	want := []float64{4.25, 4.5, 4.75, 5.25, 5.5, 5.75}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("zoom mismatch (-want +got):\n%s", diff)
	}
	// Growing the selection by two points on each side widens the zoom.
	if n := len(ZoomZGrid(z, chi2, 0.5, 4, 5)); n != 6*3 {
		t.Fatalf("grown zoom has %d points, want 18", n)
	}
}

func TestDefaultRange(t *testing.T) {
	r, ok := DefaultRange("g141")
	if !ok {
		t.Fatalf("G141 missing")
	}
	if math.Abs(r.ZMin-(1.1e4/6563-1)) > 1e-12 || r.Step != 0.003 {
		t.Fatalf("G141 range = %+v", r)
	}
	if _, ok := DefaultRange("F140W"); ok {
		t.Fatalf("imaging filter should have no default range")
	}
}
