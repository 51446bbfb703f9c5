package templates

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func trapz(s Spectrum) float64 {
	var a float64
	for i := 1; i < len(s.Wave); i++ {
		a += 0.5 * (s.Flux[i] + s.Flux[i-1]) * (s.Wave[i] - s.Wave[i-1])
	}
	return a
}

func TestGaussianUnitArea(t *testing.T) {
	for _, velocity := range []bool{false, true} {
		g := Gaussian(6564.61, 400, velocity)
		if a := trapz(g); math.Abs(a-1) > 1e-3 {
			t.Errorf("velocity=%v area = %v, want 1", velocity, a)
		}
	}
}

func TestLineComplexRatios(t *testing.T) {
	l, err := Line("SII", 20, false)
	if err != nil {
		t.Fatalf("line: %v", err)
	}
	if !l.Line || l.Name != "line SII" {
		t.Fatalf("unexpected template header: %q line=%v", l.Name, l.Line)
	}
	if a := trapz(l); math.Abs(a-1) > 1e-3 {
		t.Errorf("complex area = %v, want 1", a)
	}
	if _, err := Line("Lya", 20, false); err == nil {
		t.Errorf("expected error for unknown line")
	}
}

func TestZscale(t *testing.T) {
	s, _ := New("x", []float64{1000, 2000}, []float64{1, 2})
	z := s.Zscale(1, 3)
	if diff := cmp.Diff([]float64{2000, 4000}, z.Wave); diff != "" {
		t.Errorf("wave mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]float64{3, 6}, z.Flux); diff != "" {
		t.Errorf("flux mismatch:\n%s", diff)
	}
	if s.Wave[0] != 1000 {
		t.Errorf("Zscale modified receiver")
	}
}

func TestAddMergesGrids(t *testing.T) {
	a, _ := New("a", []float64{0, 10}, []float64{1, 1})
	b, _ := New("b", []float64{5, 15}, []float64{2, 2})
	sum := a.Add(b)
	if diff := cmp.Diff([]float64{0, 5, 10, 15}, sum.Wave); diff != "" {
		t.Fatalf("grid mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 3, 3, 2}, sum.Flux); diff != "" {
		t.Fatalf("flux mismatch:\n%s", diff)
	}
}

func TestNewSortsInput(t *testing.T) {
	s, err := New("x", []float64{3, 1, 2}, []float64{30, 10, 20})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if diff := cmp.Diff([]float64{10, 20, 30}, s.Flux); diff != "" {
		t.Fatalf("flux mismatch:\n%s", diff)
	}
}

func TestLoadNormalizesAt5500(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sed.dat")
	if err := os.WriteFile(path, []byte("5000 2\n6000 6\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path, "sed")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := s.At(5500); math.Abs(got-1) > 1e-12 {
		t.Errorf("flux at 5500 = %v, want 1", got)
	}
}

func TestLibraryOrder(t *testing.T) {
	cont := PowerLaw("flat", 0, 3000, 9000, 10)
	lib, err := Library([]Spectrum{cont}, SearchLines, 500)
	if err != nil {
		t.Fatalf("library: %v", err)
	}
	var names []string
	for _, s := range lib {
		names = append(names, s.Name)
	}
	want := []string{"flat", "line Ha+SII", "line OIII+Hb", "line OII"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("names mismatch:\n%s", diff)
	}
	if diff := cmp.Diff(1.0, cont.At(5500), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("power law normalization:\n%s", diff)
	}
}
