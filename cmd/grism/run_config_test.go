package main

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"grism/internal/array"
	"grism/internal/fit"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadRunConfigDefaults(t *testing.T) {
	cfg, err := loadRunConfig("")
	if err != nil {
		t.Fatalf("loadRunConfig: %v", err)
	}
	if cfg.Fit.Solver != "svd" || cfg.Fit.ZoomFactor != 10 || cfg.Fit.ZoomGrow != 7 {
		t.Fatalf("fit defaults = %+v", cfg.Fit)
	}
	if got := cfg.lineGrid(); got != fit.DefaultLineGrid() {
		t.Fatalf("line grid = %+v, want %+v", got, fit.DefaultLineGrid())
	}
	r, err := cfg.searchRange("G102")
	if err != nil {
		t.Fatalf("searchRange: %v", err)
	}
	if r.Step != 0.001 {
		t.Fatalf("G102 step = %v, want 0.001", r.Step)
	}
	if _, err := cfg.searchRange("F140W"); err == nil {
		t.Fatalf("expected error for a filter without a default range")
	}
}

func TestLoadRunConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "grism.toml", `
[model]
grow = 2
min_size = 10
abzp = 26.0

[fit]
poly_order = 2
zmin = 0.5
zmax = 1.5
solver = "qr"
contam_mask = true

[linefit]
min = 12000.0
max = 13000.0
step = 2.0
skip = 0
fwhm = 30.0
`)
	cfg, err := loadRunConfig(path)
	if err != nil {
		t.Fatalf("loadRunConfig: %v", err)
	}
	opts := cfg.modelOptions()
	if opts.Grow != 2 || opts.Thumb.MinSize != 10 || opts.Thumb.Margin != 4 {
		t.Fatalf("model options = %+v", opts)
	}
	if cfg.LineFit.Skip != 1 {
		t.Fatalf("skip = %d, want clamped to 1", cfg.LineFit.Skip)
	}
	if !cfg.cutoutOptions().UseContamMask {
		t.Fatalf("contam_mask not applied")
	}
	r, err := cfg.searchRange("G141")
	if err != nil {
		t.Fatalf("searchRange: %v", err)
	}
	if r.ZMin != 0.5 || r.ZMax != 1.5 || r.Step != 0.003 {
		t.Fatalf("range = %+v", r)
	}

	im := cfg.applyZeropoint(array.NewImageData(array.New(2, 2)))
	if got := im.ABZP(); math.Abs(got-26) > 1e-9 {
		t.Fatalf("ABZP = %v, want 26", got)
	}
}

func TestLoadRunConfigErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		data string
		want string
	}{
		{"unknown key", "[fit]\nsolvr = \"qr\"\n", "unknown key"},
		{"half range", "[fit]\nzmin = 0.5\n", "both zmin and zmax"},
		{"solver", "[fit]\nsolver = \"cholesky\"\n", "unknown solver"},
		{"reversed", "[fit]\nzmin = 2.0\nzmax = 1.0\n", "below zmin"},
		{"line grid", "[linefit]\nmin = 2.0\nmax = 1.0\n", "[linefit]"},
	}
	for _, tt := range tests {
		path := writeFile(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".toml", tt.data)
		_, err := loadRunConfig(path)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want containing %q", tt.name, err, tt.want)
		}
	}
}

func TestReadFormat(t *testing.T) {
	for in, want := range map[string]outputFormat{"": formatPretty, "JSON": formatJSON, "yml": formatYAML} {
		got, err := readFormat(in)
		if err != nil || got != want {
			t.Errorf("readFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := readFormat("xml"); err == nil {
		t.Fatalf("expected error for xml")
	}
	if got := count(1234567); got != "1,234,567" {
		t.Fatalf("count = %q, want 1,234,567", got)
	}
}
