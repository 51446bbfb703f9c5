package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"grism/internal/scene"
)

const testCalibration = `
[instrument]
name = "SIM"
filter = "G141"
flux_unit = 1.0

[[order]]
name = "A"
mmag_extract = 99.0
dx = [0, 60]
trace = [[0.0], [0.0]]
dispersion = [[11000.0], [93.0]]
sensitivity_wave = [9000.0, 20000.0]
sensitivity = [1.0, 1.0]
`

func execute(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--ui", "off", "--color", "off"))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("grism %v: %v\n%s", args, err, out.String())
	}
	return out.Bytes()
}

func TestSimulateModelFitExtract(t *testing.T) {
	dir := t.TempDir()
	calibPath := writeFile(t, dir, "sim.toml", testCalibration)
	scenePath := filepath.Join(dir, "scene.mp")
	snapPath := filepath.Join(dir, "model.mp")

	execute(t, "simulate", "--calib", calibPath, "--out", scenePath,
		"--rows", "120", "--cols", "160", "--pad", "10", "--sources", "1", "--seed", "11",
		"--zmin", "0.7", "--zmax", "0.75")
	s, err := scene.Read(scenePath)
	if err != nil {
		t.Fatalf("read scene: %v", err)
	}
	if len(s.Truth) != 1 {
		t.Fatalf("scene has %d dispersed objects, want 1", len(s.Truth))
	}
	truth := s.Truth[0]

	var summary modelSummary
	if err := json.Unmarshal(execute(t, "model", scenePath, "--calib", calibPath, "--out", snapPath, "--format", "json"), &summary); err != nil {
		t.Fatalf("decode model summary: %v", err)
	}
	if summary.Computed != 1 || summary.Snapshot != snapPath {
		t.Fatalf("model summary = %+v", summary)
	}

	config := writeFile(t, dir, "grism.toml", fmt.Sprintf("[fit]\nzmin = %g\nzmax = %g\nstep = 0.002\n", truth.Z-0.05, truth.Z+0.05))
	var report fitReport
	out := execute(t, "fit", scenePath, "--calib", calibPath, "--config", config,
		"--snapshot", snapPath, "--id", fmt.Sprint(truth.ID), "--format", "yaml")
	if err := yaml.Unmarshal(out, &report); err != nil {
		t.Fatalf("decode fit report: %v\n%s", err, out)
	}
	if math.Abs(report.Z-truth.Z) > 0.01 {
		t.Fatalf("z = %v, want %v", report.Z, truth.Z)
	}
	if report.Order != "A" || len(report.Lines) == 0 {
		t.Fatalf("fit report = %+v", report)
	}

	var ext extractReport
	if err := json.Unmarshal(execute(t, "extract", scenePath, "--calib", calibPath,
		"--snapshot", snapPath, "--id", fmt.Sprint(truth.ID), "--bin", "2", "--format", "json"), &ext); err != nil {
		t.Fatalf("decode extraction: %v", err)
	}
	if len(ext.Orders) != 1 || len(ext.Orders[0].Wave) == 0 {
		t.Fatalf("extraction = %+v", ext)
	}
}
