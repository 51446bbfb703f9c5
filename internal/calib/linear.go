package calib

import "math"

// LinearOrder describes a spatially invariant order with a straight trace,
// a linear wavelength solution and constant throughput.
type LinearOrder struct {
	Name string
	// DX0, DX1 bound the anchor offsets [DX0, DX1).
	DX0, DX1 int
	// Lambda0 is the wavelength at dx=0, Dispersion the Å per pixel.
	Lambda0    float64
	Dispersion float64
	// Offset and Slope define the trace y = Offset + Slope·dx.
	Offset     float64
	Slope      float64
	Throughput float64
	FaintLimit float64
}

// LinearConfig builds an in-memory calibration from linear orders. The
// throughput curve extends 50 pixels past each end of the anchor range and
// defaults to 1.
func LinearConfig(unit float64, orders ...LinearOrder) *Config {
	cfg := &Config{Instrument: Instrument{Name: "LINEAR", Filter: "NONE", FluxUnit: unit}}
	for _, o := range orders {
		thr := o.Throughput
		if thr == 0 {
			thr = 1
		}
		step := math.Abs(o.Dispersion)
		if step == 0 {
			step = 1
		}
		a := o.Lambda0 + o.Dispersion*float64(o.DX0)
		b := o.Lambda0 + o.Dispersion*float64(o.DX1)
		lo, hi := min(a, b)-50*step, max(a, b)+50*step
		var wave, sens []float64
		for w := lo; w <= hi; w += step {
			wave = append(wave, w)
			sens = append(sens, thr)
		}
		faint := o.FaintLimit
		if faint == 0 {
			faint = 99
		}
		cfg.Order = append(cfg.Order, OrderConfig{
			Name:            o.Name,
			MMagExtract:     faint,
			DX:              []int{o.DX0, o.DX1},
			Trace:           [][]float64{{o.Offset}, {o.Slope}},
			Dispersion:      [][]float64{{o.Lambda0}, {o.Dispersion}},
			SensitivityWave: wave,
			Sensitivity:     sens,
		})
	}
	cfg.reindex()
	return cfg
}
