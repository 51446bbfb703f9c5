// Package calib describes an instrument's per-order dispersion calibration:
// where the spectrum of a source at a given detector position falls, what
// wavelength each pixel samples, and how counts convert to flux density.
package calib

import (
	"errors"
	"fmt"
	"sort"
)

// ErrConfigurationMissing is returned when an order has no trace, dispersion
// or sensitivity definition.
var ErrConfigurationMissing = errors.New("calib: order not configured")

// DefaultFluxUnit is the flux density unit (erg/s/cm²/Å) sensitivity curves
// are expressed against when the configuration gives none.
const DefaultFluxUnit = 1e-17

// TraceSolver is the calibration lookup the disperser is built on.
//
// Trace returns, for a source at detector position (x, y) and each offset
// along the dispersion axis, the cross-dispersion trace position relative to
// y and the wavelength sampled there. Wavelength is not required to be
// monotonic.
type TraceSolver interface {
	Orders() []string
	Trace(order string, x, y float64, dx []float64) (ytrace, lam []float64, err error)
	Sensitivity(order string) (wave, throughput []float64, err error)
	// Anchors returns the integer dispersion offsets [lo, hi) of an order.
	Anchors(order string) (lo, hi int, err error)
	// FaintLimit is the magnitude above which the order is not modelled.
	FaintLimit(order string) float64
	FluxUnit() float64
}

// Config is a TraceSolver defined by field-dependent polynomials, in the
// manner of aXe configuration files.
type Config struct {
	Instrument Instrument    `toml:"instrument"`
	Order      []OrderConfig `toml:"order"`

	index map[string]int
}

// Instrument identifies the calibrated instrument/filter pair.
type Instrument struct {
	Name     string  `toml:"name"`
	Filter   string  `toml:"filter"`
	FluxUnit float64 `toml:"flux_unit"`
}

// OrderConfig calibrates one spectral order.
//
// Trace and Dispersion hold one field polynomial per power of dx: the trace
// offset is Σ Trace[i](x,y)·dx^i and the wavelength Σ Dispersion[i](x,y)·dx^i.
// Field polynomial coefficients are ordered 1, x, y, x², xy, y², x³, ...
type OrderConfig struct {
	Name        string      `toml:"name"`
	MMagExtract float64     `toml:"mmag_extract"`
	DX          []int       `toml:"dx"`
	Trace       [][]float64 `toml:"trace"`
	Dispersion  [][]float64 `toml:"dispersion"`

	SensitivityWave []float64 `toml:"sensitivity_wave"`
	Sensitivity     []float64 `toml:"sensitivity"`
	SensitivityFile string    `toml:"sensitivity_file"`
}

func (c *Config) reindex() {
	c.index = make(map[string]int, len(c.Order))
	for i, o := range c.Order {
		c.index[o.Name] = i
	}
}

func (c *Config) order(name string) (*OrderConfig, error) {
	if c.index == nil {
		c.reindex()
	}
	i, ok := c.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConfigurationMissing, name)
	}
	return &c.Order[i], nil
}

// Orders returns the order names in configuration order.
func (c *Config) Orders() []string {
	out := make([]string, len(c.Order))
	for i, o := range c.Order {
		out[i] = o.Name
	}
	return out
}

// Trace evaluates the trace and wavelength polynomials.
func (c *Config) Trace(order string, x, y float64, dx []float64) ([]float64, []float64, error) {
	o, err := c.order(order)
	if err != nil {
		return nil, nil, err
	}
	if len(o.Trace) == 0 || len(o.Dispersion) == 0 {
		return nil, nil, fmt.Errorf("%w: %q has no trace/dispersion", ErrConfigurationMissing, order)
	}
	tc := fieldCoeffs(o.Trace, x, y)
	dc := fieldCoeffs(o.Dispersion, x, y)
	ytrace := make([]float64, len(dx))
	lam := make([]float64, len(dx))
	for i, d := range dx {
		ytrace[i] = horner(tc, d)
		lam[i] = horner(dc, d)
	}
	return ytrace, lam, nil
}

// Sensitivity returns copies of the order's throughput curve.
func (c *Config) Sensitivity(order string) ([]float64, []float64, error) {
	o, err := c.order(order)
	if err != nil {
		return nil, nil, err
	}
	if len(o.SensitivityWave) == 0 {
		return nil, nil, fmt.Errorf("%w: %q has no sensitivity curve", ErrConfigurationMissing, order)
	}
	return append([]float64(nil), o.SensitivityWave...), append([]float64(nil), o.Sensitivity...), nil
}

// Anchors returns the dispersion offset range [lo, hi).
func (c *Config) Anchors(order string) (int, int, error) {
	o, err := c.order(order)
	if err != nil {
		return 0, 0, err
	}
	if len(o.DX) != 2 || o.DX[1] <= o.DX[0] {
		return 0, 0, fmt.Errorf("%w: %q has no usable dx range", ErrConfigurationMissing, order)
	}
	return o.DX[0], o.DX[1], nil
}

// FaintLimit returns the order's extraction magnitude limit.
func (c *Config) FaintLimit(order string) float64 {
	o, err := c.order(order)
	if err != nil {
		return 0
	}
	return o.MMagExtract
}

// FluxUnit returns the instrument flux unit, DefaultFluxUnit when unset.
func (c *Config) FluxUnit() float64 {
	if c.Instrument.FluxUnit <= 0 {
		return DefaultFluxUnit
	}
	return c.Instrument.FluxUnit
}

// Validate checks every order for a complete, usable definition.
func (c *Config) Validate() error {
	if len(c.Order) == 0 {
		return fmt.Errorf("%w: no [[order]] tables", ErrConfigurationMissing)
	}
	seen := make(map[string]struct{}, len(c.Order))
	for i := range c.Order {
		o := &c.Order[i]
		if o.Name == "" {
			return fmt.Errorf("order %d: missing name", i)
		}
		if _, dup := seen[o.Name]; dup {
			return fmt.Errorf("order %q: defined twice", o.Name)
		}
		seen[o.Name] = struct{}{}
		if _, _, err := c.Anchors(o.Name); err != nil {
			return err
		}
		if len(o.Trace) == 0 || len(o.Dispersion) == 0 {
			return fmt.Errorf("%w: %q has no trace/dispersion", ErrConfigurationMissing, o.Name)
		}
		if len(o.SensitivityWave) != len(o.Sensitivity) {
			return fmt.Errorf("order %q: sensitivity has %d wavelengths and %d values", o.Name, len(o.SensitivityWave), len(o.Sensitivity))
		}
		if len(o.SensitivityWave) == 0 {
			return fmt.Errorf("%w: %q has no sensitivity curve", ErrConfigurationMissing, o.Name)
		}
		if !sort.Float64sAreSorted(o.SensitivityWave) {
			return fmt.Errorf("order %q: sensitivity wavelengths must be ascending", o.Name)
		}
	}
	c.reindex()
	return nil
}

// fieldCoeffs evaluates each field polynomial at (x, y).
func fieldCoeffs(poly [][]float64, x, y float64) []float64 {
	out := make([]float64, len(poly))
	for i, p := range poly {
		out[i] = fieldPoly(p, x, y)
	}
	return out
}

// fieldPoly evaluates Σ c_k x^a y^b with terms ordered by total degree:
// 1, x, y, x², xy, y², x³, x²y, ...
func fieldPoly(c []float64, x, y float64) float64 {
	var s float64
	k := 0
	for deg := 0; k < len(c); deg++ {
		for j := 0; j <= deg && k < len(c); j++ {
			s += c[k] * pow(x, deg-j) * pow(y, j)
			k++
		}
	}
	return s
}

func horner(c []float64, t float64) float64 {
	var s float64
	for i := len(c) - 1; i >= 0; i-- {
		s = s*t + c[i]
	}
	return s
}

func pow(v float64, n int) float64 {
	out := 1.0
	for ; n > 0; n-- {
		out *= v
	}
	return out
}
