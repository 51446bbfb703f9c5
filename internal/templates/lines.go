package templates

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// SpeedOfLight in km/s.
const SpeedOfLight = 2.99792458e5

// Complex is a group of emission lines with fixed relative strengths.
type Complex struct {
	Name   string
	Waves  []float64
	Ratios []float64
}

var lineTable = []Complex{
	{"Ha", []float64{6564.61}, []float64{1}},
	{"Hb", []float64{4862.68}, []float64{1}},
	{"Hg", []float64{4341.68}, []float64{1}},
	{"Hd", []float64{4102.892}, []float64{1}},
	{"OIIIx", []float64{4364.436}, []float64{1}},
	{"OIII", []float64{5008.240, 4960.295}, []float64{2.98, 1}},
	{"OIII+Hb", []float64{5008.240, 4960.295, 4862.68}, []float64{2.98, 1, 3.98 / 8}},
	{"OIII+Hb+Ha", []float64{5008.240, 4960.295, 4862.68, 6564.61}, []float64{2.98, 1, 3.98 / 10, 3.98 / 10 * 2.86}},
	{"OIII+Hb+Ha+SII",
		[]float64{5008.240, 4960.295, 4862.68, 6564.61, 6718.29, 6732.67},
		[]float64{2.98, 1, 3.98 / 10, 3.98 / 10 * 2.86 * 4, 3.98 / 10 * 2.86 / 10 * 4, 3.98 / 10 * 2.86 / 10 * 4}},
	{"OII", []float64{3729.875}, []float64{1}},
	{"OI", []float64{6302.046}, []float64{1}},
	{"Ha+SII", []float64{6564.61, 6718.29, 6732.67}, []float64{1, 1. / 10, 1. / 10}},
	{"SII", []float64{6718.29, 6732.67}, []float64{1, 1}},
}

// Complexes used on the coarse redshift grid and individual lines used for
// the line-flux refit at the best redshift.
var (
	SearchLines = []string{"Ha+SII", "OIII+Hb", "OII"}
	FinalLines  = []string{"Ha", "SII", "OIII", "Hb", "OII"}
)

// LookupComplex returns the named line complex.
func LookupComplex(name string) (Complex, bool) {
	for _, c := range lineTable {
		if c.Name == name {
			return c, true
		}
	}
	return Complex{}, false
}

// LineNames returns every known line or complex name.
func LineNames() []string {
	out := make([]string, len(lineTable))
	for i, c := range lineTable {
		out[i] = c.Name
	}
	return out
}

// Gaussian returns a unit-area Gaussian line centred on center. With
// velocity set, fwhm is in km/s; otherwise in Å. The profile is sampled over
// ±5σ in 0.1σ steps.
func Gaussian(center, fwhm float64, velocity bool) Spectrum {
	rms := fwhm / 2.35
	if velocity {
		rms *= center / SpeedOfLight
	}
	const n = 101
	out := Spectrum{Wave: make([]float64, n), Flux: make([]float64, n), Line: true}
	norm := 1 / math.Sqrt(2*math.Pi*rms*rms)
	for i := 0; i < n; i++ {
		d := (-5 + 0.1*float64(i)) * rms
		out.Wave[i] = center + d
		out.Flux[i] = norm * math.Exp(-d*d/(2*rms*rms))
	}
	return out
}

// Line builds the template of a line complex: the sum of its Gaussians
// weighted by ratio/Σratio, so the complex has unit total flux.
func Line(name string, fwhm float64, velocity bool) (Spectrum, error) {
	c, ok := LookupComplex(name)
	if !ok {
		return Spectrum{}, fmt.Errorf("templates: unknown line %q", name)
	}
	total := floats.Sum(c.Ratios)
	var out Spectrum
	for i, w := range c.Waves {
		g := Gaussian(w, fwhm, velocity).Scale(c.Ratios[i] / total)
		if i == 0 {
			out = g
		} else {
			out = out.Add(g)
		}
	}
	out.Name = "line " + name
	out.Line = true
	return out, nil
}

// Library assembles the continuum templates followed by the named line
// templates, in that order.
func Library(continua []Spectrum, lines []string, fwhm float64) ([]Spectrum, error) {
	out := make([]Spectrum, 0, len(continua)+len(lines))
	out = append(out, continua...)
	for _, name := range lines {
		l, err := Line(name, fwhm, true)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// LineLabel strips the "line " prefix from a line template name.
func LineLabel(name string) string {
	const prefix = "line "
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):]
	}
	return name
}
