package fit

import "grism/internal/templates"

// DefaultFWHM is the line width, in km/s, of the default library.
const DefaultFWHM = 500.0

// Library returns the coarse and final template sets for Search: the
// continua followed by the line complexes, and the continua followed by the
// individual lines. fwhm is in km/s; 0 means DefaultFWHM.
func Library(continua []templates.Spectrum, fwhm float64) (coarse, final []templates.Spectrum, err error) {
	if fwhm <= 0 {
		fwhm = DefaultFWHM
	}
	if coarse, err = templates.Library(continua, templates.SearchLines, fwhm); err != nil {
		return nil, nil, err
	}
	if final, err = templates.Library(continua, templates.FinalLines, fwhm); err != nil {
		return nil, nil, err
	}
	return coarse, final, nil
}
