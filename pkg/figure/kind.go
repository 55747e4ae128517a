// Package figure renders the diagnostic figures embedded in observation
// reports. Every renderer returns an explicit plot handle; nothing draws
// onto hidden shared state.
package figure

import "path/filepath"

// Kind identifies a diagnostic figure type. The kind is decided when a
// figure is generated and carried with the file, so downstream consumers
// never have to re-derive it from the filename.
type Kind int

const (
	KindStars Kind = iota
	KindPSF
	KindComparison
	KindRaw
	KindSystematics
	KindLightCurve
	KindModel
	KindPrecision
)

// Filename returns the canonical file name for the kind within a report's
// figures directory.
func (k Kind) Filename() string {
	switch k {
	case KindStars:
		return "stars.png"
	case KindPSF:
		return "psf.png"
	case KindComparison:
		return "comparison.png"
	case KindRaw:
		return "raw.png"
	case KindSystematics:
		return "systematics.png"
	case KindLightCurve:
		return "lightcurve.png"
	case KindModel:
		return "model.png"
	case KindPrecision:
		return "precision.png"
	default:
		return ""
	}
}

// UploadDescription returns the description string the ExoFOP file upload
// requires for this kind. Kinds with no registered description are not
// uploaded.
func (k Kind) UploadDescription() (string, bool) {
	switch k {
	case KindStars:
		return "Field Image with Apertures", true
	case KindModel:
		return "Light curve plot target star with model", true
	case KindPSF:
		return "Seeing profile", true
	case KindComparison:
		return "Light curve plot comparison stars", true
	case KindSystematics:
		return "AstroImageJ Photometry Aperture File", true
	case KindLightCurve:
		return "Light curve plot target star", true
	default:
		return "", false
	}
}

var allKinds = []Kind{
	KindStars, KindPSF, KindComparison, KindRaw,
	KindSystematics, KindLightCurve, KindModel, KindPrecision,
}

// KindFromFilename recovers the kind of a figure file produced by an
// earlier run. Only the suffix of the base name is considered, so
// "TIC123_lightcurve.png" matches and "lightcurve.png.bak" does not.
func KindFromFilename(name string) (Kind, bool) {
	base := filepath.Base(name)
	for _, k := range allKinds {
		fn := k.Filename()
		if len(base) >= len(fn) && base[len(base)-len(fn):] == fn {
			return k, true
		}
	}
	return 0, false
}
