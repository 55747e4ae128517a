package photometry

import (
	"math"
	"strings"
)

// Telescope describes an observing site and its camera calibration constants.
type Telescope struct {
	Name       string
	CameraName string
	// Diameter is the primary mirror diameter in cm.
	Diameter float64
	// PixelScale is the plate scale in arcsec/pixel.
	PixelScale float64
	// Latitude and Longitude in degrees, Altitude in meters.
	Latitude  float64
	Longitude float64
	Altitude  float64
	// Gain in e-/ADU, ReadNoise in e-.
	Gain      float64
	ReadNoise float64
	// Extinction coefficient in mag/airmass, used by the CCD equation.
	Extinction float64
}

var telescopeRegistry = map[string]*Telescope{
	"artemis": {
		Name:       "Artemis",
		CameraName: "Andor iKon-L",
		Diameter:   100,
		PixelScale: 0.35,
		Latitude:   28.4543,
		Longitude:  -16.5097,
		Altitude:   2440,
		Gain:       1.0,
		ReadNoise:  6.5,
		Extinction: 0.1,
	},
	"callisto": {
		Name:       "Callisto",
		CameraName: "Andor iKon-L",
		Diameter:   100,
		PixelScale: 0.35,
		Latitude:   -24.6272,
		Longitude:  -70.4039,
		Altitude:   2390,
		Gain:       1.0,
		ReadNoise:  6.5,
		Extinction: 0.1,
	},
	"saintex": {
		Name:       "Saint-Ex",
		CameraName: "Andor iKon-L",
		Diameter:   100,
		PixelScale: 0.34,
		Latitude:   31.0439,
		Longitude:  -115.4637,
		Altitude:   2780,
		Gain:       1.0,
		ReadNoise:  6.5,
		Extinction: 0.1,
	},
}

// TelescopeFromName looks up a telescope in the registry, case-insensitively.
// Unknown names yield a generic descriptor carrying only the name, so that
// reports for unregistered sites still render.
func TelescopeFromName(name string) *Telescope {
	if t, ok := telescopeRegistry[strings.ToLower(name)]; ok {
		clone := *t
		return &clone
	}
	return &Telescope{
		Name:       name,
		PixelScale: 1.0,
		Gain:       1.0,
	}
}

// RegisterTelescope adds or replaces a registry entry.
func RegisterTelescope(t *Telescope) {
	clone := *t
	telescopeRegistry[strings.ToLower(t.Name)] = &clone
}

// CCDEquation predicts the inverse signal-to-noise ratio for a source of
// totalFlux ADU summed over an aperture of area pixels, given the mean sky
// level per pixel and the exposure count contributing to the measurement.
func (t *Telescope) CCDEquation(totalFlux, skyPerPixel, area float64) float64 {
	if totalFlux <= 0 {
		return math.Inf(1)
	}
	signal := totalFlux * t.Gain
	sky := skyPerPixel * t.Gain * area
	read := t.ReadNoise * t.ReadNoise * area
	return math.Sqrt(signal+sky+read) / signal
}
