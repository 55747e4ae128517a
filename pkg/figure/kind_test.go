package figure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindFromFilename(t *testing.T) {
	tests := []struct {
		name string
		want Kind
		ok   bool
	}{
		{"stars.png", KindStars, true},
		{"lightcurve.png", KindLightCurve, true},
		{"TIC1234_lightcurve.png", KindLightCurve, true},
		{"figures/TIC1234_model.png", KindModel, true},
		{"psf.png", KindPSF, true},
		{"comparison.png", KindComparison, true},
		{"systematics.png", KindSystematics, true},
		{"raw.png", KindRaw, true},
		{"precision.png", KindPrecision, true},
		// Substring matches off the suffix position must not count.
		{"lightcurve.png.bak", 0, false},
		{"stars.png.old", 0, false},
		{"psf.png_final.png", 0, false},
		{"measurements.txt", 0, false},
		{"README.md", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KindFromFilename(tt.name)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestKindFilenameRoundTrip(t *testing.T) {
	for _, k := range allKinds {
		got, ok := KindFromFilename(k.Filename())
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}
}

func TestUploadDescription(t *testing.T) {
	wants := map[Kind]string{
		KindStars:       "Field Image with Apertures",
		KindModel:       "Light curve plot target star with model",
		KindPSF:         "Seeing profile",
		KindComparison:  "Light curve plot comparison stars",
		KindSystematics: "AstroImageJ Photometry Aperture File",
		KindLightCurve:  "Light curve plot target star",
	}
	for k, want := range wants {
		desc, ok := k.UploadDescription()
		assert.True(t, ok)
		assert.Equal(t, want, desc)
	}

	for _, k := range []Kind{KindRaw, KindPrecision} {
		_, ok := k.UploadDescription()
		assert.False(t, ok, "kind %v must not be uploaded", k)
	}
}
