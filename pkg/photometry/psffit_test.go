package photometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEllipticity(t *testing.T) {
	tests := []struct {
		name       string
		stdX, stdY float64
		want       float64
	}{
		{"circular", 2.0, 2.0, 0},
		{"circular small", 0.7, 0.7, 0},
		{"mild", 2.0, 1.0, 0.75},
		{"order independent", 1.0, 2.0, 0.75},
		{"extreme", 100.0, 0.001, 1 - 1e-10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Ellipticity(tt.stdX, tt.stdY)
			assert.GreaterOrEqual(t, e, 0.0)
			assert.Less(t, e, 1.0)
			if tt.name == "extreme" {
				assert.Greater(t, e, 0.999)
			} else {
				assert.InDelta(t, tt.want, e, 1e-12)
			}
		})
	}
}

func TestSigmaToFWHM(t *testing.T) {
	assert.InDelta(t, 2.3548, SigmaToFWHM, 1e-4)
}

// syntheticStar renders a 2D Gaussian onto a 16-bit frame and returns the
// stack image.
func syntheticStar(w, h int, cx, cy, amplitude, background, sigmaX, sigmaY float64) *StackImage {
	pixels := make([]uint16, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			v := background + amplitude*math.Exp(
				-(dx*dx/(2*sigmaX*sigmaX)+dy*dy/(2*sigmaY*sigmaY)))
			if v > 65535 {
				v = 65535
			}
			pixels[y*w+x] = uint16(v)
		}
	}
	return &StackImage{
		Mat:    ToFloat32Mat(pixels, 16, w, h),
		Width:  w,
		Height: h,
	}
}

func TestFitPSFGaussianRecovery(t *testing.T) {
	const (
		sigmaX = 2.1
		sigmaY = 2.1
	)
	stack := syntheticStar(32, 32, 16, 16, 30000, 500, sigmaX, sigmaY)
	defer stack.Close()

	fit, err := FitPSF(stack.Mat, Point2d{X: 16, Y: 16}, 21, ShapeGaussian)
	require.NoError(t, err)

	assert.InEpsilon(t, sigmaX*SigmaToFWHM, fit.FWHMX, 0.1)
	assert.InEpsilon(t, sigmaY*SigmaToFWHM, fit.FWHMY, 0.1)
	assert.Less(t, fit.Ellipticity, 0.1)
	assert.Greater(t, fit.RSquared, 0.95)
}

func TestFitPSFOnStackCutout(t *testing.T) {
	stack := syntheticStar(48, 48, 30.5, 18.5, 30000, 500, 2.0, 2.0)
	defer stack.Close()

	fit, err := stack.FitPSF(Point2d{X: 30, Y: 18}, 21, ShapeGaussian)
	require.NoError(t, err)

	assert.InEpsilon(t, 2.0*SigmaToFWHM, fit.FWHMX, 0.1)
	assert.InDelta(t, 0.5, fit.OffsetX, 0.2)
	assert.InDelta(t, 0.5, fit.OffsetY, 0.2)
}

func TestFitPSFOnStackCutoutNearEdge(t *testing.T) {
	stack := syntheticStar(48, 48, 6, 6, 30000, 500, 1.8, 1.8)
	defer stack.Close()

	fit, err := stack.FitPSF(Point2d{X: 6, Y: 6}, 21, ShapeGaussian)
	require.NoError(t, err)
	assert.InEpsilon(t, 1.8*SigmaToFWHM, fit.FWHMX, 0.15)
}

func TestFitPSFNoStack(t *testing.T) {
	var s *StackImage
	_, err := s.FitPSF(Point2d{X: 1, Y: 1}, 21, ShapeGaussian)
	assert.ErrorIs(t, err, ErrNoStack)
}

func TestFitPSFElongated(t *testing.T) {
	stack := syntheticStar(32, 32, 16, 16, 30000, 500, 3.0, 1.5)
	defer stack.Close()

	fit, err := FitPSF(stack.Mat, Point2d{X: 16, Y: 16}, 21, ShapeGaussian)
	require.NoError(t, err)

	assert.Greater(t, fit.Ellipticity, 0.4)
	assert.Less(t, fit.Ellipticity, 1.0)
}

func TestFitPSFMoffat(t *testing.T) {
	stack := syntheticStar(32, 32, 16, 16, 30000, 500, 2.1, 2.1)
	defer stack.Close()

	fit, err := FitPSF(stack.Mat, Point2d{X: 16, Y: 16}, 21, ShapeMoffat)
	require.NoError(t, err)
	assert.Equal(t, ShapeMoffat, fit.Shape)
	assert.Greater(t, fit.RSquared, 0.9)
	assert.Less(t, fit.Ellipticity, 0.2)
}

func TestFitShapeString(t *testing.T) {
	assert.Equal(t, "Gaussian", ShapeGaussian.String())
	assert.Equal(t, "Moffat", ShapeMoffat.String())
}
