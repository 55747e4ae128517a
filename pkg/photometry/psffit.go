/*
Solver and Gaussian profile math extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package photometry

import (
	"fmt"
	"math"
)

// SigmaToFWHM converts a Gaussian standard deviation to full width at half
// maximum.
var SigmaToFWHM = 2.0 * math.Sqrt(2.0*math.Log(2.0))

// FitShape selects the analytic PSF profile to fit.
type FitShape int

const (
	ShapeGaussian FitShape = iota
	ShapeMoffat
)

func (s FitShape) String() string {
	switch s {
	case ShapeGaussian:
		return "Gaussian"
	case ShapeMoffat:
		return "Moffat"
	default:
		return "Unknown"
	}
}

// Moffat profiles are fit with a fixed wing exponent so the problem stays at
// seven parameters like the Gaussian.
const moffatBeta = 4.0

const psfGoodnessThreshold = 0.9

// FitResult holds the shape parameters of a fitted 2D PSF profile.
type FitResult struct {
	Shape      FitShape
	Amplitude  float64
	Background float64
	// OffsetX and OffsetY are the fitted center relative to the requested
	// center, in pixels.
	OffsetX float64
	OffsetY float64
	SigmaX  float64
	SigmaY  float64
	FWHMX   float64
	FWHMY   float64
	// Theta is the orientation angle of the major axis, in radians.
	Theta       float64
	Ellipticity float64
	RSquared    float64
}

// Ellipticity derives the PSF ellipticity from the two marginal standard
// deviations: (max² − min²) / max², in [0, 1). Circular PSFs yield 0.
func Ellipticity(stdX, stdY float64) float64 {
	maxStd := math.Max(stdX, stdY)
	minStd := math.Min(stdX, stdY)
	if maxStd <= 0 {
		return 0
	}
	return (maxStd*maxStd - minStd*minStd) / (maxStd * maxStd)
}

// psfProfile is an analytic 2D profile with analytic gradients, parameterized
// as [amplitude, background, x0, y0, sigmaX, sigmaY, theta].
type psfProfile interface {
	value(p, input []float64) float64
	gradient(p, input, grad []float64)
}

// FitPSF fits the star at center on a cutout extracted from the stack. The
// fitted offsets are relative to center, as with the Mat form.
func (s *StackImage) FitPSF(center Point2d, size int, shape FitShape) (*FitResult, error) {
	if s == nil || s.Mat.Empty() {
		return nil, ErrNoStack
	}
	cut, origin := s.Cutout(center, size)
	defer cut.Close()
	local := Point2d{X: center.X - float64(origin.X), Y: center.Y - float64(origin.Y)}
	return FitPSF(cut, local, size, shape)
}

// FitPSF fits an analytic 2D profile to the image in a square cutout of the
// given side length centered on center. The fit fails when the cutout is
// degenerate, the solver diverges, or the goodness of fit is below
// threshold; the error propagates to the caller with no retry.
func FitPSF(img Mat, center Point2d, size int, shape FitShape) (*FitResult, error) {
	if img.Empty() {
		return nil, ErrNoStack
	}
	if size < 5 {
		return nil, fmt.Errorf("cutout size %d too small for a 7-parameter fit", size)
	}

	half := float64(size) / 2.0
	x0 := math.Max(0, center.X-half)
	y0 := math.Max(0, center.Y-half)
	x1 := math.Min(float64(img.Cols()), center.X+half)
	y1 := math.Min(float64(img.Rows()), center.Y+half)

	inputs := make([][]float64, 0, size*size)
	outputs := make([]float64, 0, size*size)
	background := math.Inf(1)
	peak := math.Inf(-1)
	for py := y0; py < y1; py++ {
		for px := x0; px < x1; px++ {
			v := BilinearSamplePixelValue(img, py, px)
			inputs = append(inputs, []float64{px - center.X, py - center.Y})
			outputs = append(outputs, v)
			background = math.Min(background, v)
			peak = math.Max(peak, v)
		}
	}
	if len(inputs) < 7 {
		return nil, fmt.Errorf("cutout at (%.1f, %.1f) has %d usable pixels, need 7", center.X, center.Y, len(inputs))
	}

	bbWidth := x1 - x0
	bbHeight := y1 - y0
	sigmaUpperBound := math.Sqrt(bbWidth*bbWidth+bbHeight*bbHeight) / 2.0
	dxLimit := bbWidth / 4.0
	dyLimit := bbHeight / 4.0

	start := []float64{math.Max(0, peak-background), background, 0.0, 0.0, bbWidth / 6.0, bbHeight / 6.0, 0.0}
	lower := []float64{0.0, 0.0, -dxLimit, -dyLimit, 0, 0, -math.Pi / 2.0}
	upper := []float64{2 * (peak - background), peak, dxLimit, dyLimit, sigmaUpperBound, sigmaUpperBound, math.Pi / 2.0}
	scale := []float64{0.01, 0.01, 0.1, 0.1, 1, 1, 1}

	var profile psfProfile
	switch shape {
	case ShapeGaussian:
		profile = gaussianProfile{}
	case ShapeMoffat:
		profile = moffatProfile{}
	default:
		return nil, fmt.Errorf("unknown PSF shape %d", shape)
	}

	solution := levenbergMarquardt(profile, inputs, outputs, start, lower, upper, scale, 1e-8, 200)
	if solution == nil {
		return nil, fmt.Errorf("%s fit at (%.1f, %.1f) did not converge", shape, center.X, center.Y)
	}

	sigX := solution[4]
	sigY := solution[5]
	if math.IsNaN(sigX) || math.IsNaN(sigY) || sigX <= 0 || sigY <= 0 {
		return nil, fmt.Errorf("%s fit at (%.1f, %.1f) produced degenerate widths", shape, center.X, center.Y)
	}

	theta := euclidianModulus(solution[6], math.Pi)
	if theta > math.Pi/2.0 {
		theta -= math.Pi
	}
	theta = -theta

	if sigY > sigX {
		if theta < 0 {
			theta += math.Pi / 2.0
		} else {
			theta -= math.Pi / 2.0
		}
		sigX, sigY = sigY, sigX
	}

	rSquared := computeRSquared(profile, inputs, outputs, solution)
	if rSquared < psfGoodnessThreshold {
		return nil, fmt.Errorf("%s fit at (%.1f, %.1f) rejected: R²=%.3f", shape, center.X, center.Y, rSquared)
	}

	return &FitResult{
		Shape:       shape,
		Amplitude:   solution[0],
		Background:  solution[1],
		OffsetX:     solution[2],
		OffsetY:     solution[3],
		SigmaX:      sigX,
		SigmaY:      sigY,
		FWHMX:       sigX * SigmaToFWHM,
		FWHMY:       sigY * SigmaToFWHM,
		Theta:       theta,
		Ellipticity: Ellipticity(sigX, sigY),
		RSquared:    rSquared,
	}, nil
}

func euclidianModulus(x, y float64) float64 {
	return math.Mod(math.Mod(x, y)+y, y)
}

// rotatedFrame maps a pixel offset into the profile's principal-axis frame.
func rotatedFrame(p, input []float64) (X, Y float64) {
	x, y := input[0], input[1]
	x0, y0 := p[2], p[3]
	cosT, sinT := math.Cos(p[6]), math.Sin(p[6])
	X = (x-x0)*cosT + (y-y0)*sinT
	Y = -(x-x0)*sinT + (y-y0)*cosT
	return X, Y
}

type gaussianProfile struct{}

func (gaussianProfile) value(p, input []float64) float64 {
	A, B := p[0], p[1]
	U, V := p[4], p[5]
	X, Y := rotatedFrame(p, input)
	E := X*X/(2*U*U) + Y*Y/(2*V*V)
	return B + A*math.Exp(-E)
}

func (gaussianProfile) gradient(p, input, grad []float64) {
	A := p[0]
	U, V, T := p[4], p[5], p[6]
	X, Y := rotatedFrame(p, input)

	cosT, sinT := math.Cos(T), math.Sin(T)
	X2, Y2 := X*X, Y*Y
	U2, V2 := U*U, V*V
	U3, V3 := U2*U, V2*V
	E := X2/(2*U2) + Y2/(2*V2)
	eE := math.Exp(-E)

	grad[0] = eE
	grad[1] = 1.0
	grad[2] = A * (cosT*X/U2 - sinT*Y/V2) * eE
	grad[3] = A * (sinT*X/U2 + cosT*Y/V2) * eE
	grad[4] = A * X2 / U3 * eE
	grad[5] = A * Y2 / V3 * eE
	grad[6] = A * X * Y * (1.0/V2 - 1.0/U2) * eE
}

type moffatProfile struct{}

func (moffatProfile) value(p, input []float64) float64 {
	A, B := p[0], p[1]
	U, V := p[4], p[5]
	X, Y := rotatedFrame(p, input)
	E := X*X/(2*U*U) + Y*Y/(2*V*V)
	return B + A*math.Pow(1+E, -moffatBeta)
}

func (moffatProfile) gradient(p, input, grad []float64) {
	A := p[0]
	U, V := p[4], p[5]
	X, Y := rotatedFrame(p, input)

	cosT, sinT := math.Cos(p[6]), math.Sin(p[6])
	X2, Y2 := X*X, Y*Y
	U2, V2 := U*U, V*V
	U3, V3 := U2*U, V2*V
	E := X2/(2*U2) + Y2/(2*V2)
	common := A * moffatBeta * math.Pow(1+E, -moffatBeta-1)

	grad[0] = math.Pow(1+E, -moffatBeta)
	grad[1] = 1.0
	grad[2] = common * (cosT*X/U2 - sinT*Y/V2)
	grad[3] = common * (sinT*X/U2 + cosT*Y/V2)
	grad[4] = common * X2 / U3
	grad[5] = common * Y2 / V3
	grad[6] = common * X * Y * (1.0/V2 - 1.0/U2)
}

func computeRSquared(profile psfProfile, inputs [][]float64, outputs, p []float64) float64 {
	yBar := 0.0
	for _, o := range outputs {
		yBar += o
	}
	yBar /= float64(len(outputs))

	tss, rss := 0.0, 0.0
	for i := range inputs {
		est := profile.value(p, inputs[i])
		res := est - outputs[i]
		disp := outputs[i] - yBar
		rss += res * res
		tss += disp * disp
	}
	if tss > 0 {
		return 1.0 - rss/tss
	}
	return 0.0
}

func levenbergMarquardt(
	profile psfProfile,
	inputs [][]float64, outputs,
	x0, lower, upper, scale []float64,
	tolerance float64, maxIter int,
) []float64 {
	n := len(x0)
	m := len(inputs)

	x := make([]float64, n)
	copy(x, x0)
	for j := 0; j < n; j++ {
		x[j] = clampLM(x[j], lower[j], upper[j])
	}

	fi := make([]float64, m)
	jac := make([][]float64, m)
	for i := range jac {
		jac[i] = make([]float64, n)
	}
	grad := make([]float64, n)

	computeResidualsAndJacobian(profile, inputs, outputs, x, fi, jac, grad, m, n)
	cost := sumOfSquares(fi)

	lambda := 1e-3
	nu := 2.0

	JtJ := make([][]float64, n)
	for i := range JtJ {
		JtJ[i] = make([]float64, n)
	}
	Jtf := make([]float64, n)
	A := make([][]float64, n)
	for i := range A {
		A[i] = make([]float64, n)
	}
	rhs := make([]float64, n)
	dx := make([]float64, n)
	xNew := make([]float64, n)
	fiNew := make([]float64, m)

	for iter := 0; iter < maxIter; iter++ {
		for i := 0; i < n; i++ {
			Jtf[i] = 0
			for j := 0; j < n; j++ {
				JtJ[i][j] = 0
			}
		}
		for k := 0; k < m; k++ {
			for i := 0; i < n; i++ {
				ji := jac[k][i]
				Jtf[i] += ji * fi[k]
				for j := i; j < n; j++ {
					JtJ[i][j] += ji * jac[k][j]
				}
			}
		}
		for i := 0; i < n; i++ {
			for j := 0; j < i; j++ {
				JtJ[i][j] = JtJ[j][i]
			}
		}

		gradNorm := 0.0
		for i := 0; i < n; i++ {
			gradNorm += Jtf[i] * Jtf[i]
		}
		if math.Sqrt(gradNorm) < tolerance*cost {
			break
		}

		for tries := 0; tries < 20; tries++ {
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					A[i][j] = JtJ[i][j]
				}
				A[i][i] += lambda * (scale[i] * scale[i])
				rhs[i] = -Jtf[i]
			}

			if !solveLinear(A, rhs, dx, n) {
				lambda *= nu
				continue
			}

			for j := 0; j < n; j++ {
				xNew[j] = clampLM(x[j]+dx[j], lower[j], upper[j])
			}

			for k := 0; k < m; k++ {
				fiNew[k] = profile.value(xNew, inputs[k]) - outputs[k]
			}
			costNew := sumOfSquares(fiNew)

			if costNew < cost {
				improvement := (cost - costNew) / cost
				copy(x, xNew)
				copy(fi, fiNew)
				cost = costNew
				lambda = math.Max(lambda/3.0, 1e-15)
				nu = 2.0

				computeResidualsAndJacobian(profile, inputs, outputs, x, fi, jac, grad, m, n)

				if improvement < tolerance {
					return x
				}
				break
			} else {
				lambda *= nu
				nu *= 2.0
				if lambda > 1e16 {
					return x
				}
			}
		}
	}
	return x
}

func computeResidualsAndJacobian(
	profile psfProfile,
	inputs [][]float64, outputs,
	x, fi []float64, jac [][]float64, grad []float64,
	m, n int,
) {
	for k := 0; k < m; k++ {
		fi[k] = profile.value(x, inputs[k]) - outputs[k]
		profile.gradient(x, inputs[k], grad)
		for j := 0; j < n; j++ {
			jac[k][j] = grad[j]
		}
	}
}

func sumOfSquares(fi []float64) float64 {
	s := 0.0
	for _, v := range fi {
		s += v * v
	}
	return s
}

func clampLM(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func solveLinear(A [][]float64, b, x []float64, n int) bool {
	a := make([][]float64, n)
	for i := range a {
		a[i] = make([]float64, n)
		copy(a[i], A[i])
	}
	rhsCopy := make([]float64, n)
	copy(rhsCopy, b)

	for col := 0; col < n; col++ {
		maxRow := col
		maxVal := math.Abs(a[col][col])
		for row := col + 1; row < n; row++ {
			av := math.Abs(a[row][col])
			if av > maxVal {
				maxVal = av
				maxRow = row
			}
		}
		if maxVal < 1e-30 {
			return false
		}

		if maxRow != col {
			a[col], a[maxRow] = a[maxRow], a[col]
			rhsCopy[col], rhsCopy[maxRow] = rhsCopy[maxRow], rhsCopy[col]
		}

		pivot := a[col][col]
		for row := col + 1; row < n; row++ {
			factor := a[row][col] / pivot
			for j := col; j < n; j++ {
				a[row][j] -= factor * a[col][j]
			}
			rhsCopy[row] -= factor * rhsCopy[col]
		}
	}

	for row := n - 1; row >= 0; row-- {
		sum := rhsCopy[row]
		for j := row + 1; j < n; j++ {
			sum -= a[row][j] * x[j]
		}
		x[row] = sum / a[row][row]
	}
	return true
}
