package photometry

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticObservation builds a one-aperture product with nStars constant
// light curves at the given flux levels, n epochs over spanDays, with
// optional white noise of standard deviation sigma.
func syntheticObservation(t *testing.T, levels []float64, n int, spanDays, sigma float64) *Observation {
	t.Helper()
	rng := rand.New(rand.NewSource(42))

	times := make([]float64, n)
	for i := range times {
		times[i] = 2459000.5 + spanDays*float64(i)/float64(n-1)
	}

	fluxes := make([][]float64, len(levels))
	errs := make([][]float64, len(levels))
	for s, level := range levels {
		fluxes[s] = make([]float64, n)
		errs[s] = make([]float64, n)
		for i := range fluxes[s] {
			noise := 0.0
			if sigma > 0 {
				noise = rng.NormFloat64() * sigma
			}
			fluxes[s][i] = level + noise
			errs[s][i] = math.Sqrt(math.Abs(level))
		}
	}

	aux := func(base, jitter float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = base + jitter*rng.Float64()
		}
		return out
	}

	obs := &Observation{
		Time:          times,
		Fluxes:        [][][]float64{fluxes},
		Errors:        [][][]float64{errs},
		DiffFluxes:    [][][]float64{fluxes},
		DiffErrors:    [][][]float64{errs},
		DX:            aux(0, 0.5),
		DY:            aux(0, 0.5),
		FWHM:          aux(4.2, 0.3),
		Sky:           aux(12, 1),
		Airmass:       aux(1.2, 0.1),
		ExpTime:       aux(86.4, 0),
		Stars:         make([]Point2d, len(levels)),
		TargetIndex:   0,
		Aperture:      0,
		ApertureRadii: []float64{8},
		Target:        Target{Name: "TOI-test", TICID: "1234"},
		Telescope:     TelescopeFromName("artemis"),
		Filter:        "I+z",
	}
	require.NoError(t, obs.Validate())
	return obs
}

func TestEstimatePrecisionRecoversWhiteNoise(t *testing.T) {
	const (
		level = 10000.0
		sigma = 50.0
	)
	obs := syntheticObservation(t, []float64{level, level, level, level}, 100, 1.0, sigma)

	sample, err := obs.EstimatePrecision(0.01, -1)
	require.NoError(t, err)
	require.Equal(t, 4, sample.Len())

	want := sigma / level
	for _, got := range sample.InvSNR {
		assert.InEpsilon(t, want, got, 0.2)
	}
}

func TestEstimatePrecisionTheoreticalCurves(t *testing.T) {
	obs := syntheticObservation(t, []float64{400, 10000}, 100, 0.5, 0)
	// Alternate a one-count perturbation so the empirical estimate stays
	// positive without shifting the mean.
	for s := range obs.Fluxes[0] {
		for i := range obs.Fluxes[0][s] {
			if i%2 == 0 {
				obs.Fluxes[0][s][i] += 1
			} else {
				obs.Fluxes[0][s][i] -= 1
			}
		}
	}
	const sky = 12.5
	for i := range obs.Sky {
		obs.Sky[i] = sky
	}

	sample, err := obs.EstimatePrecision(0.01, -1)
	require.NoError(t, err)
	require.Equal(t, 2, sample.Len())

	area := math.Pi * 8 * 8
	for i, f := range sample.MeanFlux {
		assert.InDelta(t, math.Sqrt(f)/f, sample.PhotonNoise[i], 1e-12)
		assert.InDelta(t, math.Sqrt(sky*area)/f, sample.BackgroundNoise[i], 1e-12)
		assert.InDelta(t, math.Sqrt(f)/f, sample.CCDEquation[i], 1e-12)
	}
}

func TestEstimatePrecisionFiltersAndSorts(t *testing.T) {
	obs := syntheticObservation(t, []float64{30000, 500, 0, 9000}, 100, 0.5, 10)
	// The zero-flux star yields a non-positive estimate and must be dropped.
	for i := range obs.Fluxes[0][2] {
		obs.Fluxes[0][2][i] = 0
	}

	sample, err := obs.EstimatePrecision(0.01, -1)
	require.NoError(t, err)
	assert.LessOrEqual(t, sample.Len(), obs.NStars())
	assert.Equal(t, 3, sample.Len())
	assert.True(t, sort.Float64sAreSorted(sample.MeanFlux))
}

func TestEstimatePrecisionNoAperture(t *testing.T) {
	obs := syntheticObservation(t, []float64{10000}, 100, 0.5, 10)
	obs.Aperture = -1

	_, err := obs.EstimatePrecision(0.01, -1)
	assert.ErrorIs(t, err, ErrNoAperture)

	// An explicit aperture index does not need a best-aperture selection.
	_, err = obs.EstimatePrecision(0.01, 0)
	assert.NoError(t, err)
}

func TestEstimatePrecisionBinTooWide(t *testing.T) {
	obs := syntheticObservation(t, []float64{10000}, 10, 0.5, 10)

	_, err := obs.EstimatePrecision(1.0, -1)
	assert.ErrorIs(t, err, ErrBinTooWide)
}
