package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photreport/pkg/photometry"
)

func TestMeasurementsRoundTrip(t *testing.T) {
	obs := testObservation(t)
	path := filepath.Join(t.TempDir(), "measurements.txt")

	require.NoError(t, WriteMeasurements(obs, path))
	m, err := ReadMeasurements(path)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"JD-UTC", "DIFF_FLUX_T1", "DIFF_ERROR_T1",
		"DIFF_FLUX_C1", "DIFF_ERROR_C1",
		"DIFF_FLUX_C2", "DIFF_ERROR_C2",
		"dx", "dy", "FWHM", "SKYLEVEL", "AIRMASS", "EXPOSURE",
	}, m.Columns)
	require.Len(t, m.Rows, len(obs.Time))

	for i, row := range m.Rows {
		assert.Equal(t, obs.Time[i], row[0])
		assert.Equal(t, obs.DiffFluxes[0][0][i], row[1])
		assert.Equal(t, obs.DiffErrors[0][0][i], row[2])
		assert.Equal(t, obs.DiffFluxes[0][1][i], row[3])
		assert.Equal(t, obs.DiffErrors[0][1][i], row[4])
		assert.Equal(t, obs.DiffFluxes[0][2][i], row[5])
		assert.Equal(t, obs.DiffErrors[0][2][i], row[6])
		assert.Equal(t, obs.ExpTime[i], row[12])
	}
}

func TestMeasurementsTimeColumn(t *testing.T) {
	obs := testObservation(t)
	obs.TimeFormat = photometry.BJDTDB
	path := filepath.Join(t.TempDir(), "measurements.txt")

	require.NoError(t, WriteMeasurements(obs, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	header := strings.SplitN(string(raw), "\n", 2)[0]
	assert.True(t, strings.HasPrefix(header, "BJD-TDB "), "header %q", header)
}

func TestMeasurementsRequireAperture(t *testing.T) {
	obs := testObservation(t)
	obs.Aperture = -1
	err := WriteMeasurements(obs, filepath.Join(t.TempDir(), "m.txt"))
	assert.ErrorIs(t, err, photometry.ErrNoAperture)
}
