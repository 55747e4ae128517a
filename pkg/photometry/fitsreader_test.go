package photometry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fitsRecord(key, value string) []byte {
	rec := fmt.Sprintf("%-8s= %s", key, value)
	return []byte(fmt.Sprintf("%-80s", rec))
}

// syntheticFits builds a single-HDU 16-bit image with the given physical
// pixel values, BZERO 32768 as written by unsigned-integer cameras.
func syntheticFits(t *testing.T, width, height int, pixels []uint16, extra [][2]string) []byte {
	t.Helper()
	var buf bytes.Buffer

	records := [][2]string{
		{"SIMPLE", "T"},
		{"BITPIX", "16"},
		{"NAXIS", "2"},
		{"NAXIS1", fmt.Sprint(width)},
		{"NAXIS2", fmt.Sprint(height)},
		{"BZERO", "32768"},
		{"BSCALE", "1"},
	}
	records = append(records, extra...)
	for _, r := range records {
		buf.Write(fitsRecord(r[0], r[1]))
	}
	buf.Write([]byte(fmt.Sprintf("%-80s", "END")))
	for buf.Len()%2880 != 0 {
		buf.WriteByte(' ')
	}

	for _, p := range pixels {
		stored := int16(int(p) - 32768)
		require.NoError(t, binary.Write(&buf, binary.BigEndian, stored))
	}
	return buf.Bytes()
}

func TestReadFitsFromBytes(t *testing.T) {
	pixels := []uint16{0, 100, 200, 300, 400, 500, 600, 700, 800, 900, 1000, 65535}
	raw := syntheticFits(t, 4, 3, pixels, [][2]string{
		{"OBJECT", "'TOI-1234'"},
		{"FILTER", "'I+z'"},
		{"TELESCOP", "'Artemis'"},
		{"RA", "'06:45:08.9'"},
		{"DEC", "'-16:42:58.0'"},
		{"EXPTIME", "10.0 / integration seconds"},
	})

	img, err := ReadFitsFromBytes(raw)
	require.NoError(t, err)

	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 3, img.Height)
	assert.Equal(t, 16, img.BitDepth)
	assert.Equal(t, pixels, img.Pixels)

	m := img.Metadata
	assert.Equal(t, "TOI-1234", m.ObjectName())
	assert.Equal(t, "I+z", m.Filter())
	assert.Equal(t, "Artemis", m.TelescopeName())

	ra, ok := m.RA()
	require.True(t, ok)
	assert.InDelta(t, 101.287083, ra, 1e-5)
	dec, ok := m.Dec()
	require.True(t, ok)
	assert.InDelta(t, -16.716111, dec, 1e-5)

	exp, ok := m.GetDouble("EXPTIME")
	require.True(t, ok)
	assert.Equal(t, 10.0, exp)
}

func TestReadFitsFromBytesRejectsBadDimensions(t *testing.T) {
	raw := syntheticFits(t, 0, 0, nil, nil)
	_, err := ReadFitsFromBytes(raw)
	assert.ErrorContains(t, err, "invalid FITS")
}
