package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"photreport/pkg/photometry"
)

// Measurements is the tabular export of an observation's light curves:
// one row per epoch, columns ordered exactly as downstream light-curve
// fitting tools expect them.
type Measurements struct {
	Columns []string
	Rows    [][]float64
}

func buildMeasurements(obs *photometry.Observation) (*Measurements, error) {
	flux, err := obs.DiffFlux()
	if err != nil {
		return nil, err
	}
	ferr, err := obs.DiffError()
	if err != nil {
		return nil, err
	}

	columns := []string{obs.TimeFormat.ColumnName(), "DIFF_FLUX_T1", "DIFF_ERROR_T1"}
	series := [][]float64{obs.Time, flux, ferr}
	for _, c := range obs.Comparison {
		columns = append(columns,
			fmt.Sprintf("DIFF_FLUX_C%d", c), fmt.Sprintf("DIFF_ERROR_C%d", c))
		series = append(series,
			obs.DiffFluxes[obs.Aperture][c], obs.DiffErrors[obs.Aperture][c])
	}
	columns = append(columns, "dx", "dy", "FWHM", "SKYLEVEL", "AIRMASS", "EXPOSURE")
	series = append(series, obs.DX, obs.DY, obs.FWHM, obs.Sky, obs.Airmass, obs.ExpTime)

	m := &Measurements{Columns: columns}
	for i := range obs.Time {
		row := make([]float64, len(series))
		for j, s := range series {
			row[j] = s[i]
		}
		m.Rows = append(m.Rows, row)
	}
	return m, nil
}

// WriteMeasurements exports the observation's measurement table to a
// space-separated file at path.
func WriteMeasurements(obs *photometry.Observation, path string) error {
	m, err := buildMeasurements(obs)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating measurement file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ' '
	if err := w.Write(m.Columns); err != nil {
		return fmt.Errorf("writing measurement header: %w", err)
	}
	record := make([]string, len(m.Columns))
	for _, row := range m.Rows {
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing measurement row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// ReadMeasurements parses a measurement file written by WriteMeasurements.
func ReadMeasurements(path string) (*Measurements, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening measurement file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ' '
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing measurement file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("measurement file %s is empty", path)
	}

	m := &Measurements{Columns: records[0]}
	for i, record := range records[1:] {
		row := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("measurement row %d column %q: %w", i+1, m.Columns[j], err)
			}
			row[j] = v
		}
		m.Rows = append(m.Rows, row)
	}
	return m, nil
}
