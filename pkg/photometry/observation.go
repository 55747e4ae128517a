package photometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoAperture is returned by operations that need a best aperture
	// before one has been chosen.
	ErrNoAperture = errors.New("no best aperture chosen")
	// ErrNoStack is returned by operations that need the stack image.
	ErrNoStack = errors.New("no stack image attached")
	// ErrBinTooWide is returned when a requested time bin exceeds the data span.
	ErrBinTooWide = errors.New("bin width exceeds observation span")
)

// TimeFormat identifies the time scale of the Time series.
type TimeFormat int

const (
	JDUTC TimeFormat = iota
	BJDTDB
)

// ColumnName returns the measurement-table column header for the format.
func (f TimeFormat) ColumnName() string {
	if f == BJDTDB {
		return "BJD-TDB"
	}
	return "JD-UTC"
}

// Point2d represents a 2D point with float64 coordinates.
type Point2d struct {
	X, Y float64
}

// Target identifies the observed star.
type Target struct {
	TICID  string
	GaiaID string
	Name   string
	TOI    string
	Planet string
	// RA and Dec in degrees (ICRS).
	RA  float64
	Dec float64
}

// Observation bundles one night's photometry product: an ordered time
// series, per-star per-aperture flux matrices and the auxiliary series
// recorded alongside them. All series share the length and ordering of Time.
type Observation struct {
	Time       []float64
	TimeFormat TimeFormat

	// Fluxes and Errors are raw photometry indexed [aperture][star][epoch].
	Fluxes [][][]float64
	Errors [][][]float64
	// DiffFluxes and DiffErrors are differential photometry with the same
	// indexing.
	DiffFluxes [][][]float64
	DiffErrors [][][]float64
	// ALC is the artificial comparison light curve per aperture, nil when the
	// product predates its introduction.
	ALC [][]float64

	DX      []float64
	DY      []float64
	FWHM    []float64
	Sky     []float64
	Airmass []float64
	ExpTime []float64

	// Stars holds detected star pixel positions from the extraction pipeline.
	Stars       []Point2d
	TargetIndex int
	Comparison  []int

	// Aperture is the chosen best aperture index, -1 when none has been
	// selected.
	Aperture      int
	ApertureRadii []float64
	AnnulusRin    *float64
	AnnulusRout   *float64

	// MeridianFlip is the epoch of the pier flip, in the same time format as
	// Time, nil when the mount did not flip.
	MeridianFlip *float64

	Target    Target
	Telescope *Telescope
	Filter    string
	Date      time.Time

	Stack *StackImage
}

// Validate checks the cross-series invariants: every auxiliary series has
// the length of Time, flux matrices are consistent, and indices are in range.
func (o *Observation) Validate() error {
	n := len(o.Time)
	if n == 0 {
		return fmt.Errorf("empty time series")
	}
	for name, s := range map[string][]float64{
		"dx": o.DX, "dy": o.DY, "fwhm": o.FWHM,
		"sky": o.Sky, "airmass": o.Airmass, "exptime": o.ExpTime,
	} {
		if len(s) != n {
			return fmt.Errorf("series %q has %d samples, want %d", name, len(s), n)
		}
	}
	if len(o.Fluxes) == 0 {
		return fmt.Errorf("no flux data")
	}
	if len(o.ApertureRadii) != len(o.Fluxes) {
		return fmt.Errorf("%d aperture radii for %d apertures", len(o.ApertureRadii), len(o.Fluxes))
	}
	nStars := len(o.Fluxes[0])
	for name, m := range map[string][][][]float64{
		"fluxes": o.Fluxes, "errors": o.Errors,
		"diff_fluxes": o.DiffFluxes, "diff_errors": o.DiffErrors,
	} {
		if len(m) != len(o.Fluxes) {
			return fmt.Errorf("matrix %q has %d apertures, want %d", name, len(m), len(o.Fluxes))
		}
		for a := range m {
			if len(m[a]) != nStars {
				return fmt.Errorf("matrix %q aperture %d: %d stars, want %d", name, a, len(m[a]), nStars)
			}
			for s := range m[a] {
				if len(m[a][s]) != n {
					return fmt.Errorf("matrix %q aperture %d star %d: %d samples, want %d",
						name, a, s, len(m[a][s]), n)
				}
			}
		}
	}
	if o.ALC != nil {
		if len(o.ALC) != len(o.Fluxes) {
			return fmt.Errorf("alc has %d apertures, want %d", len(o.ALC), len(o.Fluxes))
		}
		for a := range o.ALC {
			if len(o.ALC[a]) != n {
				return fmt.Errorf("alc aperture %d has %d samples, want %d", a, len(o.ALC[a]), n)
			}
		}
	}
	if o.TargetIndex < 0 || o.TargetIndex >= nStars {
		return fmt.Errorf("target index %d out of range (%d stars)", o.TargetIndex, nStars)
	}
	for _, c := range o.Comparison {
		if c < 0 || c >= nStars {
			return fmt.Errorf("comparison star %d out of range (%d stars)", c, nStars)
		}
	}
	if o.Aperture >= len(o.Fluxes) {
		return fmt.Errorf("aperture %d out of range (%d apertures)", o.Aperture, len(o.Fluxes))
	}
	return nil
}

// NStars returns the number of stars in the product.
func (o *Observation) NStars() int {
	if len(o.Fluxes) == 0 {
		return 0
	}
	return len(o.Fluxes[0])
}

// HasAperture reports whether a best aperture has been chosen.
func (o *Observation) HasAperture() bool {
	return o.Aperture >= 0 && o.Aperture < len(o.Fluxes)
}

// ApertureRadius returns the chosen aperture radius in pixels.
func (o *Observation) ApertureRadius() (float64, error) {
	if !o.HasAperture() {
		return 0, ErrNoAperture
	}
	return o.ApertureRadii[o.Aperture], nil
}

// DiffFlux returns the target star's differential light curve at the best
// aperture.
func (o *Observation) DiffFlux() ([]float64, error) {
	if !o.HasAperture() {
		return nil, ErrNoAperture
	}
	return o.DiffFluxes[o.Aperture][o.TargetIndex], nil
}

// DiffError returns the target star's differential flux errors at the best
// aperture.
func (o *Observation) DiffError() ([]float64, error) {
	if !o.HasAperture() {
		return nil, ErrNoAperture
	}
	return o.DiffErrors[o.Aperture][o.TargetIndex], nil
}

// RawFlux returns a star's raw light curve at the best aperture.
func (o *Observation) RawFlux(star int) ([]float64, error) {
	if !o.HasAperture() {
		return nil, ErrNoAperture
	}
	if star < 0 || star >= o.NStars() {
		return nil, fmt.Errorf("star %d out of range (%d stars)", star, o.NStars())
	}
	return o.Fluxes[o.Aperture][star], nil
}

// MeanFWHM returns the mean PSF full width at half maximum over the night,
// in pixels.
func (o *Observation) MeanFWHM() float64 { return stat.Mean(o.FWHM, nil) }

// MeanExpTime returns the mean exposure time in seconds.
func (o *Observation) MeanExpTime() float64 { return stat.Mean(o.ExpTime, nil) }

// SimbadURL returns a SIMBAD cone query URL for the target coordinates.
func (o *Observation) SimbadURL() string {
	return fmt.Sprintf(
		"http://simbad.u-strasbg.fr/simbad/sim-coo?Coord=%f+%f&CooFrame=FK5&CooEpoch=2000&CooEqui=2000"+
			"&CooDefinedFrames=none&Radius=2&Radius.unit=arcmin&submit=submit+query&CoordList=",
		o.Target.RA, o.Target.Dec)
}

// ProductsDenominator returns the Telescope_date_target_filter stem used to
// name files derived from this observation.
func (o *Observation) ProductsDenominator() string {
	return fmt.Sprintf("%s_%s_%s_%s",
		o.Telescope.Name, o.Date.Format("20060102"), o.Target.Name, o.Filter)
}

// JDToTime converts a Julian date to a UTC time.Time.
func JDToTime(jd float64) time.Time {
	sec := (jd - 2440587.5) * 86400.0
	return time.Unix(0, int64(sec*1e9)).UTC()
}

// SaveMCMC writes the MCMC input table expected by downstream transit
// fitting tools: space-separated, one row per epoch, FWHM duplicated into
// the FWHMx/FWHMy columns the tools require.
func (o *Observation) SaveMCMC(destination string) error {
	flux, err := o.DiffFlux()
	if err != nil {
		return err
	}
	ferr, err := o.DiffError()
	if err != nil {
		return err
	}

	p := filepath.Join(destination, fmt.Sprintf("MCMC_%s.txt", o.ProductsDenominator()))
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("creating MCMC file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, "BJD-TDB DIFF_FLUX ERROR dx_MOVE dy_MOVE FWHM FWHMx FWHMy SKYLEVEL AIRMASS EXPOSURE"); err != nil {
		return err
	}
	for i := range o.Time {
		_, err := fmt.Fprintf(f, "%.10g %.10g %.10g %.10g %.10g %.10g %.10g %.10g %.10g %.10g %.10g\n",
			o.Time[i], flux[i], ferr[i], o.DX[i], o.DY[i],
			o.FWHM[i], o.FWHM[i], o.FWHM[i], o.Sky[i], o.Airmass[i], o.ExpTime[i])
		if err != nil {
			return fmt.Errorf("writing MCMC row %d: %w", i, err)
		}
	}
	return nil
}

// productFile is the on-disk JSON schema of a photometry product.
type productFile struct {
	Time          []float64     `json:"time"`
	TimeFormat    string        `json:"time_format"`
	Fluxes        [][][]float64 `json:"fluxes"`
	Errors        [][][]float64 `json:"errors"`
	DiffFluxes    [][][]float64 `json:"diff_fluxes"`
	DiffErrors    [][][]float64 `json:"diff_errors"`
	ALC           [][]float64   `json:"alc,omitempty"`
	DX            []float64     `json:"dx"`
	DY            []float64     `json:"dy"`
	FWHM          []float64     `json:"fwhm"`
	Sky           []float64     `json:"sky"`
	Airmass       []float64     `json:"airmass"`
	ExpTime       []float64     `json:"exptime"`
	Stars         [][2]float64  `json:"stars"`
	TargetIndex   int           `json:"target"`
	Comparison    []int         `json:"comparison"`
	Aperture      *int          `json:"aperture,omitempty"`
	ApertureRadii []float64     `json:"aperture_radii"`
	AnnulusRin    *float64      `json:"annulus_rin,omitempty"`
	AnnulusRout   *float64      `json:"annulus_rout,omitempty"`
	MeridianFlip  *float64      `json:"meridian_flip,omitempty"`
	TICID         string        `json:"tic_id"`
	GaiaID        string        `json:"gaia_id"`
	Name          string        `json:"name"`
	TOI           string        `json:"toi"`
	Planet        string        `json:"planet"`
	RA            float64       `json:"ra"`
	Dec           float64       `json:"dec"`
	Telescope     string        `json:"telescope"`
	Filter        string        `json:"filter"`
	Date          string        `json:"date"`
}

// LoadProduct reads a photometry product file and validates it.
func LoadProduct(path string) (*Observation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading product: %w", err)
	}
	var pf productFile
	if err := json.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parsing product: %w", err)
	}

	obs := &Observation{
		Time:          pf.Time,
		Fluxes:        pf.Fluxes,
		Errors:        pf.Errors,
		DiffFluxes:    pf.DiffFluxes,
		DiffErrors:    pf.DiffErrors,
		ALC:           pf.ALC,
		DX:            pf.DX,
		DY:            pf.DY,
		FWHM:          pf.FWHM,
		Sky:           pf.Sky,
		Airmass:       pf.Airmass,
		ExpTime:       pf.ExpTime,
		TargetIndex:   pf.TargetIndex,
		Comparison:    pf.Comparison,
		Aperture:      -1,
		ApertureRadii: pf.ApertureRadii,
		AnnulusRin:    pf.AnnulusRin,
		AnnulusRout:   pf.AnnulusRout,
		MeridianFlip:  pf.MeridianFlip,
		Target: Target{
			TICID:  pf.TICID,
			GaiaID: pf.GaiaID,
			Name:   pf.Name,
			TOI:    pf.TOI,
			Planet: pf.Planet,
			RA:     pf.RA,
			Dec:    pf.Dec,
		},
		Telescope: TelescopeFromName(pf.Telescope),
		Filter:    pf.Filter,
	}
	if pf.TimeFormat == "bjd_tdb" {
		obs.TimeFormat = BJDTDB
	}
	if pf.Aperture != nil {
		obs.Aperture = *pf.Aperture
	}
	for _, s := range pf.Stars {
		obs.Stars = append(obs.Stars, Point2d{X: s[0], Y: s[1]})
	}
	if pf.Date != "" {
		d, err := time.Parse("2006-01-02", pf.Date)
		if err != nil {
			return nil, fmt.Errorf("parsing product date: %w", err)
		}
		obs.Date = d
	} else if len(pf.Time) > 0 {
		obs.Date = JDToTime(pf.Time[0])
	}

	if err := obs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid product: %w", err)
	}
	return obs, nil
}

// AttachStack loads a stack FITS image and associates it with the
// observation. Product metadata missing from the photometry file is filled
// in from the stack header.
func (o *Observation) AttachStack(path string) error {
	stack, err := LoadStack(path)
	if err != nil {
		return err
	}
	o.Stack = stack

	if m := stack.Metadata; m != nil {
		if o.Target.RA == 0 && o.Target.Dec == 0 {
			if ra, ok := m.RA(); ok {
				if dec, ok := m.Dec(); ok {
					o.Target.RA = ra
					o.Target.Dec = dec
				}
			}
		}
		if o.Target.Name == "" {
			o.Target.Name = m.ObjectName()
		}
		if o.Filter == "" {
			o.Filter = m.Filter()
		}
		if o.Telescope == nil {
			o.Telescope = TelescopeFromName(m.TelescopeName())
		}
	}
	return nil
}
