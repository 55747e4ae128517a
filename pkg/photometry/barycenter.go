package photometry

import (
	"math"

	"github.com/soniakeys/meeus/v3/base"
	"github.com/soniakeys/meeus/v3/solar"
)

// Light travel time across 1 AU, in days.
const auLightDays = 1.0 / 173.144632674240

// TDB-UTC offset in days: 37 leap seconds + 32.184 s TT-TAI. Valid for
// observations after 2017-01-01; the sub-second drift of TDB around TT is
// far below the 1e-4 day precision reports quote.
const tdbMinusUTCDays = 69.184 / 86400.0

// BarycentricJD converts a JD-UTC epoch to BJD-TDB for a target at the given
// ICRS coordinates (degrees). The Romer delay uses a low-precision analytic
// solar ephemeris (Meeus ch. 25), accurate to a few seconds, which is
// sufficient for ground-based transit photometry.
func BarycentricJD(jdUTC, raDeg, decDeg float64) float64 {
	jdTT := jdUTC + tdbMinusUTCDays
	ex, ey, ez := earthBarycentricAU(jdTT)

	ra := raDeg * math.Pi / 180
	dec := decDeg * math.Pi / 180
	nx := math.Cos(dec) * math.Cos(ra)
	ny := math.Cos(dec) * math.Sin(ra)
	nz := math.Sin(dec)

	romer := (ex*nx + ey*ny + ez*nz) * auLightDays
	return jdTT + romer
}

// earthBarycentricAU returns the Earth's position in equatorial rectangular
// coordinates (AU). The solar-system barycenter is approximated by the Sun;
// the offset between the two is below 0.01 AU (~5 s of light travel).
func earthBarycentricAU(jd float64) (x, y, z float64) {
	ra, dec := solar.TrueEquatorial(jd)
	r := solar.Radius(base.J2000Century(jd))

	sd, cd := math.Sincos(dec.Rad())
	sa, ca := math.Sincos(ra.Rad())

	// Heliocentric Earth is the geocentric Sun reversed.
	return -r * cd * ca, -r * cd * sa, -r * sd
}

// ComputeBJD converts the observation's time series from JD-UTC to BJD-TDB
// in place. It is a no-op when the correction has already been applied.
// The observer is taken at the geocenter; the site displacement contributes
// at most ~21 ms of light travel, well below the quoted precision.
func (o *Observation) ComputeBJD() {
	if o.TimeFormat == BJDTDB {
		return
	}
	for i, t := range o.Time {
		o.Time[i] = BarycentricJD(t, o.Target.RA, o.Target.Dec)
	}
	if o.MeridianFlip != nil {
		mf := BarycentricJD(*o.MeridianFlip, o.Target.RA, o.Target.Dec)
		o.MeridianFlip = &mf
	}
	o.TimeFormat = BJDTDB
}
