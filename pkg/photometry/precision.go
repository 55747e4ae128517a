package photometry

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultPrecisionBins is the default time-bin width for the precision
// estimator, in days (7.2 minutes).
const DefaultPrecisionBins = 0.005

// PrecisionSample holds per-star noise diagnostics for one aperture, one
// entry per surviving star, sorted by ascending mean flux.
type PrecisionSample struct {
	// MeanFlux is the mean raw flux per star, in ADU.
	MeanFlux []float64
	// InvSNR is the empirical inverse signal-to-noise: the median binned rms
	// normalized by mean flux.
	InvSNR []float64
	// PhotonNoise is the photon-limited floor sqrt(F)/F.
	PhotonNoise []float64
	// BackgroundNoise is the sky-limited floor sqrt(S*A)/F.
	BackgroundNoise []float64
	// CCDEquation is the pipeline error estimate mean(err)/mean(flux).
	CCDEquation []float64
	// BinWidth is the bin width used, in days.
	BinWidth float64
	// NBins is the number of time bins the span was divided into.
	NBins int
}

// Len returns the number of stars in the sample.
func (p *PrecisionSample) Len() int { return len(p.MeanFlux) }

// EstimatePrecision computes the empirical and theoretical photometric noise
// floors for every star at the given aperture. A negative aperture selects
// the observation's best aperture, failing with ErrNoAperture when none has
// been chosen. binsDays is the time-bin width; zero selects
// DefaultPrecisionBins.
func (o *Observation) EstimatePrecision(binsDays float64, aperture int) (*PrecisionSample, error) {
	if binsDays == 0 {
		binsDays = DefaultPrecisionBins
	}
	if aperture < 0 {
		if !o.HasAperture() {
			return nil, ErrNoAperture
		}
		aperture = o.Aperture
	}
	if aperture >= len(o.Fluxes) {
		return nil, fmt.Errorf("aperture %d out of range (%d apertures)", aperture, len(o.Fluxes))
	}

	cadenceDays := o.MeanExpTime() / 86400.0
	if cadenceDays <= 0 {
		return nil, fmt.Errorf("non-positive mean exposure time")
	}
	nBin := int(binsDays / cadenceDays)
	if nBin < 1 {
		nBin = 1
	}
	if len(o.Time) <= nBin {
		return nil, fmt.Errorf("%w: %d bins for %d samples", ErrBinTooWide, nBin, len(o.Time))
	}

	radius := o.ApertureRadii[aperture]
	area := math.Pi * radius * radius
	meanSky := stat.Mean(o.Sky, nil)

	fluxes := o.Fluxes[aperture]
	errs := o.Errors[aperture]

	sample := &PrecisionSample{BinWidth: binsDays, NBins: nBin}
	for s := range fluxes {
		meanFlux := stat.Mean(fluxes[s], nil)
		meanErr := stat.Mean(errs[s], nil)
		invSNR := binnedRMS(o.Time, fluxes[s], nBin) / meanFlux

		// Degenerate stars (zero or negative flux) carry no information.
		if !(invSNR > 0) || math.IsInf(invSNR, 0) {
			continue
		}

		sample.MeanFlux = append(sample.MeanFlux, meanFlux)
		sample.InvSNR = append(sample.InvSNR, invSNR)
		sample.PhotonNoise = append(sample.PhotonNoise, math.Sqrt(meanFlux)/meanFlux)
		sample.BackgroundNoise = append(sample.BackgroundNoise, math.Sqrt(meanSky*area)/meanFlux)
		sample.CCDEquation = append(sample.CCDEquation, meanErr/meanFlux)
	}

	sample.sortByFlux()
	return sample, nil
}

// binnedRMS divides the time series into nBin equal-width bins and returns
// the median of the per-bin standard deviations.
func binnedRMS(times, values []float64, nBin int) float64 {
	tMin := floats.Min(times)
	tMax := floats.Max(times)
	span := tMax - tMin
	if span <= 0 {
		return popStdDev(values)
	}

	bins := make([][]float64, nBin)
	for i, t := range times {
		b := int(float64(nBin) * (t - tMin) / span)
		if b >= nBin {
			b = nBin - 1
		}
		bins[b] = append(bins[b], values[i])
	}

	stds := make([]float64, 0, nBin)
	for _, b := range bins {
		if len(b) == 0 {
			continue
		}
		stds = append(stds, popStdDev(b))
	}
	if len(stds) == 0 {
		return 0
	}
	sort.Float64s(stds)
	return stat.Quantile(0.5, stat.Empirical, stds, nil)
}

// popStdDev is the population standard deviation (divisor n), matching the
// convention of the binned statistics the estimator was calibrated against.
func popStdDev(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	mean := stat.Mean(values, nil)
	var sse float64
	for _, v := range values {
		d := v - mean
		sse += d * d
	}
	return math.Sqrt(sse / float64(len(values)))
}

func (p *PrecisionSample) sortByFlux() {
	idx := make([]int, len(p.MeanFlux))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return p.MeanFlux[idx[i]] < p.MeanFlux[idx[j]] })

	reorder := func(s []float64) []float64 {
		out := make([]float64, len(s))
		for i, j := range idx {
			out[i] = s[j]
		}
		return out
	}
	p.MeanFlux = reorder(p.MeanFlux)
	p.InvSNR = reorder(p.InvSNR)
	p.PhotonNoise = reorder(p.PhotonNoise)
	p.BackgroundNoise = reorder(p.BackgroundNoise)
	p.CCDEquation = reorder(p.CCDEquation)
}
