package figure

import (
	"fmt"
	"image/color"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"photreport/pkg/photometry"
)

var (
	colorTarget     = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorArtificial = color.RGBA{A: 255}
	colorGrey       = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	colorFaint      = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	colorAccent     = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Save renders a plot to a file at the given size.
func Save(p *plot.Plot, path string, w, h vg.Length) error {
	if err := p.Save(w, h, path); err != nil {
		return fmt.Errorf("saving figure %s: %w", path, err)
	}
	return nil
}

func xys(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i].X = x[i]
		pts[i].Y = y[i]
	}
	return pts
}

func scatter(x, y []float64, c color.Color) (*plotter.Scatter, error) {
	s, err := plotter.NewScatter(xys(x, y))
	if err != nil {
		return nil, err
	}
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	s.GlyphStyle.Radius = vg.Points(1.2)
	s.GlyphStyle.Color = c
	return s, nil
}

func line(x, y []float64, c color.Color, dashed bool) (*plotter.Line, error) {
	l, err := plotter.NewLine(xys(x, y))
	if err != nil {
		return nil, err
	}
	l.LineStyle.Color = c
	l.LineStyle.Width = vg.Points(1)
	if dashed {
		l.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	}
	return l, nil
}

// vline draws a vertical marker spanning [yMin, yMax].
func vline(p *plot.Plot, x, yMin, yMax float64, c color.Color, dashed bool) error {
	l, err := line([]float64{x, x}, []float64{yMin, yMax}, c, dashed)
	if err != nil {
		return err
	}
	p.Add(l)
	return nil
}

func addMeridianFlip(p *plot.Plot, obs *photometry.Observation, yMin, yMax float64) error {
	if obs.MeridianFlip == nil {
		return nil
	}
	return vline(p, *obs.MeridianFlip, yMin, yMax, colorFaint, false)
}

// LightCurve renders the target's differential light curve. A non-nil trend
// is drawn as a systematics model under the detrended curve; a non-nil
// transit series is overlaid on top.
func LightCurve(obs *photometry.Observation, trend, transit []float64) (*plot.Plot, error) {
	flux, err := obs.DiffFlux()
	if err != nil {
		return nil, err
	}

	p := plot.New()
	p.X.Label.Text = obs.TimeFormat.ColumnName()
	p.Y.Label.Text = "diff. flux"
	p.Y.Min, p.Y.Max = 0.98, 1.02

	if trend != nil {
		shifted := make([]float64, len(flux))
		detrended := make([]float64, len(flux))
		trendShifted := make([]float64, len(flux))
		for i := range flux {
			shifted[i] = flux[i] - 0.03
			trendShifted[i] = trend[i] - 0.03
			detrended[i] = flux[i] - trend[i] + 1.0
		}
		raw, err := scatter(obs.Time, shifted, colorFaint)
		if err != nil {
			return nil, err
		}
		tl, err := line(obs.Time, trendShifted, colorGrey, false)
		if err != nil {
			return nil, err
		}
		det, err := scatter(obs.Time, detrended, colorTarget)
		if err != nil {
			return nil, err
		}
		p.Add(raw, tl, det)
		p.Legend.Add("systematics model", tl)
		p.Y.Min = 0.95
	} else {
		s, err := scatter(obs.Time, flux, colorTarget)
		if err != nil {
			return nil, err
		}
		p.Add(s)
	}

	if transit != nil {
		model := make([]float64, len(transit))
		for i := range transit {
			model[i] = transit[i] + 1.0
		}
		tl, err := line(obs.Time, model, colorArtificial, false)
		if err != nil {
			return nil, err
		}
		p.Add(tl)
		p.Legend.Add("transit", tl)
	}

	if err := addMeridianFlip(p, obs, p.Y.Min, p.Y.Max); err != nil {
		return nil, err
	}
	return p, nil
}

// LightCurveModel renders raw and detrended light curves against the fitted
// systematics+transit model, with observed and predicted ingress/egress
// markers at t0 ± duration/2 and at the model's first/last in-transit
// epochs.
func LightCurveModel(obs *photometry.Observation, trendModel, transitModel []float64, t0, duration float64) (*plot.Plot, error) {
	flux, err := obs.DiffFlux()
	if err != nil {
		return nil, err
	}
	if len(trendModel) != len(flux) || len(transitModel) != len(flux) {
		return nil, fmt.Errorf("model length mismatch: trend %d, transit %d, flux %d",
			len(trendModel), len(transitModel), len(flux))
	}

	p := plot.New()
	p.X.Label.Text = obs.TimeFormat.ColumnName()
	p.Y.Label.Text = "diff. flux"
	p.Y.Min, p.Y.Max = 0.95, 1.03

	raw, err := scatter(obs.Time, flux, colorTarget)
	if err != nil {
		return nil, err
	}

	full := make([]float64, len(flux))
	transitShifted := make([]float64, len(flux))
	detrended := make([]float64, len(flux))
	for i := range flux {
		full[i] = trendModel[i] + transitModel[i]
		transitShifted[i] = transitModel[i] + 1.0 - 0.03
		detrended[i] = flux[i] - trendModel[i] + 1.0 - 0.03
	}
	fullLine, err := line(obs.Time, full, colorTarget, false)
	if err != nil {
		return nil, err
	}
	transitLine, err := line(obs.Time, transitShifted, colorArtificial, false)
	if err != nil {
		return nil, err
	}
	det, err := scatter(obs.Time, detrended, colorGrey)
	if err != nil {
		return nil, err
	}
	p.Add(raw, fullLine, transitLine, det)
	p.Legend.Add("systematics + transit model", fullLine)
	p.Legend.Add("transit model", transitLine)

	// Observed window.
	if err := vline(p, t0-duration/2, p.Y.Min, p.Y.Max, colorAccent, false); err != nil {
		return nil, err
	}
	if err := vline(p, t0+duration/2, p.Y.Min, p.Y.Max, colorAccent, false); err != nil {
		return nil, err
	}
	// Predicted ingress/egress from the model itself.
	first, last := -1, -1
	for i, v := range transitModel {
		if v != 0 {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first >= 0 {
		if err := vline(p, obs.Time[first], p.Y.Min, p.Y.Max, colorAccent, true); err != nil {
			return nil, err
		}
		if err := vline(p, obs.Time[last], p.Y.Min, p.Y.Max, colorAccent, true); err != nil {
			return nil, err
		}
	}

	if err := addMeridianFlip(p, obs, p.Y.Min, p.Y.Max); err != nil {
		return nil, err
	}
	return p, nil
}

// Comparison renders the target light curve stacked above the first n
// comparison-star light curves, each labeled with its star index.
func Comparison(obs *photometry.Observation, n int) (*plot.Plot, error) {
	if !obs.HasAperture() {
		return nil, photometry.ErrNoAperture
	}
	idxs := []int{obs.TargetIndex}
	for i, c := range obs.Comparison {
		if i >= n {
			break
		}
		idxs = append(idxs, c)
	}

	p := plot.New()
	p.Title.Text = "Comparison stars"
	p.X.Label.Text = obs.TimeFormat.ColumnName()
	p.Y.Label.Text = "diff. flux"

	const offset = 0.04
	labels := plotter.XYLabels{}
	for i, star := range idxs {
		lc := obs.DiffFluxes[obs.Aperture][star]
		shifted := make([]float64, len(lc))
		for j := range lc {
			shifted[j] = lc[j] - float64(i)*offset
		}
		s, err := scatter(obs.Time, shifted, colorGrey)
		if err != nil {
			return nil, err
		}
		p.Add(s)
		labels.XYs = append(labels.XYs, plotter.XY{
			X: floats.Min(obs.Time) + 0.005,
			Y: 1 - float64(i)*offset + offset/3,
		})
		labels.Labels = append(labels.Labels, fmt.Sprintf("%d", star))
	}
	lbl, err := plotter.NewLabels(labels)
	if err != nil {
		return nil, err
	}
	p.Add(lbl)

	p.Y.Min = 1 - (float64(len(idxs)-1)+0.5)*offset
	p.Y.Max = 1.02
	if err := addMeridianFlip(p, obs, p.Y.Min, p.Y.Max); err != nil {
		return nil, err
	}
	return p, nil
}

// RawFlux renders the target's normalized raw flux against the artificial
// comparison light curve.
func RawFlux(obs *photometry.Observation) (*plot.Plot, error) {
	raw, err := obs.RawFlux(obs.TargetIndex)
	if err != nil {
		return nil, err
	}
	mean := stat.Mean(raw, nil)
	norm := make([]float64, len(raw))
	for i := range raw {
		norm[i] = raw[i] / mean
	}

	p := plot.New()
	p.X.Label.Text = obs.TimeFormat.ColumnName()
	p.Y.Label.Text = "norm. flux"

	tl, err := line(obs.Time, norm, colorArtificial, false)
	if err != nil {
		return nil, err
	}
	p.Add(tl)
	p.Legend.Add("target", tl)

	if obs.ALC != nil {
		al, err := line(obs.Time, obs.ALC[obs.Aperture], colorTarget, false)
		if err != nil {
			return nil, err
		}
		p.Add(al)
		p.Legend.Add("artificial", al)
	}

	yMin := floats.Min(norm) * 0.99
	yMax := floats.Max(norm) * 1.01
	if err := addMeridianFlip(p, obs, yMin, yMax); err != nil {
		return nil, err
	}
	return p, nil
}

// Systematics renders the differential light curve above the sigma-clipped,
// rescaled auxiliary series (dx, dy, fwhm, airmass, sky), each offset
// downward and labeled.
func Systematics(obs *photometry.Observation) (*plot.Plot, error) {
	flux, err := obs.DiffFlux()
	if err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = "Systematics"
	p.X.Label.Text = obs.TimeFormat.ColumnName()
	p.Y.Label.Text = "diff. flux"

	s, err := scatter(obs.Time, flux, colorTarget)
	if err != nil {
		return nil, err
	}
	p.Add(s)

	fluxStd := popStd(flux)
	const offset = 0.04
	fields := []struct {
		name   string
		series []float64
	}{
		{"dx", obs.DX},
		{"dy", obs.DY},
		{"fwhm", obs.FWHM},
		{"airmass", obs.Airmass},
		{"sky", obs.Sky},
	}

	labels := plotter.XYLabels{}
	for i, f := range fields {
		scaled := sigmaClipRescale(f.series, fluxStd)
		for j := range scaled {
			scaled[j] += 1 - float64(i+1)*offset
		}
		sc, err := scatter(obs.Time, scaled, colorGrey)
		if err != nil {
			return nil, err
		}
		p.Add(sc)
		labels.XYs = append(labels.XYs, plotter.XY{
			X: floats.Min(obs.Time) + 0.005,
			Y: 1 - float64(i+1)*offset + offset/3,
		})
		labels.Labels = append(labels.Labels, f.name)
	}
	lbl, err := plotter.NewLabels(labels)
	if err != nil {
		return nil, err
	}
	p.Add(lbl)

	p.Y.Min = 1 - (float64(len(fields))+1.5)*offset
	p.Y.Max = 1.02
	if err := addMeridianFlip(p, obs, p.Y.Min, p.Y.Max); err != nil {
		return nil, err
	}
	return p, nil
}

// Precision renders the empirical binned-rms inverse SNR per star against
// the photon, background and CCD-equation noise floors, on log axes.
func Precision(sample *photometry.PrecisionSample) (*plot.Plot, error) {
	if sample.Len() == 0 {
		return nil, fmt.Errorf("empty precision sample")
	}

	logFlux := make([]float64, sample.Len())
	for i, f := range sample.MeanFlux {
		logFlux[i] = math.Log(f)
	}

	p := plot.New()
	p.Title.Text = "Photometric precision (raw fluxes)"
	p.X.Label.Text = "log(ADU)"
	p.Y.Label.Text = "1/SNR"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	emp, err := scatter(logFlux, sample.InvSNR, colorArtificial)
	if err != nil {
		return nil, err
	}
	photon, err := line(logFlux, sample.PhotonNoise, colorGrey, true)
	if err != nil {
		return nil, err
	}
	bkg, err := line(logFlux, sample.BackgroundNoise, colorGrey, false)
	if err != nil {
		return nil, err
	}
	ccd, err := line(logFlux, sample.CCDEquation, colorTarget, false)
	if err != nil {
		return nil, err
	}
	p.Add(emp, photon, bkg, ccd)
	p.Legend.Add(fmt.Sprintf("flux rms (%.1f min bins)", sample.BinWidth*24*60), emp)
	p.Legend.Add("photon noise", photon)
	p.Legend.Add("background noise", bkg)
	p.Legend.Add("CCD equation", ccd)

	p.Y.Min = 0.5 * quantile(sample.InvSNR, 0.02)
	p.Y.Max = 1.5 * quantile(sample.InvSNR, 0.98)
	p.X.Min = floats.Min(logFlux)
	p.X.Max = floats.Max(logFlux)
	return p, nil
}

// PSFProfile renders the radial profile of the target star on the stack
// image with the photometric aperture and sky annulus marked.
func PSFProfile(obs *photometry.Observation, n float64) (*plot.Plot, error) {
	if obs.Stack == nil {
		return nil, photometry.ErrNoStack
	}
	radius, err := obs.ApertureRadius()
	if err != nil {
		return nil, err
	}

	center := obs.Stars[obs.TargetIndex]
	radii, values := obs.Stack.RadialProfile(center, n/math.Sqrt2)

	p := plot.New()
	p.X.Label.Text = "distance from center (pixels)"
	p.Y.Label.Text = "ADUs"

	pts, err := scatter(radii, values, colorFaint)
	if err != nil {
		return nil, err
	}
	binR, binV := binProfile(radii, values, 1.0)
	prof, err := line(binR, binV, colorArtificial, false)
	if err != nil {
		return nil, err
	}
	p.Add(pts, prof)

	// Sky annulus bounds default to FWHM multiples on products that predate
	// explicit annulus series.
	rin := obs.MeanFWHM() * 5
	rout := obs.MeanFWHM() * 8
	if obs.AnnulusRin != nil {
		rin = *obs.AnnulusRin
	}
	if obs.AnnulusRout != nil {
		rout = *obs.AnnulusRout
	}

	yMin := floats.Min(values)
	yMax := floats.Max(values)
	for _, x := range []float64{radius, rin, rout} {
		if err := vline(p, x, yMin, yMax, colorFaint, false); err != nil {
			return nil, err
		}
	}
	p.Legend.Add("aperture", prof)
	p.X.Min = 0
	return p, nil
}

// binProfile averages values into unit-width radius bins.
func binProfile(radii, values []float64, width float64) ([]float64, []float64) {
	if len(radii) == 0 {
		return nil, nil
	}
	maxR := radii[len(radii)-1]
	nBin := int(maxR/width) + 1
	sums := make([]float64, nBin)
	counts := make([]float64, nBin)
	for i, r := range radii {
		b := int(r / width)
		sums[b] += values[i]
		counts[b]++
	}
	var outR, outV []float64
	for b := 0; b < nBin; b++ {
		if counts[b] == 0 {
			continue
		}
		outR = append(outR, (float64(b)+0.5)*width)
		outV = append(outV, sums[b]/counts[b])
	}
	return outR, outV
}

// sigmaClipRescale clips 3-sigma outliers, then rescales the series to zero
// median and a standard deviation matching the flux scatter.
func sigmaClipRescale(series []float64, fluxStd float64) []float64 {
	clipped := append([]float64(nil), series...)
	for iter := 0; iter < 3; iter++ {
		med := quantile(clipped, 0.5)
		std := popStd(clipped)
		if std == 0 {
			break
		}
		kept := clipped[:0]
		for _, v := range clipped {
			if math.Abs(v-med) <= 3*std {
				kept = append(kept, v)
			}
		}
		clipped = kept
	}
	med := quantile(clipped, 0.5)
	std := popStd(clipped)
	out := make([]float64, len(series))
	if std == 0 {
		return out
	}
	for i, v := range series {
		out[i] = (v - med) / std * fluxStd
	}
	return out
}

func popStd(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := stat.Mean(values, nil)
	var sse float64
	for _, v := range values {
		d := v - mean
		sse += d * d
	}
	return math.Sqrt(sse / float64(len(values)))
}

func quantile(values []float64, q float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	return stat.Quantile(q, stat.Empirical, s, nil)
}
