// Package report assembles self-contained observation report folders:
// diagnostic figures, a measurement table and a rendered LaTeX document,
// optionally compiled to PDF with an external pdflatex.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"

	"photreport/pkg/figure"
	"photreport/pkg/photometry"
)

// CompileError reports a failed pdflatex invocation together with the
// tool's combined output.
type CompileError struct {
	Output []byte
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("pdflatex failed: %v", e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Report renders an observation into a report folder. It holds a reference
// to the observation and consumes only its read-only accessors.
type Report struct {
	Obs *photometry.Observation

	// Trend and Transit are optional detrending and transit model series,
	// same length as Obs.Time, overlaid on the light-curve figures when set.
	Trend   []float64
	Transit []float64

	destination string
	name        string
	figures     map[figure.Kind]string
}

// New returns a report for the given observation.
func New(obs *photometry.Observation) *Report {
	return &Report{Obs: obs}
}

// Destination returns the report folder path set by Make.
func (r *Report) Destination() string { return r.destination }

// Name returns the report name, the base name of the destination folder.
// The measurement table and the document are named after it.
func (r *Report) Name() string { return r.name }

// Figures returns the rendered figure paths keyed by kind. Valid after Make.
func (r *Report) Figures() map[figure.Kind]string {
	out := make(map[figure.Kind]string, len(r.figures))
	for k, p := range r.figures {
		out[k] = p
	}
	return out
}

// Description returns the report subtitle: date, telescope and filter.
func (r *Report) Description() string {
	return fmt.Sprintf("%s $\\cdot$ %s $\\cdot$ %s",
		r.Obs.Date.Format("2006 01 02"), r.Obs.Telescope.Name, r.Obs.Filter)
}

// MetadataTable returns the report's summary rows in their fixed order.
func (r *Report) MetadataTable() ([]Row, error) {
	radius, err := r.Obs.ApertureRadius()
	if err != nil {
		return nil, err
	}
	meanFWHM := r.Obs.MeanFWHM()
	return []Row{
		{"TIC ID", r.Obs.Target.TICID},
		{"Time", timeSpan(r.Obs.Time)},
		{"RA - DEC", fmt.Sprintf("%.5f %.5f", r.Obs.Target.RA, r.Obs.Target.Dec)},
		{"Number of images", fmt.Sprintf("%d", len(r.Obs.Time))},
		{"GAIA id", r.Obs.Target.GaiaID},
		{"Mean std · fwhm", fmt.Sprintf("%.2f $\\cdot$ %.2f pixels",
			meanFWHM/photometry.SigmaToFWHM, meanFWHM)},
		{"Best aperture radius", fmt.Sprintf("%.2f pixels", radius)},
		{"Telescope", r.Obs.Telescope.Name},
		{"Filter", r.Obs.Filter},
		{"Exposure time", fmt.Sprintf("%.1f s", r.Obs.MeanExpTime())},
	}, nil
}

// timeSpan formats the observation window as "HH:MM - HH:MM [XhM]" with the
// minutes part omitted when zero.
func timeSpan(t []float64) string {
	start := photometry.JDToTime(t[0])
	end := photometry.JDToTime(t[len(t)-1])
	d := end.Sub(start)
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	span := fmt.Sprintf("%dh", hours)
	if mins != 0 {
		span += fmt.Sprintf("%d", mins)
	}
	return fmt.Sprintf("%s - %s [%s]",
		start.Format("15:04"), end.Format("15:04"), span)
}

// Make produces the report folder at destination: the figures directory,
// every diagnostic figure, the measurement table, the style asset and the
// rendered document. Steps run in a fixed order and the first failure
// aborts the assembly.
func (r *Report) Make(destination string, t0, duration *float64) error {
	if err := r.Obs.Validate(); err != nil {
		return err
	}
	if !r.Obs.HasAperture() {
		return photometry.ErrNoAperture
	}
	if r.Obs.Stack == nil {
		return photometry.ErrNoStack
	}

	abs, err := filepath.Abs(destination)
	if err != nil {
		return err
	}
	r.destination = destination
	r.name = filepath.Base(abs)
	figuresDir := filepath.Join(destination, "figures")
	if err := os.MkdirAll(figuresDir, 0o755); err != nil {
		return fmt.Errorf("creating report folder: %w", err)
	}
	r.figures = make(map[figure.Kind]string)

	if err := r.makeFigures(figuresDir, t0, duration); err != nil {
		return err
	}

	measurements := filepath.Join(destination, r.name+".txt")
	if err := WriteMeasurements(r.Obs, measurements); err != nil {
		return err
	}
	slog.Info("wrote measurement table", "path", measurements)

	if err := copyStyleAsset(filepath.Join(destination, "photreport.cls")); err != nil {
		return err
	}

	table, err := r.MetadataTable()
	if err != nil {
		return err
	}
	doc := filepath.Join(destination, r.name+".tex")
	f, err := os.Create(doc)
	if err != nil {
		return fmt.Errorf("creating document: %w", err)
	}
	defer f.Close()
	err = renderDocument(f, templateData{
		Target:      r.Obs.Target.Name,
		Description: r.Description(),
		Table:       table,
		SimbadURL:   r.Obs.SimbadURL(),
		HasModel:    t0 != nil && duration != nil,
	})
	if err != nil {
		return err
	}
	slog.Info("report assembled", "destination", destination)
	return nil
}

func (r *Report) makeFigures(dir string, t0, duration *float64) error {
	save := func(kind figure.Kind, p *plot.Plot, err error, w, h vg.Length) error {
		if err != nil {
			return fmt.Errorf("rendering %s: %w", kind.Filename(), err)
		}
		path := filepath.Join(dir, kind.Filename())
		if err := figure.Save(p, path, w, h); err != nil {
			return err
		}
		r.figures[kind] = path
		slog.Info("rendered figure", "path", path)
		return nil
	}

	p, err := figure.PSFProfile(r.Obs, 40)
	if err := save(figure.KindPSF, p, err, 9*vg.Inch, 4*vg.Inch); err != nil {
		return err
	}
	p, err = figure.Comparison(r.Obs, len(r.Obs.Comparison))
	if err := save(figure.KindComparison, p, err, 6*vg.Inch, 8*vg.Inch); err != nil {
		return err
	}
	p, err = figure.RawFlux(r.Obs)
	if err := save(figure.KindRaw, p, err, 6*vg.Inch, 4*vg.Inch); err != nil {
		return err
	}
	p, err = figure.Systematics(r.Obs)
	if err := save(figure.KindSystematics, p, err, 6*vg.Inch, 8*vg.Inch); err != nil {
		return err
	}

	starsPath := filepath.Join(dir, figure.KindStars.Filename())
	if err := figure.StarField(r.Obs, starsPath); err != nil {
		return fmt.Errorf("rendering %s: %w", figure.KindStars.Filename(), err)
	}
	r.figures[figure.KindStars] = starsPath
	slog.Info("rendered figure", "path", starsPath)

	p, err = figure.LightCurve(r.Obs, r.Trend, r.Transit)
	if err := save(figure.KindLightCurve, p, err, 6*vg.Inch, 5*vg.Inch); err != nil {
		return err
	}

	if t0 != nil && duration != nil {
		if r.Trend == nil || r.Transit == nil {
			return fmt.Errorf("model figure requires trend and transit series")
		}
		p, err = figure.LightCurveModel(r.Obs, r.Trend, r.Transit, *t0, *duration)
		if err := save(figure.KindModel, p, err, 6*vg.Inch, 5*vg.Inch); err != nil {
			return err
		}
	}
	return nil
}

// Compile runs pdflatex on the rendered document. The report must have
// been assembled with Make first.
func (r *Report) Compile() error {
	if r.destination == "" {
		return fmt.Errorf("report has not been assembled")
	}
	cmd := exec.Command("pdflatex", "-interaction=nonstopmode", r.name+".tex")
	cmd.Dir = r.destination
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &CompileError{Output: out, Err: err}
	}
	slog.Info("compiled report", "pdf", filepath.Join(r.destination, r.name+".pdf"))
	return nil
}
