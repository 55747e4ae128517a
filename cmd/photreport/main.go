package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gonum.org/v1/plot/vg"

	"photreport/pkg/exofop"
	"photreport/pkg/figure"
	"photreport/pkg/photometry"
	"photreport/pkg/report"
)

// exofopConfig holds the upload credentials, read from EXOFOP_USERNAME and
// EXOFOP_PASSWORD.
type exofopConfig struct {
	Username string `required:"true"`
	Password string `required:"true"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("photreport", flag.ContinueOnError)
	var (
		stackPath   = fs.String("stack", "", "stack FITS image path")
		out         = fs.String("out", "", "report destination folder (default: product denominator)")
		shape       = fs.String("shape", "gaussian", "PSF profile to fit: gaussian or moffat")
		noBJD       = fs.Bool("no-bjd", false, "skip the barycentric time correction")
		t0          = fs.Float64("t0", 0, "transit mid-point, same time scale as the product")
		duration    = fs.Float64("duration", 0, "transit duration in days")
		modelPath   = fs.String("model", "", "trend/transit model file, two columns per epoch")
		bins        = fs.Float64("bins", photometry.DefaultPrecisionBins, "precision estimator bin width in days")
		precision   = fs.Bool("precision", false, "render the precision figure")
		mcmc        = fs.Bool("mcmc", false, "write the MCMC input table")
		compile     = fs.Bool("compile", false, "compile the report with pdflatex")
		upload      = fs.Bool("upload", false, "upload summary and figures to ExoFOP")
		skipSummary = fs.Bool("skip-summary", false, "skip the observation summary upload")
		skipFiles   = fs.Bool("skip-files", false, "skip the figure uploads")
		tagNumber   = fs.Int("tag", 1, "ExoFOP submission tag number")
		transCov    = fs.String("transcov", "", "transit coverage: full, ingress or egress")
		deltaMag    = fs.Float64("deltamag", 0, "delta magnitude of faintest cleared neighbor")
		notes       = fs.String("notes", "", "public submission notes")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: photreport [flags] <product.json>")
	}

	obs, err := photometry.LoadProduct(fs.Arg(0))
	if err != nil {
		return err
	}
	slog.Info("loaded product", "target", obs.Target.Name,
		"stars", obs.NStars(), "images", len(obs.Time))

	if *stackPath != "" {
		if err := obs.AttachStack(*stackPath); err != nil {
			return err
		}
		defer obs.Stack.Close()
	}

	if !*noBJD && obs.TimeFormat == photometry.JDUTC {
		obs.ComputeBJD()
		slog.Info("applied barycentric correction")
	}

	if obs.Stack != nil {
		if err := summarizePSF(obs, *shape); err != nil {
			return err
		}
	}

	rep := report.New(obs)
	if *modelPath != "" {
		rep.Trend, rep.Transit, err = loadModel(*modelPath, len(obs.Time))
		if err != nil {
			return err
		}
	}

	destination := *out
	if destination == "" {
		destination = obs.ProductsDenominator()
	}
	var pt0, pduration *float64
	if *t0 != 0 && *duration != 0 {
		pt0, pduration = t0, duration
	}
	if err := rep.Make(destination, pt0, pduration); err != nil {
		return err
	}

	if *precision {
		if err := makePrecisionFigure(obs, *bins, destination); err != nil {
			return err
		}
	}
	if *mcmc {
		if err := obs.SaveMCMC(destination); err != nil {
			return err
		}
	}
	if *compile {
		if err := rep.Compile(); err != nil {
			var cerr *report.CompileError
			if errors.As(err, &cerr) {
				os.Stderr.Write(cerr.Output)
			}
			return err
		}
	}
	if *upload {
		return uploadReport(obs, rep, exofop.SummaryOptions{
			TagNumber: *tagNumber,
			TransCov:  *transCov,
			DeltaMag:  *deltaMag,
			Notes:     *notes,
		}, *skipSummary, *skipFiles)
	}
	return nil
}

func summarizePSF(obs *photometry.Observation, shape string) error {
	var fitShape photometry.FitShape
	switch shape {
	case "gaussian":
		fitShape = photometry.ShapeGaussian
	case "moffat":
		fitShape = photometry.ShapeMoffat
	default:
		return fmt.Errorf("unknown PSF shape %q", shape)
	}

	fit, err := obs.Stack.FitPSF(obs.Stars[obs.TargetIndex], 21, fitShape)
	if err != nil {
		return fmt.Errorf("PSF fit: %w", err)
	}
	slog.Info("target PSF",
		"shape", fitShape.String(),
		"fwhm_x", fmt.Sprintf("%.2f", fit.FWHMX),
		"fwhm_y", fmt.Sprintf("%.2f", fit.FWHMY),
		"ellipticity", fmt.Sprintf("%.3f", fit.Ellipticity))
	return nil
}

func makePrecisionFigure(obs *photometry.Observation, bins float64, destination string) error {
	sample, err := obs.EstimatePrecision(bins, -1)
	if err != nil {
		return err
	}

	if raw, err := obs.RawFlux(obs.TargetIndex); err == nil {
		radius, _ := obs.ApertureRadius()
		meanFlux := mean(raw)
		predicted := obs.Telescope.CCDEquation(meanFlux, mean(obs.Sky), math.Pi*radius*radius)
		slog.Info("target precision",
			"predicted_inv_snr", fmt.Sprintf("%.5f", predicted),
			"bin_minutes", fmt.Sprintf("%.1f", bins*24*60))
	}
	p, err := figure.Precision(sample)
	if err != nil {
		return err
	}
	path := filepath.Join(destination, "figures", figure.KindPrecision.Filename())
	return figure.Save(p, path, 6*vg.Inch, 4*vg.Inch)
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// loadModel reads a two-column trend/transit file, one row per epoch.
func loadModel(path string, n int) (trend, transit []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening model file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, nil, fmt.Errorf("model file: want 2 columns, got %d", len(fields))
		}
		tr, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("model file trend value: %w", err)
		}
		tn, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("model file transit value: %w", err)
		}
		trend = append(trend, tr)
		transit = append(transit, tn)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if len(trend) != n {
		return nil, nil, fmt.Errorf("model file has %d rows, product has %d epochs", len(trend), n)
	}
	return trend, transit, nil
}

func uploadReport(obs *photometry.Observation, rep *report.Report, opts exofop.SummaryOptions, skipSummary, skipFiles bool) error {
	var cfg exofopConfig
	if err := envconfig.Process("exofop", &cfg); err != nil {
		return fmt.Errorf("upload credentials: %w", err)
	}
	opts.Username = cfg.Username

	summary, err := exofop.NewSummary(obs, opts)
	if err != nil {
		return err
	}

	ctx := context.Background()
	client := exofop.NewClient(cfg.Username, cfg.Password)
	if err := client.Login(ctx); err != nil {
		return err
	}
	if !skipSummary {
		if err := client.UploadSummary(ctx, summary); err != nil {
			return err
		}
		slog.Info("observation summary uploaded",
			"email_title", exofop.EmailTitle(obs))
	} else {
		slog.Info("skipped observation summary upload")
	}
	if skipFiles {
		slog.Info("skipped figure uploads")
		return nil
	}
	return client.UploadFigures(ctx, rep.Figures(), summary)
}
