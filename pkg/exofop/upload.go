// Package exofop submits observation summaries and report figures to the
// ExoFOP-TESS archive using its session-cookie form endpoints.
package exofop

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"photreport/pkg/figure"
	"photreport/pkg/photometry"
)

// DefaultBaseURL is the production ExoFOP endpoint.
const DefaultBaseURL = "https://exofop.ipac.caltech.edu"

const (
	loginPath   = "/tess/password_check.php"
	summaryPath = "/tess/insert_tseries.php"
	filePath    = "/tess/insert_file.php"
)

// AuthError reports a failed login.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exofop login failed: %v", e.Err)
	}
	return fmt.Sprintf("exofop login failed: status %d", e.Status)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UploadError reports a failed summary or file submission. File is empty
// for the summary record.
type UploadError struct {
	File   string
	Status int
	Err    error
}

func (e *UploadError) Error() string {
	what := "summary"
	if e.File != "" {
		what = e.File
	}
	if e.Err != nil {
		return fmt.Sprintf("exofop upload of %s failed: %v", what, e.Err)
	}
	return fmt.Sprintf("exofop upload of %s failed: status %d", what, e.Status)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Client is an authenticated ExoFOP session.
type Client struct {
	BaseURL  string
	Username string
	Password string

	http *http.Client
}

// NewClient returns a client for the production endpoint. BaseURL can be
// overridden before the first call.
func NewClient(username, password string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		BaseURL:  DefaultBaseURL,
		Username: username,
		Password: password,
		http:     &http.Client{Jar: jar},
	}
}

// Login authenticates the session. Must be called before any upload.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{
		"username": {c.Username},
		"password": {c.Password},
		"ref":      {"login_user"},
		"ref_page": {"/tess/"},
	}
	resp, err := c.postForm(ctx, loginPath, form)
	if err != nil {
		return &AuthError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &AuthError{Status: resp.StatusCode}
	}
	slog.Info("exofop login ok", "username", c.Username)
	return nil
}

// Summary is the observation summary record submitted to the time-series
// table. Field values follow the archive's form contract.
type Summary struct {
	Planet    string
	Tel       string
	TelSize   string
	Camera    string
	Filter    string
	PixScale  string
	PSF       string
	PhotApRad string
	ObsDate   string
	ObsDur    string
	ObsNum    string
	ObsType   string
	TransCov  string
	DeltaMag  string
	Tag       string
	Notes     string
	TIC       string
}

// SummaryOptions carries the per-submission inputs that do not come from
// the observation itself.
type SummaryOptions struct {
	Username string
	// TagNumber disambiguates multiple submissions of the same night.
	TagNumber int
	// TransCov is the transit coverage: full, ingress or egress. Anything
	// else is submitted as "Out of Transit".
	TransCov string
	// DeltaMag of the faintest cleared neighbor. Zero is submitted blank.
	DeltaMag float64
	Notes    string
}

// NewSummary derives the summary record from an observation.
func NewSummary(obs *photometry.Observation, opts SummaryOptions) (*Summary, error) {
	radius, err := obs.ApertureRadius()
	if err != nil {
		return nil, err
	}

	var transcov string
	switch strings.ToLower(opts.TransCov) {
	case "full":
		transcov = "Full"
	case "ingress":
		transcov = "Ingress"
	case "egress":
		transcov = "Egress"
	default:
		transcov = "Out of Transit"
	}
	var deltamag string
	if opts.DeltaMag != 0 {
		deltamag = fmt.Sprintf("%g", opts.DeltaMag)
	}

	tel := obs.Telescope
	durationMin := math.Round(math.Abs(obs.Time[len(obs.Time)-1]-obs.Time[0]) * 24 * 60)
	return &Summary{
		Planet:    "TOI" + obs.Target.TOI,
		Tel:       tel.Name,
		TelSize:   fmt.Sprintf("%g", tel.Diameter/100),
		Camera:    tel.CameraName,
		Filter:    obs.Filter,
		PixScale:  fmt.Sprintf("%g", tel.PixelScale),
		PSF:       fmt.Sprintf("%.2f", obs.MeanFWHM()*tel.PixelScale),
		PhotApRad: fmt.Sprintf("%.1f", radius),
		ObsDate:   obs.Date.Format("2006-01-02"),
		ObsDur:    fmt.Sprintf("%.0f", durationMin),
		ObsNum:    fmt.Sprintf("%d", len(obs.Time)),
		ObsType:   "Continuous",
		TransCov:  transcov,
		DeltaMag:  deltamag,
		Tag: fmt.Sprintf("%s_%s_%s_%d",
			obs.Date.Format("20060102"), opts.Username, tel.Name, opts.TagNumber),
		Notes: opts.Notes,
		TIC:   obs.Target.TICID,
	}, nil
}

// EmailTitle returns the submission title the archive notification mail
// carries.
func EmailTitle(obs *photometry.Observation) string {
	return fmt.Sprintf("TIC %s.%s (%s) on UT%s from %s in %s",
		obs.Target.TICID, obs.Target.Planet, obs.Target.Name,
		obs.Date.Format("2006.01.02"), obs.Telescope.Name, obs.Filter)
}

func (s *Summary) form() url.Values {
	return url.Values{
		"planet":    {s.Planet},
		"tel":       {s.Tel},
		"telsize":   {s.TelSize},
		"camera":    {s.Camera},
		"filter":    {s.Filter},
		"pixscale":  {s.PixScale},
		"psf":       {s.PSF},
		"photaprad": {s.PhotApRad},
		"obsdate":   {s.ObsDate},
		"obsdur":    {s.ObsDur},
		"obsnum":    {s.ObsNum},
		"obstype":   {s.ObsType},
		"transcov":  {s.TransCov},
		"deltamag":  {s.DeltaMag},
		"tag":       {s.Tag},
		"groupname": {"tfopwg"},
		"notes":     {s.Notes},
		"id":        {s.TIC},
	}
}

// UploadSummary submits the observation summary record.
func (c *Client) UploadSummary(ctx context.Context, s *Summary) error {
	resp, err := c.postForm(ctx, summaryPath, s.form())
	if err != nil {
		return &UploadError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &UploadError{Status: resp.StatusCode}
	}
	slog.Info("uploaded observation summary", "tag", s.Tag)
	return nil
}

// UploadFigures submits report figures carrying their kind as metadata.
// Kinds without a registered description are skipped and logged.
func (c *Client) UploadFigures(ctx context.Context, figures map[figure.Kind]string, s *Summary) error {
	kinds := make([]figure.Kind, 0, len(figures))
	for k := range figures {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, kind := range kinds {
		path := figures[kind]
		desc, ok := kind.UploadDescription()
		if !ok {
			slog.Info("skipping figure without upload description", "file", filepath.Base(path))
			continue
		}
		if err := c.uploadFile(ctx, path, desc, s); err != nil {
			return err
		}
	}
	return nil
}

// UploadFolder scans a figures directory and submits every file whose name
// maps to a known figure kind. Unrecognized files are skipped and logged,
// never uploaded.
func (c *Client) UploadFolder(ctx context.Context, dir string, s *Summary) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading figures folder: %w", err)
	}

	figures := make(map[figure.Kind]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		kind, ok := figure.KindFromFilename(e.Name())
		if !ok {
			slog.Info("skipping unrecognized file", "file", e.Name())
			continue
		}
		figures[kind] = filepath.Join(dir, e.Name())
	}
	return c.UploadFigures(ctx, figures, s)
}

func (c *Client) uploadFile(ctx context.Context, path, description string, s *Summary) error {
	f, err := os.Open(path)
	if err != nil {
		return &UploadError{File: filepath.Base(path), Err: err}
	}
	defer f.Close()

	var body strings.Builder
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file_name", filepath.Base(path))
	if err != nil {
		return &UploadError{File: filepath.Base(path), Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return &UploadError{File: filepath.Base(path), Err: err}
	}
	fields := map[string]string{
		"file_type": "Light_Curve",
		"planet":    s.Planet,
		"file_desc": description,
		"file_tag":  s.Tag,
		"groupname": "tfopwg",
		"propflag":  "on",
		"id":        s.TIC,
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return &UploadError{File: filepath.Base(path), Err: err}
		}
	}
	if err := w.Close(); err != nil {
		return &UploadError{File: filepath.Base(path), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+filePath, strings.NewReader(body.String()))
	if err != nil {
		return &UploadError{File: filepath.Base(path), Err: err}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return &UploadError{File: filepath.Base(path), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &UploadError{File: filepath.Base(path), Status: resp.StatusCode}
	}
	slog.Info("uploaded figure", "file", filepath.Base(path), "description", description)
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.http.Do(req)
}
