package exofop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photreport/pkg/figure"
	"photreport/pkg/photometry"
)

func testObservation(t *testing.T) *photometry.Observation {
	t.Helper()
	n := 60
	times := make([]float64, n)
	aux := make([]float64, n)
	flux := make([]float64, n)
	ferr := make([]float64, n)
	for i := range times {
		times[i] = 2459640.5 + 0.1*float64(i)/float64(n-1)
		aux[i] = 4.0
		flux[i] = 10000
		ferr[i] = 100
	}
	obs := &photometry.Observation{
		Time:          times,
		Fluxes:        [][][]float64{{flux}},
		Errors:        [][][]float64{{ferr}},
		DiffFluxes:    [][][]float64{{flux}},
		DiffErrors:    [][][]float64{{ferr}},
		DX:            aux,
		DY:            aux,
		FWHM:          aux,
		Sky:           aux,
		Airmass:       aux,
		ExpTime:       aux,
		Stars:         []photometry.Point2d{{X: 10, Y: 10}},
		Aperture:      0,
		ApertureRadii: []float64{8.25},
		Target: photometry.Target{
			TICID:  "1234",
			Name:   "TOI-1234",
			TOI:    "1234.01",
			Planet: "01",
		},
		Telescope: photometry.TelescopeFromName("artemis"),
		Filter:    "I+z",
		Date:      time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, obs.Validate())
	return obs
}

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("karen", "secret")
	c.BaseURL = srv.URL
	return c
}

func TestEmailTitle(t *testing.T) {
	obs := testObservation(t)
	assert.Equal(t,
		"TIC 1234.01 (TOI-1234) on UT2022.03.01 from Artemis in I+z",
		EmailTitle(obs))
}

func TestNewSummary(t *testing.T) {
	obs := testObservation(t)
	s, err := NewSummary(obs, SummaryOptions{Username: "karen", TagNumber: 2})
	require.NoError(t, err)

	assert.Equal(t, "TOI1234.01", s.Planet)
	assert.Equal(t, "Artemis", s.Tel)
	assert.Equal(t, "1", s.TelSize)
	assert.Equal(t, "Andor iKon-L", s.Camera)
	assert.Equal(t, "0.35", s.PixScale)
	assert.Equal(t, "1.40", s.PSF)
	assert.Equal(t, "8.2", s.PhotApRad)
	assert.Equal(t, "2022-03-01", s.ObsDate)
	assert.Equal(t, "144", s.ObsDur)
	assert.Equal(t, "60", s.ObsNum)
	assert.Equal(t, "Continuous", s.ObsType)
	assert.Equal(t, "Out of Transit", s.TransCov)
	assert.Equal(t, "", s.DeltaMag)
	assert.Equal(t, "20220301_karen_Artemis_2", s.Tag)
	assert.Equal(t, "1234", s.TIC)
}

func TestNewSummaryTransitCoverage(t *testing.T) {
	obs := testObservation(t)
	for in, want := range map[string]string{
		"full": "Full", "Full": "Full", "ingress": "Ingress",
		"EGRESS": "Egress", "partial": "Out of Transit", "": "Out of Transit",
	} {
		s, err := NewSummary(obs, SummaryOptions{Username: "karen", TransCov: in})
		require.NoError(t, err)
		assert.Equal(t, want, s.TransCov, "transcov %q", in)
	}
}

func TestLogin(t *testing.T) {
	var form map[string]string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tess/password_check.php", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
	}))

	require.NoError(t, c.Login(context.Background()))
	assert.Equal(t, map[string]string{
		"username": "karen",
		"password": "secret",
		"ref":      "login_user",
		"ref_page": "/tess/",
	}, form)
}

func TestLoginRejected(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	err := c.Login(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusForbidden, authErr.Status)
}

func TestUploadSummary(t *testing.T) {
	obs := testObservation(t)
	summary, err := NewSummary(obs, SummaryOptions{Username: "karen", TagNumber: 1, Notes: "deep"})
	require.NoError(t, err)

	var form map[string]string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tess/insert_tseries.php", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
	}))

	require.NoError(t, c.UploadSummary(context.Background(), summary))

	for _, field := range []string{
		"planet", "tel", "telsize", "camera", "filter", "pixscale", "psf",
		"photaprad", "obsdate", "obsdur", "obsnum", "obstype", "transcov",
		"deltamag", "tag", "groupname", "notes", "id",
	} {
		assert.Contains(t, form, field)
	}
	assert.Equal(t, "tfopwg", form["groupname"])
	assert.Equal(t, "deep", form["notes"])
	assert.Equal(t, "TOI1234.01", form["planet"])
}

func TestUploadSummaryFailure(t *testing.T) {
	obs := testObservation(t)
	summary, err := NewSummary(obs, SummaryOptions{Username: "karen"})
	require.NoError(t, err)

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	var uploadErr *UploadError
	assert.ErrorAs(t, c.UploadSummary(context.Background(), summary), &uploadErr)
}

type uploadedFile struct {
	name        string
	description string
	tag         string
}

func fileServer(t *testing.T, uploads *[]uploadedFile) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tess/insert_file.php", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))

		fh := r.MultipartForm.File["file_name"]
		require.Len(t, fh, 1)
		assert.Equal(t, "Light_Curve", r.PostFormValue("file_type"))
		assert.Equal(t, "tfopwg", r.PostFormValue("groupname"))
		assert.Equal(t, "on", r.PostFormValue("propflag"))
		*uploads = append(*uploads, uploadedFile{
			name:        fh[0].Filename,
			description: r.PostFormValue("file_desc"),
			tag:         r.PostFormValue("file_tag"),
		})
	})
}

func TestUploadFolderSkipsUnknownFiles(t *testing.T) {
	obs := testObservation(t)
	summary, err := NewSummary(obs, SummaryOptions{Username: "karen", TagNumber: 1})
	require.NoError(t, err)

	dir := t.TempDir()
	files := []string{
		"TIC1234_lightcurve.png",
		"stars.png",
		"psf.png",
		// Adversarial names: substring matches off the suffix position.
		"lightcurve.png.bak",
		"stars.png.old",
		"README.txt",
		// Recognized kind but no upload description.
		"raw.png",
	}
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("png"), 0o644))
	}

	var uploads []uploadedFile
	c := testClient(t, fileServer(t, &uploads))
	require.NoError(t, c.UploadFolder(context.Background(), dir, summary))

	got := map[string]string{}
	for _, u := range uploads {
		got[u.name] = u.description
		assert.Equal(t, summary.Tag, u.tag)
	}
	assert.Equal(t, map[string]string{
		"TIC1234_lightcurve.png": "Light curve plot target star",
		"stars.png":              "Field Image with Apertures",
		"psf.png":                "Seeing profile",
	}, got)
}

func TestUploadFigures(t *testing.T) {
	obs := testObservation(t)
	summary, err := NewSummary(obs, SummaryOptions{Username: "karen", TagNumber: 1})
	require.NoError(t, err)

	dir := t.TempDir()
	paths := map[string]string{}
	for _, name := range []string{"systematics.png", "comparison.png", "precision.png"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("png"), 0o644))
		paths[name] = p
	}

	var uploads []uploadedFile
	c := testClient(t, fileServer(t, &uploads))

	err = c.UploadFigures(context.Background(), mapKinds(t, paths), summary)
	require.NoError(t, err)

	got := map[string]string{}
	for _, u := range uploads {
		got[u.name] = u.description
	}
	assert.Equal(t, map[string]string{
		"systematics.png": "AstroImageJ Photometry Aperture File",
		"comparison.png":  "Light curve plot comparison stars",
	}, got)
}

func mapKinds(t *testing.T, paths map[string]string) map[figure.Kind]string {
	t.Helper()
	out := map[figure.Kind]string{}
	for name, p := range paths {
		k, ok := figure.KindFromFilename(name)
		require.True(t, ok)
		out[k] = p
	}
	return out
}
