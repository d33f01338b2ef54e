package compute_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/agripay/internal/compute"
	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h http.HandlerFunc) *compute.HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := compute.NewHTTPClient(srv.URL+"/", srv.Client(), time.Second)
	require.NoError(t, err)
	return c
}

func TestAnalyzeByFilename(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/analyze/plant-count", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "farm_20240312_rgb.tif", body["filename"])
		assert.Equal(t, "wheat_plant_counter_v1", body["model_id"])

		w.Write([]byte(`{"job_id":"job-1","status":"queued","message":"queued"}`))
	})

	sub, err := c.AnalyzeByFilename(t.Context(), "farm_20240312_rgb.tif", "")
	require.NoError(t, err)
	assert.Equal(t, "job-1", sub.JobID)
	assert.Equal(t, models.JobStatusQueued, sub.Status)
}

func TestAnalyzeByFilename_ServerError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.AnalyzeByFilename(t.Context(), "x.tif", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrRequestFailed)
}

func TestAnalyzeByFilename_MissingJobID(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"queued"}`))
	})

	_, err := c.AnalyzeByFilename(t.Context(), "x.tif", "")
	assert.ErrorIs(t, err, remote.ErrRequestFailed)
}

func TestUpload_Multipart(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "field.jpg", hdr.Filename)
		assert.Equal(t, "jpegbytes", string(data))

		w.Write([]byte(`{"job_id":"job-7","status":"uploading","progress":0}`))
	})

	sub, err := c.Upload(t.Context(), "field.jpg", strings.NewReader("jpegbytes"))
	require.NoError(t, err)
	assert.Equal(t, "job-7", sub.JobID)
}

func TestJobStatus(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status/job-1", r.URL.Path)
		w.Write([]byte(`{"job_id":"job-1","status":"completed","progress":100,"result":{"total_count":532}}`))
	})

	job, err := c.JobStatus(t.Context(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.JSONEq(t, `{"total_count":532}`, string(job.Result))
}

func TestJobStatus_FailedCarriesError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"failed","progress":50,"error":"out of memory"}`))
	})

	job, err := c.JobStatus(t.Context(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, "job-2", job.ID)
	assert.Equal(t, "out of memory", job.Error)
}

func TestDownloadResult(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/download/job-1/heatmap", r.URL.Path)
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG"))
	})

	asset, err := c.DownloadResult(t.Context(), "job-1", models.AssetHeatmap)
	require.NoError(t, err)
	assert.Equal(t, "image/png", asset.ContentType)
	assert.Equal(t, []byte("\x89PNG"), asset.Data)
}

func TestDownloadResult_UnknownType(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := c.DownloadResult(t.Context(), "job-1", "thumbnail")
	assert.Error(t, err)
}

func TestVerifyMilestone(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/verify-milestone", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ms-1", body["milestone_id"])

		w.Write([]byte(`{"status":"done","verdict":"verified","overall_confidence":0.92,"recommendation":"release","report":{"sources":3}}`))
	})

	v, err := c.VerifyMilestone(t.Context(), "ms-1")
	require.NoError(t, err)
	assert.Equal(t, "verified", v.Verdict)
	assert.InDelta(t, 0.92, v.OverallConfidence, 1e-9)
	assert.JSONEq(t, `{"sources":3}`, string(v.Report))
}

func TestVerifyMilestone_SchemaMismatch(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"done","verdict":"verified","overall_confidence":7}`))
	})

	_, err := c.VerifyMilestone(t.Context(), "ms-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrRequestFailed)
}

func TestVerifyMilestone_SurfacesDetail(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Milestone ms-404 not found"}`))
	})

	_, err := c.VerifyMilestone(t.Context(), "ms-404")
	var se *remote.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Milestone ms-404 not found", se.Detail)
}
