// Package compute is the client for the ML compute server that runs plant
// counting and milestone verification jobs.
package compute

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// Client is the interface for the compute server.
type Client interface {
	// Upload sends an image and starts the default analysis on it.
	Upload(ctx context.Context, filename string, image io.Reader) (*Submission, error)
	// AnalyzeByFilename starts an analysis of an image already in the shared imagery store.
	AnalyzeByFilename(ctx context.Context, filename, modelID string) (*Submission, error)
	JobStatus(ctx context.Context, jobID string) (*models.Job, error)
	DownloadResult(ctx context.Context, jobID, assetType string) (*Asset, error)
	VerifyMilestone(ctx context.Context, milestoneID string) (*models.Verification, error)
	Health(ctx context.Context) bool
}

// Submission is the acknowledgement of a newly queued job.
type Submission struct {
	JobID    string           `json:"job_id"`
	Status   models.JobStatus `json:"status"`
	Progress int              `json:"progress"`
	Message  string           `json:"message"`
}

// Asset is a downloaded result image.
type Asset struct {
	ContentType string
	Data        []byte
}

// HTTPClient implements Client over the compute server's HTTP API.
type HTTPClient struct {
	baseURL       string
	client        *http.Client
	healthTimeout time.Duration
	verifier      *verificationSchema
}

// NewHTTPClient creates a compute client. client carries the uniform
// per-request timeout; healthTimeout bounds Health.
func NewHTTPClient(baseURL string, client *http.Client, healthTimeout time.Duration) (*HTTPClient, error) {
	schema, err := compileVerificationSchema()
	if err != nil {
		return nil, err
	}
	return &HTTPClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        client,
		healthTimeout: healthTimeout,
		verifier:      schema,
	}, nil
}

func (c *HTTPClient) Upload(ctx context.Context, filename string, image io.Reader) (*Submission, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var sub Submission
	if err := remote.Do(c.client, req, &sub); err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if err := validSubmission(&sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *HTTPClient) AnalyzeByFilename(ctx context.Context, filename, modelID string) (*Submission, error) {
	if modelID == "" {
		modelID = models.DefaultModelID
	}
	req, err := remote.NewJSONRequest(ctx, http.MethodPost, c.baseURL+"/api/v1/analyze/plant-count",
		map[string]string{"filename": filename, "model_id": modelID})
	if err != nil {
		return nil, err
	}

	var sub Submission
	if err := remote.Do(c.client, req, &sub); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", filename, err)
	}
	if err := validSubmission(&sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *HTTPClient) JobStatus(ctx context.Context, jobID string) (*models.Job, error) {
	req, err := remote.NewJSONRequest(ctx, http.MethodGet, c.baseURL+"/status/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}

	var job models.Job
	if err := remote.Do(c.client, req, &job); err != nil {
		return nil, fmt.Errorf("job status: %w", err)
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return &job, nil
}

func (c *HTTPClient) DownloadResult(ctx context.Context, jobID, assetType string) (*Asset, error) {
	if !models.ValidAssetType(assetType) {
		return nil, fmt.Errorf("unknown result type %q", assetType)
	}
	u := fmt.Sprintf("%s/download/%s/%s", c.baseURL, url.PathEscape(jobID), assetType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download result: %w", remote.Classify(err))
	}
	defer resp.Body.Close()

	if err := remote.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("download result: %w", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download result: %w", remote.Classify(err))
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &Asset{ContentType: ct, Data: data}, nil
}

// VerifyMilestone runs multi-source verification for a crop-cycle milestone.
// Responses that do not match the verification schema are rejected.
func (c *HTTPClient) VerifyMilestone(ctx context.Context, milestoneID string) (*models.Verification, error) {
	req, err := remote.NewJSONRequest(ctx, http.MethodPost, c.baseURL+"/api/v1/verify-milestone",
		map[string]string{"milestone_id": milestoneID})
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify milestone: %w", remote.Classify(err))
	}
	defer resp.Body.Close()

	if err := remote.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("verify milestone: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("verify milestone: %w", remote.Classify(err))
	}
	return c.verifier.decode(body)
}

// Health reports whether the compute server answers its docs endpoint.
func (c *HTTPClient) Health(ctx context.Context) bool {
	return remote.Ping(ctx, c.client, c.baseURL+"/docs", c.healthTimeout)
}

func validSubmission(s *Submission) error {
	if s.JobID == "" {
		return fmt.Errorf("%w: response has no job_id", remote.ErrRequestFailed)
	}
	return nil
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
