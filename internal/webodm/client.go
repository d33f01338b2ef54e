// Package webodm is the client for a WebODM photogrammetry server, which
// stitches raw drone images into orthophotos.
package webodm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// WebODM task status codes.
const (
	StatusQueued    = 10
	StatusRunning   = 20
	StatusFailed    = 30
	StatusCompleted = 40
	StatusCanceled  = 50
)

var ErrUnauthorized = errors.New("webodm authentication failed")

// Image is one raw capture to upload.
type Image struct {
	Name string
	Data io.Reader
}

// Task is WebODM's view of a reconstruction.
type Task struct {
	ID              string  `json:"id"`
	Project         int     `json:"project"`
	Status          *int    `json:"status"`
	RunningProgress float64 `json:"running_progress"`
	ProcessingTime  int64   `json:"processing_time"`
	LastError       string  `json:"last_error"`
	ImagesCount     int     `json:"images_count"`
}

// StatusLabel maps the task status code to the gateway's processing status.
func (t *Task) StatusLabel() string {
	if t.Status == nil {
		return models.ProcessingStatusQueued
	}
	switch *t.Status {
	case StatusQueued:
		return models.ProcessingStatusQueued
	case StatusRunning:
		return models.ProcessingStatusProcessing
	case StatusCompleted:
		return models.ProcessingStatusCompleted
	case StatusFailed, StatusCanceled:
		return models.ProcessingStatusFailed
	}
	return models.ProcessingStatusProcessing
}

// Progress returns running_progress as a 0..100 percentage.
func (t *Task) Progress() int {
	p := int(t.RunningProgress * 100)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Client talks to one WebODM deployment. The JWT obtained by Login is reused
// until the server rejects it.
type Client struct {
	baseURL       string
	username      string
	password      string
	client        *http.Client
	healthTimeout time.Duration

	mu    sync.Mutex
	token string
}

func NewClient(baseURL, username, password string, client *http.Client, healthTimeout time.Duration) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		username:      username,
		password:      password,
		client:        client,
		healthTimeout: healthTimeout,
	}
}

func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Login exchanges the configured credentials for a JWT.
func (c *Client) Login(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", remote.ErrNotConfigured
	}
	req, err := remote.NewJSONRequest(ctx, http.MethodPost, c.baseURL+"/api/token-auth/",
		map[string]string{"username": c.username, "password": c.password})
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := remote.Do(c.client, req, &out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if out.Token == "" {
		return "", ErrUnauthorized
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return out.Token, nil
}

func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.Login(ctx)
}

// CreateProject creates a project and returns its id.
func (c *Client) CreateProject(ctx context.Context, name, description string) (int, error) {
	req, err := remote.NewJSONRequest(ctx, http.MethodPost, c.baseURL+"/api/projects/",
		map[string]string{"name": name, "description": description})
	if err != nil {
		return 0, err
	}
	var out struct {
		ID int `json:"id"`
	}
	if err := c.do(ctx, req, &out); err != nil {
		return 0, fmt.Errorf("create project: %w", err)
	}
	return out.ID, nil
}

// CreateTask uploads images to a new task in project and starts processing.
func (c *Client) CreateTask(ctx context.Context, projectID int, name string, images []Image) (string, error) {
	// The form is streamed so a large batch is never held in memory.
	body, form := io.Pipe()
	mw := multipart.NewWriter(form)
	go func() {
		form.CloseWithError(writeTaskForm(mw, name, images))
	}()
	defer body.Close()

	u := fmt.Sprintf("%s/api/projects/%d/tasks/", c.baseURL, projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, req, &out); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return out.ID, nil
}

func writeTaskForm(mw *multipart.Writer, name string, images []Image) error {
	for _, img := range images {
		part, err := mw.CreateFormFile("images", img.Name)
		if err != nil {
			return fmt.Errorf("building task upload: %w", err)
		}
		if _, err := io.Copy(part, img.Data); err != nil {
			return fmt.Errorf("reading %s: %w", img.Name, err)
		}
	}
	if err := mw.WriteField("name", name); err != nil {
		return err
	}
	if err := mw.WriteField("options", `[{"name":"orthophoto-resolution","value":5},{"name":"dsm","value":true}]`); err != nil {
		return err
	}
	return mw.Close()
}

// TaskStatus returns the current state of a task.
func (c *Client) TaskStatus(ctx context.Context, projectID int, taskID string) (*Task, error) {
	u := fmt.Sprintf("%s/api/projects/%d/tasks/%s/", c.baseURL, projectID, taskID)
	req, err := remote.NewJSONRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var t Task
	if err := c.do(ctx, req, &t); err != nil {
		return nil, fmt.Errorf("task status: %w", err)
	}
	return &t, nil
}

// Outputs returns where a completed task's products can be fetched.
func (c *Client) Outputs(projectID int, taskID string) models.ProcessingOutputs {
	base := fmt.Sprintf("%s/api/projects/%d/tasks/%s", c.baseURL, projectID, taskID)
	return models.ProcessingOutputs{
		Orthophoto: base + "/download/orthophoto.tif",
		Tiles:      base + "/orthophoto/tiles/{z}/{x}/{y}.png",
	}
}

// Health reports whether WebODM answers within the health timeout.
func (c *Client) Health(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}
	return remote.Ping(ctx, c.client, c.baseURL+"/api/", c.healthTimeout)
}

// do authenticates req and sends it. A 401 clears the cached token so the
// next call logs in again.
func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	token, err := c.authToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "JWT "+token)

	err = remote.Do(c.client, req, out)
	var se *remote.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return err
}
