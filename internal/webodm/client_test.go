package webodm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/agripay/internal/webodm"
	"github.com/kiranshivaraju/agripay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestTask_StatusLabel(t *testing.T) {
	tests := []struct {
		status *int
		want   string
	}{
		{nil, models.ProcessingStatusQueued},
		{intp(webodm.StatusQueued), models.ProcessingStatusQueued},
		{intp(webodm.StatusRunning), models.ProcessingStatusProcessing},
		{intp(webodm.StatusFailed), models.ProcessingStatusFailed},
		{intp(webodm.StatusCompleted), models.ProcessingStatusCompleted},
		{intp(webodm.StatusCanceled), models.ProcessingStatusFailed},
	}
	for _, tt := range tests {
		task := &webodm.Task{Status: tt.status}
		assert.Equal(t, tt.want, task.StatusLabel())
	}
}

func TestTask_Progress(t *testing.T) {
	assert.Equal(t, 0, (&webodm.Task{RunningProgress: -0.2}).Progress())
	assert.Equal(t, 42, (&webodm.Task{RunningProgress: 0.42}).Progress())
	assert.Equal(t, 100, (&webodm.Task{RunningProgress: 1.5}).Progress())
}

func newServer(t *testing.T, logins *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token-auth/" {
			logins.Add(1)
			var creds map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			if creds["password"] != "secret" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"token":"tok-1"}`))
			return
		}
		if r.Header.Get("Authorization") != "JWT tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/api/projects/" && r.Method == http.MethodPost:
			w.Write([]byte(`{"id":7}`))
		case r.URL.Path == "/api/projects/7/tasks/" && r.Method == http.MethodPost:
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Len(t, r.MultipartForm.File["images"], 3)
			w.Write([]byte(`{"id":"task-abc"}`))
		case r.URL.Path == "/api/projects/7/tasks/task-abc/":
			w.Write([]byte(`{"id":"task-abc","project":7,"status":20,"running_progress":0.5}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ProjectTaskFlow(t *testing.T) {
	var logins atomic.Int32
	srv := newServer(t, &logins)
	c := webodm.NewClient(srv.URL, "admin", "secret", srv.Client(), time.Second)
	ctx := context.Background()

	projectID, err := c.CreateProject(ctx, "Farm 1", "")
	require.NoError(t, err)
	assert.Equal(t, 7, projectID)

	images := []webodm.Image{
		{Name: "a.jpg", Data: strings.NewReader("a")},
		{Name: "b.jpg", Data: strings.NewReader("b")},
		{Name: "c.jpg", Data: strings.NewReader("c")},
	}
	taskID, err := c.CreateTask(ctx, projectID, "flight", images)
	require.NoError(t, err)
	assert.Equal(t, "task-abc", taskID)

	task, err := c.TaskStatus(ctx, projectID, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingStatusProcessing, task.StatusLabel())
	assert.Equal(t, 50, task.Progress())

	assert.Equal(t, int32(1), logins.Load(), "token is reused")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestClient_CreateTaskStreamsForm(t *testing.T) {
	var contentLength atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token-auth/" {
			w.Write([]byte(`{"token":"tok-1"}`))
			return
		}
		contentLength.Store(r.ContentLength)
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"id":"task-x"}`))
	}))
	t.Cleanup(srv.Close)
	c := webodm.NewClient(srv.URL, "admin", "secret", srv.Client(), 5*time.Second)

	id, err := c.CreateTask(context.Background(), 7, "flight", []webodm.Image{
		{Name: "a.jpg", Data: strings.NewReader("a")},
	})
	require.NoError(t, err)
	assert.Equal(t, "task-x", id)
	assert.Equal(t, int64(-1), contentLength.Load(), "body is streamed, not buffered")

	_, err = c.CreateTask(context.Background(), 7, "flight", []webodm.Image{
		{Name: "a.jpg", Data: strings.NewReader("a")},
		{Name: "b.jpg", Data: failingReader{}},
	})
	assert.Error(t, err)
}

func TestClient_BadCredentials(t *testing.T) {
	var logins atomic.Int32
	srv := newServer(t, &logins)
	c := webodm.NewClient(srv.URL, "admin", "wrong", srv.Client(), time.Second)

	_, err := c.CreateProject(context.Background(), "Farm 1", "")
	assert.ErrorIs(t, err, webodm.ErrUnauthorized)
}

func TestClient_Outputs(t *testing.T) {
	c := webodm.NewClient("http://odm:8000/", "", "", http.DefaultClient, time.Second)
	out := c.Outputs(7, "task-abc")

	assert.Equal(t, "http://odm:8000/api/projects/7/tasks/task-abc/download/orthophoto.tif", out.Orthophoto)
	assert.Equal(t, "http://odm:8000/api/projects/7/tasks/task-abc/orthophoto/tiles/{z}/{x}/{y}.png", out.Tiles)
}

func TestClient_HealthNotConfigured(t *testing.T) {
	c := webodm.NewClient("", "", "", http.DefaultClient, time.Second)
	assert.False(t, c.Health(context.Background()))
}
