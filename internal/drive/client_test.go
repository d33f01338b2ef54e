package drive_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/agripay/internal/drive"
	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAndDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k-123", r.URL.Query().Get("key"))
		switch r.URL.Path {
		case "/files":
			assert.Equal(t, "'folder-9' in parents", r.URL.Query().Get("q"))
			assert.Equal(t, "files(id,name,mimeType,size,modifiedTime)", r.URL.Query().Get("fields"))
			w.Write([]byte(`{"files":[
				{"id":"f1","name":"farm_20240312_ndvi.TIF","mimeType":"application/octet-stream","size":"2048","modifiedTime":"2024-03-12T10:00:00Z"},
				{"id":"f2","name":"notes.txt","mimeType":"text/plain","size":"10","modifiedTime":"2024-03-12T10:00:00Z"},
				{"id":"f3","name":"scan","mimeType":"image/tiff","size":"99","modifiedTime":"2024-03-12T10:00:00Z"}
			]}`))
		case "/files/f1":
			assert.Equal(t, "media", r.URL.Query().Get("alt"))
			w.Write([]byte("tiff"))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"File not found"}`))
		}
	}))
	defer srv.Close()

	c := drive.NewClient(srv.URL, "k-123", srv.Client())
	files, err := c.List(context.Background(), "folder-9")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, int64(2048), files[0].Size)
	assert.True(t, files[0].IsGeoTIFF())
	assert.False(t, files[1].IsGeoTIFF())
	assert.True(t, files[2].IsGeoTIFF())

	rc, err := c.Download(context.Background(), "f1")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "tiff", string(body))

	_, err = c.Download(context.Background(), "missing")
	assert.ErrorIs(t, err, remote.ErrRequestFailed)
	assert.Contains(t, err.Error(), "File not found")
}

func TestNotConfigured(t *testing.T) {
	c := drive.NewClient("https://www.googleapis.com/drive/v3", "", http.DefaultClient)
	_, err := c.List(context.Background(), "folder")
	assert.ErrorIs(t, err, remote.ErrNotConfigured)
}
