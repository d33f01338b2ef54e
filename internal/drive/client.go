// Package drive reads files from a publicly shared Google Drive folder using
// an API key.
package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/agripay/internal/remote"
)

// File is one entry of a folder listing.
type File struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size,string"`
	ModifiedTime time.Time `json:"modifiedTime"`
}

// IsGeoTIFF reports whether the file looks like a GeoTIFF by name or type.
func (f File) IsGeoTIFF() bool {
	name := strings.ToLower(f.Name)
	return strings.HasSuffix(name, ".tif") || strings.HasSuffix(name, ".tiff") || f.MimeType == "image/tiff"
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string, client *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

func (c *Client) Configured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// List returns the files directly inside folderID.
func (c *Client) List(ctx context.Context, folderID string) ([]File, error) {
	if !c.Configured() {
		return nil, remote.ErrNotConfigured
	}
	q := url.Values{
		"q":      {fmt.Sprintf("'%s' in parents", strings.ReplaceAll(folderID, "'", `\'`))},
		"key":    {c.apiKey},
		"fields": {"files(id,name,mimeType,size,modifiedTime)"},
	}
	req, err := remote.NewJSONRequest(ctx, http.MethodGet, c.baseURL+"/files?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Files []File `json:"files"`
	}
	if err := remote.Do(c.client, req, &out); err != nil {
		return nil, fmt.Errorf("list drive folder: %w", err)
	}
	return out.Files, nil
}

// Download streams the content of fileID. The caller closes the reader.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if !c.Configured() {
		return nil, remote.ErrNotConfigured
	}
	q := url.Values{"alt": {"media"}, "key": {c.apiKey}}
	u := c.baseURL + "/files/" + url.PathEscape(fileID) + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download drive file: %w", remote.Classify(err))
	}
	if err := remote.CheckStatus(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("download drive file: %w", err)
	}
	return resp.Body, nil
}
