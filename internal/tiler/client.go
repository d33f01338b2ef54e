// Package tiler is the client for the TiTiler cloud-optimized GeoTIFF server.
// Tile and preview URLs are built locally; metadata endpoints are fetched
// fresh on every call.
package tiler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/agripay/internal/remote"
)

// DefaultPreviewSize is the preview max_size used when none is given.
const DefaultPreviewSize = 512

// LocalResource returns the resource URL of a file in the tile server's
// mounted imagery directory.
func LocalResource(filename string) string {
	return "file:///data/" + strings.TrimLeft(filename, "/")
}

// Options style a rendered raster.
type Options struct {
	Bidx         []int    `json:"bidx,omitempty"`
	Expression   string   `json:"expression,omitempty"`
	ColormapName string   `json:"colormap_name,omitempty"`
	Rescale      string   `json:"rescale,omitempty"`
	NoData       *float64 `json:"nodata,omitempty"`
	MaxSize      int      `json:"max_size,omitempty"`
}

func (o Options) apply(q url.Values) {
	for _, b := range o.Bidx {
		q.Add("bidx", strconv.Itoa(b))
	}
	if o.Expression != "" {
		q.Set("expression", o.Expression)
	}
	if o.ColormapName != "" {
		q.Set("colormap_name", o.ColormapName)
	}
	if o.Rescale != "" {
		q.Set("rescale", o.Rescale)
	}
	if o.NoData != nil {
		q.Set("nodata", strconv.FormatFloat(*o.NoData, 'f', -1, 64))
	}
}

// Client talks to one TiTiler deployment.
type Client struct {
	baseURL       string
	client        *http.Client
	healthTimeout time.Duration
}

// NewClient creates a tiler client. An empty baseURL yields a client whose
// Health is always false.
func NewClient(baseURL string, client *http.Client, healthTimeout time.Duration) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        client,
		healthTimeout: healthTimeout,
	}
}

// Configured reports whether a tile server URL was supplied.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// TileURL returns an XYZ template URL with literal {z}/{x}/{y} placeholders.
func (c *Client) TileURL(resource string, o Options) string {
	q := url.Values{"url": {resource}}
	o.apply(q)
	return c.baseURL + "/cog/tiles/{z}/{x}/{y}?" + q.Encode()
}

// PreviewURL returns a single-image preview URL.
func (c *Client) PreviewURL(resource string, o Options) string {
	size := o.MaxSize
	if size <= 0 {
		size = DefaultPreviewSize
	}
	q := url.Values{"url": {resource}, "max_size": {strconv.Itoa(size)}}
	o.apply(q)
	return c.baseURL + "/cog/preview?" + q.Encode()
}

// Bounds returns [minx, miny, maxx, maxy] of the raster.
func (c *Client) Bounds(ctx context.Context, resource string) ([]float64, error) {
	var out struct {
		Bounds []float64 `json:"bounds"`
	}
	if err := c.get(ctx, "/cog/bounds", resource, &out); err != nil {
		return nil, fmt.Errorf("get bounds: %w", err)
	}
	if len(out.Bounds) != 4 {
		return nil, fmt.Errorf("get bounds: %w: expected 4 values, got %d", remote.ErrRequestFailed, len(out.Bounds))
	}
	return out.Bounds, nil
}

// Info returns raster metadata (CRS, dimensions, bands).
func (c *Client) Info(ctx context.Context, resource string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.get(ctx, "/cog/info", resource, &out); err != nil {
		return nil, fmt.Errorf("get info: %w", err)
	}
	return out, nil
}

// Statistics returns per-band min, max, mean and std.
func (c *Client) Statistics(ctx context.Context, resource string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.get(ctx, "/cog/statistics", resource, &out); err != nil {
		return nil, fmt.Errorf("get statistics: %w", err)
	}
	return out, nil
}

// Point returns the band values at a coordinate.
func (c *Client) Point(ctx context.Context, resource string, lat, lon float64) (json.RawMessage, error) {
	path := fmt.Sprintf("/cog/point/%s,%s",
		strconv.FormatFloat(lon, 'f', -1, 64), strconv.FormatFloat(lat, 'f', -1, 64))
	var out json.RawMessage
	if err := c.get(ctx, path, resource, &out); err != nil {
		return nil, fmt.Errorf("get point value: %w", err)
	}
	return out, nil
}

// Health reports whether the tile server answers /healthz within the
// health timeout. Any failure, including no configured server, is false.
func (c *Client) Health(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}
	return remote.Ping(ctx, c.client, c.baseURL+"/healthz", c.healthTimeout)
}

func (c *Client) get(ctx context.Context, path, resource string, out any) error {
	if !c.Configured() {
		return remote.ErrNotConfigured
	}
	u := c.baseURL + path + "?" + url.Values{"url": {resource}}.Encode()
	req, err := remote.NewJSONRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return remote.Do(c.client, req, out)
}
