// Package agro is the client for the AgroMonitoring API: weather, soil and
// satellite vegetation data for a registered field polygon.
package agro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// HistoryWindow is how far back NDVI history and image searches reach.
const HistoryWindow = 90 * 24 * time.Hour

var ErrInvalidPolygon = errors.New("polygon needs at least 3 points")

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

func NewClient(baseURL, apiKey string, client *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		now:     time.Now,
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// Forecast returns the 5-day weather forecast over the polygon.
func (c *Client) Forecast(ctx context.Context, polygonID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/weather/forecast", polygonID, nil)
}

// Weather returns current weather over the polygon.
func (c *Client) Weather(ctx context.Context, polygonID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/weather", polygonID, nil)
}

// Soil returns current soil temperature and moisture.
func (c *Client) Soil(ctx context.Context, polygonID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/soil", polygonID, nil)
}

// UVI returns the current UV index.
func (c *Client) UVI(ctx context.Context, polygonID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/uvi", polygonID, nil)
}

// NDVIHistory returns NDVI statistics of past satellite passes. New
// polygons have none for the first day or two.
func (c *Client) NDVIHistory(ctx context.Context, polygonID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/ndvi/history", polygonID, c.window())
}

// SearchImages lists satellite scenes covering the polygon.
func (c *Client) SearchImages(ctx context.Context, polygonID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/image/search", polygonID, c.window())
}

func (c *Client) window() url.Values {
	end := c.now().UTC()
	return url.Values{
		"start": {strconv.FormatInt(end.Add(-HistoryWindow).Unix(), 10)},
		"end":   {strconv.FormatInt(end.Unix(), 10)},
	}
}

// Polygon is a field registered with AgroMonitoring.
type Polygon struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Area    float64 `json:"area"`
	GeoJSON struct {
		Geometry struct {
			Coordinates [][]models.Coordinate `json:"coordinates"`
		} `json:"geometry"`
	} `json:"geo_json"`
}

// Ring returns the outer boundary as [lng, lat] pairs.
func (p *Polygon) Ring() []models.Coordinate {
	if len(p.GeoJSON.Geometry.Coordinates) == 0 {
		return nil
	}
	return p.GeoJSON.Geometry.Coordinates[0]
}

// GetPolygon returns a registered polygon.
func (c *Client) GetPolygon(ctx context.Context, polygonID string) (*Polygon, error) {
	if !c.Configured() {
		return nil, remote.ErrNotConfigured
	}
	req, err := remote.NewJSONRequest(ctx, http.MethodGet, c.url("/polygons/"+url.PathEscape(polygonID), nil), nil)
	if err != nil {
		return nil, err
	}
	var p Polygon
	if err := remote.Do(c.client, req, &p); err != nil {
		return nil, fmt.Errorf("get polygon: %w", err)
	}
	return &p, nil
}

// RegisterPolygon registers a field boundary given as [lat, lng] points and
// returns its polygon id. The ring is closed if needed.
func (c *Client) RegisterPolygon(ctx context.Context, name string, latLngs [][2]float64) (string, error) {
	if !c.Configured() {
		return "", remote.ErrNotConfigured
	}
	if len(latLngs) < 3 {
		return "", ErrInvalidPolygon
	}

	ring := make([]models.Coordinate, 0, len(latLngs)+1)
	for _, p := range latLngs {
		ring = append(ring, models.Coordinate{p[1], p[0]})
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}

	body := map[string]any{
		"name": name,
		"geo_json": map[string]any{
			"type":       "Feature",
			"properties": map[string]any{},
			"geometry": map[string]any{
				"type":        "Polygon",
				"coordinates": [][]models.Coordinate{ring},
			},
		},
	}
	req, err := remote.NewJSONRequest(ctx, http.MethodPost, c.url("/polygons", nil), body)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := remote.Do(c.client, req, &out); err != nil {
		return "", fmt.Errorf("register polygon: %w", err)
	}
	return out.ID, nil
}

func (c *Client) getRaw(ctx context.Context, path, polygonID string, extra url.Values) (json.RawMessage, error) {
	if !c.Configured() {
		return nil, remote.ErrNotConfigured
	}
	q := url.Values{"polyid": {polygonID}}
	for k, v := range extra {
		q[k] = v
	}
	req, err := remote.NewJSONRequest(ctx, http.MethodGet, c.url(path, q), nil)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := remote.Do(c.client, req, &out); err != nil {
		return nil, fmt.Errorf("agro %s: %w", strings.TrimPrefix(path, "/"), err)
	}
	return out, nil
}

func (c *Client) url(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("appid", c.apiKey)
	return c.baseURL + path + "?" + q.Encode()
}
