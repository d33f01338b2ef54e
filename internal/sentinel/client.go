// Package sentinel computes vegetation indices over a field from Sentinel-2
// imagery through the Sentinel Hub Statistical API.
package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/pkg/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// StatsWindow is how far back Stats looks for a usable scene.
	StatsWindow = 30 * 24 * time.Hour
	// DefaultHistoryDays is the span of History when none is given.
	DefaultHistoryDays = 60

	maxCloudCoverage = 30
	interval         = "P5D"
)

var (
	ErrInvalidBoundary = errors.New("boundary needs at least 3 points")
	ErrNoData          = errors.New("no cloud-free scene in range")
)

const evalscript = `//VERSION=3
function setup() {
  return {
    input: [{ bands: ["B02", "B04", "B08", "B11", "dataMask"] }],
    output: [
      { id: "ndvi", bands: 1, sampleType: "FLOAT32" },
      { id: "savi", bands: 1, sampleType: "FLOAT32" },
      { id: "moisture", bands: 1, sampleType: "FLOAT32" },
      { id: "lai", bands: 1, sampleType: "FLOAT32" },
      { id: "dataMask", bands: 1 }
    ]
  };
}
function evaluatePixel(s) {
  let ndvi = (s.B08 - s.B04) / (s.B08 + s.B04);
  let savi = 1.5 * (s.B08 - s.B04) / (s.B08 + s.B04 + 0.5);
  let moisture = (s.B08 - s.B11) / (s.B08 + s.B11);
  let evi = 2.5 * (s.B08 - s.B04) / (s.B08 + 6 * s.B04 - 7.5 * s.B02 + 1);
  let lai = 3.618 * evi - 0.118;
  return { ndvi: [ndvi], savi: [savi], moisture: [moisture], lai: [lai], dataMask: [s.dataMask] };
}`

// Client calls Sentinel Hub with an OAuth2 client-credentials token that is
// fetched and refreshed by the oauth2 transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient returns a client authenticating with clientID and secret. base
// supplies the transport and timeout for both token and API requests.
func NewClient(baseURL, clientID, clientSecret string, base *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/oauth/token",
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	hc := cfg.Client(ctx)
	hc.Timeout = base.Timeout

	return &Client{baseURL: baseURL, httpClient: hc, now: time.Now}
}

type statsRequest struct {
	Input struct {
		Bounds struct {
			Geometry   map[string]any    `json:"geometry"`
			Properties map[string]string `json:"properties"`
		} `json:"bounds"`
		Data []map[string]any `json:"data"`
	} `json:"input"`
	Aggregation struct {
		TimeRange struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"timeRange"`
		AggregationInterval struct {
			Of string `json:"of"`
		} `json:"aggregationInterval"`
		Evalscript string  `json:"evalscript"`
		ResX       float64 `json:"resx"`
		ResY       float64 `json:"resy"`
	} `json:"aggregation"`
}

type statValue struct {
	value float64
	ok    bool
}

// UnmarshalJSON accepts numbers and the "NaN" strings Sentinel Hub sends for
// fully masked intervals.
func (s *statValue) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return nil
	}
	if !math.IsNaN(f) && !math.IsInf(f, 0) {
		s.value, s.ok = f, true
	}
	return nil
}

type bandOutput struct {
	Bands struct {
		B0 struct {
			Stats struct {
				Min  statValue `json:"min"`
				Max  statValue `json:"max"`
				Mean statValue `json:"mean"`
			} `json:"stats"`
		} `json:"B0"`
	} `json:"bands"`
}

func (b *bandOutput) stats() *models.BandStats {
	if b == nil {
		return nil
	}
	s := b.Bands.B0.Stats
	if !s.Mean.ok {
		return nil
	}
	return &models.BandStats{Mean: s.Mean.value, Min: s.Min.value, Max: s.Max.value}
}

type statsResponse struct {
	Data []struct {
		Interval struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"interval"`
		Outputs struct {
			NDVI     *bandOutput `json:"ndvi"`
			SAVI     *bandOutput `json:"savi"`
			Moisture *bandOutput `json:"moisture"`
			LAI      *bandOutput `json:"lai"`
		} `json:"outputs"`
	} `json:"data"`
}

// Stats returns the indices of the most recent usable interval in the last
// 30 days.
func (c *Client) Stats(ctx context.Context, boundary []models.Coordinate) (*models.VegetationStats, error) {
	samples, err := c.query(ctx, boundary, StatsWindow)
	if err != nil {
		return nil, err
	}
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].Stats.NDVI != nil {
			return &samples[i].Stats, nil
		}
	}
	return nil, ErrNoData
}

// History returns one sample per 5-day interval over the last days days.
// Intervals without a usable scene are omitted.
func (c *Client) History(ctx context.Context, boundary []models.Coordinate, days int) ([]models.VegetationSample, error) {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	samples, err := c.query(ctx, boundary, time.Duration(days)*24*time.Hour)
	if err != nil {
		return nil, err
	}
	out := samples[:0]
	for _, s := range samples {
		if s.Stats.NDVI != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *Client) query(ctx context.Context, boundary []models.Coordinate, window time.Duration) ([]models.VegetationSample, error) {
	if len(boundary) < 3 {
		return nil, ErrInvalidBoundary
	}
	ring := append([]models.Coordinate(nil), boundary...)
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}

	var body statsRequest
	body.Input.Bounds.Geometry = map[string]any{"type": "Polygon", "coordinates": [][]models.Coordinate{ring}}
	body.Input.Bounds.Properties = map[string]string{"crs": "http://www.opengis.net/def/crs/OGC/1.3/CRS84"}
	body.Input.Data = []map[string]any{{
		"type":       "sentinel-2-l2a",
		"dataFilter": map[string]any{"maxCloudCoverage": maxCloudCoverage},
	}}
	end := c.now().UTC()
	body.Aggregation.TimeRange.From = end.Add(-window).Format(time.RFC3339)
	body.Aggregation.TimeRange.To = end.Format(time.RFC3339)
	body.Aggregation.AggregationInterval.Of = interval
	body.Aggregation.Evalscript = evalscript
	body.Aggregation.ResX = 0.0001
	body.Aggregation.ResY = 0.0001

	req, err := remote.NewJSONRequest(ctx, http.MethodPost, c.baseURL+"/api/v1/statistics", body)
	if err != nil {
		return nil, err
	}
	var resp statsResponse
	if err := remote.Do(c.httpClient, req, &resp); err != nil {
		return nil, fmt.Errorf("sentinel statistics: %w", err)
	}

	samples := make([]models.VegetationSample, 0, len(resp.Data))
	for _, d := range resp.Data {
		samples = append(samples, models.VegetationSample{
			From: d.Interval.From,
			To:   d.Interval.To,
			Stats: models.VegetationStats{
				NDVI:     d.Outputs.NDVI.stats(),
				SAVI:     d.Outputs.SAVI.stats(),
				Moisture: d.Outputs.Moisture.stats(),
				LAI:      d.Outputs.LAI.stats(),
			},
		})
	}
	return samples, nil
}
