// Package geocode searches place names through the Photon geocoder.
package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

const (
	// MinQueryLength is the shortest query that reaches the provider.
	MinQueryLength = 3
	resultLimit    = 5
)

type photonResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			OSMID   int64  `json:"osm_id"`
			Name    string `json:"name"`
			City    string `json:"city"`
			County  string `json:"county"`
			State   string `json:"state"`
			Country string `json:"country"`
			Type    string `json:"type"`
		} `json:"properties"`
	} `json:"features"`
}

// Client queries one Photon instance.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, client *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Search returns up to five ranked candidates for query. Queries shorter
// than MinQueryLength runes return an empty list without a request.
func (c *Client) Search(ctx context.Context, query string) ([]models.Location, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinQueryLength {
		return []models.Location{}, nil
	}
	if c.baseURL == "" {
		return nil, remote.ErrNotConfigured
	}

	q := url.Values{
		"q":     {query},
		"limit": {fmt.Sprint(resultLimit)},
		"lang":  {"en"},
	}
	req, err := remote.NewJSONRequest(ctx, http.MethodGet, c.baseURL+"/api/?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp photonResponse
	if err := remote.Do(c.client, req, &resp); err != nil {
		return nil, fmt.Errorf("geocode search: %w", err)
	}

	out := make([]models.Location, 0, len(resp.Features))
	for _, f := range resp.Features {
		if len(f.Geometry.Coordinates) < 2 {
			continue
		}
		p := f.Properties
		city := p.City
		if city == "" {
			city = p.County
		}
		out = append(out, models.Location{
			ID:      p.OSMID,
			Name:    p.Name,
			City:    city,
			State:   p.State,
			Country: p.Country,
			Lat:     f.Geometry.Coordinates[1],
			Lng:     f.Geometry.Coordinates[0],
			Type:    p.Type,
		})
	}
	return out, nil
}
