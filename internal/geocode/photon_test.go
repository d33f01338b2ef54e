package geocode_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kiranshivaraju/agripay/internal/geocode"
	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const photonBody = `{
  "features": [
    {"geometry": {"coordinates": [75.85, 30.90]},
     "properties": {"osm_id": 101, "name": "Ludhiana", "county": "Ludhiana District", "state": "Punjab", "country": "India", "type": "city"}},
    {"geometry": {"coordinates": [75.80]},
     "properties": {"osm_id": 102, "name": "broken"}},
    {"geometry": {"coordinates": [76.77, 30.73]},
     "properties": {"osm_id": 103, "name": "Sector 17", "city": "Chandigarh", "state": "Chandigarh", "country": "India", "type": "district"}}
  ]
}`

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/", r.URL.Path)
		assert.Equal(t, "ludh", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		w.Write([]byte(photonBody))
	}))
	defer srv.Close()

	c := geocode.NewClient(srv.URL, srv.Client())
	got, err := c.Search(context.Background(), "  ludh ")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(101), got[0].ID)
	assert.Equal(t, "Ludhiana District", got[0].City, "county stands in for a missing city")
	assert.Equal(t, 30.90, got[0].Lat)
	assert.Equal(t, 75.85, got[0].Lng)
	assert.Equal(t, "Chandigarh", got[1].City)
}

func TestSearch_ShortQuerySkipsRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := geocode.NewClient(srv.URL, srv.Client())
	for _, q := range []string{"", "ab", "  ab  ", "日本"} {
		got, err := c.Search(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NotNil(t, got)
	}
	assert.Zero(t, calls.Load())
}

func TestSearch_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := geocode.NewClient(srv.URL, srv.Client()).Search(context.Background(), "Amritsar")
	assert.ErrorIs(t, err, remote.ErrRequestFailed)
}
