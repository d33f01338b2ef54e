package tiler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/internal/tiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileURL_UsesPresetAndKeepsPlaceholders(t *testing.T) {
	c := tiler.NewClient("http://tiles:8000/", http.DefaultClient, time.Second)
	p, ok := tiler.PresetFor("ndvi")
	require.True(t, ok)

	raw := c.TileURL(tiler.LocalResource("farm1/farm1_20240312_ndvi.tif"), p.Options)
	require.True(t, strings.HasPrefix(raw, "http://tiles:8000/cog/tiles/{z}/{x}/{y}?"), raw)

	q, err := url.ParseQuery(raw[strings.Index(raw, "?")+1:])
	require.NoError(t, err)
	assert.Equal(t, "file:///data/farm1/farm1_20240312_ndvi.tif", q.Get("url"))
	assert.Equal(t, "rdylgn", q.Get("colormap_name"))
	assert.Equal(t, "-1,1", q.Get("rescale"))
	assert.Empty(t, q["bidx"])
}

func TestPreviewURL_DefaultSizeAndBands(t *testing.T) {
	c := tiler.NewClient("http://tiles:8000", http.DefaultClient, time.Second)
	p, _ := tiler.PresetFor("rgb")

	raw := c.PreviewURL("https://cdn.example.com/f.tif", p.Options)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/cog/preview", u.Path)
	assert.Equal(t, "512", u.Query().Get("max_size"))
	assert.Equal(t, []string{"1", "2", "3"}, u.Query()["bidx"])
}

func TestPreset_Merge(t *testing.T) {
	p, _ := tiler.PresetFor("thermal")
	nodata := 0.0
	got := p.Merge(tiler.Options{Rescale: "10,50", NoData: &nodata, MaxSize: 800})

	assert.Equal(t, "inferno", got.ColormapName)
	assert.Equal(t, "10,50", got.Rescale)
	assert.Equal(t, 800, got.MaxSize)
	require.NotNil(t, got.NoData)

	_, ok := tiler.PresetFor("gndvi")
	assert.False(t, ok)
}

func TestBoundsInfoStatisticsPoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "file:///data/a.tif", r.URL.Query().Get("url"))
		switch r.URL.Path {
		case "/cog/bounds":
			w.Write([]byte(`{"bounds":[77.1,28.6,77.2,28.7]}`))
		case "/cog/info":
			w.Write([]byte(`{"crs":"EPSG:4326","count":5}`))
		case "/cog/statistics":
			w.Write([]byte(`{"b1":{"min":0,"max":1,"mean":0.4}}`))
		case "/cog/point/77.15,28.65":
			w.Write([]byte(`{"coordinates":[77.15,28.65],"values":[0.1,0.2]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := tiler.NewClient(srv.URL, srv.Client(), time.Second)
	ctx := context.Background()
	res := tiler.LocalResource("a.tif")

	bounds, err := c.Bounds(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, []float64{77.1, 28.6, 77.2, 28.7}, bounds)

	info, err := c.Info(ctx, res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"crs":"EPSG:4326","count":5}`, string(info))

	stats, err := c.Statistics(ctx, res)
	require.NoError(t, err)
	assert.Contains(t, string(stats), "mean")

	point, err := c.Point(ctx, res, 28.65, 77.15)
	require.NoError(t, err)
	assert.Contains(t, string(point), "values")
}

func TestBounds_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := tiler.NewClient(srv.URL, srv.Client(), time.Second)
	_, err := c.Bounds(context.Background(), tiler.LocalResource("missing.tif"))
	assert.ErrorIs(t, err, remote.ErrRequestFailed)
}

func TestNotConfigured(t *testing.T) {
	c := tiler.NewClient("", http.DefaultClient, time.Second)

	assert.False(t, c.Configured())
	assert.False(t, c.Health(context.Background()))
	_, err := c.Info(context.Background(), "x")
	assert.ErrorIs(t, err, remote.ErrNotConfigured)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.Write([]byte(`{"versions":{}}`))
	}))
	defer srv.Close()

	assert.True(t, tiler.NewClient(srv.URL, srv.Client(), time.Second).Health(context.Background()))
}

func TestHealth_UnreachableHostIsFalseWithinTimeout(t *testing.T) {
	c := tiler.NewClient("http://192.0.2.1:8000", &http.Client{}, 200*time.Millisecond)

	start := time.Now()
	assert.False(t, c.Health(context.Background()))
	assert.Less(t, time.Since(start), 3*time.Second)
}
