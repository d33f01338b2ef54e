package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/kiranshivaraju/agripay/internal/api/response"
	"github.com/kiranshivaraju/agripay/internal/tiler"
)

// Tiler is the tile server client as the handlers use it.
type Tiler interface {
	TileURL(resource string, o tiler.Options) string
	PreviewURL(resource string, o tiler.Options) string
	Bounds(ctx context.Context, resource string) ([]float64, error)
	Info(ctx context.Context, resource string) (json.RawMessage, error)
	Statistics(ctx context.Context, resource string) (json.RawMessage, error)
	Point(ctx context.Context, resource string, lat, lon float64) (json.RawMessage, error)
}

// tilerQuery reads the raster and its styling from the query string. The
// raster is either a full resource URL ("url") or a file in the tile
// server's imagery directory ("filename"). A layer_type applies its preset
// under any explicit options.
func tilerQuery(q url.Values) (string, tiler.Options, string) {
	resource := q.Get("url")
	if resource == "" {
		if name := q.Get("filename"); name != "" {
			resource = tiler.LocalResource(name)
		}
	}
	if resource == "" {
		return "", tiler.Options{}, "url or filename is required"
	}

	var o tiler.Options
	for _, b := range q["bidx"] {
		n, err := strconv.Atoi(b)
		if err != nil || n < 1 {
			return "", o, "bidx must be positive integers"
		}
		o.Bidx = append(o.Bidx, n)
	}
	o.Expression = q.Get("expression")
	o.ColormapName = q.Get("colormap_name")
	o.Rescale = q.Get("rescale")
	if v := q.Get("nodata"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return "", o, "nodata must be a number"
		}
		o.NoData = &f
	}
	if v := q.Get("max_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return "", o, "max_size must be a positive integer"
		}
		o.MaxSize = n
	}
	if p, ok := tiler.PresetFor(q.Get("layer_type")); ok {
		o = p.Merge(o)
	}
	return resource, o, ""
}

// NewTilerHandler returns GET /api/v1/tiler/{op}. URL ops are built
// locally; metadata ops are fetched from the tile server.
func NewTilerHandler(t Tiler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		resource, opts, problem := tilerQuery(q)
		if problem != "" {
			invalid(w, problem)
			return
		}

		var (
			data any
			err  error
		)
		switch op := urlParam(r, "op"); op {
		case "tile-url":
			data = map[string]string{"url": t.TileURL(resource, opts)}
		case "preview-url":
			data = map[string]string{"url": t.PreviewURL(resource, opts)}
		case "bounds":
			var b []float64
			b, err = t.Bounds(r.Context(), resource)
			data = map[string][]float64{"bounds": b}
		case "info":
			data, err = t.Info(r.Context(), resource)
		case "statistics":
			data, err = t.Statistics(r.Context(), resource)
		case "point":
			lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
			lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
			if latErr != nil || lonErr != nil {
				invalid(w, "lat and lon are required numbers")
				return
			}
			data, err = t.Point(r.Context(), resource, lat, lon)
		default:
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown tiler operation "+strconv.Quote(op), nil)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, data)
	}
}
