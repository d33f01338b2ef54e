package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/agripay/internal/api/middleware"
	"github.com/kiranshivaraju/agripay/internal/api/response"
	"github.com/kiranshivaraju/agripay/internal/overview"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// Geocoder resolves place names.
type Geocoder interface {
	Search(ctx context.Context, query string) ([]models.Location, error)
}

// NewGeocodeHandler returns GET /api/v1/geocode/search?q=.
func NewGeocodeHandler(g Geocoder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locs, err := g.Search(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.List(w, locs)
	}
}

// Overviews assembles farm overviews.
type Overviews interface {
	Get(ctx context.Context, req overview.Request) *overview.Overview
}

// NewOverviewHandler returns GET /api/v1/farms/{farmID}/overview. The
// polygon and boundary come from the farm; ?polygon_id= overrides the
// polygon. Sections fail independently, so the response is always 200.
func NewOverviewHandler(svc Overviews) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := uuidParam(w, r, "farmID"); !ok {
			return
		}
		var req overview.Request
		if f, ok := middleware.FarmFrom(r); ok {
			req.Boundary = f.Boundary
			if f.AgroPolygonID != nil {
				req.PolygonID = *f.AgroPolygonID
			}
		}
		if id := r.URL.Query().Get("polygon_id"); id != "" {
			req.PolygonID = id
		}
		if req.PolygonID == "" && len(req.Boundary) == 0 {
			invalid(w, "Farm has no registered boundary; pass polygon_id")
			return
		}
		response.JSON(w, svc.Get(r.Context(), req))
	}
}
