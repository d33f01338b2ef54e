package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/agripay/internal/api/response"
	"github.com/kiranshivaraju/agripay/internal/health"
)

// Pinger is anything with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthSnapshot exposes the last results of the periodic upstream checks.
type HealthSnapshot interface {
	Snapshot() map[string]health.Status
}

// NewHealthHandler returns GET /api/v1/health. The database and cache are
// pinged on every call and decide the status code; upstream checks are
// reported as last seen.
func NewHealthHandler(db, cache Pinger, upstreams HealthSnapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		var last map[string]health.Status
		if upstreams != nil {
			last = upstreams.Snapshot()
			for name, st := range last {
				switch {
				case st.CheckedAt.IsZero():
					checks[name] = "unknown"
				case st.Healthy:
					checks[name] = "ok"
				default:
					checks[name] = "down"
				}
			}
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":    "ok",
			"services":  checks,
			"upstreams": last,
		})
	}
}
