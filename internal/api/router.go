package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/kiranshivaraju/agripay/internal/api/middleware"
	"github.com/kiranshivaraju/agripay/internal/api/response"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
// A nil handler marks a feature whose upstream is not configured.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Ownership *mw.Ownership

	HealthHandler http.HandlerFunc

	CreateFarm http.HandlerFunc
	ListFarms  http.HandlerFunc
	GetFarm    http.HandlerFunc

	ListFlights     http.HandlerFunc
	UploadLayer     http.HandlerFunc
	ImportDrive     http.HandlerFunc
	DeleteLayer     http.HandlerFunc
	Overview        http.HandlerFunc
	RegisterPolygon http.HandlerFunc
	ResultsExport   http.HandlerFunc

	StartProcessing      http.HandlerFunc
	ListProcessingJobs   http.HandlerFunc
	GetFarmPlantCount    http.HandlerFunc
	UploadPlantCount     http.HandlerFunc
	CancelFarmPlantCount http.HandlerFunc

	GetFlightPlantCount    http.HandlerFunc
	AnalyzeFlight          http.HandlerFunc
	CancelFlightPlantCount http.HandlerFunc

	JobSnapshot http.HandlerFunc
	JobImage    http.HandlerFunc

	Tiler           http.HandlerFunc
	Geocode         http.HandlerFunc
	VerifyMilestone http.HandlerFunc
	CreateKey       http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orDisabled(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/farms", orDisabled(deps.ListFarms))
		r.With(deps.Auth.RequireRole(models.RoleFarmer)).
			Post("/api/v1/farms", orDisabled(deps.CreateFarm))

		r.Route("/api/v1/farms/{farmID}", func(r chi.Router) {
			r.Use(deps.Ownership.Farm)

			r.Get("/", orDisabled(deps.GetFarm))
			r.Get("/flights", orDisabled(deps.ListFlights))
			r.Get("/overview", orDisabled(deps.Overview))
			r.Get("/processing-jobs", orDisabled(deps.ListProcessingJobs))
			r.Get("/results.xlsx", orDisabled(deps.ResultsExport))
			r.Get("/plant-count", orDisabled(deps.GetFarmPlantCount))

			r.Group(func(r chi.Router) {
				r.Use(deps.Auth.RequireRole(models.RoleFarmer))

				r.Post("/imagery", orDisabled(deps.UploadLayer))
				r.Post("/imagery/import", orDisabled(deps.ImportDrive))
				r.Delete("/imagery/{layerID}", orDisabled(deps.DeleteLayer))
				r.Post("/orthophoto", orDisabled(deps.StartProcessing))
				r.Post("/polygon", orDisabled(deps.RegisterPolygon))
				r.Post("/plant-count", orDisabled(deps.UploadPlantCount))
				r.Delete("/plant-count", orDisabled(deps.CancelFarmPlantCount))
			})
		})

		r.Route("/api/v1/flights/{flightID}", func(r chi.Router) {
			r.Use(deps.Ownership.Flight)

			r.Get("/plant-count", orDisabled(deps.GetFlightPlantCount))
			r.Post("/plant-count", orDisabled(deps.AnalyzeFlight))
			r.Delete("/plant-count", orDisabled(deps.CancelFlightPlantCount))
		})

		r.Get("/api/v1/jobs/{jobID}", orDisabled(deps.JobSnapshot))
		r.Get("/api/v1/jobs/{jobID}/images/{type}", orDisabled(deps.JobImage))

		r.Get("/api/v1/tiler/{op}", orDisabled(deps.Tiler))
		r.Get("/api/v1/geocode/search", orDisabled(deps.Geocode))

		r.With(deps.Auth.RequireRole(models.RoleVerifier)).
			Post("/api/v1/milestones/{milestoneID}/verify", orDisabled(deps.VerifyMilestone))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireRole(models.RoleAdmin))

			r.Post("/api/v1/admin/keys", orDisabled(deps.CreateKey))
		})
	})

	return r
}

// orDisabled returns the handler if non-nil, or a 503 for a feature whose
// upstream is not configured.
func orDisabled(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusServiceUnavailable, "FEATURE_DISABLED",
			"This feature is not configured on the server", nil)
	}
}
