package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/agripay/internal/api/response"
	"github.com/kiranshivaraju/agripay/internal/store"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

const farmKey contextKey = "farm"

// FarmStore resolves farms and flights for ownership checks.
type FarmStore interface {
	GetFarm(ctx context.Context, id uuid.UUID) (*models.Farm, error)
	GetFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error)
}

// Ownership scopes farm and flight routes to the key that registered the
// farm. Admin keys reach every farm and verifier keys may read any farm.
// Anything else answers 404, which does not disclose that the farm exists.
type Ownership struct {
	store FarmStore
}

func NewOwnership(s FarmStore) *Ownership {
	return &Ownership{store: s}
}

// FarmFrom returns the farm resolved by Ownership for this request.
func FarmFrom(r *http.Request) (*models.Farm, bool) {
	f, ok := r.Context().Value(farmKey).(*models.Farm)
	return f, ok
}

// Farm guards routes carrying a {farmID} parameter.
func (o *Ownership) Farm(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "farmID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "farmID must be a UUID", nil)
			return
		}
		o.serve(w, r, next, id)
	})
}

// Flight guards routes carrying a {flightID} parameter through the farm
// the flight belongs to.
func (o *Ownership) Flight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "flightID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "flightID must be a UUID", nil)
			return
		}
		flight, err := o.store.GetFlight(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			notFound(w)
			return
		}
		if err != nil {
			internalError(w, r, err)
			return
		}
		o.serve(w, r, next, flight.FarmID)
	})
}

func (o *Ownership) serve(w http.ResponseWriter, r *http.Request, next http.Handler, farmID uuid.UUID) {
	roles := getRoles(r)
	farm, err := o.store.GetFarm(r.Context(), farmID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Flights recorded before farms were registered have no farm row.
		if slices.Contains(roles, models.RoleAdmin) {
			next.ServeHTTP(w, r)
			return
		}
		notFound(w)
		return
	case err != nil:
		internalError(w, r, err)
		return
	}

	keyID, _ := GetKeyID(r)
	allowed := slices.Contains(roles, models.RoleAdmin) ||
		farm.OwnerKeyID == keyID ||
		(r.Method == http.MethodGet && slices.Contains(roles, models.RoleVerifier))
	if !allowed {
		notFound(w)
		return
	}
	next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), farmKey, farm)))
}

func notFound(w http.ResponseWriter) {
	response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("ownership lookup failed", "path", r.URL.Path, "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
