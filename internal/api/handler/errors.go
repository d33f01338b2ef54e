package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/agripay/internal/agro"
	"github.com/kiranshivaraju/agripay/internal/analysis"
	"github.com/kiranshivaraju/agripay/internal/api/response"
	"github.com/kiranshivaraju/agripay/internal/apikey"
	"github.com/kiranshivaraju/agripay/internal/farm"
	"github.com/kiranshivaraju/agripay/internal/imagery"
	"github.com/kiranshivaraju/agripay/internal/mlmodel"
	"github.com/kiranshivaraju/agripay/internal/processing"
	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/internal/sentinel"
	"github.com/kiranshivaraju/agripay/internal/store"
)

// statusClientClosedRequest is logged when the caller went away before the
// upstream answered. The client never sees the response.
const statusClientClosedRequest = 499

// writeError maps a service error onto the error envelope. Upstream
// failures carry the upstream's own detail when it sent one.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var se *remote.StatusError
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, "CONFLICT", "Resource already exists", nil)
	case errors.Is(err, mlmodel.ErrUnknownModel),
		errors.Is(err, imagery.ErrInvalidLayerType),
		errors.Is(err, processing.ErrTooFewImages),
		errors.Is(err, agro.ErrInvalidPolygon),
		errors.Is(err, farm.ErrInvalidBoundary),
		errors.Is(err, farm.ErrInvalidName),
		errors.Is(err, sentinel.ErrInvalidBoundary),
		errors.Is(err, apikey.ErrInvalidName),
		errors.Is(err, apikey.ErrInvalidRole):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, remote.ErrNotConfigured):
		featureDisabled(w)
	case errors.Is(err, analysis.ErrShutdown), errors.Is(err, processing.ErrShutdown):
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down", nil)
	case errors.Is(err, remote.ErrCanceled), errors.Is(err, context.Canceled):
		response.Error(w, statusClientClosedRequest, "CLIENT_CLOSED_REQUEST", "Request canceled by client", nil)
	case errors.Is(err, remote.ErrTimeout):
		response.Error(w, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "Upstream service timed out", nil)
	case errors.As(err, &se) && se.Detail != "":
		response.Error(w, http.StatusBadGateway, "UPSTREAM_ERROR", se.Detail, nil)
	case errors.Is(err, remote.ErrUnreachable), errors.Is(err, remote.ErrRequestFailed):
		response.Error(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Upstream service request failed", nil)
	default:
		slog.Error("request failed",
			"request_id", chimw.GetReqID(r.Context()), "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func featureDisabled(w http.ResponseWriter) {
	response.Error(w, http.StatusServiceUnavailable, "FEATURE_DISABLED",
		"This feature is not configured on the server", nil)
}

func invalid(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", message, nil)
}

// uuidParam parses a UUID path parameter, answering 400 when it is malformed.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		invalid(w, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func jobIDParam(r *http.Request) string {
	return chi.URLParam(r, "jobID")
}
