package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/agripay/internal/analysis"
	"github.com/kiranshivaraju/agripay/internal/api/response"
	"github.com/kiranshivaraju/agripay/internal/compute"
	"github.com/kiranshivaraju/agripay/internal/mlmodel"
	"github.com/kiranshivaraju/agripay/internal/store"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// Analyzer runs plant-count analyses behind per-subject panels.
type Analyzer interface {
	AnalyzeFlight(ctx context.Context, flightID uuid.UUID, opts analysis.Options) (analysis.State, error)
	UploadAndAnalyze(ctx context.Context, farmID uuid.UUID, filename string, image []byte) (analysis.State, error)
	State(subject string) analysis.State
	Cancel(subject string)
	JobSnapshot(ctx context.Context, jobID string) (*models.Job, bool)
	Asset(ctx context.Context, jobID, assetType string) (*compute.Asset, error)
}

// NewGetFlightPlantCountHandler returns GET /api/v1/flights/{flightID}/plant-count.
func NewGetFlightPlantCountHandler(svc Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flightID, ok := uuidParam(w, r, "flightID")
		if !ok {
			return
		}
		response.JSON(w, svc.State(analysis.FlightSubject(flightID)))
	}
}

// NewAnalyzeFlightHandler returns POST /api/v1/flights/{flightID}/plant-count.
// The optional JSON body names model_id, layer_type, and force; force may
// also be given as a query parameter. A cached result answers 200, a new
// job 202.
func NewAnalyzeFlightHandler(svc Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flightID, ok := uuidParam(w, r, "flightID")
		if !ok {
			return
		}

		var req struct {
			ModelID   string `json:"model_id"`
			LayerType string `json:"layer_type"`
			Force     bool   `json:"force"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			invalid(w, "Invalid JSON body")
			return
		}
		if f := r.URL.Query().Get("force"); f != "" {
			force, err := strconv.ParseBool(f)
			if err != nil {
				invalid(w, "force must be a boolean")
				return
			}
			req.Force = force
		}

		st, err := svc.AnalyzeFlight(r.Context(), flightID, analysis.Options{
			ModelID:   req.ModelID,
			LayerType: req.LayerType,
			Force:     req.Force,
		})
		writeAnalysis(w, r, st, err)
	}
}

// NewCancelFlightPlantCountHandler returns DELETE /api/v1/flights/{flightID}/plant-count.
func NewCancelFlightPlantCountHandler(svc Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flightID, ok := uuidParam(w, r, "flightID")
		if !ok {
			return
		}
		subject := analysis.FlightSubject(flightID)
		svc.Cancel(subject)
		response.JSON(w, svc.State(subject))
	}
}

// NewGetFarmPlantCountHandler returns GET /api/v1/farms/{farmID}/plant-count.
func NewGetFarmPlantCountHandler(svc Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farmID, ok := uuidParam(w, r, "farmID")
		if !ok {
			return
		}
		response.JSON(w, svc.State(analysis.FarmSubject(farmID)))
	}
}

// NewUploadPlantCountHandler returns POST /api/v1/farms/{farmID}/plant-count.
// The image is the multipart "file" field.
func NewUploadPlantCountHandler(svc Analyzer, limits UploadLimits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farmID, ok := uuidParam(w, r, "farmID")
		if !ok {
			return
		}
		if !parseUpload(w, r, limits.ImageBytes) {
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			invalid(w, "file is required")
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			invalid(w, "unreadable file")
			return
		}

		st, err := svc.UploadAndAnalyze(r.Context(), farmID, header.Filename, data)
		writeAnalysis(w, r, st, err)
	}
}

// NewCancelFarmPlantCountHandler returns DELETE /api/v1/farms/{farmID}/plant-count.
func NewCancelFarmPlantCountHandler(svc Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farmID, ok := uuidParam(w, r, "farmID")
		if !ok {
			return
		}
		subject := analysis.FarmSubject(farmID)
		svc.Cancel(subject)
		response.JSON(w, svc.State(subject))
	}
}

// writeAnalysis answers an analysis request. A submission the compute server
// refused or never received is a 502 carrying the panel as details.
func writeAnalysis(w http.ResponseWriter, r *http.Request, st analysis.State, err error) {
	switch {
	case err == nil && st.Status == analysis.StatusCompleted:
		response.JSON(w, st)
	case err == nil:
		response.Accepted(w, st)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, mlmodel.ErrUnknownModel),
		errors.Is(err, analysis.ErrShutdown):
		writeError(w, r, err)
	case st.Status == analysis.StatusFailed:
		response.Error(w, http.StatusBadGateway, "SUBMISSION_FAILED", st.Message, st)
	default:
		writeError(w, r, err)
	}
}

// NewJobSnapshotHandler returns GET /api/v1/jobs/{jobID}.
func NewJobSnapshotHandler(svc Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := svc.JobSnapshot(r.Context(), jobIDParam(r))
		if !ok {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "No status recorded for this job", nil)
			return
		}
		response.JSON(w, job)
	}
}

// NewJobImageHandler returns GET /api/v1/jobs/{jobID}/images/{type}.
func NewJobImageHandler(svc Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assetType := urlParam(r, "type")
		if !models.ValidAssetType(assetType) {
			invalid(w, "unknown image type "+strconv.Quote(assetType))
			return
		}
		a, err := svc.Asset(r.Context(), jobIDParam(r), assetType)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.File(w, response.Download{
			ContentType:  a.ContentType,
			CacheControl: "private, max-age=7200",
			Data:         a.Data,
		})
	}
}
