package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/agripay/internal/api/response"
	"github.com/kiranshivaraju/agripay/internal/imagery"
)

// Imagery is the imagery service as the handlers use it.
type Imagery interface {
	ListFlights(ctx context.Context, farmID uuid.UUID, date *time.Time) ([]imagery.FlightView, error)
	Upload(ctx context.Context, req imagery.UploadRequest) (*imagery.UploadResult, error)
	DeleteLayer(ctx context.Context, farmID, layerID uuid.UUID) error
	ImportFromDrive(ctx context.Context, folderID string, farmID uuid.UUID) (*imagery.ImportResult, error)
}

// NewListFlightsHandler returns GET /api/v1/farms/{farmID}/flights. An
// optional ?date=YYYY-MM-DD returns only the flight on that day.
func NewListFlightsHandler(svc Imagery) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farmID, ok := uuidParam(w, r, "farmID")
		if !ok {
			return
		}
		var date *time.Time
		if d := r.URL.Query().Get("date"); d != "" {
			t, err := time.Parse(time.DateOnly, d)
			if err != nil {
				invalid(w, "date must be YYYY-MM-DD")
				return
			}
			date = &t
		}
		flights, err := svc.ListFlights(r.Context(), farmID, date)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.List(w, flights)
	}
}

// NewUploadLayerHandler returns POST /api/v1/farms/{farmID}/imagery.
//
// The multipart form carries "file" plus optional flight_date (YYYY-MM-DD),
// layer_type, pilot_name, drone_model, and altitude_meters. Missing date and
// layer type are read from the filename, then default to today and rgb.
func NewUploadLayerHandler(svc Imagery, limits UploadLimits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farmID, ok := uuidParam(w, r, "farmID")
		if !ok {
			return
		}
		if !parseUpload(w, r, limits.LayerBytes) {
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			invalid(w, "file is required")
			return
		}
		defer file.Close()

		parsed := imagery.ParseFilename(header.Filename)
		req := imagery.UploadRequest{
			FarmID:     farmID,
			LayerType:  parsed.LayerType,
			PilotName:  optionalString(r.FormValue("pilot_name")),
			DroneModel: optionalString(r.FormValue("drone_model")),
			Body:       file,
		}
		if lt := r.FormValue("layer_type"); lt != "" {
			req.LayerType = strings.ToLower(lt)
		}

		switch d := r.FormValue("flight_date"); {
		case d != "":
			t, err := time.Parse(time.DateOnly, d)
			if err != nil {
				invalid(w, "flight_date must be YYYY-MM-DD")
				return
			}
			req.FlightDate = t
		case parsed.Date != nil:
			req.FlightDate = *parsed.Date
		default:
			req.FlightDate = time.Now().UTC().Truncate(24 * time.Hour)
		}

		if a := r.FormValue("altitude_meters"); a != "" {
			v, err := strconv.ParseFloat(a, 64)
			if err != nil {
				invalid(w, "altitude_meters must be a number")
				return
			}
			req.Altitude = &v
		}

		res, err := svc.Upload(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, res)
	}
}

// NewDeleteLayerHandler returns DELETE /api/v1/farms/{farmID}/imagery/{layerID}.
func NewDeleteLayerHandler(svc Imagery) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farmID, ok := uuidParam(w, r, "farmID")
		if !ok {
			return
		}
		layerID, ok := uuidParam(w, r, "layerID")
		if !ok {
			return
		}
		if err := svc.DeleteLayer(r.Context(), farmID, layerID); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewImportDriveHandler returns POST /api/v1/farms/{farmID}/imagery/import.
func NewImportDriveHandler(svc Imagery) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farmID, ok := uuidParam(w, r, "farmID")
		if !ok {
			return
		}
		var req struct {
			FolderID string `json:"folder_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			invalid(w, "Invalid JSON body")
			return
		}
		if req.FolderID == "" {
			invalid(w, "folder_id is required")
			return
		}

		res, err := svc.ImportFromDrive(r.Context(), req.FolderID, farmID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, res)
	}
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
