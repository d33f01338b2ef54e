package handler

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/agripay/internal/api/middleware"
	"github.com/kiranshivaraju/agripay/internal/api/response"
	"github.com/kiranshivaraju/agripay/internal/farm"
	"github.com/kiranshivaraju/agripay/internal/store"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// maxBoundaryBytes bounds a GeoJSON or KML boundary upload.
const maxBoundaryBytes = 5 << 20

// Farms registers farms and their boundaries.
type Farms interface {
	Create(ctx context.Context, req farm.CreateRequest) (*models.Farm, error)
	List(ctx context.Context, ownerKeyID uuid.UUID) ([]*models.Farm, error)
	RegisterPolygon(ctx context.Context, farmID uuid.UUID) (*models.Farm, error)
}

// NewCreateFarmHandler returns POST /api/v1/farms. The boundary comes either
// as JSON {"name": "...", "boundary": <GeoJSON>} or as a multipart "kml"
// file with an optional "name" field. A KML upload without a name takes the
// placemark's name, then the file name.
func NewCreateFarmHandler(svc Farms) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, _ := middleware.GetKeyID(r)
		req := farm.CreateRequest{OwnerKeyID: owner}

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "multipart/form-data" {
			if !parseUpload(w, r, maxBoundaryBytes) {
				return
			}
			defer r.MultipartForm.RemoveAll()

			file, header, err := r.FormFile("kml")
			if err != nil {
				invalid(w, "kml file is required")
				return
			}
			defer file.Close()

			placemark, boundary, err := farm.ParseKML(file)
			if err != nil {
				writeError(w, r, err)
				return
			}
			req.Boundary = boundary
			req.Name = firstNonEmpty(
				r.FormValue("name"),
				placemark,
				strings.TrimSuffix(path.Base(header.Filename), path.Ext(header.Filename)),
			)
		} else {
			r.Body = http.MaxBytesReader(w, r.Body, maxBoundaryBytes)
			var body struct {
				Name     string          `json:"name"`
				Boundary json.RawMessage `json:"boundary"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				var tooBig *http.MaxBytesError
				if errors.As(err, &tooBig) {
					tooLarge(w, "Boundary exceeds "+formatBytes(maxBoundaryBytes))
					return
				}
				invalid(w, "Invalid JSON body")
				return
			}
			if len(body.Boundary) == 0 {
				invalid(w, "boundary is required")
				return
			}
			boundary, err := farm.ParseGeoJSON(body.Boundary)
			if err != nil {
				writeError(w, r, err)
				return
			}
			req.Name = body.Name
			req.Boundary = boundary
		}

		f, err := svc.Create(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, f)
	}
}

// NewListFarmsHandler returns GET /api/v1/farms: the farms registered by the
// calling key.
func NewListFarmsHandler(svc Farms) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, _ := middleware.GetKeyID(r)
		farms, err := svc.List(r.Context(), owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.List(w, farms)
	}
}

// NewGetFarmHandler returns GET /api/v1/farms/{farmID}.
func NewGetFarmHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := middleware.FarmFrom(r)
		if !ok {
			writeError(w, r, store.ErrNotFound)
			return
		}
		response.JSON(w, f)
	}
}

// NewRegisterPolygonHandler returns POST /api/v1/farms/{farmID}/polygon. It
// registers the farm's stored boundary with the agronomy provider again,
// for farms whose registration failed at creation.
func NewRegisterPolygonHandler(svc Farms) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farmID, ok := uuidParam(w, r, "farmID")
		if !ok {
			return
		}
		f, err := svc.RegisterPolygon(r.Context(), farmID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, f)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
