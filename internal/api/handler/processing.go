package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/agripay/internal/api/response"
	"github.com/kiranshivaraju/agripay/internal/processing"
	"github.com/kiranshivaraju/agripay/internal/webodm"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// Orthophotos starts and lists reconstructions.
type Orthophotos interface {
	Start(ctx context.Context, req processing.Request) (*models.ProcessingJob, error)
	ListActive(ctx context.Context, farmID uuid.UUID) ([]*models.ProcessingJob, error)
}

// NewStartProcessingHandler returns POST /api/v1/farms/{farmID}/orthophoto.
// The form carries the raw captures as repeated "images" files plus
// flight_date, pilot_name, and drone_model.
func NewStartProcessingHandler(svc Orthophotos, limits UploadLimits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farmID, ok := uuidParam(w, r, "farmID")
		if !ok {
			return
		}
		if !parseUpload(w, r, limits.BatchBytes) {
			return
		}
		defer r.MultipartForm.RemoveAll()

		flightDate := time.Now().UTC().Truncate(24 * time.Hour)
		if d := r.FormValue("flight_date"); d != "" {
			t, err := time.Parse(time.DateOnly, d)
			if err != nil {
				invalid(w, "flight_date must be YYYY-MM-DD")
				return
			}
			flightDate = t
		}

		headers := r.MultipartForm.File["images"]
		if len(headers) < processing.MinImages {
			invalid(w, processing.ErrTooFewImages.Error())
			return
		}

		for _, fh := range headers {
			if !fileWithin(w, fh, limits.ImageBytes) {
				return
			}
		}

		// Start spools the images before returning, so the form's files
		// are only needed for the duration of the call.
		images := make([]webodm.Image, 0, len(headers))
		files := make([]io.Closer, 0, len(headers))
		defer func() {
			for _, f := range files {
				f.Close()
			}
		}()
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				invalid(w, "unreadable image "+fh.Filename)
				return
			}
			files = append(files, f)
			images = append(images, webodm.Image{Name: fh.Filename, Data: f})
		}

		job, err := svc.Start(r.Context(), processing.Request{
			FarmID:     farmID,
			FlightDate: flightDate,
			PilotName:  r.FormValue("pilot_name"),
			DroneModel: r.FormValue("drone_model"),
			Images:     images,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, job)
	}
}

// NewListProcessingJobsHandler returns GET /api/v1/farms/{farmID}/processing-jobs.
func NewListProcessingJobsHandler(svc Orthophotos) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farmID, ok := uuidParam(w, r, "farmID")
		if !ok {
			return
		}
		jobs, err := svc.ListActive(r.Context(), farmID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.List(w, jobs)
	}
}
