package handler

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/kiranshivaraju/agripay/internal/api/response"
)

// maxFormMemory is how much of a multipart body is held in memory; the rest
// spills to temporary files.
const maxFormMemory = 32 << 20

// UploadLimits caps multipart uploads. A zero field means no cap.
type UploadLimits struct {
	// LayerBytes bounds a whole orthomosaic layer upload.
	LayerBytes int64
	// ImageBytes bounds each image in a batch and the ad-hoc plant count upload.
	ImageBytes int64
	// BatchBytes bounds a whole orthophoto image batch.
	BatchBytes int64
}

// parseUpload parses a multipart body of at most limit bytes. It answers
// 413 when the body is larger and 400 when it is not a multipart form.
func parseUpload(w http.ResponseWriter, r *http.Request, limit int64) bool {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			tooLarge(w, fmt.Sprintf("Upload exceeds %s", formatBytes(tooBig.Limit)))
			return false
		}
		invalid(w, "Expected a multipart form")
		return false
	}
	return true
}

// fileWithin answers 413 when one part of the form is over limit.
func fileWithin(w http.ResponseWriter, fh *multipart.FileHeader, limit int64) bool {
	if limit > 0 && fh.Size > limit {
		tooLarge(w, fmt.Sprintf("%s exceeds %s", fh.Filename, formatBytes(limit)))
		return false
	}
	return true
}

func tooLarge(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", message, nil)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30 && n%(1<<30) == 0:
		return fmt.Sprintf("%d GB", n>>30)
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MB", n>>20)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
