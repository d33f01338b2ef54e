package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/agripay/internal/api/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Reports renders result exports.
type Reports interface {
	ResultsXLSX(ctx context.Context, farmID uuid.UUID, modelID string) ([]byte, error)
}

// NewResultsExportHandler returns GET /api/v1/farms/{farmID}/results.xlsx.
func NewResultsExportHandler(svc Reports) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farmID, ok := uuidParam(w, r, "farmID")
		if !ok {
			return
		}
		data, err := svc.ResultsXLSX(r.Context(), farmID, r.URL.Query().Get("model_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.File(w, response.Download{
			ContentType: xlsxContentType,
			Filename:    fmt.Sprintf("plant-counts-%s-%s.xlsx", farmID.String()[:8], time.Now().UTC().Format("20060102")),
			Data:        data,
		})
	}
}
