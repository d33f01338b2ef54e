package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/agripay/internal/api/response"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// Verifier asks the compute server to verify a crop-cycle milestone.
type Verifier interface {
	VerifyMilestone(ctx context.Context, milestoneID string) (*models.Verification, error)
}

// NewVerifyMilestoneHandler returns POST /api/v1/milestones/{milestoneID}/verify.
func NewVerifyMilestoneHandler(v Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := urlParam(r, "milestoneID")
		if id == "" {
			invalid(w, "milestoneID is required")
			return
		}
		res, err := v.VerifyMilestone(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, res)
	}
}
