package handler

import (
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/agripay/internal/api/response"
	"github.com/kiranshivaraju/agripay/internal/apikey"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

type createKeyResponse struct {
	*models.APIKey
	Key string `json:"key"`
}

// NewCreateKeyHandler returns POST /api/v1/admin/keys. The raw key is in the
// response and nowhere else.
func NewCreateKeyHandler(keys apikey.Creator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name  string   `json:"name"`
			Roles []string `json:"roles"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			invalid(w, "Invalid JSON body")
			return
		}

		key, raw, err := apikey.Issue(r.Context(), keys, req.Name, req.Roles)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, createKeyResponse{APIKey: key, Key: raw})
	}
}
