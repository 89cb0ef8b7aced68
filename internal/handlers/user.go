package handlers

import (
	"errors"
	"net/http"

	"github.com/Akash16-Sharma/Conversa/internal/appMiddleware"
	"github.com/Akash16-Sharma/Conversa/internal/models"
)

type sessionResponse struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	HasProfile bool   `json:"has_profile"`
}

// Session tells the client who is signed in and whether profile setup is
// still pending.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	claims, _ := appMiddleware.ClaimsFromContext(r.Context())

	_, err := h.profiles.GetProfile(r.Context(), claims.UserID)
	if err != nil && !errors.Is(err, models.ErrProfileNotFound) {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:     claims.UserID.String(),
		Email:      claims.Email,
		HasProfile: err == nil,
	})
}
