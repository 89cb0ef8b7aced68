package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Akash16-Sharma/Conversa/internal/logging"
	"github.com/Akash16-Sharma/Conversa/internal/utils"
)

type tokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// First sign-in creates the profile when sign-up did not.
	if _, err := h.profiles.EnsureProfile(r.Context(), user.ID, user.Email); err != nil {
		logging.FromContext(r.Context()).Warn("ensuring profile failed", logging.User(user.ID), logging.Err(err))
	}

	token, err := h.issueToken(user.ID, user.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, UserID: user.ID.String()})
}

func (h *Handler) issueToken(userID uuid.UUID, email string) (string, error) {
	return utils.IssueToken([]byte(h.cfg.Auth.JWTSecret), userID, email, h.cfg.Auth.TokenTTL)
}
