package handlers

import (
	"net/http"

	"github.com/Akash16-Sharma/Conversa/internal/logging"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}

	user, err := h.users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := h.profiles.EnsureProfile(r.Context(), user.ID, user.Email); err != nil {
		logging.FromContext(r.Context()).Warn("creating default profile failed", logging.User(user.ID), logging.Err(err))
	}

	token, err := h.issueToken(user.ID, user.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, UserID: user.ID.String()})
}
