package handlers

import (
	"net/http"

	"github.com/Akash16-Sharma/Conversa/internal/appMiddleware"
	"github.com/Akash16-Sharma/Conversa/internal/models"
)

// GetProfile returns the caller's profile, creating the default one on
// first visit.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := appMiddleware.ClaimsFromContext(r.Context())

	profile, err := h.profiles.EnsureProfile(r.Context(), claims.UserID, claims.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := appMiddleware.ClaimsFromContext(r.Context())

	var update models.ProfileUpdate
	if !decode(w, r, &update) {
		return
	}

	if _, err := h.profiles.EnsureProfile(r.Context(), claims.UserID, claims.Email); err != nil {
		writeError(w, r, err)
		return
	}
	profile, err := h.profiles.UpdateProfile(r.Context(), claims.UserID, update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	me, _ := appMiddleware.ProfileFromContext(r.Context())

	matches, err := h.profiles.ListMatches(r.Context(), *me)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}
