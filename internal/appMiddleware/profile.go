package appMiddleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/Akash16-Sharma/Conversa/internal/logging"
	"github.com/Akash16-Sharma/Conversa/internal/models"
)

type ProfileGetter interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

// RequireProfile sends callers without a profile to profile setup. It must
// run after AuthMiddleware.
func RequireProfile(profiles ProfileGetter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFromContext(r.Context())
			if userID == uuid.Nil {
				redirect(w, http.StatusUnauthorized, LoginPath)
				return
			}

			profile, err := profiles.GetProfile(r.Context(), userID)
			if errors.Is(err, models.ErrProfileNotFound) {
				redirect(w, http.StatusForbidden, ProfilePath)
				return
			}
			if err != nil {
				logging.FromContext(r.Context()).Error("loading profile failed", logging.Err(err))
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), profileKey, profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ProfileFromContext(ctx context.Context) (*models.Profile, bool) {
	profile, ok := ctx.Value(profileKey).(*models.Profile)
	return profile, ok
}
