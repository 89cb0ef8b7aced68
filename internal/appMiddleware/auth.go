package appMiddleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Akash16-Sharma/Conversa/internal/logging"
	"github.com/Akash16-Sharma/Conversa/internal/utils"
)

type contextKey string

const (
	claimsKey  contextKey = "claims"
	profileKey contextKey = "profile"
)

const (
	LoginPath   = "/login"
	ProfilePath = "/profile"
)

// AuthMiddleware resolves the bearer token into the caller's claims. Browsers
// cannot set headers on a websocket upgrade, so the token may also come in
// the "token" query parameter. A missing or bad token is answered with a
// redirect to the sign-in page.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logging.FromContext(r.Context())

			tokenStr := bearerToken(r)
			if tokenStr == "" {
				log.Debug("missing token")
				redirect(w, http.StatusUnauthorized, LoginPath)
				return
			}

			claims, err := utils.ParseToken(secret, tokenStr)
			if err != nil {
				log.Info("invalid token", logging.Err(err))
				redirect(w, http.StatusUnauthorized, LoginPath)
				return
			}

			log = log.With(logging.User(claims.UserID))
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = logging.WithContext(ctx, log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return ""
		}
		return strings.TrimSpace(tokenStr)
	}
	return r.URL.Query().Get("token")
}

func ClaimsFromContext(ctx context.Context) (*utils.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*utils.Claims)
	return claims, ok
}

// UserIDFromContext returns the authenticated user, or uuid.Nil outside
// AuthMiddleware.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.UserID
	}
	return uuid.Nil
}

func redirect(w http.ResponseWriter, status int, to string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"redirect": to}); err != nil {
		slog.Default().Warn("writing redirect failed", logging.Err(err))
	}
}
