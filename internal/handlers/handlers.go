package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Akash16-Sharma/Conversa/internal/appMiddleware"
	"github.com/Akash16-Sharma/Conversa/internal/config"
	"github.com/Akash16-Sharma/Conversa/internal/logging"
	"github.com/Akash16-Sharma/Conversa/internal/models"
	"github.com/Akash16-Sharma/Conversa/internal/pool"
	"github.com/Akash16-Sharma/Conversa/internal/realtime"
	"github.com/Akash16-Sharma/Conversa/internal/services"
)

type Deps struct {
	Config    *config.Config
	Users     services.UserService
	Profiles  services.ProfileService
	Chats     services.ChatService
	Transport realtime.Transport
	Screens   pool.ScreenPool
	Clock     clockwork.Clock
	Log       *slog.Logger

	// Ready reports whether backing stores are reachable. Nil means always.
	Ready func(ctx context.Context) error
}

type Handler struct {
	cfg       *config.Config
	users     services.UserService
	profiles  services.ProfileService
	chats     services.ChatService
	transport realtime.Transport
	screens   pool.ScreenPool
	clock     clockwork.Clock
	log       *slog.Logger
	ready     func(ctx context.Context) error
}

func New(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return &Handler{
		cfg:       d.Config,
		users:     d.Users,
		profiles:  d.Profiles,
		chats:     d.Chats,
		transport: d.Transport,
		screens:   d.Screens,
		clock:     d.Clock,
		log:       d.Log,
		ready:     d.Ready,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(appMiddleware.RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(appMiddleware.CorsMiddleware)

	r.Get("/healthz", h.Health)
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.AuthMiddleware([]byte(h.cfg.Auth.JWTSecret)))

		r.Get("/api/session", h.Session)
		r.Get("/api/profile", h.GetProfile)
		r.Put("/api/profile", h.UpdateProfile)

		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.RequireProfile(h.profiles))

			r.Get("/api/matches", h.ListMatches)
			r.Post("/api/conversations", h.CreateConversation)
			r.Get("/api/conversations", h.ListConversations)
			r.Get("/api/conversations/{id}/messages", h.ListMessages)
			r.Post("/api/conversations/{id}/messages", h.SendMessage)
			r.Post("/api/conversations/{id}/read", h.MarkRead)

			r.Get("/ws/chats/{id}", h.ChatSocket)
			r.Get("/ws/inbox", h.InboxSocket)
		})
	})

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			logging.FromContext(r.Context()).Warn("readiness check failed", logging.Err(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Warn("writing response failed", logging.Err(err))
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeError maps domain errors to a status; anything unknown is logged and
// reported as an internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", logging.Err(err))
		writeMessage(w, status, "Internal server error")
		return
	}
	writeMessage(w, status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidEmail),
		errors.Is(err, models.ErrWeakPassword),
		errors.Is(err, models.ErrEmptyMessage),
		errors.Is(err, models.ErrMessageTooLong),
		errors.Is(err, models.ErrInvalidLanguage),
		errors.Is(err, models.ErrInvalidLevel),
		errors.Is(err, models.ErrBioTooLong),
		errors.Is(err, models.ErrNameTooLong),
		errors.Is(err, models.ErrSelfConversation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrUserNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrProfileNotFound),
		errors.Is(err, models.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUserExists),
		errors.Is(err, models.ErrProfileExists):
		return http.StatusConflict
	case errors.Is(err, models.ErrTooManyScreens):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logging.FromContext(r.Context()).Debug("invalid request body", logging.Err(err))
		writeMessage(w, http.StatusBadRequest, "Invalid request")
		return false
	}
	return true
}

func conversationParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid conversation ID")
		return uuid.Nil, false
	}
	return id, true
}

// participantConversation loads the conversation in the URL and checks the
// caller belongs to it.
func (h *Handler) participantConversation(w http.ResponseWriter, r *http.Request) (*models.Conversation, bool) {
	id, ok := conversationParam(w, r)
	if !ok {
		return nil, false
	}
	conv, err := h.chats.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if !conv.Has(appMiddleware.UserIDFromContext(r.Context())) {
		writeError(w, r, models.ErrUserNotParticipant)
		return nil, false
	}
	return conv, true
}
