package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Akash16-Sharma/Conversa/internal/appMiddleware"
	"github.com/Akash16-Sharma/Conversa/internal/livesync"
)

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := appMiddleware.UserIDFromContext(ctx)

	var req struct {
		PartnerID uuid.UUID `json:"partner_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.PartnerID == uuid.Nil {
		writeMessage(w, http.StatusBadRequest, "partner_id is required")
		return
	}
	if _, err := h.users.GetUserById(ctx, req.PartnerID); err != nil {
		writeError(w, r, err)
		return
	}

	conv, err := h.chats.FindOrCreateConversation(ctx, userID, req.PartnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ListConversations returns the same items the live inbox starts from.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := appMiddleware.UserIDFromContext(ctx)

	items, err := livesync.LoadInbox(ctx, h.chats, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.participantConversation(w, r)
	if !ok {
		return
	}

	messages, err := h.chats.ListMessages(r.Context(), conv.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.participantConversation(w, r)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if !decode(w, r, &req) {
		return
	}

	msg, err := h.chats.InsertMessage(r.Context(), conv.ID, appMiddleware.UserIDFromContext(r.Context()), req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead moves the caller's read cursor to now, or to the latest message
// when the store clock is ahead.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.participantConversation(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	at := h.clock.Now()
	last, err := h.chats.LastMessage(ctx, conv.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if last != nil && last.CreatedAt.After(at) {
		at = last.CreatedAt
	}

	if err := h.chats.UpsertReadCursor(ctx, conv.ID, appMiddleware.UserIDFromContext(ctx), at); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
