package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Akash16-Sharma/Conversa/internal/appMiddleware"
	"github.com/Akash16-Sharma/Conversa/internal/livesync"
	"github.com/Akash16-Sharma/Conversa/internal/logging"
	"github.com/Akash16-Sharma/Conversa/internal/pool"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type inboundFrame struct {
	Type           string    `json:"type"`
	Text           string    `json:"text,omitempty"`
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`
}

// screen is the lifetime of one websocket-backed screen: a pool slot, the
// upgraded connection and the reader feeding client frames to dispatch.
type screen struct {
	ctx    context.Context
	slot   *pool.Screen
	conn   *connection
	log    *slog.Logger
	remove func()
}

func (h *Handler) openScreen(w http.ResponseWriter, r *http.Request, kind pool.ScreenKind) (*screen, bool) {
	userID := appMiddleware.UserIDFromContext(r.Context())

	ctx, slot, err := h.screens.AddScreen(r.Context(), userID, kind)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.FromContext(r.Context()).Info("websocket upgrade failed", logging.Err(err))
		h.screens.RemoveScreen(slot)
		return nil, false
	}

	log := logging.FromContext(r.Context()).With(logging.Screen(string(kind)))
	log.Info("screen opened")
	return &screen{
		ctx:  logging.WithContext(ctx, log),
		slot: slot,
		conn: newConnection(ws, log),
		log:  log,
		remove: func() {
			h.screens.RemoveScreen(slot)
		},
	}, true
}

// readLoop hands every client frame to dispatch until the client goes away,
// then cancels the screen.
func (s *screen) readLoop(dispatch func(inboundFrame)) {
	defer s.slot.Cancel()
	for {
		var frame inboundFrame
		if err := s.conn.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Info("websocket read failed", logging.Err(err))
			}
			return
		}
		dispatch(frame)
	}
}

func (s *screen) finish(err error) {
	code, reason := websocket.CloseNormalClosure, ""
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("screen ended with error", logging.Err(err))
		code, reason = websocket.CloseInternalServerErr, "screen ended"
	}
	s.conn.close(code, reason)
	s.remove()
	s.log.Info("screen closed")
}

// ChatSocket serves /ws/chats/{id}. Client frames: {"type":"input","text"}
// and {"type":"send","text"}. Server frames: {"type":"chat_state","data"}.
func (h *Handler) ChatSocket(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.participantConversation(w, r)
	if !ok {
		return
	}
	s, ok := h.openScreen(w, r, pool.ScreenChat)
	if !ok {
		return
	}

	session := livesync.NewChatSession(livesync.ChatConfig{
		ConversationID: conv.ID,
		UserID:         appMiddleware.UserIDFromContext(r.Context()),
		Store:          h.chats,
		Feed:           h.transport,
		Presence:       h.transport,
		Clock:          h.clock,
		TypingIdle:     h.cfg.Sync.TypingIdle,
		WriteTimeout:   h.cfg.Sync.WriteTimeout,
		Log:            s.log,
		OnChange: func(v livesync.ChatView) {
			if err := s.conn.sendJSON("chat_state", v); err != nil {
				s.slot.Cancel()
			}
		},
	})

	go s.readLoop(func(frame inboundFrame) {
		switch frame.Type {
		case "input":
			session.Input(frame.Text)
		case "send":
			session.Send(frame.Text)
		default:
			s.log.Debug("unknown chat frame", slog.String("type", frame.Type))
		}
	})

	s.finish(session.Run(s.ctx))
}

// InboxSocket serves /ws/inbox. Client frames: {"type":"open",
// "conversation_id"}, {"type":"back"} and {"type":"refocus"}. Server frames:
// {"type":"inbox_state","data"}.
func (h *Handler) InboxSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openScreen(w, r, pool.ScreenInbox)
	if !ok {
		return
	}

	inbox := livesync.NewInbox(livesync.InboxConfig{
		UserID: appMiddleware.UserIDFromContext(r.Context()),
		Store:  h.chats,
		Feed:   h.transport,
		Log:    s.log,
		OnChange: func(v livesync.InboxView) {
			if err := s.conn.sendJSON("inbox_state", v); err != nil {
				s.slot.Cancel()
			}
		},
	})

	go s.readLoop(func(frame inboundFrame) {
		switch frame.Type {
		case "open":
			inbox.Open(frame.ConversationID)
		case "back":
			inbox.Back()
		case "refocus":
			inbox.Refocus()
		default:
			s.log.Debug("unknown inbox frame", slog.String("type", frame.Type))
		}
	})

	s.finish(inbox.Run(s.ctx))
}
