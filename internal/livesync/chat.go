package livesync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"

	"github.com/Akash16-Sharma/Conversa/internal/logging"
	"github.com/Akash16-Sharma/Conversa/internal/models"
	"github.com/Akash16-Sharma/Conversa/internal/realtime"
)

type ChatConfig struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID

	Store    ChatStore
	Feed     Feed
	Presence PresenceJoiner

	Clock        clockwork.Clock
	TypingIdle   time.Duration
	WriteTimeout time.Duration
	Log          *slog.Logger

	// OnChange receives every new view. It runs on the session goroutine.
	OnChange func(ChatView)
}

type ChatView struct {
	ConversationID uuid.UUID        `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
	OtherTyping    bool             `json:"other_typing"`
	LastSeen       *time.Time       `json:"last_seen,omitempty"`
	Draft          string           `json:"draft"`
}

type chatCommandKind int

const (
	chatInput chatCommandKind = iota
	chatSend
)

type chatCommand struct {
	kind chatCommandKind
	text string
}

// ChatSession is one open chat screen.
type ChatSession struct {
	cfg      ChatConfig
	log      *slog.Logger
	commands chan chatCommand
	done     chan struct{}

	// Owned by the Run goroutine.
	messages    []models.Message
	seen        map[uuid.UUID]struct{}
	otherTyping bool
	lastSeen    *time.Time
	draft       string
	typing      typingTracker
	channel     realtime.PresenceChannel
	writes      *writer
}

func NewChatSession(cfg ChatConfig) *ChatSession {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = defaultTypingIdle
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &ChatSession{
		cfg: cfg,
		log: cfg.Log.With(
			logging.Screen("chat"),
			logging.Conversation(cfg.ConversationID),
			logging.User(cfg.UserID),
		),
		commands: make(chan chatCommand, commandBuffer),
		done:     make(chan struct{}),
		seen:     make(map[uuid.UUID]struct{}),
		typing:   typingTracker{idle: cfg.TypingIdle},
	}
}

// Input records a change of the message field.
func (s *ChatSession) Input(text string) {
	s.post(chatCommand{kind: chatInput, text: text})
}

// Send submits text as a message. Blank text is ignored. The message shows
// up in the view only once its insert event arrives.
func (s *ChatSession) Send(text string) {
	s.post(chatCommand{kind: chatSend, text: text})
}

func (s *ChatSession) post(cmd chatCommand) {
	select {
	case s.commands <- cmd:
	case <-s.done:
	}
}

// Run owns the screen from mount to teardown. It returns nil when ctx ends;
// the subscription and presence membership are released on every path.
func (s *ChatSession) Run(ctx context.Context) (err error) {
	defer close(s.done)

	// Subscribe before the history fetch so nothing inserted in between is
	// missed; duplicates are dropped by id.
	sub, err := s.cfg.Feed.Subscribe(ctx, realtime.Filter{ConversationID: s.cfg.ConversationID})
	if err != nil {
		return fmt.Errorf("subscribing to messages: %w", err)
	}
	defer func() { err = multierr.Append(err, sub.Close()) }()

	presence, err := s.cfg.Presence.JoinPresence(ctx, s.cfg.ConversationID, s.cfg.UserID)
	if err != nil {
		return fmt.Errorf("joining presence: %w", err)
	}
	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
		defer cancel()
		err = multierr.Append(err, presence.Leave(leaveCtx))
	}()

	s.channel = presence
	s.writes = newWriter(ctx, s.cfg.WriteTimeout, s.log)
	defer s.writes.close()

	s.publishPresence(false)

	history, err := s.cfg.Store.ListMessages(ctx, s.cfg.ConversationID)
	if err != nil {
		// Shown as empty. The cursor stays put so nothing unseen is marked
		// read.
		s.log.WarnContext(ctx, "loading history failed", logging.Err(err))
	} else {
		for _, m := range history {
			s.merge(m)
		}
		s.markRead(nil)
	}
	s.emit()

	var timer clockwork.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	syncs := presence.Syncs()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				return ErrFeedClosed
			}
			if s.receive(ev.Message) {
				s.emit()
			}

		case state, ok := <-syncs:
			if !ok {
				s.log.WarnContext(ctx, "presence channel closed")
				syncs = nil
				continue
			}
			s.sync(state)
			s.emit()

		case cmd := <-s.commands:
			switch cmd.kind {
			case chatInput:
				s.draft = cmd.text
				if s.typing.keystroke(s.cfg.Clock.Now()) {
					s.publishPresence(true)
				}
				if timer == nil {
					timer = s.cfg.Clock.NewTimer(s.cfg.TypingIdle)
					timerC = timer.Chan()
				} else {
					timer.Reset(s.cfg.TypingIdle)
				}
			case chatSend:
				if strings.TrimSpace(cmd.text) == "" {
					continue
				}
				s.draft = ""
				s.typing.sent()
				s.publishPresence(false)
				s.insert(cmd.text)
			}
			s.emit()

		case <-timerC:
			if s.typing.expire(s.cfg.Clock.Now()) {
				s.publishPresence(false)
			}
		}
	}
}

// receive applies an insert event. Events for another conversation are
// never applied.
func (s *ChatSession) receive(m models.Message) bool {
	if m.ConversationID != s.cfg.ConversationID {
		s.log.Warn("ignoring insert for another conversation", logging.Message(m.ID))
		return false
	}
	if !s.merge(m) {
		return false
	}
	if m.SenderID != s.cfg.UserID {
		s.markRead(&m)
	}
	return true
}

// merge adds m in created_at order. Arrivals are expected in creation order
// and appended; a late one is insert-sorted into place.
func (s *ChatSession) merge(m models.Message) bool {
	if _, dup := s.seen[m.ID]; dup {
		return false
	}
	s.seen[m.ID] = struct{}{}

	n := len(s.messages)
	if n == 0 || !m.CreatedAt.Before(s.messages[n-1].CreatedAt) {
		s.messages = append(s.messages, m)
		return true
	}
	s.log.Debug("insert arrived out of order", logging.Message(m.ID))
	i := sort.Search(n, func(i int) bool { return m.CreatedAt.Before(s.messages[i].CreatedAt) })
	s.messages = append(s.messages, models.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
	return true
}

// sync recomputes the counterpart's status from a full presence set.
// lastSeen never moves backwards, so it survives the counterpart leaving.
func (s *ChatSession) sync(state realtime.PresenceState) {
	typing, seen := aggregatePresence(state, s.cfg.UserID)
	s.otherTyping = typing
	if seen != nil && (s.lastSeen == nil || seen.After(*s.lastSeen)) {
		s.lastSeen = seen
	}
}

// markRead moves this user's read cursor up to now, or to m when the store
// clock is ahead of ours.
func (s *ChatSession) markRead(m *models.Message) {
	at := s.cfg.Clock.Now()
	if m != nil {
		at = latest(at, m.CreatedAt)
	} else if n := len(s.messages); n > 0 {
		at = latest(at, s.messages[n-1].CreatedAt)
	}
	conv, user := s.cfg.ConversationID, s.cfg.UserID
	s.writes.submit("upsert read cursor", func(ctx context.Context) error {
		return s.cfg.Store.UpsertReadCursor(ctx, conv, user, at)
	})
}

func (s *ChatSession) insert(text string) {
	conv, user := s.cfg.ConversationID, s.cfg.UserID
	s.writes.submit("insert message", func(ctx context.Context) error {
		_, err := s.cfg.Store.InsertMessage(ctx, conv, user, text)
		return err
	})
}

func (s *ChatSession) publishPresence(typing bool) {
	entry := models.PresenceEntry{Typing: typing}
	if !typing {
		now := s.cfg.Clock.Now()
		entry.LastSeen = &now
	}
	s.writes.submit("track presence", func(ctx context.Context) error {
		return s.channel.Track(ctx, entry)
	})
}

func (s *ChatSession) view() ChatView {
	v := ChatView{
		ConversationID: s.cfg.ConversationID,
		Messages:       append(make([]models.Message, 0, len(s.messages)), s.messages...),
		OtherTyping:    s.otherTyping,
		Draft:          s.draft,
	}
	if s.lastSeen != nil {
		seen := *s.lastSeen
		v.LastSeen = &seen
	}
	return v
}

func (s *ChatSession) emit() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(s.view())
	}
}
