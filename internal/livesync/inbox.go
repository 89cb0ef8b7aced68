package livesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Akash16-Sharma/Conversa/internal/logging"
	"github.com/Akash16-Sharma/Conversa/internal/models"
	"github.com/Akash16-Sharma/Conversa/internal/realtime"
)

const inboxLoadConcurrency = 8

type InboxConfig struct {
	UserID uuid.UUID
	Store  InboxStore
	Feed   Feed
	Log    *slog.Logger

	// OnChange receives every new view. It runs on the inbox goroutine.
	OnChange func(InboxView)
}

type InboxItem struct {
	Conversation  models.ConversationSummary `json:"conversation"`
	Preview       string                     `json:"preview"`
	LastMessageAt *time.Time                 `json:"last_message_at,omitempty"`
	Unread        int                        `json:"unread"`
}

type InboxView struct {
	Conversations []InboxItem `json:"conversations"`
	Open          *uuid.UUID  `json:"open,omitempty"`
}

func (v InboxView) item(conversationID uuid.UUID) (InboxItem, bool) {
	for _, it := range v.Conversations {
		if it.Conversation.ID == conversationID {
			return it, true
		}
	}
	return InboxItem{}, false
}

func (v InboxView) Unread(conversationID uuid.UUID) int {
	it, _ := v.item(conversationID)
	return it.Unread
}

func (v InboxView) Preview(conversationID uuid.UUID) string {
	it, _ := v.item(conversationID)
	return it.Preview
}

type inboxCommandKind int

const (
	inboxRefocus inboxCommandKind = iota
	inboxOpen
	inboxBack
)

type inboxCommand struct {
	kind           inboxCommandKind
	conversationID uuid.UUID
}

// Inbox is one open inbox screen: the user's conversations with a preview
// of the latest message and an unread counter each.
type Inbox struct {
	cfg      InboxConfig
	log      *slog.Logger
	commands chan inboxCommand
	done     chan struct{}

	// Owned by the Run goroutine.
	items []InboxItem
	index map[uuid.UUID]int
	// loaded holds each conversation's latest created_at as of the last
	// reload. Live events at or before it are already counted.
	loaded map[uuid.UUID]time.Time
	open   uuid.UUID
}

func NewInbox(cfg InboxConfig) *Inbox {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Inbox{
		cfg:      cfg,
		log:      cfg.Log.With(logging.Screen("inbox"), logging.User(cfg.UserID)),
		commands: make(chan inboxCommand, commandBuffer),
		done:     make(chan struct{}),
		index:    make(map[uuid.UUID]int),
		loaded:   make(map[uuid.UUID]time.Time),
	}
}

// Refocus recomputes every counter from the store.
func (in *Inbox) Refocus() {
	in.post(inboxCommand{kind: inboxRefocus})
}

// Open marks conversationID as the one being viewed and zeroes its counter.
// The chat screen's read-cursor upsert makes that durable.
func (in *Inbox) Open(conversationID uuid.UUID) {
	in.post(inboxCommand{kind: inboxOpen, conversationID: conversationID})
}

// Back clears the open mark.
func (in *Inbox) Back() {
	in.post(inboxCommand{kind: inboxBack})
}

func (in *Inbox) post(cmd inboxCommand) {
	select {
	case in.commands <- cmd:
	case <-in.done:
	}
}

func (in *Inbox) Run(ctx context.Context) (err error) {
	defer close(in.done)

	sub, err := in.cfg.Feed.Subscribe(ctx, realtime.Filter{ParticipantID: in.cfg.UserID})
	if err != nil {
		return fmt.Errorf("subscribing to messages: %w", err)
	}
	defer func() { err = multierr.Append(err, sub.Close()) }()

	in.reload(ctx)
	in.emit()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				return ErrFeedClosed
			}
			if in.receive(ctx, ev.Message) {
				in.emit()
			}

		case cmd := <-in.commands:
			switch cmd.kind {
			case inboxRefocus:
				in.reload(ctx)
			case inboxOpen:
				in.open = cmd.conversationID
				if i, ok := in.index[cmd.conversationID]; ok {
					in.items[i].Unread = 0
				}
			case inboxBack:
				in.open = uuid.Nil
			}
			in.emit()
		}
	}
}

// LoadInbox computes userID's inbox from the store: every conversation with
// its latest message and authoritative unread count.
func LoadInbox(ctx context.Context, store InboxStore, userID uuid.UUID) ([]InboxItem, error) {
	convs, err := store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	items := make([]InboxItem, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inboxLoadConcurrency)
	for i, conv := range convs {
		items[i].Conversation = conv
		g.Go(func() error {
			// Latest message first: one racing in between is then counted
			// twice at worst, never dropped, until the next reload.
			last, err := store.LastMessage(gctx, conv.ID)
			if err != nil {
				return fmt.Errorf("last message of %s: %w", conv.ID, err)
			}
			unread, err := store.UnreadCount(gctx, conv.ID, userID)
			if err != nil {
				return fmt.Errorf("unread count of %s: %w", conv.ID, err)
			}
			if last != nil {
				items[i].Preview = last.Content
				items[i].LastMessageAt = &last.CreatedAt
			}
			items[i].Unread = unread
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// reload replaces every item with store values. On failure the previous
// items stay in place.
func (in *Inbox) reload(ctx context.Context) {
	items, err := LoadInbox(ctx, in.cfg.Store, in.cfg.UserID)
	if err != nil {
		in.log.WarnContext(ctx, "loading inbox failed", logging.Err(err))
		return
	}

	in.items = items
	in.index = make(map[uuid.UUID]int, len(items))
	in.loaded = make(map[uuid.UUID]time.Time, len(items))
	for i, it := range items {
		in.index[it.Conversation.ID] = i
		if it.LastMessageAt != nil {
			in.loaded[it.Conversation.ID] = *it.LastMessageAt
		}
	}
}

func (in *Inbox) receive(ctx context.Context, m models.Message) bool {
	i, ok := in.index[m.ConversationID]
	if !ok {
		// A conversation started after the last load.
		in.reload(ctx)
		return true
	}
	if m.SenderID == in.cfg.UserID {
		return false
	}
	if cutoff, ok := in.loaded[m.ConversationID]; ok && !m.CreatedAt.After(cutoff) {
		// Already reflected by the last load.
		return false
	}

	it := &in.items[i]
	if it.LastMessageAt == nil || m.CreatedAt.After(*it.LastMessageAt) {
		it.Preview = m.Content
		createdAt := m.CreatedAt
		it.LastMessageAt = &createdAt
	}
	if m.ConversationID != in.open {
		it.Unread++
	}
	return true
}

func (in *Inbox) view() InboxView {
	v := InboxView{Conversations: make([]InboxItem, len(in.items))}
	for i, it := range in.items {
		v.Conversations[i] = it
		if it.LastMessageAt != nil {
			at := *it.LastMessageAt
			v.Conversations[i].LastMessageAt = &at
		}
	}
	if in.open != uuid.Nil {
		open := in.open
		v.Open = &open
	}
	return v
}

func (in *Inbox) emit() {
	if in.cfg.OnChange != nil {
		in.cfg.OnChange(in.view())
	}
}
