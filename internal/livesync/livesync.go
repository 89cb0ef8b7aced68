// Package livesync keeps the view state of an open screen consistent with
// the store: an initial snapshot plus the live insert and presence streams.
// Every screen runs its handlers on one goroutine and hands an immutable
// snapshot of its view to a callback after each change.
package livesync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Akash16-Sharma/Conversa/internal/models"
	"github.com/Akash16-Sharma/Conversa/internal/realtime"
)

// ErrFeedClosed is returned by Run when the transport ends the insert
// stream underneath a live screen.
var ErrFeedClosed = errors.New("livesync: insert feed closed")

const (
	defaultTypingIdle   = 1100 * time.Millisecond
	defaultWriteTimeout = 5 * time.Second
	commandBuffer       = 16
)

type Feed interface {
	Subscribe(ctx context.Context, filter realtime.Filter) (realtime.Subscription, error)
}

type PresenceJoiner interface {
	JoinPresence(ctx context.Context, conversationID, userID uuid.UUID) (realtime.PresenceChannel, error)
}

// ChatStore is what a chat screen reads and writes.
type ChatStore interface {
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	InsertMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (models.Message, error)
	UpsertReadCursor(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error
}

// InboxStore is what the inbox reads.
type InboxStore interface {
	ListConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error)
	LastMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error)
	UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
