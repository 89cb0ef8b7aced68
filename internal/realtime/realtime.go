// Package realtime delivers row-insert notifications and presence state to
// live screens. Two backends exist: an in-process hub and a Redis-backed one
// for multi-instance deployments.
package realtime

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Akash16-Sharma/Conversa/internal/models"
)

var ErrClosed = errors.New("realtime: transport closed")

// InsertEvent is delivered to subscribers after a message row is durably
// written. It carries the conversation's participants so that a subscriber
// scoped to a user only sees conversations that user belongs to.
type InsertEvent struct {
	Message      models.Message `json:"message"`
	Participants [2]uuid.UUID   `json:"participants"`
}

// Filter scopes a subscription. Zero fields match everything.
type Filter struct {
	ConversationID uuid.UUID
	ParticipantID  uuid.UUID
}

func (f Filter) Match(ev InsertEvent) bool {
	if f.ConversationID != uuid.Nil && ev.Message.ConversationID != f.ConversationID {
		return false
	}
	if f.ParticipantID != uuid.Nil &&
		ev.Participants[0] != f.ParticipantID && ev.Participants[1] != f.ParticipantID {
		return false
	}
	return true
}

// PresenceState is the full presence set of a channel: every tracked entry,
// grouped by user. A user with two open screens has two entries.
type PresenceState map[uuid.UUID][]models.PresenceEntry

// Subscription is a live stream of insert events. Events is closed once the
// subscription is released or cut off by the transport.
type Subscription interface {
	Events() <-chan InsertEvent
	Close() error
}

// PresenceChannel is one member's handle on a conversation's presence set.
// Syncs delivers the full state after every change. Leave removes this
// member's entry for every other member and releases the channel.
type PresenceChannel interface {
	Syncs() <-chan PresenceState
	Track(ctx context.Context, entry models.PresenceEntry) error
	Leave(ctx context.Context) error
}

type Publisher interface {
	PublishInsert(ctx context.Context, ev InsertEvent) error
}

type Transport interface {
	Publisher
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
	JoinPresence(ctx context.Context, conversationID, userID uuid.UUID) (PresenceChannel, error)
	Close() error
}

func cloneState(s PresenceState) PresenceState {
	out := make(PresenceState, len(s))
	for k, v := range s {
		out[k] = append([]models.PresenceEntry(nil), v...)
	}
	return out
}
