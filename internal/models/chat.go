package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Conversation is a durable pairing of two users. The pair is unordered:
// (A, B) and (B, A) name the same conversation.
type Conversation struct {
	ID           uuid.UUID `json:"id" db:"id"`
	ParticipantA uuid.UUID `json:"participant_a" db:"participant_a"`
	ParticipantB uuid.UUID `json:"participant_b" db:"participant_b"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

func (c Conversation) Has(userID uuid.UUID) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Counterpart returns the participant that is not userID.
func (c Conversation) Counterpart(userID uuid.UUID) uuid.UUID {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

func (c Conversation) Participants() [2]uuid.UUID {
	return [2]uuid.UUID{c.ParticipantA, c.ParticipantB}
}

// OrderedPair returns a and b sorted so that an unordered pair has a single
// canonical form.
func OrderedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}

type ConversationSummary struct {
	Conversation
	Counterpart Profile `json:"counterpart"`
}

type ReadCursor struct {
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	LastReadAt     time.Time `json:"last_read_at" db:"last_read_at"`
}
