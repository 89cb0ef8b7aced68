package models

import "time"

// PresenceEntry is the ephemeral status a participant publishes while a chat
// screen is open. It is never persisted.
type PresenceEntry struct {
	Typing   bool       `json:"typing"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
