package livesync

import (
	"time"

	"github.com/google/uuid"

	"github.com/Akash16-Sharma/Conversa/internal/realtime"
)

// typingTracker edge-triggers the local typing flag: one start per burst of
// keystrokes, one stop once the idle deadline passes or a message is sent.
type typingTracker struct {
	idle     time.Duration
	active   bool
	deadline time.Time
}

// keystroke pushes the deadline out and reports whether this keystroke
// starts a new burst.
func (t *typingTracker) keystroke(now time.Time) bool {
	t.deadline = now.Add(t.idle)
	if t.active {
		return false
	}
	t.active = true
	return true
}

// expire reports whether the burst ended. Stale timer fires from before the
// last keystroke report false.
func (t *typingTracker) expire(now time.Time) bool {
	if !t.active || now.Before(t.deadline) {
		return false
	}
	t.active = false
	return true
}

func (t *typingTracker) sent() {
	t.active = false
}

// aggregatePresence folds a channel's presence set into what the screen of
// self displays: whether anyone else is typing, and the newest last-seen
// among the others. self's own entries never count.
func aggregatePresence(state realtime.PresenceState, self uuid.UUID) (typing bool, lastSeen *time.Time) {
	for userID, entries := range state {
		if userID == self {
			continue
		}
		for _, e := range entries {
			typing = typing || e.Typing
			if e.LastSeen != nil && (lastSeen == nil || e.LastSeen.After(*lastSeen)) {
				seen := *e.LastSeen
				lastSeen = &seen
			}
		}
	}
	return typing, lastSeen
}
