package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Akash16-Sharma/Conversa/internal/models"
)

const (
	insertBuffer   = 256
	presenceBuffer = 16
)

// MemoryTransport fans events out inside one process.
type MemoryTransport struct {
	log *slog.Logger

	mu     sync.RWMutex
	closed bool
	subs   map[*memorySubscription]struct{}
	rooms  map[uuid.UUID]*presenceRoom
}

func NewMemoryTransport(log *slog.Logger) *MemoryTransport {
	return &MemoryTransport{
		log:   log,
		subs:  make(map[*memorySubscription]struct{}),
		rooms: make(map[uuid.UUID]*presenceRoom),
	}
}

var _ Transport = (*MemoryTransport)(nil)

func (t *MemoryTransport) PublishInsert(_ context.Context, ev InsertEvent) error {
	var slow []*memorySubscription

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrClosed
	}
	for sub := range t.subs {
		if !sub.filter.Match(ev) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	t.mu.RUnlock()

	// A subscriber that cannot keep up is cut off instead of silently losing
	// inserts; its session observes the closed stream and ends.
	for _, sub := range slow {
		t.log.Warn("realtime: dropping slow subscriber", slog.String("message_id", ev.Message.ID.String()))
		t.remove(sub)
	}
	return nil
}

func (t *MemoryTransport) Subscribe(_ context.Context, filter Filter) (Subscription, error) {
	sub := &memorySubscription{
		transport: t,
		filter:    filter,
		events:    make(chan InsertEvent, insertBuffer),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	t.subs[sub] = struct{}{}
	return sub, nil
}

func (t *MemoryTransport) remove(sub *memorySubscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[sub]; !ok {
		return
	}
	delete(t.subs, sub)
	close(sub.events)
}

func (t *MemoryTransport) JoinPresence(_ context.Context, conversationID, userID uuid.UUID) (PresenceChannel, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	room, ok := t.rooms[conversationID]
	if !ok {
		room = &presenceRoom{members: make(map[*memoryPresence]struct{})}
		t.rooms[conversationID] = room
	}
	member := &memoryPresence{
		transport:      t,
		room:           room,
		conversationID: conversationID,
		userID:         userID,
		syncs:          make(chan PresenceState, presenceBuffer),
	}
	room.join(member)
	t.mu.Unlock()

	return member, nil
}

// Close releases every subscription and presence member.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for sub := range t.subs {
		close(sub.events)
	}
	t.subs = nil
	for id, room := range t.rooms {
		room.closeAll()
		delete(t.rooms, id)
	}
	return nil
}

func (t *MemoryTransport) dropRoomIfEmpty(conversationID uuid.UUID, room *presenceRoom) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.rooms[conversationID]; ok && cur == room && room.empty() {
		delete(t.rooms, conversationID)
	}
}

type memorySubscription struct {
	transport *MemoryTransport
	filter    Filter
	events    chan InsertEvent
}

func (s *memorySubscription) Events() <-chan InsertEvent { return s.events }

func (s *memorySubscription) Close() error {
	s.transport.remove(s)
	return nil
}

type presenceRoom struct {
	mu      sync.Mutex
	members map[*memoryPresence]struct{}
}

func (r *presenceRoom) join(m *memoryPresence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m] = struct{}{}
	r.broadcastLocked()
}

func (r *presenceRoom) track(m *memoryPresence, entry models.PresenceEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m]; !ok {
		return false
	}
	m.entry = &entry
	r.broadcastLocked()
	return true
}

func (r *presenceRoom) leave(m *memoryPresence) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m]; !ok {
		return false
	}
	delete(r.members, m)
	close(m.syncs)
	r.broadcastLocked()
	return true
}

func (r *presenceRoom) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0
}

func (r *presenceRoom) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for m := range r.members {
		close(m.syncs)
	}
	r.members = make(map[*memoryPresence]struct{})
}

func (r *presenceRoom) stateLocked() PresenceState {
	state := make(PresenceState)
	for m := range r.members {
		if m.entry == nil {
			continue
		}
		state[m.userID] = append(state[m.userID], *m.entry)
	}
	return state
}

func (r *presenceRoom) broadcastLocked() {
	state := r.stateLocked()
	for m := range r.members {
		deliverLatest(m.syncs, cloneState(state))
	}
}

// deliverLatest sends state without blocking. When the buffer is full the
// oldest pending state is discarded; every state is complete, so only the
// newest one matters.
func deliverLatest(ch chan PresenceState, state PresenceState) {
	for {
		select {
		case ch <- state:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

type memoryPresence struct {
	transport      *MemoryTransport
	room           *presenceRoom
	conversationID uuid.UUID
	userID         uuid.UUID
	syncs          chan PresenceState
	entry          *models.PresenceEntry
}

func (m *memoryPresence) Syncs() <-chan PresenceState { return m.syncs }

func (m *memoryPresence) Track(_ context.Context, entry models.PresenceEntry) error {
	if !m.room.track(m, entry) {
		return ErrClosed
	}
	return nil
}

func (m *memoryPresence) Leave(_ context.Context) error {
	if m.room.leave(m) {
		m.transport.dropRoomIfEmpty(m.conversationID, m.room)
	}
	return nil
}
