package livesync

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/Akash16-Sharma/Conversa/internal/memstore"
	"github.com/Akash16-Sharma/Conversa/internal/models"
	"github.com/Akash16-Sharma/Conversa/internal/realtime"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder[T any] struct {
	mu    sync.Mutex
	views []T
}

func (r *recorder[T]) record(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recorder[T]) last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if len(r.views) == 0 {
		return zero, false
	}
	return r.views[len(r.views)-1], true
}

func waitFor[T any](t *testing.T, r *recorder[T], pred func(T) bool) T {
	t.Helper()
	var got T
	require.Eventually(t, func() bool {
		v, ok := r.last()
		if ok && pred(v) {
			got = v
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

type harness struct {
	store     *memstore.Store
	transport *realtime.MemoryTransport
	clock     *clockwork.FakeClock
	me, other uuid.UUID
	conv      *models.Conversation
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := discardLogger()
	transport := realtime.NewMemoryTransport(log)
	t.Cleanup(func() { _ = transport.Close() })
	clock := clockwork.NewFakeClockAt(epoch)
	store := memstore.New(transport, clock, log)

	h := &harness{store: store, transport: transport, clock: clock, me: uuid.New(), other: uuid.New()}
	conv, err := store.FindOrCreateConversation(context.Background(), h.me, h.other)
	require.NoError(t, err)
	h.conv = conv
	return h
}

func (h *harness) insert(t *testing.T, sender uuid.UUID, text string) models.Message {
	t.Helper()
	m, err := h.store.InsertMessage(context.Background(), h.conv.ID, sender, text)
	require.NoError(t, err)
	return m
}

// publish announces a message on the feed without storing it, as a
// transport that delivers inserts out of commit order would.
func (h *harness) publish(t *testing.T, sender uuid.UUID, text string, at time.Time) models.Message {
	t.Helper()
	m := models.Message{
		ID:             uuid.New(),
		ConversationID: h.conv.ID,
		SenderID:       sender,
		Content:        text,
		CreatedAt:      at,
	}
	ev := realtime.InsertEvent{Message: m, Participants: h.conv.Participants()}
	require.NoError(t, h.transport.PublishInsert(context.Background(), ev))
	return m
}

// run starts fn in the background and returns a stop func that tears it
// down and reports Run's result.
func run(t *testing.T, fn func(ctx context.Context) error) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- fn(ctx) }()

	var once sync.Once
	var result error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-errCh:
			case <-time.After(2 * time.Second):
				t.Error("screen did not shut down")
			}
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func (h *harness) startChat(t *testing.T, user uuid.UUID, presence PresenceJoiner) (*ChatSession, *recorder[ChatView], func() error) {
	t.Helper()
	if presence == nil {
		presence = h.transport
	}
	views := &recorder[ChatView]{}
	s := NewChatSession(ChatConfig{
		ConversationID: h.conv.ID,
		UserID:         user,
		Store:          h.store,
		Feed:           h.transport,
		Presence:       presence,
		Clock:          h.clock,
		TypingIdle:     time.Second,
		WriteTimeout:   time.Second,
		Log:            discardLogger(),
		OnChange:       views.record,
	})
	return s, views, run(t, s.Run)
}

func (h *harness) startInbox(t *testing.T, user uuid.UUID) (*Inbox, *recorder[InboxView], func() error) {
	t.Helper()
	views := &recorder[InboxView]{}
	in := NewInbox(InboxConfig{
		UserID:   user,
		Store:    h.store,
		Feed:     h.transport,
		Log:      discardLogger(),
		OnChange: views.record,
	})
	return in, views, run(t, in.Run)
}

func messageIDs(msgs []models.Message) []uuid.UUID {
	ids := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

type tracked struct {
	entry models.PresenceEntry
}

// fakePresence records every Track and lets the test push sync states.
type fakePresence struct {
	syncs chan realtime.PresenceState

	mu      sync.Mutex
	entries []tracked
	left    bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{syncs: make(chan realtime.PresenceState, 4)}
}

func (p *fakePresence) JoinPresence(context.Context, uuid.UUID, uuid.UUID) (realtime.PresenceChannel, error) {
	return p, nil
}

func (p *fakePresence) Syncs() <-chan realtime.PresenceState { return p.syncs }

func (p *fakePresence) Track(_ context.Context, entry models.PresenceEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, tracked{entry: entry})
	return nil
}

func (p *fakePresence) Leave(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.left = true
	return nil
}

func (p *fakePresence) history() []tracked {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tracked(nil), p.entries...)
}

func (p *fakePresence) hasLeft() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.left
}
