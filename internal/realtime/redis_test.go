package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akash16-Sharma/Conversa/internal/models"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisTransport(t *testing.T) {
	transportContract(t, func(t *testing.T) Transport {
		_, rdb := newMiniredis(t)
		return NewRedisTransport(rdb, discardLogger(), time.Minute)
	})
}

func TestRedisPresenceIgnoresStaleEntries(t *testing.T) {
	_, rdb := newMiniredis(t)
	tr := NewRedisTransport(rdb, discardLogger(), time.Minute)
	ctx := context.Background()
	conv, ghost, me := uuid.New(), uuid.New(), uuid.New()

	key := presencePrefix + conv.String()
	stale := `{"user_id":"` + ghost.String() + `","typing":true,"updated_at":"2001-01-01T00:00:00Z"}`
	require.NoError(t, rdb.HSet(ctx, key, ghost.String()+"/old", stale).Err())

	p, err := tr.JoinPresence(ctx, conv, me)
	require.NoError(t, err)
	defer p.Leave(ctx)

	require.NoError(t, p.Track(ctx, models.PresenceEntry{Typing: false}))
	state := receiveUntil(t, p.Syncs(), func(s PresenceState) bool { return len(s[me]) == 1 })
	_, ghostPresent := state[ghost]
	assert.False(t, ghostPresent)
}

func TestRedisLeaveDeletesField(t *testing.T) {
	mr, rdb := newMiniredis(t)
	tr := NewRedisTransport(rdb, discardLogger(), time.Minute)
	ctx := context.Background()
	conv := uuid.New()

	p, err := tr.JoinPresence(ctx, conv, uuid.New())
	require.NoError(t, err)
	require.NoError(t, p.Track(ctx, models.PresenceEntry{Typing: true}))
	require.NoError(t, p.Leave(ctx))

	assert.False(t, mr.Exists(presencePrefix+conv.String()), "hash disappears with its last field")
}

func TestRedisClosedTransportRejectsSubscribe(t *testing.T) {
	_, rdb := newMiniredis(t)
	tr := NewRedisTransport(rdb, discardLogger(), time.Minute)
	require.NoError(t, tr.Close())

	_, err := tr.Subscribe(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRedisTransportCutsOffSlowSubscriber(t *testing.T) {
	_, rdb := newMiniredis(t)
	tr := NewRedisTransport(rdb, discardLogger(), time.Minute)
	ctx := context.Background()

	sub, err := tr.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i <= insertBuffer; i++ {
		require.NoError(t, tr.PublishInsert(ctx, insertFor(uuid.New(), uuid.New(), uuid.New(), "x")))
	}

	select {
	case <-sub.(*redisSubscription).exited:
	case <-time.After(5 * time.Second):
		t.Fatal("slow subscriber was never cut off")
	}

	drained := 0
	for range sub.Events() {
		drained++
	}
	assert.Equal(t, insertBuffer, drained, "buffered events are kept, then the stream ends")
}
