package pool

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akash16-Sharma/Conversa/internal/models"
)

func newPool(max int) *Pool {
	return New(max, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAddScreenEnforcesBudget(t *testing.T) {
	p := newPool(2)
	user := uuid.New()

	_, first, err := p.AddScreen(context.Background(), user, ScreenChat)
	require.NoError(t, err)
	_, _, err = p.AddScreen(context.Background(), user, ScreenInbox)
	require.NoError(t, err)

	_, _, err = p.AddScreen(context.Background(), user, ScreenChat)
	assert.ErrorIs(t, err, models.ErrTooManyScreens)

	_, _, err = p.AddScreen(context.Background(), uuid.New(), ScreenChat)
	assert.NoError(t, err, "budget is per user")

	p.RemoveScreen(first)
	assert.Equal(t, 1, p.ScreensOf(user))
	_, _, err = p.AddScreen(context.Background(), user, ScreenChat)
	assert.NoError(t, err)
}

func TestRemoveScreenCancelsContext(t *testing.T) {
	p := newPool(0)
	ctx, screen, err := p.AddScreen(context.Background(), uuid.New(), ScreenInbox)
	require.NoError(t, err)

	p.RemoveScreen(screen)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Zero(t, p.ScreensOf(screen.UserID))

	p.RemoveScreen(screen)
}

func TestCloseAll(t *testing.T) {
	p := newPool(0)
	a, _, err := p.AddScreen(context.Background(), uuid.New(), ScreenChat)
	require.NoError(t, err)
	b, _, err := p.AddScreen(context.Background(), uuid.New(), ScreenInbox)
	require.NoError(t, err)

	p.CloseAll()
	assert.Error(t, a.Err())
	assert.Error(t, b.Err())

	_, _, err = p.AddScreen(context.Background(), uuid.New(), ScreenChat)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWaitReturnsOnceScreensFinish(t *testing.T) {
	p := newPool(0)
	finished := make(chan struct{}, 2)
	for _, kind := range []ScreenKind{ScreenChat, ScreenInbox} {
		ctx, screen, err := p.AddScreen(context.Background(), uuid.New(), kind)
		require.NoError(t, err)
		go func() {
			<-ctx.Done()
			finished <- struct{}{}
			p.RemoveScreen(screen)
		}()
	}

	p.CloseAll()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.Len(t, finished, 2)
}

func TestWaitGivesUpAtDeadline(t *testing.T) {
	p := newPool(0)
	_, screen, err := p.AddScreen(context.Background(), uuid.New(), ScreenChat)
	require.NoError(t, err)

	p.CloseAll()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)

	p.RemoveScreen(screen)
	p.RemoveScreen(screen)
	require.NoError(t, p.Wait(context.Background()))
}
