// Package pool tracks the live screens of every user.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Akash16-Sharma/Conversa/internal/logging"
	"github.com/Akash16-Sharma/Conversa/internal/models"
)

var ErrPoolClosed = errors.New("pool: closed")

type ScreenKind string

const (
	ScreenChat  ScreenKind = "chat"
	ScreenInbox ScreenKind = "inbox"
)

type ScreenPool interface {
	AddScreen(ctx context.Context, userID uuid.UUID, kind ScreenKind) (context.Context, *Screen, error)
	RemoveScreen(screen *Screen)
	ScreensOf(userID uuid.UUID) int
	CloseAll()
}

type Screen struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Kind   ScreenKind
	Cancel context.CancelFunc

	release sync.Once
}

type Pool struct {
	log        *slog.Logger
	maxPerUser int

	mu      sync.Mutex
	closed  bool
	screens map[uuid.UUID]map[uuid.UUID]*Screen
	running sync.WaitGroup
}

var _ ScreenPool = (*Pool)(nil)

// New returns a pool allowing maxPerUser live screens per user; zero means
// no limit.
func New(maxPerUser int, log *slog.Logger) *Pool {
	return &Pool{
		log:        log,
		maxPerUser: maxPerUser,
		screens:    make(map[uuid.UUID]map[uuid.UUID]*Screen),
	}
}

// AddScreen registers a screen and returns the context it must run under.
// The context is cancelled by RemoveScreen or CloseAll.
func (p *Pool) AddScreen(ctx context.Context, userID uuid.UUID, kind ScreenKind) (context.Context, *Screen, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, ErrPoolClosed
	}
	owned := p.screens[userID]
	if p.maxPerUser > 0 && len(owned) >= p.maxPerUser {
		return nil, nil, models.ErrTooManyScreens
	}
	if owned == nil {
		owned = make(map[uuid.UUID]*Screen)
		p.screens[userID] = owned
	}

	screenCtx, cancel := context.WithCancel(ctx)
	screen := &Screen{ID: uuid.New(), UserID: userID, Kind: kind, Cancel: cancel}
	owned[screen.ID] = screen
	p.running.Add(1)

	p.log.Debug("screen added", logging.User(userID), logging.Screen(string(kind)), slog.Int("screens", len(owned)))
	return screenCtx, screen, nil
}

// RemoveScreen cancels the screen and marks its handler finished. Calling
// it again is a no-op.
func (p *Pool) RemoveScreen(screen *Screen) {
	screen.Cancel()
	screen.release.Do(p.running.Done)

	p.mu.Lock()
	defer p.mu.Unlock()

	owned := p.screens[screen.UserID]
	if _, ok := owned[screen.ID]; !ok {
		return
	}
	delete(owned, screen.ID)
	if len(owned) == 0 {
		delete(p.screens, screen.UserID)
	}
	p.log.Debug("screen removed", logging.User(screen.UserID), logging.Screen(string(screen.Kind)))
}

func (p *Pool) ScreensOf(userID uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.screens[userID])
}

// CloseAll cancels every live screen and refuses new ones.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	count := 0
	for userID, owned := range p.screens {
		for _, screen := range owned {
			screen.Cancel()
			count++
		}
		delete(p.screens, userID)
	}
	p.log.Info("closed all screens", slog.Int("count", count))
}

// Wait blocks until every screen added so far has been removed, or ctx
// ends.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
