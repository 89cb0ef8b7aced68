// Package memstore keeps users, profiles, conversations and messages in
// process memory. It backs CONVERSA_STORE=memory and the handler tests, and
// follows the same rules as the Postgres services.
package memstore

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Akash16-Sharma/Conversa/internal/models"
	"github.com/Akash16-Sharma/Conversa/internal/realtime"
	"github.com/Akash16-Sharma/Conversa/internal/services"
	"github.com/Akash16-Sharma/Conversa/internal/utils"
)

// Postgres timestamps carry microseconds; created_at is kept strictly
// increasing per conversation at that precision.
const tick = time.Microsecond

var (
	_ services.UserService    = (*Store)(nil)
	_ services.ProfileService = (*Store)(nil)
	_ services.ChatService    = (*Store)(nil)
)

type readKey struct {
	conversation uuid.UUID
	user         uuid.UUID
}

type Store struct {
	mu        sync.RWMutex
	clock     clockwork.Clock
	publisher realtime.Publisher
	log       *slog.Logger

	users    map[uuid.UUID]models.User
	emails   map[string]uuid.UUID
	profiles map[uuid.UUID]models.Profile

	conversations map[uuid.UUID]models.Conversation
	order         []uuid.UUID
	pairs         map[[2]uuid.UUID]uuid.UUID
	messages      map[uuid.UUID][]models.Message
	reads         map[readKey]time.Time
}

func New(publisher realtime.Publisher, clock clockwork.Clock, log *slog.Logger) *Store {
	return &Store{
		clock:         clock,
		publisher:     publisher,
		log:           log,
		users:         make(map[uuid.UUID]models.User),
		emails:        make(map[string]uuid.UUID),
		profiles:      make(map[uuid.UUID]models.Profile),
		conversations: make(map[uuid.UUID]models.Conversation),
		pairs:         make(map[[2]uuid.UUID]uuid.UUID),
		messages:      make(map[uuid.UUID][]models.Message),
		reads:         make(map[readKey]time.Time),
	}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(tick)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) Register(ctx context.Context, email, password string) (*models.User, error) {
	email, err := services.NormalizeCredentials(email, password)
	if err != nil {
		return nil, err
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[email]; ok {
		return nil, models.ErrUserExists
	}
	user := models.User{ID: uuid.New(), Email: email, PasswordHash: hash, CreatedAt: s.now()}
	s.users[user.ID] = user
	s.emails[email] = user.ID

	s.log.InfoContext(ctx, "user created", slog.String("user_id", user.ID.String()))
	return &user, nil
}

func (s *Store) Authenticate(_ context.Context, email, password string) (*models.User, error) {
	s.mu.RLock()
	id, ok := s.emails[normalizeEmail(email)]
	user := s.users[id]
	s.mu.RUnlock()

	if !ok {
		return nil, models.ErrInvalidCredentials
	}
	if err := utils.CheckPasswordHash(password, user.PasswordHash); err != nil {
		return nil, models.ErrInvalidCredentials
	}
	return &user, nil
}

func (s *Store) GetUserById(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &user, nil
}

func (s *Store) GetProfile(_ context.Context, userID uuid.UUID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, models.ErrProfileNotFound
	}
	return &p, nil
}

func (s *Store) CreateProfile(_ context.Context, userID uuid.UUID, email string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[userID]; ok {
		return nil, models.ErrProfileExists
	}
	now := s.now()
	p := models.Profile{ID: userID, FullName: models.DefaultFullName(email), CreatedAt: now, UpdatedAt: now}
	s.profiles[userID] = p
	return &p, nil
}

func (s *Store) EnsureProfile(_ context.Context, userID uuid.UUID, email string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[userID]; ok {
		return &p, nil
	}
	now := s.now()
	p := models.Profile{ID: userID, FullName: models.DefaultFullName(email), CreatedAt: now, UpdatedAt: now}
	s.profiles[userID] = p
	return &p, nil
}

func (s *Store) UpdateProfile(ctx context.Context, userID uuid.UUID, update models.ProfileUpdate) (*models.Profile, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, models.ErrProfileNotFound
	}
	if update.Empty() {
		return &p, nil
	}
	update.Apply(&p)
	p.UpdatedAt = s.now()
	s.profiles[userID] = p

	s.log.InfoContext(ctx, "profile updated", slog.String("user_id", userID.String()))
	return &p, nil
}

func (s *Store) ListMatches(_ context.Context, me models.Profile) ([]models.Profile, error) {
	matches := make([]models.Profile, 0)
	if !me.CanMatch() {
		return matches, nil
	}

	s.mu.RLock()
	for _, p := range s.profiles {
		if p.ID != me.ID && me.Mirrors(p) {
			matches = append(matches, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].FullName != matches[j].FullName {
			return matches[i].FullName < matches[j].FullName
		}
		return bytes.Compare(matches[i].ID[:], matches[j].ID[:]) < 0
	})
	return matches, nil
}
