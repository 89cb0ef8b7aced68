package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Akash16-Sharma/Conversa/internal/config"
	"github.com/Akash16-Sharma/Conversa/internal/models"
)

const (
	insertChannel  = "conversa:inserts"
	presencePrefix = "conversa:presence:"
)

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// RedisTransport publishes inserts over Redis pub/sub and keeps presence in
// one hash per conversation. Presence entries are refreshed by a heartbeat
// and entries older than the TTL are ignored, so a crashed instance cannot
// leave a participant "typing" forever.
type RedisTransport struct {
	rdb    *redis.Client
	log    *slog.Logger
	ttl    time.Duration
	closed atomic.Bool
}

func NewRedisTransport(rdb *redis.Client, log *slog.Logger, presenceTTL time.Duration) *RedisTransport {
	if presenceTTL <= 0 {
		presenceTTL = time.Minute
	}
	return &RedisTransport{rdb: rdb, log: log, ttl: presenceTTL}
}

var _ Transport = (*RedisTransport)(nil)

func (t *RedisTransport) PublishInsert(ctx context.Context, ev InsertEvent) error {
	if t.closed.Load() {
		return ErrClosed
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: encode insert: %w", err)
	}
	if err := t.rdb.Publish(ctx, insertChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish insert: %w", err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	ps := t.rdb.Subscribe(ctx, insertChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe inserts: %w", err)
	}

	sub := &redisSubscription{
		ps:     ps,
		filter: filter,
		log:    t.log,
		events: make(chan InsertEvent, insertBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go sub.loop()
	return sub, nil
}

func (t *RedisTransport) JoinPresence(ctx context.Context, conversationID, userID uuid.UUID) (PresenceChannel, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	key := presencePrefix + conversationID.String()
	ps := t.rdb.Subscribe(ctx, key+":sync")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: join presence: %w", err)
	}

	m := &redisPresence{
		rdb:    t.rdb,
		log:    t.log,
		ttl:    t.ttl,
		ps:     ps,
		key:    key,
		field:  userID.String() + "/" + uuid.NewString(),
		userID: userID,
		syncs:  make(chan PresenceState, presenceBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go m.loop()

	if err := m.notify(ctx); err != nil {
		_ = m.Leave(ctx)
		return nil, err
	}
	return m, nil
}

// Close stops new subscriptions. The Redis client stays owned by the caller.
func (t *RedisTransport) Close() error {
	t.closed.Store(true)
	return nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	filter Filter
	log    *slog.Logger
	events chan InsertEvent
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan InsertEvent { return s.events }

func (s *redisSubscription) loop() {
	defer close(s.exited)
	defer close(s.events)

	ch := s.ps.Channel(redis.WithChannelSize(insertBuffer))
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev InsertEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.log.Warn("redis: malformed insert event", slog.String("error", err.Error()))
				continue
			}
			if !s.filter.Match(ev) {
				continue
			}
			// A subscriber that cannot keep up is cut off, as in the memory
			// hub.
			select {
			case s.events <- ev:
			default:
				s.log.Warn("realtime: dropping slow subscriber", slog.String("message_id", ev.Message.ID.String()))
				return
			}
		}
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		<-s.exited
	})
	return err
}

type presenceRecord struct {
	UserID    uuid.UUID  `json:"user_id"`
	Typing    bool       `json:"typing"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type redisPresence struct {
	rdb    *redis.Client
	log    *slog.Logger
	ttl    time.Duration
	ps     *redis.PubSub
	key    string
	field  string
	userID uuid.UUID

	mu    sync.Mutex
	entry *models.PresenceEntry

	syncs  chan PresenceState
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (m *redisPresence) Syncs() <-chan PresenceState { return m.syncs }

func (m *redisPresence) Track(ctx context.Context, entry models.PresenceEntry) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	m.mu.Lock()
	m.entry = &entry
	m.mu.Unlock()

	if err := m.write(ctx, entry); err != nil {
		return err
	}
	return m.notify(ctx)
}

func (m *redisPresence) write(ctx context.Context, entry models.PresenceEntry) error {
	payload, err := json.Marshal(presenceRecord{
		UserID:    m.userID,
		Typing:    entry.Typing,
		LastSeen:  entry.LastSeen,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("redis: encode presence: %w", err)
	}
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, m.key, m.field, payload)
		pipe.Expire(ctx, m.key, 2*m.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: track presence: %w", err)
	}
	return nil
}

func (m *redisPresence) notify(ctx context.Context) error {
	if err := m.rdb.Publish(ctx, m.key+":sync", m.field).Err(); err != nil {
		return fmt.Errorf("redis: notify presence: %w", err)
	}
	return nil
}

func (m *redisPresence) Leave(ctx context.Context) error {
	var err error
	m.once.Do(func() {
		close(m.done)
		if delErr := m.rdb.HDel(ctx, m.key, m.field).Err(); delErr != nil {
			err = fmt.Errorf("redis: leave presence: %w", delErr)
		} else {
			err = m.notify(ctx)
		}
		_ = m.ps.Close()
		<-m.exited
	})
	return err
}

func (m *redisPresence) loop() {
	defer close(m.exited)
	defer close(m.syncs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-m.done
		cancel()
	}()

	heartbeat := time.NewTicker(m.ttl / 2)
	defer heartbeat.Stop()

	ch := m.ps.Channel()
	for {
		select {
		case <-m.done:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			state, err := m.load(ctx)
			if err != nil {
				if ctx.Err() == nil {
					m.log.Warn("redis: load presence", slog.String("error", err.Error()))
				}
				continue
			}
			deliverLatest(m.syncs, state)
		case <-heartbeat.C:
			m.mu.Lock()
			entry := m.entry
			m.mu.Unlock()
			if entry == nil {
				continue
			}
			if err := m.write(ctx, *entry); err != nil && ctx.Err() == nil {
				m.log.Warn("redis: presence heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (m *redisPresence) load(ctx context.Context) (PresenceState, error) {
	raw, err := m.rdb.HGetAll(ctx, m.key).Result()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-m.ttl)
	state := make(PresenceState)
	for field, value := range raw {
		var rec presenceRecord
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			continue
		}
		if rec.UpdatedAt.Before(cutoff) {
			continue
		}
		if rec.UserID == uuid.Nil {
			id, _, _ := strings.Cut(field, "/")
			if rec.UserID, err = uuid.Parse(id); err != nil {
				continue
			}
		}
		state[rec.UserID] = append(state[rec.UserID], models.PresenceEntry{
			Typing:   rec.Typing,
			LastSeen: rec.LastSeen,
		})
	}
	return state, nil
}
