package memstore

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Akash16-Sharma/Conversa/internal/models"
	"github.com/Akash16-Sharma/Conversa/internal/realtime"
	"github.com/Akash16-Sharma/Conversa/internal/services"
)

// FindOrCreateConversation is atomic under the store lock, so concurrent
// first contacts between the same pair converge on one conversation.
func (s *Store) FindOrCreateConversation(_ context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	if a == b {
		return nil, models.ErrSelfConversation
	}
	first, second := models.OrderedPair(a, b)
	key := [2]uuid.UUID{first, second}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pairs[key]; ok {
		conv := s.conversations[id]
		return &conv, nil
	}
	conv := models.Conversation{ID: uuid.New(), ParticipantA: first, ParticipantB: second, CreatedAt: s.now()}
	s.conversations[conv.ID] = conv
	s.pairs[key] = conv.ID
	s.order = append(s.order, conv.ID)
	return &conv, nil
}

func (s *Store) GetConversation(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, models.ErrConversationNotFound
	}
	return &conv, nil
}

func (s *Store) ListConversations(_ context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]models.ConversationSummary, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		conv := s.conversations[s.order[i]]
		if !conv.Has(userID) {
			continue
		}
		other := conv.Counterpart(userID)
		counterpart, ok := s.profiles[other]
		if !ok {
			counterpart = models.Profile{ID: other}
		}
		summaries = append(summaries, models.ConversationSummary{Conversation: conv, Counterpart: counterpart})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func (s *Store) ListMessages(_ context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]models.Message, 0, len(s.messages[conversationID])), s.messages[conversationID]...), nil
}

func (s *Store) InsertMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (models.Message, error) {
	content, err := models.NormalizeContent(content)
	if err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return models.Message{}, models.ErrConversationNotFound
	}
	if !conv.Has(senderID) {
		s.mu.Unlock()
		return models.Message{}, models.ErrUserNotParticipant
	}

	createdAt := s.now()
	if log := s.messages[conversationID]; len(log) > 0 {
		if last := log[len(log)-1].CreatedAt; !createdAt.After(last) {
			createdAt = last.Add(tick)
		}
	}
	msg := models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      createdAt,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.mu.Unlock()

	ev := realtime.InsertEvent{Message: msg, Participants: conv.Participants()}
	if err := s.publisher.PublishInsert(ctx, ev); err != nil {
		s.log.WarnContext(ctx, "publishing insert event failed",
			slog.String("message_id", msg.ID.String()), slog.String("error", err.Error()))
	}
	return msg, nil
}

func (s *Store) LastMessage(_ context.Context, conversationID uuid.UUID) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.messages[conversationID]
	if len(log) == 0 {
		return nil, nil
	}
	last := log[len(log)-1]
	return &last, nil
}

func (s *Store) UpsertReadCursor(_ context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	key := readKey{conversation: conversationID, user: userID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.reads[key]; ok && !at.After(prev) {
		return nil
	}
	s.reads[key] = at
	return nil
}

func (s *Store) GetReadCursor(_ context.Context, conversationID, userID uuid.UUID) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.reads[readKey{conversation: conversationID, user: userID}]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func (s *Store) CountMessages(_ context.Context, conversationID uuid.UUID, after time.Time, senderNot uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.messages[conversationID] {
		if m.CreatedAt.After(after) && m.SenderID != senderNot {
			count++
		}
	}
	return count, nil
}

func (s *Store) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	return services.CountUnread(ctx, s, conversationID, userID)
}
