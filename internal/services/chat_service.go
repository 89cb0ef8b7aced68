package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/Akash16-Sharma/Conversa/internal/db"
	"github.com/Akash16-Sharma/Conversa/internal/models"
	"github.com/Akash16-Sharma/Conversa/internal/realtime"
)

type chatService struct {
	db        db.DBTX
	publisher realtime.Publisher
	log       *slog.Logger
}

// NewChatService returns a Postgres-backed ChatService. Every stored message
// is announced on publisher once the insert has committed.
func NewChatService(conn db.DBTX, publisher realtime.Publisher, log *slog.Logger) ChatService {
	return &chatService{db: conn, publisher: publisher, log: log}
}

func (cs *chatService) FindOrCreateConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	if a == b {
		return nil, models.ErrSelfConversation
	}

	conv, err := cs.findConversation(ctx, a, b)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, models.ErrConversationNotFound) {
		return nil, err
	}

	first, second := models.OrderedPair(a, b)
	sqlStr, args, err := psql.
		Insert("conversations").
		Columns("id", "participant_a", "participant_b").
		Values(uuid.New(), first, second).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert conversation: %w", err)
	}
	cs.log.DebugContext(ctx, "executing sql", slog.String("sql", sqlStr))

	if _, err := cs.db.Exec(ctx, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	// Re-read: a concurrent first contact may have won the unique pair index.
	return cs.findConversation(ctx, a, b)
}

func (cs *chatService) findConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	sqlStr, args, err := findConversationQuery(a, b).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building find conversation: %w", err)
	}
	return cs.scanConversation(ctx, sqlStr, args)
}

func findConversationQuery(a, b uuid.UUID) squirrel.SelectBuilder {
	return psql.
		Select("id", "participant_a", "participant_b", "created_at").
		From("conversations").
		Where(squirrel.Or{
			squirrel.Eq{"participant_a": a, "participant_b": b},
			squirrel.Eq{"participant_a": b, "participant_b": a},
		}).
		OrderBy("created_at").
		Limit(1)
}

func (cs *chatService) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	sqlStr, args, err := psql.
		Select("id", "participant_a", "participant_b", "created_at").
		From("conversations").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get conversation: %w", err)
	}
	return cs.scanConversation(ctx, sqlStr, args)
}

func (cs *chatService) scanConversation(ctx context.Context, sqlStr string, args []any) (*models.Conversation, error) {
	var conv models.Conversation
	err := cs.db.QueryRow(ctx, sqlStr, args...).Scan(&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &conv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching conversation: %w", err)
	}
	return &conv, nil
}

func (cs *chatService) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	sqlStr, args, err := listConversationsQuery(userID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list conversations: %w", err)
	}

	rows, err := cs.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var s models.ConversationSummary
		var profileCreated, profileUpdated pgtype.Timestamptz
		err := rows.Scan(&s.ID, &s.ParticipantA, &s.ParticipantB, &s.CreatedAt,
			&s.Counterpart.FullName, &s.Counterpart.NativeLanguage, &s.Counterpart.NativeLevel,
			&s.Counterpart.LearningLanguage, &s.Counterpart.LearningLevel, &s.Counterpart.Bio,
			&profileCreated, &profileUpdated)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		s.Counterpart.ID = s.Conversation.Counterpart(userID)
		if profileCreated.Valid {
			s.Counterpart.CreatedAt = profileCreated.Time
		}
		if profileUpdated.Valid {
			s.Counterpart.UpdatedAt = profileUpdated.Time
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return summaries, nil
}

// listConversationsQuery joins each of userID's conversations with the
// profile of the other participant, newest conversation first.
func listConversationsQuery(userID uuid.UUID) squirrel.SelectBuilder {
	return psql.
		Select("c.id", "c.participant_a", "c.participant_b", "c.created_at",
			"COALESCE(p.full_name, '')",
			"COALESCE(p.native_language, '')",
			"COALESCE(p.native_level, '')",
			"COALESCE(p.learning_language, '')",
			"COALESCE(p.learning_level, '')",
			"COALESCE(p.bio, '')",
			"p.created_at", "p.updated_at").
		From("conversations c").
		LeftJoin("profiles p ON p.id = CASE WHEN c.participant_a = ? THEN c.participant_b ELSE c.participant_a END", userID).
		Where(squirrel.Or{
			squirrel.Eq{"c.participant_a": userID},
			squirrel.Eq{"c.participant_b": userID},
		}).
		OrderBy("c.created_at DESC")
}

func (cs *chatService) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	sqlStr, args, err := psql.
		Select("id", "conversation_id", "sender_id", "content", "created_at").
		From("messages").
		Where(squirrel.Eq{"conversation_id": conversationID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list messages: %w", err)
	}

	rows, err := cs.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	cs.log.DebugContext(ctx, "fetched messages",
		slog.String("conversation_id", conversationID.String()), slog.Int("count", len(messages)))
	return messages, nil
}

func (cs *chatService) InsertMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (models.Message, error) {
	content, err := models.NormalizeContent(content)
	if err != nil {
		return models.Message{}, err
	}

	conv, err := cs.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if !conv.Has(senderID) {
		return models.Message{}, models.ErrUserNotParticipant
	}

	msg := models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	sqlStr, args, err := psql.
		Insert("messages").
		Columns("id", "conversation_id", "sender_id", "content").
		Values(msg.ID, msg.ConversationID, msg.SenderID, msg.Content).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return models.Message{}, fmt.Errorf("building insert message: %w", err)
	}
	cs.log.DebugContext(ctx, "executing sql", slog.String("sql", sqlStr))

	if err := cs.db.QueryRow(ctx, sqlStr, args...).Scan(&msg.CreatedAt); err != nil {
		return models.Message{}, fmt.Errorf("saving message: %w", err)
	}

	// The row is durable at this point; a failed announcement only delays
	// live delivery until the next snapshot fetch.
	ev := realtime.InsertEvent{Message: msg, Participants: conv.Participants()}
	if err := cs.publisher.PublishInsert(ctx, ev); err != nil {
		cs.log.WarnContext(ctx, "publishing insert event failed",
			slog.String("message_id", msg.ID.String()), slog.String("error", err.Error()))
	}
	return msg, nil
}

func (cs *chatService) LastMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	sqlStr, args, err := psql.
		Select("id", "conversation_id", "sender_id", "content", "created_at").
		From("messages").
		Where(squirrel.Eq{"conversation_id": conversationID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building last message: %w", err)
	}

	var m models.Message
	err = cs.db.QueryRow(ctx, sqlStr, args...).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching last message: %w", err)
	}
	return &m, nil
}

// UpsertReadCursor moves the cursor forward; an older timestamp never
// rewinds it.
func (cs *chatService) UpsertReadCursor(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	sqlStr, args, err := upsertReadCursorQuery(conversationID, userID, at).ToSql()
	if err != nil {
		return fmt.Errorf("building upsert read cursor: %w", err)
	}
	if _, err := cs.db.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upserting read cursor: %w", err)
	}
	return nil
}

func upsertReadCursorQuery(conversationID, userID uuid.UUID, at time.Time) squirrel.InsertBuilder {
	return psql.
		Insert("conversation_reads").
		Columns("conversation_id", "user_id", "last_read_at").
		Values(conversationID, userID, at).
		Suffix("ON CONFLICT (conversation_id, user_id) DO UPDATE SET last_read_at = " +
			"GREATEST(conversation_reads.last_read_at, EXCLUDED.last_read_at)")
}

func (cs *chatService) GetReadCursor(ctx context.Context, conversationID, userID uuid.UUID) (*time.Time, error) {
	sqlStr, args, err := psql.
		Select("last_read_at").
		From("conversation_reads").
		Where(squirrel.Eq{"conversation_id": conversationID, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get read cursor: %w", err)
	}

	var lastRead pgtype.Timestamptz
	err = cs.db.QueryRow(ctx, sqlStr, args...).Scan(&lastRead)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching read cursor: %w", err)
	}
	if !lastRead.Valid {
		return nil, nil
	}
	return &lastRead.Time, nil
}

func (cs *chatService) CountMessages(ctx context.Context, conversationID uuid.UUID, after time.Time, senderNot uuid.UUID) (int, error) {
	sqlStr, args, err := countMessagesQuery(conversationID, after, senderNot).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count messages: %w", err)
	}

	var count int
	if err := cs.db.QueryRow(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

func countMessagesQuery(conversationID uuid.UUID, after time.Time, senderNot uuid.UUID) squirrel.SelectBuilder {
	return psql.
		Select("COUNT(*)").
		From("messages").
		Where(squirrel.And{
			squirrel.Eq{"conversation_id": conversationID},
			squirrel.Gt{"created_at": after},
			squirrel.NotEq{"sender_id": senderNot},
		})
}

func (cs *chatService) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	return CountUnread(ctx, cs, conversationID, userID)
}

// CountUnread counts messages from others newer than userID's read cursor,
// treating a missing cursor as the epoch.
func CountUnread(ctx context.Context, cs ChatService, conversationID, userID uuid.UUID) (int, error) {
	cursor, err := cs.GetReadCursor(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	after := time.Unix(0, 0).UTC()
	if cursor != nil {
		after = *cursor
	}
	return cs.CountMessages(ctx, conversationID, after, userID)
}
