package services

import (
	"context"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/Akash16-Sharma/Conversa/internal/models"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// UserService is the identity provider: accounts and credential checks.
type UserService interface {
	Register(ctx context.Context, email, password string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	GetUserById(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type ProfileService interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	CreateProfile(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error)
	EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, update models.ProfileUpdate) (*models.Profile, error)
	ListMatches(ctx context.Context, me models.Profile) ([]models.Profile, error)
}

// ChatService covers the conversation directory, the message log and the
// per-participant read cursors.
type ChatService interface {
	FindOrCreateConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error)

	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	InsertMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (models.Message, error)
	LastMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error)

	UpsertReadCursor(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error
	GetReadCursor(ctx context.Context, conversationID, userID uuid.UUID) (*time.Time, error)
	CountMessages(ctx context.Context, conversationID uuid.UUID, after time.Time, senderNot uuid.UUID) (int, error)
	UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
}

// NormalizeCredentials lower-cases the e-mail and enforces the minimal
// password policy.
func NormalizeCredentials(email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return "", models.ErrInvalidEmail
	}
	if len(password) < 8 {
		return "", models.ErrWeakPassword
	}
	return email, nil
}
