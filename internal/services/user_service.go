package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Akash16-Sharma/Conversa/internal/db"
	"github.com/Akash16-Sharma/Conversa/internal/models"
	"github.com/Akash16-Sharma/Conversa/internal/utils"
)

type userService struct {
	db  db.DBTX
	log *slog.Logger
}

func NewUserService(conn db.DBTX, log *slog.Logger) UserService {
	return &userService{db: conn, log: log}
}

func (us *userService) Register(ctx context.Context, email, password string) (*models.User, error) {
	email, err := NormalizeCredentials(email, password)
	if err != nil {
		return nil, err
	}

	hashedPassword, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	sqlStr, args, err := psql.
		Insert("users").
		Columns("id", "email", "password_hash").
		Values(uuid.New(), email, hashedPassword).
		Suffix("ON CONFLICT (email) DO NOTHING RETURNING id, email, password_hash, created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert user: %w", err)
	}
	us.log.DebugContext(ctx, "executing sql", slog.String("sql", sqlStr))

	var user models.User
	err = us.db.QueryRow(ctx, sqlStr, args...).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	us.log.InfoContext(ctx, "user created", slog.String("user_id", user.ID.String()))
	return &user, nil
}

func (us *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := us.getUser(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, models.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := utils.CheckPasswordHash(password, user.PasswordHash); err != nil {
		us.log.InfoContext(ctx, "password verification failed", slog.String("user_id", user.ID.String()))
		return nil, models.ErrInvalidCredentials
	}
	return user, nil
}

func (us *userService) GetUserById(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return us.getUser(ctx, "id", id)
}

func (us *userService) getUser(ctx context.Context, column string, value any) (*models.User, error) {
	sqlStr, args, err := psql.
		Select("id", "email", "password_hash", "created_at").
		From("users").
		Where(squirrel.Eq{column: value}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select user: %w", err)
	}

	var user models.User
	err = us.db.QueryRow(ctx, sqlStr, args...).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return &user, nil
}
