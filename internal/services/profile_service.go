package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"

	"github.com/Akash16-Sharma/Conversa/internal/db"
	"github.com/Akash16-Sharma/Conversa/internal/models"
)

const profileCacheSize = 1024

var profileColumns = []string{
	"id",
	"COALESCE(full_name, '')",
	"COALESCE(native_language, '')",
	"COALESCE(native_level, '')",
	"COALESCE(learning_language, '')",
	"COALESCE(learning_level, '')",
	"COALESCE(bio, '')",
	"created_at",
	"updated_at",
}

type profileService struct {
	db    db.DBTX
	log   *slog.Logger
	cache *lru.Cache[uuid.UUID, models.Profile]
}

func NewProfileService(conn db.DBTX, log *slog.Logger) (ProfileService, error) {
	cache, err := lru.New[uuid.UUID, models.Profile](profileCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating profile cache: %w", err)
	}
	return &profileService{db: conn, log: log, cache: cache}, nil
}

func scanProfile(row pgx.Row) (models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.FullName, &p.NativeLanguage, &p.NativeLevel,
		&p.LearningLanguage, &p.LearningLevel, &p.Bio, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (ps *profileService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	if p, ok := ps.cache.Get(userID); ok {
		return &p, nil
	}

	sqlStr, args, err := psql.
		Select(profileColumns...).
		From("profiles").
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select profile: %w", err)
	}

	p, err := scanProfile(ps.db.QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}

	ps.cache.Add(userID, p)
	return &p, nil
}

func (ps *profileService) CreateProfile(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error) {
	sqlStr, args, err := psql.
		Insert("profiles").
		Columns("id", "full_name").
		Values(userID, models.DefaultFullName(email)).
		Suffix("ON CONFLICT (id) DO NOTHING RETURNING " + strings.Join(profileColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert profile: %w", err)
	}
	ps.log.DebugContext(ctx, "executing sql", slog.String("sql", sqlStr))

	p, err := scanProfile(ps.db.QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrProfileExists
	}
	if err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}

	ps.cache.Add(userID, p)
	return &p, nil
}

func (ps *profileService) EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error) {
	p, err := ps.GetProfile(ctx, userID)
	if !errors.Is(err, models.ErrProfileNotFound) {
		return p, err
	}
	p, err = ps.CreateProfile(ctx, userID, email)
	if errors.Is(err, models.ErrProfileExists) {
		return ps.GetProfile(ctx, userID)
	}
	return p, err
}

func (ps *profileService) UpdateProfile(ctx context.Context, userID uuid.UUID, update models.ProfileUpdate) (*models.Profile, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	if update.Empty() {
		return ps.GetProfile(ctx, userID)
	}

	var current models.Profile
	update.Apply(&current)

	setClause := squirrel.Eq{"updated_at": squirrel.Expr("now()")}
	if update.FullName != nil {
		setClause["full_name"] = current.FullName
	}
	if update.NativeLanguage != nil {
		setClause["native_language"] = current.NativeLanguage
	}
	if update.NativeLevel != nil {
		setClause["native_level"] = current.NativeLevel
	}
	if update.LearningLanguage != nil {
		setClause["learning_language"] = current.LearningLanguage
	}
	if update.LearningLevel != nil {
		setClause["learning_level"] = current.LearningLevel
	}
	if update.Bio != nil {
		setClause["bio"] = current.Bio
	}

	sqlStr, args, err := psql.
		Update("profiles").
		SetMap(setClause).
		Where(squirrel.Eq{"id": userID}).
		Suffix("RETURNING " + strings.Join(profileColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update profile: %w", err)
	}
	ps.log.DebugContext(ctx, "executing sql", slog.String("sql", sqlStr))

	ps.cache.Remove(userID)
	p, err := scanProfile(ps.db.QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}

	ps.log.InfoContext(ctx, "profile updated", slog.String("user_id", userID.String()))
	return &p, nil
}

func (ps *profileService) ListMatches(ctx context.Context, me models.Profile) ([]models.Profile, error) {
	if !me.CanMatch() {
		return []models.Profile{}, nil
	}

	sqlStr, args, err := matchesQuery(me).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building matches query: %w", err)
	}

	rows, err := ps.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	defer rows.Close()

	matches := make([]models.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}

// matchesQuery selects profiles whose language pair mirrors me's.
func matchesQuery(me models.Profile) squirrel.SelectBuilder {
	return psql.
		Select(profileColumns...).
		From("profiles").
		Where(squirrel.And{
			squirrel.Eq{"native_language": me.LearningLanguage},
			squirrel.Eq{"learning_language": me.NativeLanguage},
			squirrel.NotEq{"id": me.ID},
		}).
		OrderBy("full_name", "id")
}
