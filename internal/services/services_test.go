package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akash16-Sharma/Conversa/internal/models"
)

// argStrings renders builder args so uuid values compare the same whether
// squirrel kept them as uuid.UUID or resolved them through driver.Valuer.
func argStrings(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = fmt.Sprint(a)
	}
	return out
}

func TestNormalizeCredentials(t *testing.T) {
	email, err := NormalizeCredentials("  Ana@Example.COM ", "password1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", email)

	_, err = NormalizeCredentials("not-an-email", "password1")
	assert.ErrorIs(t, err, models.ErrInvalidEmail)

	_, err = NormalizeCredentials("@example.com", "password1")
	assert.ErrorIs(t, err, models.ErrInvalidEmail)

	_, err = NormalizeCredentials("ana@example.com", "short")
	assert.ErrorIs(t, err, models.ErrWeakPassword)
}

func TestMatchesQueryMirrorsLanguages(t *testing.T) {
	me := models.Profile{ID: uuid.New(), NativeLanguage: "Spanish", LearningLanguage: "English"}

	sqlStr, args, err := matchesQuery(me).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "native_language = $1")
	assert.Contains(t, sqlStr, "learning_language = $2")
	assert.Contains(t, sqlStr, "id <> $3")
	assert.Equal(t, []string{"English", "Spanish", me.ID.String()}, argStrings(args))
}

func TestFindConversationQueryIsUnordered(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	sqlStr, args, err := findConversationQuery(a, b).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, " OR ")
	assert.Contains(t, sqlStr, "LIMIT 1")
	assert.Equal(t, []string{a.String(), b.String(), b.String(), a.String()}, argStrings(args))
}

func TestListConversationsQueryJoinsCounterpart(t *testing.T) {
	me := uuid.New()

	sqlStr, args, err := listConversationsQuery(me).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "LEFT JOIN profiles p ON p.id = CASE WHEN c.participant_a = $1")
	assert.Contains(t, sqlStr, "ORDER BY c.created_at DESC")
	assert.Equal(t, []string{me.String(), me.String(), me.String()}, argStrings(args))
}

func TestUpsertReadCursorNeverRewinds(t *testing.T) {
	conv, user := uuid.New(), uuid.New()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	sqlStr, args, err := upsertReadCursorQuery(conv, user, at).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "ON CONFLICT (conversation_id, user_id) DO UPDATE")
	assert.Contains(t, sqlStr, "GREATEST(conversation_reads.last_read_at, EXCLUDED.last_read_at)")
	require.Len(t, args, 3)
	assert.Equal(t, at, args[2])
}

func TestCountMessagesQueryExcludesSender(t *testing.T) {
	conv, me := uuid.New(), uuid.New()
	after := time.Unix(0, 0).UTC()

	sqlStr, args, err := countMessagesQuery(conv, after, me).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "SELECT COUNT(*) FROM messages")
	assert.Contains(t, sqlStr, "created_at > $2")
	assert.Contains(t, sqlStr, "sender_id <> $3")
	require.Len(t, args, 3)
	assert.Equal(t, after, args[1])
	assert.Equal(t, me.String(), fmt.Sprint(args[2]))
}
