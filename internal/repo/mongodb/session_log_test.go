package mongodb

import (
	"testing"

	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionLogRepository(t *testing.T) {
	repo := NewMemorySessionLogRepository()
	ctx := t.Context()

	for _, text := range []string{"a joined", "b joined", "a left"} {
		e, err := repo.Append(ctx, models.SessionLogEntry{SessionID: "s1", Kind: models.SessionLogSystem, Text: text})
		require.NoError(t, err)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
	}
	_, err := repo.Append(ctx, models.SessionLogEntry{SessionID: "s2", Text: "other"})
	require.NoError(t, err)

	page, err := repo.ListBySession(ctx, "s1", 2, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "b joined", page.Data[0].Text)
	assert.Equal(t, "a left", page.Data[1].Text)

	page, err = repo.ListBySession(ctx, "s1", 10, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Empty(t, page.Data)

	page, err = repo.ListBySession(ctx, "missing", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}
