package sqlite_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/userd/pkg/storage/sqlite"
)

func TestWatermarkStore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := sqlite.NewWatermarkStore()
	id := uuid.New()

	t.Run("UnseenAggregateIsZero", func(t *testing.T) {
		revision, err := store.Get(ctx, db, "user_created", id)
		require.NoError(t, err)
		assert.Zero(t, revision)
	})

	t.Run("AdvanceAndRead", func(t *testing.T) {
		require.NoError(t, store.Advance(ctx, db, "user_created", id, 1))
		require.NoError(t, store.Advance(ctx, db, "user_created", id, 2))

		revision, err := store.Get(ctx, db, "user_created", id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), revision)
	})

	t.Run("ProjectionsAreIndependent", func(t *testing.T) {
		revision, err := store.Get(ctx, db, "user_updated", id)
		require.NoError(t, err)
		assert.Zero(t, revision)

		require.NoError(t, store.Advance(ctx, db, "user_updated", id, 1))

		revision, err = store.Get(ctx, db, "user_created", id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), revision)
	})
}

func TestEmailLog(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	log := sqlite.NewEmailLog()
	id := uuid.New()

	sent, err := log.AlreadySent(ctx, db, "event-1")
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, log.MarkSent(ctx, db, "event-1", id))

	sent, err = log.AlreadySent(ctx, db, "event-1")
	require.NoError(t, err)
	assert.True(t, sent)

	// Redelivery marks are absorbed, not errors.
	assert.NoError(t, log.MarkSent(ctx, db, "event-1", id))
}
