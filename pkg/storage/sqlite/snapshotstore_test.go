package sqlite_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

func snapshotAt(t *testing.T, id uuid.UUID, revision int64, username string) *domain.Snapshot {
	t.Helper()
	u := domain.NewUser(id)
	_, err := u.Create(username, username+"@example.com", "F", "L", "h", "bcrypt", domain.RoleUser)
	require.NoError(t, err)
	snap, err := u.Snapshot()
	require.NoError(t, err)
	snap.Revision = revision
	return snap
}

func TestSnapshotStore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := sqlite.NewSnapshotStore()
	id := uuid.New()

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, db, id, domain.AggregateUser)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, db, snapshotAt(t, id, 3, "dana")))

		got, err := store.Get(ctx, db, id, domain.AggregateUser)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Revision)

		restored, err := domain.UserFromSnapshot(got)
		require.NoError(t, err)
		assert.Equal(t, "dana", restored.Username)
		assert.Equal(t, int64(3), restored.LastAppliedRevision)
	})

	t.Run("HigherRevisionReplaces", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, db, snapshotAt(t, id, 7, "dana-later")))

		got, err := store.Get(ctx, db, id, domain.AggregateUser)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.Revision)
	})

	t.Run("LowerRevisionIsIgnored", func(t *testing.T) {
		// A stale writer loses quietly; the stored snapshot stays put.
		require.NoError(t, store.Set(ctx, db, snapshotAt(t, id, 2, "dana-stale")))

		got, err := store.Get(ctx, db, id, domain.AggregateUser)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.Revision)

		restored, err := domain.UserFromSnapshot(got)
		require.NoError(t, err)
		assert.Equal(t, "dana-later", restored.Username)
	})

	t.Run("UnsupportedAggregateType", func(t *testing.T) {
		_, err := store.Get(ctx, db, id, domain.AggregateType("ORDER"))
		assert.ErrorIs(t, err, domain.ErrUnsupportedAggregateType)
	})
}
