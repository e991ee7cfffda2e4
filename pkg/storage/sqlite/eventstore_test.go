package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(sqlite.WithMemoryDatabase(), sqlite.WithWALMode(false))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createUserEvents(t *testing.T, id uuid.UUID) []domain.Event {
	t.Helper()
	u := domain.NewUser(id)
	events, err := u.Create("alice", "alice@example.com", "Alice", "A", "hash-0", "bcrypt", domain.RoleUser)
	require.NoError(t, err)
	first := "Alicia"
	updated, err := u.Update(&first, nil, nil)
	require.NoError(t, err)
	return append(events, updated...)
}

func TestEventStoreAppendAndGetStream(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := sqlite.NewEventStore(domain.NewUserRegistry(nil))
	id := uuid.New()
	events := createUserEvents(t, id)

	t.Run("AppendThenReadBack", func(t *testing.T) {
		uow := storage.NewUnitOfWork(db)
		err := uow.Do(ctx, func(sess storage.Session) error {
			return store.AppendToStream(ctx, sess, id, domain.AggregateUser, events)
		})
		require.NoError(t, err)

		loaded, err := store.GetStream(ctx, db, id, domain.AggregateUser, sqlite.StreamFilter{})
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		assert.Equal(t, int64(1), loaded[0].Revision)
		assert.Equal(t, int64(2), loaded[1].Revision)
		assert.Equal(t, domain.EventUserCreated, loaded[0].Kind)
		assert.Equal(t, events[0].Payload, loaded[0].Payload)
	})

	t.Run("AfterRevisionIsExclusive", func(t *testing.T) {
		loaded, err := store.GetStream(ctx, db, id, domain.AggregateUser, sqlite.StreamFilter{AfterRevision: 1})
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, int64(2), loaded[0].Revision)
	})

	t.Run("TimeWindowIsInclusive", func(t *testing.T) {
		until := events[0].Timestamp
		loaded, err := store.GetStream(ctx, db, id, domain.AggregateUser, sqlite.StreamFilter{Until: &until})
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, int64(1), loaded[0].Revision)

		before := events[0].Timestamp.Add(-time.Second)
		loaded, err = store.GetStream(ctx, db, id, domain.AggregateUser, sqlite.StreamFilter{Until: &before})
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("UnknownAggregateIsEmpty", func(t *testing.T) {
		loaded, err := store.GetStream(ctx, db, uuid.New(), domain.AggregateUser, sqlite.StreamFilter{})
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("UnsupportedAggregateType", func(t *testing.T) {
		_, err := store.GetStream(ctx, db, id, domain.AggregateType("ORDER"), sqlite.StreamFilter{})
		assert.ErrorIs(t, err, domain.ErrUnsupportedAggregateType)
	})
}

func TestEventStoreConcurrency(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := sqlite.NewEventStore(domain.NewUserRegistry(nil))
	id := uuid.New()
	events := createUserEvents(t, id)

	uow := storage.NewUnitOfWork(db)
	require.NoError(t, uow.Do(ctx, func(sess storage.Session) error {
		return store.AppendToStream(ctx, sess, id, domain.AggregateUser, events[:1])
	}))

	t.Run("StaleRevisionConflicts", func(t *testing.T) {
		// A second writer that also loaded revision 1 produces another
		// revision-1 event and must lose.
		loser := domain.NewUser(id)
		conflicting, err := loser.Create("alice", "alice@example.com", "Alice", "A", "hash-0", "bcrypt", domain.RoleUser)
		require.NoError(t, err)

		uow := storage.NewUnitOfWork(db)
		err = uow.Do(ctx, func(sess storage.Session) error {
			return store.AppendToStream(ctx, sess, id, domain.AggregateUser, conflicting)
		})
		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

		var conflictErr *domain.ConcurrencyError
		require.ErrorAs(t, err, &conflictErr)
		assert.Equal(t, id.String(), conflictErr.AggregateID)

		// No partial write is observable.
		loaded, err := store.GetStream(ctx, db, id, domain.AggregateUser, sqlite.StreamFilter{})
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})

	t.Run("GapRevisionConflicts", func(t *testing.T) {
		gap := domain.NewEvent(id, domain.AggregateUser, 5, &UserDeletedPayload{})
		uow := storage.NewUnitOfWork(db)
		err := uow.Do(ctx, func(sess storage.Session) error {
			return store.AppendToStream(ctx, sess, id, domain.AggregateUser, []domain.Event{gap})
		})
		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	})

	t.Run("DuplicateEventIDIsSkipped", func(t *testing.T) {
		// Retrying the exact same batch leaves the stream unchanged.
		uow := storage.NewUnitOfWork(db)
		err := uow.Do(ctx, func(sess storage.Session) error {
			return store.AppendToStream(ctx, sess, id, domain.AggregateUser, events[:1])
		})
		require.NoError(t, err)

		loaded, err := store.GetStream(ctx, db, id, domain.AggregateUser, sqlite.StreamFilter{})
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})

	t.Run("RetryWithTailAppendsOnlyTail", func(t *testing.T) {
		// A retried batch where the first event already landed: the
		// duplicate is skipped, the tail continues the run.
		uow := storage.NewUnitOfWork(db)
		err := uow.Do(ctx, func(sess storage.Session) error {
			return store.AppendToStream(ctx, sess, id, domain.AggregateUser, events)
		})
		require.NoError(t, err)

		loaded, err := store.GetStream(ctx, db, id, domain.AggregateUser, sqlite.StreamFilter{})
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		assert.Equal(t, []int64{1, 2}, []int64{loaded[0].Revision, loaded[1].Revision})
	})
}

// UserDeletedPayload aliases the deletion payload for gap tests.
type UserDeletedPayload = domain.UserDeletedV1

func TestEventStoreSearch(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := sqlite.NewEventStore(domain.NewUserRegistry(nil))

	mk := func(username, email string) uuid.UUID {
		id := uuid.New()
		u := domain.NewUser(id)
		events, err := u.Create(username, email, "F", "L", "h", "bcrypt", domain.RoleUser)
		require.NoError(t, err)
		uow := storage.NewUnitOfWork(db)
		require.NoError(t, uow.Do(ctx, func(sess storage.Session) error {
			return store.AppendToStream(ctx, sess, id, domain.AggregateUser, events)
		}))
		return id
	}

	bobID := mk("bob", "bob@example.com")
	mk("carol", "carol@example.com")

	t.Run("ByKindAndUsername", func(t *testing.T) {
		found, err := store.SearchEvents(ctx, db, domain.AggregateUser, sqlite.SearchQuery{
			Kind:     domain.EventUserCreated,
			Username: "bob",
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, bobID, found[0].AggregateID)
	})

	t.Run("ByEmailNoMatch", func(t *testing.T) {
		found, err := store.SearchEvents(ctx, db, domain.AggregateUser, sqlite.SearchQuery{
			Email: "nobody@example.com",
		})
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("NewestFirstWithLimit", func(t *testing.T) {
		found, err := store.SearchEvents(ctx, db, domain.AggregateUser, sqlite.SearchQuery{
			Kind:  domain.EventUserCreated,
			Limit: 1,
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
	})

	t.Run("TimeWindow", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		found, err := store.SearchEvents(ctx, db, domain.AggregateUser, sqlite.SearchQuery{From: &future})
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}
