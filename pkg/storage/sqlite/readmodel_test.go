package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

func testRow(username string, createdAt time.Time) sqlite.UserRow {
	return sqlite.UserRow{
		AggregateID:  uuid.New(),
		Username:     username,
		Email:        username + "@example.com",
		FirstName:    "First",
		LastName:     "Last",
		PasswordHash: "hash",
		Role:         domain.RoleUser,
		CreatedAt:    &createdAt,
		UpdatedAt:    &createdAt,
	}
}

func TestUserReadModelInsertAndGet(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	model := sqlite.NewUserReadModel()
	now := time.Now().UTC()

	row := testRow("erin", now)
	require.NoError(t, model.Insert(ctx, db, row))

	t.Run("Get", func(t *testing.T) {
		got, err := model.Get(ctx, db, row.AggregateID)
		require.NoError(t, err)
		assert.Equal(t, "erin", got.Username)
		assert.Equal(t, "erin@example.com", got.Email)
		assert.Equal(t, domain.RoleUser, got.Role)
		require.NotNil(t, got.CreatedAt)
		assert.WithinDuration(t, now, *got.CreatedAt, time.Second)
	})

	t.Run("GetByUsername", func(t *testing.T) {
		got, err := model.GetByUsername(ctx, db, "erin")
		require.NoError(t, err)
		assert.Equal(t, row.AggregateID, got.AggregateID)

		_, err = model.GetByUsername(ctx, db, "nobody")
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		dup := testRow("erin", now)
		dup.Email = "other@example.com"
		err := model.Insert(ctx, db, dup)
		assert.ErrorIs(t, err, domain.ErrResourceConflict)

		var fieldErr *domain.UniqueFieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "username", fieldErr.Field)
		assert.Equal(t, "erin", fieldErr.Value)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		dup := testRow("erin2", now)
		dup.Email = "erin@example.com"
		err := model.Insert(ctx, db, dup)

		var fieldErr *domain.UniqueFieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "email", fieldErr.Field)
	})
}

func TestUserReadModelUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	model := sqlite.NewUserReadModel()
	now := time.Now().UTC()

	row := testRow("frank", now)
	require.NoError(t, model.Insert(ctx, db, row))

	t.Run("PartialUpdate", func(t *testing.T) {
		first := "Franklin"
		require.NoError(t, model.ApplyUpdate(ctx, db, row.AggregateID, &first, nil, nil, now.Add(time.Minute)))

		got, err := model.Get(ctx, db, row.AggregateID)
		require.NoError(t, err)
		assert.Equal(t, "Franklin", got.FirstName)
		assert.Equal(t, "Last", got.LastName)
		assert.Equal(t, "frank@example.com", got.Email)
	})

	t.Run("SetPassword", func(t *testing.T) {
		require.NoError(t, model.SetPassword(ctx, db, row.AggregateID, "hash-2", now.Add(2*time.Minute)))

		got, err := model.Get(ctx, db, row.AggregateID)
		require.NoError(t, err)
		assert.Equal(t, "hash-2", got.PasswordHash)
	})

	t.Run("SetPasswordMissingRowIsNoop", func(t *testing.T) {
		assert.NoError(t, model.SetPassword(ctx, db, uuid.New(), "hash", now))
	})

	t.Run("SoftDeleteHidesRow", func(t *testing.T) {
		require.NoError(t, model.SoftDelete(ctx, db, row.AggregateID, now.Add(3*time.Minute)))

		_, err := model.Get(ctx, db, row.AggregateID)
		assert.ErrorIs(t, err, domain.ErrUserNotFound)

		_, err = model.GetByUsername(ctx, db, "frank")
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("UsernameFreeAfterSoftDelete", func(t *testing.T) {
		// The partial unique index only covers live rows.
		replacement := testRow("frank", now.Add(4*time.Minute))
		assert.NoError(t, model.Insert(ctx, db, replacement))
	})
}

func TestUserReadModelList(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	model := sqlite.NewUserReadModel()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		row := testRow(fmt.Sprintf("user-%d", i), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, model.Insert(ctx, db, row))
	}
	deleted := testRow("user-gone", base.Add(10*time.Second))
	require.NoError(t, model.Insert(ctx, db, deleted))
	require.NoError(t, model.SoftDelete(ctx, db, deleted.AggregateID, base.Add(11*time.Second)))

	t.Run("PagingAndCount", func(t *testing.T) {
		rows, total, err := model.List(ctx, db, sqlite.ListFilter{Page: 1, PageSize: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, rows, 2)
		assert.Equal(t, "user-0", rows[0].Username)
		assert.Equal(t, "user-1", rows[1].Username)

		rows, _, err = model.List(ctx, db, sqlite.ListFilter{Page: 3, PageSize: 2})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "user-4", rows[0].Username)
	})

	t.Run("FilterByUsername", func(t *testing.T) {
		rows, total, err := model.List(ctx, db, sqlite.ListFilter{Username: "user-3"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, rows, 1)
		assert.Equal(t, "user-3", rows[0].Username)
	})

	t.Run("FilterByEmailNoMatch", func(t *testing.T) {
		rows, total, err := model.List(ctx, db, sqlite.ListFilter{Email: "gone@example.com"})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, rows)
	})

	t.Run("SoftDeletedExcluded", func(t *testing.T) {
		rows, total, err := model.List(ctx, db, sqlite.ListFilter{Username: "user-gone"})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, rows)
	})

	t.Run("PageDefaults", func(t *testing.T) {
		rows, total, err := model.List(ctx, db, sqlite.ListFilter{})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Len(t, rows, 5)
	})
}
