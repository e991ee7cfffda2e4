package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/userd/pkg/app"
	"github.com/eventfold/userd/pkg/auth"
	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/projection"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := auth.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.NoError(t, auth.ComparePassword(hash, "correct horse battery staple"))
	assert.Error(t, auth.ComparePassword(hash, "wrong"))

	_, err = auth.HashPassword("")
	assert.ErrorIs(t, err, auth.ErrPasswordEmpty)
}

func TestValidateStrength(t *testing.T) {
	assert.Error(t, auth.ValidateStrength("pw"))
	assert.Error(t, auth.ValidateStrength("weak"))
	assert.NoError(t, auth.ValidateStrength("pw12345"))
	assert.NoError(t, auth.ValidateStrength("correct horse battery staple"))
}

func TestTokens(t *testing.T) {
	tokens := auth.NewTokens("test-secret", time.Hour)
	userID := uuid.New()

	t.Run("RoundTrip", func(t *testing.T) {
		signed, err := tokens.Issue(userID, domain.RoleAdmin)
		require.NoError(t, err)

		principal, err := tokens.Verify(signed)
		require.NoError(t, err)
		assert.Equal(t, userID, principal.UserID)
		assert.True(t, principal.IsAdmin())
		assert.True(t, principal.HasScope(auth.ScopeUserDelete))
	})

	t.Run("UserRoleScopes", func(t *testing.T) {
		signed, err := tokens.Issue(userID, domain.RoleUser)
		require.NoError(t, err)

		principal, err := tokens.Verify(signed)
		require.NoError(t, err)
		assert.True(t, principal.HasScope(auth.ScopeUserRead))
		assert.True(t, principal.HasScope(auth.ScopeUserUpdate))
		assert.False(t, principal.HasScope(auth.ScopeUserCreate))
		assert.False(t, principal.HasScope(auth.ScopeUserDelete))
	})

	t.Run("WrongSecretRejected", func(t *testing.T) {
		signed, err := auth.NewTokens("other-secret", time.Hour).Issue(userID, domain.RoleUser)
		require.NoError(t, err)

		_, err = tokens.Verify(signed)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("ExpiredRejected", func(t *testing.T) {
		signed, err := auth.NewTokens("test-secret", -time.Minute).Issue(userID, domain.RoleUser)
		require.NoError(t, err)

		_, err = tokens.Verify(signed)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("GarbageRejected", func(t *testing.T) {
		_, err := tokens.Verify("not.a.token")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

type noMailer struct{}

func (noMailer) SendWelcome(ctx context.Context, email, username string) error { return nil }

func TestLogin(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.Open(sqlite.WithMemoryDatabase())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	events := sqlite.NewEventStore(domain.NewUserRegistry(nil))
	readModel := sqlite.NewUserReadModel()
	runner := projection.NewUserRunner(readModel, sqlite.NewEmailLog(), noMailer{}, sqlite.NewWatermarkStore(), nil)
	commands := app.NewCommands(db, events, sqlite.NewSnapshotStore(), readModel, app.NewSyncDispatcher(runner))

	hash, err := auth.HashPassword("correct horse battery staple")
	require.NoError(t, err)

	id, err := commands.HandleCreateUser(ctx, app.CreateUser{
		Username:      "kara",
		Email:         "kara@example.com",
		PasswordHash:  hash,
		HashingMethod: auth.HashingMethod,
		Role:          domain.RoleUser,
	})
	require.NoError(t, err)

	tokens := auth.NewTokens("test-secret", time.Hour)
	authenticator := auth.NewAuthenticator(db, events, readModel, tokens, nil)

	t.Run("Success", func(t *testing.T) {
		token, row, err := authenticator.Login(ctx, "kara", "correct horse battery staple")
		require.NoError(t, err)
		assert.Equal(t, id, row.AggregateID)

		principal, err := tokens.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, id, principal.UserID)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, _, err := authenticator.Login(ctx, "kara", "nope")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("UnknownUsername", func(t *testing.T) {
		_, _, err := authenticator.Login(ctx, "nobody", "whatever")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("DeletedUserCannotLogin", func(t *testing.T) {
		require.NoError(t, commands.HandleDeleteUser(ctx, app.DeleteUser{UserID: id}))
		_, _, err := authenticator.Login(ctx, "kara", "correct horse battery staple")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})
}
