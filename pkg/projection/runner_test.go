package projection_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/projection"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

type countingMailer struct {
	sent []string
}

func (m *countingMailer) SendWelcome(ctx context.Context, email, username string) error {
	m.sent = append(m.sent, email)
	return nil
}

type fixture struct {
	db        *sql.DB
	readModel *sqlite.UserReadModel
	mailer    *countingMailer
	runner    *projection.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(sqlite.WithMemoryDatabase())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mailer := &countingMailer{}
	readModel := sqlite.NewUserReadModel()
	runner := projection.NewUserRunner(readModel, sqlite.NewEmailLog(), mailer, sqlite.NewWatermarkStore(), nil)
	return &fixture{db: db, readModel: readModel, mailer: mailer, runner: runner}
}

func userLifecycle(t *testing.T, id uuid.UUID) []domain.Event {
	t.Helper()
	u := domain.NewUser(id)
	created, err := u.Create("grace", "grace@example.com", "Grace", "G", "hash-0", "bcrypt", domain.RoleAdmin)
	require.NoError(t, err)
	changed, err := u.ChangePassword("hash-1", "bcrypt")
	require.NoError(t, err)
	deleted, err := u.Delete()
	require.NoError(t, err)
	events := append(created, changed...)
	return append(events, deleted...)
}

func TestRunnerAppliesInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := uuid.New()
	events := userLifecycle(t, id)

	require.NoError(t, f.runner.Run(ctx, f.db, projection.NameUserCreated, events[0]))

	row, err := f.readModel.Get(ctx, f.db, id)
	require.NoError(t, err)
	assert.Equal(t, "grace", row.Username)
	assert.Equal(t, domain.RoleAdmin, row.Role)
	assert.Equal(t, "hash-0", row.PasswordHash)
	require.NotNil(t, row.CreatedAt)
	assert.Equal(t, events[0].Timestamp.Unix(), row.CreatedAt.Unix())

	require.NoError(t, f.runner.Run(ctx, f.db, projection.NamePasswordChanged, events[1]))

	row, err = f.readModel.Get(ctx, f.db, id)
	require.NoError(t, err)
	assert.Equal(t, "hash-1", row.PasswordHash)

	require.NoError(t, f.runner.Run(ctx, f.db, projection.NameUserDeleted, events[2]))
	_, err = f.readModel.Get(ctx, f.db, id)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestRunnerDefersOutOfOrderDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := uuid.New()
	events := userLifecycle(t, id)

	// The password change lands first. Without its predecessor applied, the
	// gate must defer it rather than fabricate a half-empty row.
	err := f.runner.Run(ctx, f.db, projection.NamePasswordChanged, events[1])
	assert.ErrorIs(t, err, projection.ErrOutOfOrderEvent)

	_, err = f.readModel.Get(ctx, f.db, id)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	// Once the creation closes the gap the redelivery applies cleanly.
	require.NoError(t, f.runner.Run(ctx, f.db, projection.NameUserCreated, events[0]))
	require.NoError(t, f.runner.Run(ctx, f.db, projection.NamePasswordChanged, events[1]))

	row, err := f.readModel.Get(ctx, f.db, id)
	require.NoError(t, err)
	assert.Equal(t, "hash-1", row.PasswordHash)
	assert.Equal(t, "grace", row.Username)
}

func TestRunnerAbsorbsDuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := uuid.New()
	events := userLifecycle(t, id)

	require.NoError(t, f.runner.Run(ctx, f.db, projection.NameUserCreated, events[0]))

	// Redelivering the creation is acknowledged without a second insert; the
	// unique index would reject one.
	require.NoError(t, f.runner.Run(ctx, f.db, projection.NameUserCreated, events[0]))

	row, err := f.readModel.Get(ctx, f.db, id)
	require.NoError(t, err)
	assert.Equal(t, "grace", row.Username)
}

func TestRunnerSharedWatermarkSpansProjections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := uuid.New()

	u := domain.NewUser(id)
	created, err := u.Create("henry", "henry@example.com", "H", "H", "h0", "bcrypt", domain.RoleUser)
	require.NoError(t, err)
	first := "Henrik"
	updated, err := u.Update(&first, nil, nil)
	require.NoError(t, err)

	// Revision 1 through user_created advances the shared watermark, so
	// revision 2 through user_updated is the exact successor.
	require.NoError(t, f.runner.Run(ctx, f.db, projection.NameUserCreated, created[0]))
	require.NoError(t, f.runner.Run(ctx, f.db, projection.NameUserUpdated, updated[0]))

	row, err := f.readModel.Get(ctx, f.db, id)
	require.NoError(t, err)
	assert.Equal(t, "Henrik", row.FirstName)
}

func TestWelcomeMailProjection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := uuid.New()
	events := userLifecycle(t, id)

	require.NoError(t, f.runner.Run(ctx, f.db, projection.NameUserCreatedEmail, events[0]))
	assert.Equal(t, []string{"grace@example.com"}, f.mailer.sent)

	// Redelivery dedups on event id, not on a watermark.
	require.NoError(t, f.runner.Run(ctx, f.db, projection.NameUserCreatedEmail, events[0]))
	assert.Len(t, f.mailer.sent, 1)
}

func TestRunnerUnknownProjection(t *testing.T) {
	f := newFixture(t)
	events := userLifecycle(t, uuid.New())
	err := f.runner.Run(context.Background(), f.db, "no_such_projection", events[0])
	assert.ErrorIs(t, err, projection.ErrUnknownProjection)
}
