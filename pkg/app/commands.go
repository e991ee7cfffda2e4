// Package app hosts the command and query handlers. A command runs the full
// write protocol: load the aggregate (snapshot plus event tail), invoke the
// intent, then append, dispatch, and snapshot inside one unit of work. A
// query never touches the write path.
package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/observability"
	"github.com/eventfold/userd/pkg/storage"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

// CreateUser is the creation command. The password arrives already hashed;
// plaintext never crosses the application boundary.
type CreateUser struct {
	Username      string
	Email         string
	FirstName     string
	LastName      string
	PasswordHash  string
	HashingMethod string
	Role          domain.Role
}

// UpdateUser is the partial-update command. Nil fields stay untouched.
type UpdateUser struct {
	UserID    uuid.UUID
	FirstName *string
	LastName  *string
	Email     *string
}

// ChangePassword replaces the password hash.
type ChangePassword struct {
	UserID        uuid.UUID
	NewHash       string
	HashingMethod string
}

// DeleteUser logically deletes the user.
type DeleteUser struct {
	UserID uuid.UUID
}

// Commands handles the write side. Every command gets a fresh unit of work;
// nothing is shared across commands except the connection pool and the
// injected collaborators.
type Commands struct {
	db         *sql.DB
	events     *sqlite.EventStore
	snapshots  *sqlite.SnapshotStore
	readModel  *sqlite.UserReadModel
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
}

// CommandsOption configures Commands.
type CommandsOption func(*Commands)

// WithLogger sets the command logger.
func WithLogger(logger *slog.Logger) CommandsOption {
	return func(c *Commands) { c.logger = logger }
}

// WithMetrics enables command metrics.
func WithMetrics(metrics *observability.Metrics) CommandsOption {
	return func(c *Commands) { c.metrics = metrics }
}

// WithTracer enables command spans.
func WithTracer(tracer trace.Tracer) CommandsOption {
	return func(c *Commands) { c.tracer = tracer }
}

// NewCommands creates the command handlers.
func NewCommands(db *sql.DB, events *sqlite.EventStore, snapshots *sqlite.SnapshotStore, readModel *sqlite.UserReadModel, dispatcher Dispatcher, opts ...CommandsOption) *Commands {
	c := &Commands{
		db:         db,
		events:     events,
		snapshots:  snapshots,
		readModel:  readModel,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		tracer:     noop.NewTracerProvider().Tracer("userd"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleCreateUser creates a new aggregate and returns its id.
func (c *Commands) HandleCreateUser(ctx context.Context, cmd CreateUser) (id uuid.UUID, err error) {
	ctx, finish := c.instrument(ctx, "create_user")
	defer func() { finish(err) }()

	if err = c.checkUsernameFree(ctx, cmd.Username); err != nil {
		return uuid.Nil, err
	}
	if err = c.checkEmailFree(ctx, cmd.Email); err != nil {
		return uuid.Nil, err
	}

	id = uuid.New()
	user := domain.NewUser(id)
	events, err := user.Create(cmd.Username, cmd.Email, cmd.FirstName, cmd.LastName,
		cmd.PasswordHash, cmd.HashingMethod, cmd.Role)
	if err != nil {
		return uuid.Nil, err
	}

	if err = c.commit(ctx, user, events); err != nil {
		return uuid.Nil, err
	}

	c.logger.InfoContext(ctx, "user created",
		slog.String("user_id", id.String()),
		slog.String("username", cmd.Username))
	return id, nil
}

// HandleUpdateUser applies a partial update to an existing user.
func (c *Commands) HandleUpdateUser(ctx context.Context, cmd UpdateUser) (err error) {
	ctx, finish := c.instrument(ctx, "update_user")
	defer func() { finish(err) }()

	return c.mutate(ctx, cmd.UserID, func(user *domain.User) ([]domain.Event, error) {
		return user.Update(cmd.FirstName, cmd.LastName, cmd.Email)
	})
}

// HandleChangePassword replaces the user's password hash.
func (c *Commands) HandleChangePassword(ctx context.Context, cmd ChangePassword) (err error) {
	ctx, finish := c.instrument(ctx, "change_password")
	defer func() { finish(err) }()

	return c.mutate(ctx, cmd.UserID, func(user *domain.User) ([]domain.Event, error) {
		return user.ChangePassword(cmd.NewHash, cmd.HashingMethod)
	})
}

// HandleDeleteUser logically deletes the user.
func (c *Commands) HandleDeleteUser(ctx context.Context, cmd DeleteUser) (err error) {
	ctx, finish := c.instrument(ctx, "delete_user")
	defer func() { finish(err) }()

	return c.mutate(ctx, cmd.UserID, func(user *domain.User) ([]domain.Event, error) {
		return user.Delete()
	})
}

// mutate runs the shared mutation protocol: rehydrate from snapshot plus
// event tail, invoke the intent, commit the effects.
func (c *Commands) mutate(ctx context.Context, userID uuid.UUID, intent func(*domain.User) ([]domain.Event, error)) error {
	user, err := c.loadUser(ctx, c.db, userID)
	if err != nil {
		return err
	}
	events, err := intent(user)
	if err != nil {
		return err
	}
	return c.commit(ctx, user, events)
}

// commit lands the append, the projection dispatch, and the snapshot upsert
// in a single transaction. An observer outside it sees all three or none.
func (c *Commands) commit(ctx context.Context, user *domain.User, events []domain.Event) error {
	uow := storage.NewUnitOfWork(c.db)
	err := uow.Do(ctx, func(sess storage.Session) error {
		if err := c.events.AppendToStream(ctx, sess, user.ID, domain.AggregateUser, events); err != nil {
			return err
		}
		if err := c.dispatcher.Dispatch(ctx, sess, events); err != nil {
			return err
		}
		snapshot, err := user.Snapshot()
		if err != nil {
			return err
		}
		return c.snapshots.Set(ctx, sess, snapshot)
	})
	if err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.EventsAppended.Add(ctx, int64(len(events)))
	}
	return nil
}

// loadUser rehydrates the aggregate: snapshot fast-forward when one exists,
// then the event tail. A corrupt snapshot is logged and ignored; replay from
// empty always works.
func (c *Commands) loadUser(ctx context.Context, sess storage.Session, userID uuid.UUID) (*domain.User, error) {
	user := domain.NewUser(userID)

	snapshot, err := c.snapshots.Get(ctx, sess, userID, domain.AggregateUser)
	switch {
	case errors.Is(err, domain.ErrSnapshotNotFound):
		if c.metrics != nil {
			c.metrics.SnapshotMisses.Add(ctx, 1)
		}
	case err != nil:
		return nil, err
	default:
		restored, err := domain.UserFromSnapshot(snapshot)
		if err != nil {
			c.logger.WarnContext(ctx, "snapshot unusable, replaying from empty",
				slog.String("user_id", userID.String()),
				slog.Any("error", err))
		} else {
			user = restored
			if c.metrics != nil {
				c.metrics.SnapshotHits.Add(ctx, 1)
			}
		}
	}

	tail, err := c.events.GetStream(ctx, sess, userID, domain.AggregateUser, sqlite.StreamFilter{
		AfterRevision: user.LastAppliedRevision,
	})
	if err != nil {
		return nil, err
	}
	if user.LastAppliedRevision == 0 && len(tail) == 0 {
		return nil, domain.ErrUserNotFound
	}

	for _, event := range tail {
		if event.Revision <= user.LastAppliedRevision {
			continue
		}
		if err := user.Apply(event); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// checkUsernameFree is the advisory creation-time uniqueness check: search
// the event store for a prior creation with this username and confirm the
// corresponding read-model row is still live. The authoritative guard is the
// partial unique index; a racing create loses there at commit.
func (c *Commands) checkUsernameFree(ctx context.Context, username string) error {
	hits, err := c.events.SearchEvents(ctx, c.db, domain.AggregateUser, sqlite.SearchQuery{
		Kind:     domain.EventUserCreated,
		Username: username,
	})
	if err != nil {
		return err
	}
	if c.anyLive(ctx, hits) {
		return &domain.UniqueFieldError{Field: "username", Value: username}
	}
	return nil
}

func (c *Commands) checkEmailFree(ctx context.Context, email string) error {
	hits, err := c.events.SearchEvents(ctx, c.db, domain.AggregateUser, sqlite.SearchQuery{
		Kind:  domain.EventUserCreated,
		Email: email,
	})
	if err != nil {
		return err
	}
	if c.anyLive(ctx, hits) {
		return &domain.UniqueFieldError{Field: "email", Value: email}
	}
	return nil
}

// anyLive reports whether any of the hit aggregates still has a live
// read-model row. Deleted users release their username and email.
func (c *Commands) anyLive(ctx context.Context, hits []domain.Event) bool {
	for _, hit := range hits {
		if _, err := c.readModel.Get(ctx, c.db, hit.AggregateID); err == nil {
			return true
		}
	}
	return false
}

// instrument opens a span and returns a closure that records duration and
// outcome when the handler finishes.
func (c *Commands) instrument(ctx context.Context, command string) (context.Context, func(error)) {
	ctx, span := c.tracer.Start(ctx, "command."+command)
	start := time.Now()

	return ctx, func(err error) {
		defer span.End()
		if err != nil {
			span.RecordError(err)
			c.logger.WarnContext(ctx, "command failed",
				slog.String("command", command),
				slog.Any("error", err))
		}
		if c.metrics == nil {
			return
		}
		attrs := metric.WithAttributes(attribute.String("command", command))
		c.metrics.CommandTotal.Add(ctx, 1, attrs)
		c.metrics.CommandDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		if err != nil {
			c.metrics.CommandErrors.Add(ctx, 1, attrs)
		}
	}
}
