package projection

import (
	"context"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

// UserCreated inserts the read-model row from the creation payload. Row
// timestamps come from the event timestamp, not the wall clock, so replays
// produce identical rows.
type UserCreated struct {
	readModel *sqlite.UserReadModel
}

// NewUserCreated creates the creation projection.
func NewUserCreated(readModel *sqlite.UserReadModel) *UserCreated {
	return &UserCreated{readModel: readModel}
}

func (p *UserCreated) Name() string { return NameUserCreated }

func (p *UserCreated) Apply(ctx context.Context, sess storage.Session, event domain.Event) error {
	row := sqlite.UserRow{AggregateID: event.AggregateID}
	ts := event.Timestamp
	row.CreatedAt = &ts
	row.UpdatedAt = &ts

	switch payload := event.Payload.(type) {
	case *domain.UserCreatedV1:
		row.Username = payload.Username
		row.Email = payload.Email
		row.FirstName = payload.FirstName
		row.LastName = payload.LastName
		row.PasswordHash = payload.PasswordHash
		row.Role = domain.RoleUser
	case *domain.UserCreatedV2:
		row.Username = payload.Username
		row.Email = payload.Email
		row.FirstName = payload.FirstName
		row.LastName = payload.LastName
		row.PasswordHash = payload.PasswordHash
		row.Role = payload.Role
	default:
		return wrongPayload(p.Name(), event)
	}

	return p.readModel.Insert(ctx, sess, row)
}

// UserUpdated overwrites only the fields present in the payload.
type UserUpdated struct {
	readModel *sqlite.UserReadModel
}

// NewUserUpdated creates the update projection.
func NewUserUpdated(readModel *sqlite.UserReadModel) *UserUpdated {
	return &UserUpdated{readModel: readModel}
}

func (p *UserUpdated) Name() string { return NameUserUpdated }

func (p *UserUpdated) Apply(ctx context.Context, sess storage.Session, event domain.Event) error {
	payload, ok := event.Payload.(*domain.UserUpdatedV1)
	if !ok {
		return wrongPayload(p.Name(), event)
	}
	return p.readModel.ApplyUpdate(ctx, sess, event.AggregateID,
		payload.FirstName, payload.LastName, payload.Email, event.Timestamp)
}

// UserDeleted soft-deletes the row. A missing row is a no-op.
type UserDeleted struct {
	readModel *sqlite.UserReadModel
}

// NewUserDeleted creates the deletion projection.
func NewUserDeleted(readModel *sqlite.UserReadModel) *UserDeleted {
	return &UserDeleted{readModel: readModel}
}

func (p *UserDeleted) Name() string { return NameUserDeleted }

func (p *UserDeleted) Apply(ctx context.Context, sess storage.Session, event domain.Event) error {
	if _, ok := event.Payload.(*domain.UserDeletedV1); !ok {
		return wrongPayload(p.Name(), event)
	}
	return p.readModel.SoftDelete(ctx, sess, event.AggregateID, event.Timestamp)
}

// PasswordChanged overwrites the password hash and preserves everything else.
type PasswordChanged struct {
	readModel *sqlite.UserReadModel
}

// NewPasswordChanged creates the password projection.
func NewPasswordChanged(readModel *sqlite.UserReadModel) *PasswordChanged {
	return &PasswordChanged{readModel: readModel}
}

func (p *PasswordChanged) Name() string { return NamePasswordChanged }

func (p *PasswordChanged) Apply(ctx context.Context, sess storage.Session, event domain.Event) error {
	payload, ok := event.Payload.(*domain.PasswordChangedV1)
	if !ok {
		return wrongPayload(p.Name(), event)
	}
	return p.readModel.SetPassword(ctx, sess, event.AggregateID, payload.PasswordHash, event.Timestamp)
}
