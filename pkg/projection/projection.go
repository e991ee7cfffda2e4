// Package projection contains the read-model updaters. Each projection folds
// one committed event into the query side. Projections run either inside the
// command's transaction (synchronous dispatch) or inside a worker-owned
// transaction (asynchronous dispatch); in both cases they execute against the
// ambient session and never commit themselves.
package projection

import (
	"context"
	"fmt"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage"
)

// Handler names. The dispatcher routing table and the broker task names both
// refer to projections by these strings.
const (
	NameUserCreated      = "user_created"
	NameUserUpdated      = "user_updated"
	NameUserDeleted      = "user_deleted"
	NamePasswordChanged  = "password_changed"
	NameUserCreatedEmail = "user_created_email"
)

// Projection folds one event into the read model within the ambient session.
type Projection interface {
	Name() string
	Apply(ctx context.Context, sess storage.Session, event domain.Event) error
}

func wrongPayload(name string, event domain.Event) error {
	return fmt.Errorf("%w: projection %s cannot handle %s payload %T",
		domain.ErrInvalidEvent, name, event.Kind, event.Payload)
}
