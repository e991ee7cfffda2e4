package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the materialized state of an aggregate at some revision. At
// most one snapshot exists per aggregate id; newer snapshots replace older
// ones in place. Snapshots are a replay shortcut, never a source of truth:
// snapshot.Revision is always <= the stream's max revision, and the encoded
// state equals the fold of all events up to that revision.
type Snapshot struct {
	AggregateID   uuid.UUID
	AggregateType AggregateType
	Data          json.RawMessage
	Revision      int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
