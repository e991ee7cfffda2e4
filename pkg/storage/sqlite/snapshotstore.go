package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage"
)

// SnapshotStore keeps at most one snapshot per aggregate id. Snapshots are
// an optimization: truncating the snapshot table only costs reconstruction
// time on the next load.
type SnapshotStore struct{}

// NewSnapshotStore creates a snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

func snapshotTable(t domain.AggregateType) (string, error) {
	switch t {
	case domain.AggregateUser:
		return "user_snapshots", nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedAggregateType, t)
	}
}

// Set upserts the snapshot inside the ambient session. A row holding a
// strictly higher revision wins: snapshots never move backward.
func (s *SnapshotStore) Set(ctx context.Context, sess storage.Session, snapshot *domain.Snapshot) error {
	table, err := snapshotTable(snapshot.AggregateType)
	if err != nil {
		return err
	}

	now := formatTime(time.Now().UTC())
	_, err = sess.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (aggregate_id, data, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			data = excluded.data,
			revision = excluded.revision,
			updated_at = excluded.updated_at
		WHERE excluded.revision > %s.revision
	`, table, table),
		snapshot.AggregateID.String(),
		string(snapshot.Data),
		snapshot.Revision,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot for %s: %w", snapshot.AggregateID, err)
	}
	return nil
}

// Get returns the current snapshot, or ErrSnapshotNotFound.
func (s *SnapshotStore) Get(ctx context.Context, sess storage.Session, aggregateID uuid.UUID, aggregateType domain.AggregateType) (*domain.Snapshot, error) {
	table, err := snapshotTable(aggregateType)
	if err != nil {
		return nil, err
	}

	var (
		data      string
		revision  int64
		createdAt string
		updatedAt string
	)
	err = sess.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT data, revision, created_at, updated_at FROM %s WHERE aggregate_id = ?
	`, table), aggregateID.String()).Scan(&data, &revision, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot for %s: %w", aggregateID, err)
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &domain.Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Data:          []byte(data),
		Revision:      revision,
		CreatedAt:     created,
		UpdatedAt:     updated,
	}, nil
}
