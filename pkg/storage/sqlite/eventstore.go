package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage"
)

// DefaultSearchLimit caps SearchEvents result sets when the caller does not
// ask for a limit.
const DefaultSearchLimit = 100

// EventStore is the append-only event log, partitioned per aggregate type.
// It participates in, but never owns, the ambient transaction: every method
// takes the caller's Session, and commit or rollback belongs to the unit of
// work.
type EventStore struct {
	registry *domain.Registry
}

// NewEventStore creates an event store that decodes payloads through the
// given registry.
func NewEventStore(registry *domain.Registry) *EventStore {
	return &EventStore{registry: registry}
}

// eventTable maps an aggregate type to its event table.
func eventTable(t domain.AggregateType) (string, error) {
	switch t {
	case domain.AggregateUser:
		return "user_events", nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedAggregateType, t)
	}
}

// AppendToStream appends the ordered batch to the aggregate's stream within
// the ambient session. Revisions must form a contiguous ascending run
// starting at current_max+1. Events whose id already exists in the store are
// silently skipped, which makes retried batches idempotent. A revision
// collision from a racing writer surfaces as a ConcurrencyError; the
// caller's unit of work must roll back.
func (s *EventStore) AppendToStream(ctx context.Context, sess storage.Session, aggregateID uuid.UUID, aggregateType domain.AggregateType, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	table, err := eventTable(aggregateType)
	if err != nil {
		return err
	}

	for i, e := range events {
		if err := e.Validate(); err != nil {
			return err
		}
		if e.AggregateID != aggregateID || e.AggregateType != aggregateType {
			return fmt.Errorf("%w: event %s does not belong to stream %s/%s",
				domain.ErrInvalidEvent, e.ID, aggregateType, aggregateID)
		}
		if i > 0 && e.Revision != events[i-1].Revision+1 {
			return fmt.Errorf("%w: batch revisions are not contiguous at event %s",
				domain.ErrInvalidEvent, e.ID)
		}
	}

	currentMax, err := s.maxRevision(ctx, sess, table, aggregateID)
	if err != nil {
		return err
	}

	for _, e := range events {
		exists, err := s.eventExists(ctx, sess, table, e.ID)
		if err != nil {
			return err
		}
		if exists {
			// Idempotent retry: the event already landed in a previous
			// attempt.
			continue
		}

		if e.Revision != currentMax+1 {
			return &domain.ConcurrencyError{
				AggregateID:      aggregateID.String(),
				ExpectedRevision: e.Revision,
				ActualRevision:   currentMax,
			}
		}

		rec, err := domain.EncodeEvent(e)
		if err != nil {
			return err
		}

		_, err = sess.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (event_id, aggregate_id, event_type, timestamp, version, revision, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, table),
			rec.ID,
			rec.AggregateID.String(),
			string(rec.Kind),
			formatTime(rec.Timestamp),
			rec.SchemaVersion,
			rec.Revision,
			string(rec.Data),
		)
		if err != nil {
			// The (aggregate_id, revision) unique index backstops races the
			// max-revision read cannot see.
			if isUniqueViolation(err) {
				return &domain.ConcurrencyError{
					AggregateID:      aggregateID.String(),
					ExpectedRevision: e.Revision,
					ActualRevision:   currentMax,
				}
			}
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
		currentMax = e.Revision
	}

	return nil
}

func (s *EventStore) maxRevision(ctx context.Context, sess storage.Session, table string, aggregateID uuid.UUID) (int64, error) {
	var max int64
	err := sess.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COALESCE(MAX(revision), 0) FROM %s WHERE aggregate_id = ?", table,
	), aggregateID.String()).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("read max revision: %w", err)
	}
	return max, nil
}

func (s *EventStore) eventExists(ctx context.Context, sess storage.Session, table, eventID string) (bool, error) {
	var one int
	err := sess.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT 1 FROM %s WHERE event_id = ?", table,
	), eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check event id %s: %w", eventID, err)
	}
	return true, nil
}

// StreamFilter restricts GetStream. AfterRevision is exclusive; the time
// bounds are inclusive.
type StreamFilter struct {
	AfterRevision int64
	From          *time.Time
	Until         *time.Time
}

// GetStream returns the aggregate's events in strictly ascending revision
// order, optionally restricted by revision and time window. An aggregate
// with no events in scope yields an empty slice.
func (s *EventStore) GetStream(ctx context.Context, sess storage.Session, aggregateID uuid.UUID, aggregateType domain.AggregateType, filter StreamFilter) ([]domain.Event, error) {
	table, err := eventTable(aggregateType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT event_id, aggregate_id, event_type, timestamp, version, revision, data
		FROM %s
		WHERE aggregate_id = ?
	`, table)
	args := []any{aggregateID.String()}

	if filter.AfterRevision > 0 {
		query += " AND revision > ?"
		args = append(args, filter.AfterRevision)
	}
	if filter.From != nil {
		query += " AND timestamp >= ?"
		args = append(args, formatTime(*filter.From))
	}
	if filter.Until != nil {
		query += " AND timestamp <= ?"
		args = append(args, formatTime(*filter.Until))
	}
	query += " ORDER BY revision ASC"

	return s.queryEvents(ctx, sess, aggregateType, query, args...)
}

// SearchQuery is a flat conjunction of predicates over recognized keys.
// Username and email match exactly against the event payload.
type SearchQuery struct {
	Kind     domain.EventKind
	Username string
	Email    string
	From     *time.Time
	Until    *time.Time
	Limit    int
}

// SearchEvents returns events matching every set predicate, newest first.
func (s *EventStore) SearchEvents(ctx context.Context, sess storage.Session, aggregateType domain.AggregateType, q SearchQuery) ([]domain.Event, error) {
	table, err := eventTable(aggregateType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT event_id, aggregate_id, event_type, timestamp, version, revision, data
		FROM %s
		WHERE 1 = 1
	`, table)
	var args []any

	if q.Kind != "" {
		query += " AND event_type = ?"
		args = append(args, string(q.Kind))
	}
	if q.Username != "" {
		query += " AND json_extract(data, '$.username') = ?"
		args = append(args, q.Username)
	}
	if q.Email != "" {
		query += " AND json_extract(data, '$.email') = ?"
		args = append(args, q.Email)
	}
	if q.From != nil {
		query += " AND timestamp >= ?"
		args = append(args, formatTime(*q.From))
	}
	if q.Until != nil {
		query += " AND timestamp <= ?"
		args = append(args, formatTime(*q.Until))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	return s.queryEvents(ctx, sess, aggregateType, query, args...)
}

func (s *EventStore) queryEvents(ctx context.Context, sess storage.Session, aggregateType domain.AggregateType, query string, args ...any) ([]domain.Event, error) {
	rows, err := sess.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			rec         domain.Record
			aggregateID string
			timestamp   string
			data        string
		)
		if err := rows.Scan(&rec.ID, &aggregateID, &rec.Kind, &timestamp, &rec.SchemaVersion, &rec.Revision, &data); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		rec.AggregateID, err = uuid.Parse(aggregateID)
		if err != nil {
			return nil, fmt.Errorf("parse aggregate id %q: %w", aggregateID, err)
		}
		rec.Timestamp, err = parseTime(timestamp)
		if err != nil {
			return nil, err
		}
		rec.AggregateType = aggregateType
		rec.Data = []byte(data)

		event, err := s.registry.DecodeEvent(rec)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}

// isUniqueViolation reports whether the driver error is a unique-index
// failure. modernc.org/sqlite surfaces these as string-coded errors.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// uniqueViolationColumn extracts the "table.column" part of a unique-index
// failure, or "" when the error is something else.
func uniqueViolationColumn(err error) string {
	if err == nil {
		return ""
	}
	const marker = "UNIQUE constraint failed: "
	msg := err.Error()
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return ""
	}
	rest := msg[idx+len(marker):]
	if cut := strings.IndexAny(rest, " ,;("); cut > 0 {
		rest = rest[:cut]
	}
	return strings.TrimSpace(rest)
}
