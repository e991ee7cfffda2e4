package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventfold/userd/pkg/storage"
)

// WatermarkStore tracks, per (projection, aggregate), the highest stream
// revision a projection has applied. The projection runner uses it to defer
// out-of-order deliveries and to acknowledge duplicates without re-applying.
type WatermarkStore struct{}

// NewWatermarkStore creates a watermark store.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{}
}

// Get returns the last applied revision, zero when the projection has never
// seen the aggregate.
func (w *WatermarkStore) Get(ctx context.Context, sess storage.Session, projection string, aggregateID uuid.UUID) (int64, error) {
	var revision int64
	err := sess.QueryRowContext(ctx, `
		SELECT last_revision FROM projection_watermarks
		WHERE projection_name = ? AND aggregate_id = ?
	`, projection, aggregateID.String()).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read watermark %s/%s: %w", projection, aggregateID, err)
	}
	return revision, nil
}

// Advance moves the watermark to revision. Upsert keyed on the pair; the
// runner only ever advances by one, so no backward guard is needed here.
func (w *WatermarkStore) Advance(ctx context.Context, sess storage.Session, projection string, aggregateID uuid.UUID, revision int64) error {
	_, err := sess.ExecContext(ctx, `
		INSERT INTO projection_watermarks (projection_name, aggregate_id, last_revision, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (projection_name, aggregate_id) DO UPDATE SET
			last_revision = excluded.last_revision,
			updated_at = excluded.updated_at
	`, projection, aggregateID.String(), revision, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("advance watermark %s/%s: %w", projection, aggregateID, err)
	}
	return nil
}

// EmailLog remembers which welcome mails have already gone out, keyed by
// event id, so at-least-once delivery never mails a user twice.
type EmailLog struct{}

// NewEmailLog creates an email log.
func NewEmailLog() *EmailLog {
	return &EmailLog{}
}

// AlreadySent reports whether the event's mail was recorded as sent.
func (l *EmailLog) AlreadySent(ctx context.Context, sess storage.Session, eventID string) (bool, error) {
	var one int
	err := sess.QueryRowContext(ctx,
		"SELECT 1 FROM processed_emails WHERE event_id = ?", eventID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed email %s: %w", eventID, err)
	}
	return true, nil
}

// MarkSent records the event's mail as sent.
func (l *EmailLog) MarkSent(ctx context.Context, sess storage.Session, eventID string, aggregateID uuid.UUID) error {
	_, err := sess.ExecContext(ctx, `
		INSERT INTO processed_emails (event_id, aggregate_id, sent_at) VALUES (?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, aggregateID.String(), formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("record processed email %s: %w", eventID, err)
	}
	return nil
}
