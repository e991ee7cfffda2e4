package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

// ErrOutOfOrderEvent signals that an event arrived before its predecessors
// were applied. The caller should redeliver later; under broker dispatch a
// nak is the right response.
var ErrOutOfOrderEvent = errors.New("event delivered out of order")

// ErrUnknownProjection signals a task naming a projection this process does
// not carry. Redelivery cannot fix it.
var ErrUnknownProjection = errors.New("unknown projection")

// WatermarkReadModel is the watermark key shared by every read-model
// projection. The routing table sends each event to exactly one of them, so
// together they see every revision of a stream exactly once and a single
// per-aggregate watermark gates them as a group.
const WatermarkReadModel = "user_read_model"

// Runner executes projections behind a per-aggregate revision watermark.
// A read-model projection only ever applies the revision directly after the
// watermark: earlier revisions are acknowledged without effect, later ones
// are deferred with ErrOutOfOrderEvent. That closes the window where a
// PASSWORD_CHANGED delivered before USER_CREATED would fabricate a
// half-empty row.
//
// The welcome-mail projection is exempt: it has no read-model state to
// corrupt and deduplicates on event id instead.
type Runner struct {
	projections map[string]Projection
	gated       map[string]bool
	watermarks  *sqlite.WatermarkStore
	logger      *slog.Logger
}

// NewRunner creates a runner over the given projections. Every projection is
// gated except the ones named in ungated.
func NewRunner(watermarks *sqlite.WatermarkStore, logger *slog.Logger, projections []Projection, ungated ...string) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		projections: make(map[string]Projection, len(projections)),
		gated:       make(map[string]bool, len(projections)),
		watermarks:  watermarks,
		logger:      logger,
	}
	for _, p := range projections {
		r.projections[p.Name()] = p
		r.gated[p.Name()] = true
	}
	for _, name := range ungated {
		r.gated[name] = false
	}
	return r
}

// NewUserRunner wires the standard user projections: four gated read-model
// projections plus the ungated welcome mail.
func NewUserRunner(readModel *sqlite.UserReadModel, emailLog *sqlite.EmailLog, mailer Mailer, watermarks *sqlite.WatermarkStore, logger *slog.Logger) *Runner {
	return NewRunner(watermarks, logger, []Projection{
		NewUserCreated(readModel),
		NewUserUpdated(readModel),
		NewUserDeleted(readModel),
		NewPasswordChanged(readModel),
		NewUserCreatedEmail(mailer, emailLog, logger),
	}, NameUserCreatedEmail)
}

// Names returns the registered projection names.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.projections))
	for name := range r.projections {
		names = append(names, name)
	}
	return names
}

// Run executes the named projection for the event within the ambient session.
// For gated projections the shared watermark decides: a revision at or below
// it is a duplicate and returns nil without applying; a revision more than
// one ahead returns ErrOutOfOrderEvent; the exact successor applies and
// advances the watermark in the same session.
func (r *Runner) Run(ctx context.Context, sess storage.Session, name string, event domain.Event) error {
	p, ok := r.projections[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProjection, name)
	}

	if !r.gated[name] {
		return p.Apply(ctx, sess, event)
	}

	watermark, err := r.watermarks.Get(ctx, sess, WatermarkReadModel, event.AggregateID)
	if err != nil {
		return err
	}

	switch {
	case event.Revision <= watermark:
		r.logger.DebugContext(ctx, "duplicate event delivery, skipping",
			slog.String("projection", name),
			slog.String("aggregate_id", event.AggregateID.String()),
			slog.Int64("revision", event.Revision),
			slog.Int64("watermark", watermark))
		return nil
	case event.Revision > watermark+1:
		return fmt.Errorf("%w: projection %s at watermark %d got revision %d for aggregate %s",
			ErrOutOfOrderEvent, name, watermark, event.Revision, event.AggregateID)
	}

	if err := p.Apply(ctx, sess, event); err != nil {
		return err
	}
	return r.watermarks.Advance(ctx, sess, WatermarkReadModel, event.AggregateID, event.Revision)
}
