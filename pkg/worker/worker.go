// Package worker runs the asynchronous projection side: it consumes tasks
// from the broker and applies each projection inside its own transaction.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/eventfold/userd/pkg/app"
	"github.com/eventfold/userd/pkg/domain"
	natsq "github.com/eventfold/userd/pkg/messaging/nats"
	"github.com/eventfold/userd/pkg/observability"
	"github.com/eventfold/userd/pkg/projection"
	"github.com/eventfold/userd/pkg/storage"
)

// DefaultDurable is the durable consumer name workers share. Every worker
// process with the same name splits the task load.
const DefaultDurable = "userd_projections"

// Worker consumes projection tasks. Each task opens a fresh unit of work:
// the projection apply and its watermark advance commit together, so a crash
// mid-task redelivers and replays cleanly.
type Worker struct {
	db          *sql.DB
	queue       *natsq.TaskQueue
	registry    *domain.Registry
	projections *projection.Runner
	durable     string
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// Option configures the worker.
type Option func(*Worker)

// WithDurable overrides the durable consumer name.
func WithDurable(name string) Option {
	return func(w *Worker) { w.durable = name }
}

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics enables projection metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(w *Worker) { w.metrics = metrics }
}

// New creates a worker over the given queue and projections.
func New(db *sql.DB, queue *natsq.TaskQueue, registry *domain.Registry, projections *projection.Runner, opts ...Option) *Worker {
	w := &Worker{
		db:          db,
		queue:       queue,
		registry:    registry,
		projections: projections,
		durable:     DefaultDurable,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name implements runner.Service.
func (w *Worker) Name() string { return "projection-worker" }

// Start subscribes to the task stream. Delivery begins immediately.
func (w *Worker) Start(ctx context.Context) error {
	return w.queue.Consume(w.durable, w.Handle)
}

// Stop closes the queue, which drains the subscription.
func (w *Worker) Stop(ctx context.Context) error {
	return w.queue.Close()
}

// Handle processes one task. A returned error naks the message so the broker
// redelivers it; out-of-order deliveries are the expected case of that.
func (w *Worker) Handle(ctx context.Context, task app.Task) error {
	event, err := w.registry.DecodeEvent(task.Event)
	if err != nil {
		// An unknown kind cannot improve with retries, but dropping it
		// silently would hide a deploy-order bug. Keep nacking and let the
		// broker's retry policy cap it.
		w.logger.ErrorContext(ctx, "task event undecodable",
			slog.String("task", task.ID()),
			slog.Any("error", err))
		return err
	}

	uow := storage.NewUnitOfWork(w.db)
	err = uow.Do(ctx, func(sess storage.Session) error {
		return w.projections.Run(ctx, sess, task.TaskName, event)
	})

	if w.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("projection", task.TaskName))
		if err != nil {
			w.metrics.ProjectionRetries.Add(ctx, 1, attrs)
		} else {
			w.metrics.ProjectionApplies.Add(ctx, 1, attrs)
		}
	}

	if errors.Is(err, projection.ErrOutOfOrderEvent) {
		w.logger.DebugContext(ctx, "task ahead of watermark, deferring",
			slog.String("task", task.ID()),
			slog.Int64("revision", event.Revision))
	}
	return err
}
