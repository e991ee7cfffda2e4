package app

import (
	"context"
	"fmt"

	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/observability"
	"github.com/eventfold/userd/pkg/projection"
	"github.com/eventfold/userd/pkg/storage"
)

// routes maps each event kind to the projection handlers that must see it.
// Every kind reaches exactly one read-model projection; USER_CREATED
// additionally fans out to the welcome mail.
var routes = map[domain.EventKind][]string{
	domain.EventUserCreated:     {projection.NameUserCreated, projection.NameUserCreatedEmail},
	domain.EventUserUpdated:     {projection.NameUserUpdated},
	domain.EventUserDeleted:     {projection.NameUserDeleted},
	domain.EventPasswordChanged: {projection.NamePasswordChanged},
}

// Route returns the projection handler names for an event kind.
func Route(kind domain.EventKind) []string {
	return routes[kind]
}

// Dispatcher delivers freshly appended events to their projections. The
// session is the command's transaction: a synchronous dispatcher applies
// projections inside it, an asynchronous one ignores it and hands the events
// to the broker.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess storage.Session, events []domain.Event) error
}

// SyncDispatcher runs every routed projection in-process inside the command's
// transaction. A projection failure rolls the whole command back. This mode
// gives read-your-writes and is the default for tests.
type SyncDispatcher struct {
	runner *projection.Runner
}

// NewSyncDispatcher creates an in-process dispatcher.
func NewSyncDispatcher(runner *projection.Runner) *SyncDispatcher {
	return &SyncDispatcher{runner: runner}
}

func (d *SyncDispatcher) Dispatch(ctx context.Context, sess storage.Session, events []domain.Event) error {
	for _, event := range events {
		for _, name := range Route(event.Kind) {
			if err := d.runner.Run(ctx, sess, name, event); err != nil {
				return fmt.Errorf("dispatch %s to %s: %w", event.Kind, name, err)
			}
		}
	}
	return nil
}

// Task is one unit of asynchronous projection work: a single event bound for
// a single handler. The event travels in its persisted record shape so the
// worker can round-trip it through the payload registry.
type Task struct {
	TaskName       string        `json:"task_name"`
	ProjectionType string        `json:"projection_type"`
	Event          domain.Record `json:"event"`
}

// ID uniquely identifies the task for broker-side deduplication.
func (t Task) ID() string {
	return t.Event.ID + "." + t.TaskName
}

// Enqueuer hands tasks to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, tasks []Task) error
}

// QueueDispatcher publishes one durable task per (event, handler) pair. The
// broker delivers at least once; the projection side is idempotent. The
// publish is not part of the command's transaction, so a crash between
// commit and publish can drop tasks; the projection watermark makes a later
// catch-up replay safe.
type QueueDispatcher struct {
	queue   Enqueuer
	metrics *observability.Metrics
}

// QueueDispatcherOption configures a QueueDispatcher.
type QueueDispatcherOption func(*QueueDispatcher)

// WithDispatchMetrics enables the enqueued-tasks counter.
func WithDispatchMetrics(metrics *observability.Metrics) QueueDispatcherOption {
	return func(d *QueueDispatcher) { d.metrics = metrics }
}

// NewQueueDispatcher creates a broker-backed dispatcher.
func NewQueueDispatcher(queue Enqueuer, opts ...QueueDispatcherOption) *QueueDispatcher {
	d := &QueueDispatcher{queue: queue}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, _ storage.Session, events []domain.Event) error {
	var tasks []Task
	for _, event := range events {
		rec, err := domain.EncodeEvent(event)
		if err != nil {
			return err
		}
		for _, name := range Route(event.Kind) {
			tasks = append(tasks, Task{
				TaskName:       name,
				ProjectionType: string(event.AggregateType),
				Event:          rec,
			})
		}
	}
	if len(tasks) == 0 {
		return nil
	}
	if err := d.queue.Enqueue(ctx, tasks); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.TasksEnqueued.Add(ctx, int64(len(tasks)))
	}
	return nil
}
