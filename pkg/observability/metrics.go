package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the service's metric instruments.
type Metrics struct {
	CommandDuration metric.Float64Histogram
	CommandTotal    metric.Int64Counter
	CommandErrors   metric.Int64Counter

	EventsAppended metric.Int64Counter
	SnapshotHits   metric.Int64Counter
	SnapshotMisses metric.Int64Counter

	ProjectionApplies metric.Int64Counter
	ProjectionRetries metric.Int64Counter
	TasksEnqueued     metric.Int64Counter
}

// NewMetrics creates the instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.CommandDuration, err = meter.Float64Histogram(
		"userd.command.duration",
		metric.WithDescription("Command execution duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create command.duration: %w", err)
	}

	if m.CommandTotal, err = meter.Int64Counter(
		"userd.command.total",
		metric.WithDescription("Commands handled"),
	); err != nil {
		return nil, fmt.Errorf("create command.total: %w", err)
	}

	if m.CommandErrors, err = meter.Int64Counter(
		"userd.command.errors",
		metric.WithDescription("Commands that returned an error"),
	); err != nil {
		return nil, fmt.Errorf("create command.errors: %w", err)
	}

	if m.EventsAppended, err = meter.Int64Counter(
		"userd.events.appended",
		metric.WithDescription("Events appended to the store"),
	); err != nil {
		return nil, fmt.Errorf("create events.appended: %w", err)
	}

	if m.SnapshotHits, err = meter.Int64Counter(
		"userd.snapshot.hits",
		metric.WithDescription("Aggregate loads that started from a snapshot"),
	); err != nil {
		return nil, fmt.Errorf("create snapshot.hits: %w", err)
	}

	if m.SnapshotMisses, err = meter.Int64Counter(
		"userd.snapshot.misses",
		metric.WithDescription("Aggregate loads replayed from empty"),
	); err != nil {
		return nil, fmt.Errorf("create snapshot.misses: %w", err)
	}

	if m.ProjectionApplies, err = meter.Int64Counter(
		"userd.projection.applies",
		metric.WithDescription("Projection applications"),
	); err != nil {
		return nil, fmt.Errorf("create projection.applies: %w", err)
	}

	if m.ProjectionRetries, err = meter.Int64Counter(
		"userd.projection.retries",
		metric.WithDescription("Projection tasks nacked for redelivery"),
	); err != nil {
		return nil, fmt.Errorf("create projection.retries: %w", err)
	}

	if m.TasksEnqueued, err = meter.Int64Counter(
		"userd.tasks.enqueued",
		metric.WithDescription("Projection tasks published to the broker"),
	); err != nil {
		return nil, fmt.Errorf("create tasks.enqueued: %w", err)
	}

	return m, nil
}
