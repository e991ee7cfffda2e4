// Package nats is the durable task queue behind asynchronous projection
// dispatch. Tasks ride NATS JetStream: the producer publishes one message per
// (event, handler) pair, the worker consumes them with manual acknowledgment,
// and the broker redelivers anything not acked.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/eventfold/userd/pkg/app"
)

// Config holds the task queue settings.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream holding the tasks.
	StreamName string

	// MaxAge bounds task retention.
	MaxAge time.Duration

	// MaxBytes bounds stream storage.
	MaxBytes int64
}

// DefaultConfig returns the defaults for a local deployment.
func DefaultConfig() Config {
	return Config{
		URL:        nats.DefaultURL,
		StreamName: "USERD_TASKS",
		MaxAge:     7 * 24 * time.Hour,
		MaxBytes:   1024 * 1024 * 1024,
	}
}

// TaskQueue publishes and consumes projection tasks. It implements
// app.Enqueuer on the producing side.
type TaskQueue struct {
	nc         *nats.Conn
	js         nats.JetStreamContext
	streamName string
	logger     *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// New connects to NATS and ensures the task stream exists.
func New(config Config, logger *slog.Logger) (*TaskQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(config.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	q := &TaskQueue{nc: nc, js: js, streamName: config.StreamName, logger: logger}
	if err := q.ensureStream(config); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *TaskQueue) ensureStream(config Config) error {
	streamConfig := &nats.StreamConfig{
		Name:      config.StreamName,
		Subjects:  []string{"tasks.>"},
		Retention: nats.InterestPolicy,
		MaxAge:    config.MaxAge,
		MaxBytes:  config.MaxBytes,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	if _, err := q.js.StreamInfo(config.StreamName); err != nil {
		if _, err := q.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("create stream %s: %w", config.StreamName, err)
		}
		return nil
	}
	if _, err := q.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("update stream %s: %w", config.StreamName, err)
	}
	return nil
}

// Enqueue publishes one durable message per task. The task id doubles as the
// JetStream message id, so a retried publish of the same task deduplicates
// on the broker.
func (q *TaskQueue) Enqueue(ctx context.Context, tasks []app.Task) error {
	for _, task := range tasks {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal task %s: %w", task.ID(), err)
		}

		subject := fmt.Sprintf("tasks.%s.%s", task.ProjectionType, task.TaskName)
		if _, err := q.js.Publish(subject, data, nats.MsgId(task.ID()), nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish task %s: %w", task.ID(), err)
		}
	}
	return nil
}

// Handler processes one delivered task. A nil return acks the message; an
// error naks it for redelivery.
type Handler func(ctx context.Context, task app.Task) error

// Consume starts a durable queue subscription over all tasks. Multiple
// workers sharing the same durable name split the load; unacked messages
// redeliver. Undecodable messages are terminated, not retried.
func (q *TaskQueue) Consume(durable string, handler Handler) error {
	sub, err := q.js.QueueSubscribe(
		"tasks.>",
		durable,
		func(msg *nats.Msg) {
			ctx := context.Background()

			var task app.Task
			if err := json.Unmarshal(msg.Data, &task); err != nil {
				q.logger.Error("dropping undecodable task",
					slog.String("subject", msg.Subject),
					slog.Any("error", err))
				_ = msg.Term()
				return
			}

			if err := handler(ctx, task); err != nil {
				q.logger.Warn("task failed, scheduling redelivery",
					slog.String("task", task.ID()),
					slog.Any("error", err))
				_ = msg.NakWithDelay(time.Second)
				return
			}
			_ = msg.Ack()
		},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return fmt.Errorf("subscribe to tasks: %w", err)
	}

	q.mu.Lock()
	q.subs = append(q.subs, sub)
	q.mu.Unlock()
	return nil
}

// Close drains subscriptions and closes the connection.
func (q *TaskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, sub := range q.subs {
		if err := sub.Unsubscribe(); err != nil {
			q.logger.Warn("unsubscribe failed", slog.Any("error", err))
		}
	}
	q.subs = nil
	q.nc.Close()
	return nil
}
