package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eventfold/userd/pkg/config"
	"github.com/eventfold/userd/pkg/domain"
	natsq "github.com/eventfold/userd/pkg/messaging/nats"
	"github.com/eventfold/userd/pkg/observability"
	"github.com/eventfold/userd/pkg/projection"
	"github.com/eventfold/userd/pkg/runner"
	"github.com/eventfold/userd/pkg/storage/sqlite"
	"github.com/eventfold/userd/pkg/worker"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the projection worker",
		Long: `Consumes projection tasks from the NATS JetStream queue and applies them
to the read model. Out-of-order deliveries are redelivered by the broker
until the watermark catches up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd)
		},
	}
}

func runWorker(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	telemetry, err := observability.Init(ctx, observability.Config{
		ServiceName:    "userd-worker",
		ServiceVersion: "dev",
		Environment:    "local",
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer telemetry.Shutdown(ctx)

	db, err := sqlite.Open(sqlite.WithDSN(cfg.DatabaseURL))
	if err != nil {
		return err
	}
	defer db.Close()

	registry := domain.NewUserRegistry(logger)
	readModel := sqlite.NewUserReadModel()
	projections := projection.NewUserRunner(readModel, sqlite.NewEmailLog(),
		projection.NewLogMailer(logger), sqlite.NewWatermarkStore(), logger)

	queueConfig := natsq.DefaultConfig()
	queueConfig.URL = cfg.NATSURL
	queueConfig.StreamName = cfg.NATSStream

	queue, err := natsq.New(queueConfig, logger)
	if err != nil {
		return fmt.Errorf("connect task queue: %w", err)
	}

	w := worker.New(db, queue, registry, projections,
		worker.WithLogger(logger),
		worker.WithMetrics(telemetry.Metrics),
	)

	return runner.New(
		[]runner.Service{w},
		runner.WithLogger(runner.NewSlogLogger(logger)),
	).Run(ctx)
}
