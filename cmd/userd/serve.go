package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/eventfold/userd/pkg/app"
	"github.com/eventfold/userd/pkg/auth"
	"github.com/eventfold/userd/pkg/config"
	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/httpapi"
	natsq "github.com/eventfold/userd/pkg/messaging/nats"
	"github.com/eventfold/userd/pkg/observability"
	"github.com/eventfold/userd/pkg/projection"
	"github.com/eventfold/userd/pkg/runner"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Runs the HTTP API. With SYNC_EVENT_HANDLER=true projections are applied
inside the command transaction; otherwise each event is enqueued as
projection tasks on NATS JetStream for a separate worker process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	telemetry, err := observability.Init(ctx, observability.Config{
		ServiceName:    "userd",
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
	events := sqlite.NewEventStore(registry)
	snapshots := sqlite.NewSnapshotStore()
	readModel := sqlite.NewUserReadModel()

	var dispatcher app.Dispatcher
	if cfg.SyncEventHandler {
		projections := projection.NewUserRunner(readModel, sqlite.NewEmailLog(),
			projection.NewLogMailer(logger), sqlite.NewWatermarkStore(), logger)
		dispatcher = app.NewSyncDispatcher(projections)
		logger.Info("dispatch mode: synchronous")
	} else {
		queueConfig := natsq.DefaultConfig()
		queueConfig.URL = cfg.NATSURL
		queueConfig.StreamName = cfg.NATSStream

		queue, err := natsq.New(queueConfig, logger)
		if err != nil {
			return fmt.Errorf("connect task queue: %w", err)
		}
		defer queue.Close()

		dispatcher = app.NewQueueDispatcher(queue, app.WithDispatchMetrics(telemetry.Metrics))
		logger.Info("dispatch mode: queued",
			slog.String("url", cfg.NATSURL),
			slog.String("stream", cfg.NATSStream))
	}

	commands := app.NewCommands(db, events, snapshots, readModel, dispatcher,
		app.WithLogger(logger),
		app.WithMetrics(telemetry.Metrics),
		app.WithTracer(telemetry.Tracer("userd/commands")),
	)
	queries := app.NewQueries(db, events, readModel, logger)
	tokens := auth.NewTokens(cfg.SecretKey, cfg.AccessTokenLifetime)
	authenticator := auth.NewAuthenticator(db, events, readModel, tokens, logger)

	server := httpapi.NewServer(commands, queries, authenticator, tokens,
		httpapi.WithAddr(cfg.HTTPAddr),
		httpapi.WithLogger(logger),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
		httpapi.WithAllowedHosts(cfg.AllowedHosts),
	)

	return runner.New(
		[]runner.Service{server},
		runner.WithLogger(runner.NewSlogLogger(logger)),
	).Run(ctx)
}
