package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/outflow/outflow/pkg/batchgroup"
	"github.com/outflow/outflow/pkg/batching"
	"github.com/outflow/outflow/pkg/cmd"
	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/gateway"
	"github.com/outflow/outflow/pkg/otelhelper"
	"github.com/outflow/outflow/pkg/queue"
	"github.com/outflow/outflow/pkg/scheduler"
)

type options struct {
	databaseURL  string
	redisURL     string
	eventBus     string
	kafkaBrokers string
	configFile   string
	flowsDir     string
	templatesDir string
	metricsPort  int
	otelEndpoint string
	once         bool
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, "outflow-scheduler", opts.otelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	ledger, err := cmd.NewPersistence(ctx, logger, opts.databaseURL, opts.flowsDir, cfg.Database.StatementTimeout)
	if err != nil {
		return err
	}

	defer func() {
		if err := ledger.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	client, err := cmd.NewRedis(ctx, opts.redisURL)
	if err != nil {
		return err
	}

	defer func() { _ = client.Close() }()

	bus, err := cmd.NewEventBus(opts.eventBus, opts.kafkaBrokers, "outflow-scheduler", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	resolver, err := cmd.NewContentResolver(opts.templatesDir)
	if err != nil {
		return err
	}

	engine := cmd.NewEngine(cfg, ledger, bus, logger)
	units := queue.NewRedisQueue(client, "")

	tick := scheduler.New(scheduler.Deps{
		Ledger:   ledger,
		Graphs:   engine.Graphs,
		Advancer: engine.Advancer,
		Orchestrator: batching.NewOrchestrator(
			batching.NewStrategy(cfg.Batching),
			ledger.StageRepository(),
			batchgroup.NewRedisTracker(client, ""),
			units,
			cfg.Batching.GroupTimeout,
			logger,
		),
		Courier: gateway.NewCourier(gateway.NewEventBusSender(bus, logger), ledger.ProspectRepository(), engine.Metrics, logger),
		Content: resolver,
		Queue:   units,
		Metrics: engine.Metrics,
		Tracer:  tracer,
	}, cfg.Scheduler, logger)

	trigger, err := scheduler.NewTrigger(tick, scheduler.NewRedisLocker(client, ""), cfg.Scheduler.TickSchedule, cfg.Scheduler.LockTTL, logger)
	if err != nil {
		return err
	}

	if opts.once {
		if !trigger.Fire(ctx) {
			logger.WarnContext(ctx, "Tick skipped, another scheduler holds the lock")
		}

		return nil
	}

	cmd.ServeMetrics(ctx, opts.metricsPort, engine.Registry, logger)

	if err := trigger.Start(ctx); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Scheduler started", "schedule", cfg.Scheduler.TickSchedule)

	<-ctx.Done()

	trigger.Stop()
	logger.InfoContext(ctx, "Scheduler stopped")

	return nil
}
