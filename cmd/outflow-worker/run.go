package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/outflow/outflow/pkg/batchgroup"
	"github.com/outflow/outflow/pkg/batching"
	"github.com/outflow/outflow/pkg/cmd"
	"github.com/outflow/outflow/pkg/condition"
	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/eventbus"
	"github.com/outflow/outflow/pkg/events"
	"github.com/outflow/outflow/pkg/gateway"
	"github.com/outflow/outflow/pkg/otelhelper"
	"github.com/outflow/outflow/pkg/queue"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	databaseURL    string
	redisURL       string
	eventBus       string
	kafkaBrokers   string
	configFile     string
	flowsDir       string
	sweepInterval  time.Duration
	pumpInterval   time.Duration
	pumpVisibility time.Duration
	logSends       bool
	metricsPort    int
	otelEndpoint   string
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, "outflow-worker", opts.otelEndpoint)
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

	bus, err := cmd.NewEventBus(opts.eventBus, opts.kafkaBrokers, "outflow-worker", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	engine := cmd.NewEngine(cfg, ledger, bus, logger)
	notifier := batchgroup.NewNotifier(batchgroup.NewRedisTracker(client, ""), bus, engine.Metrics, logger)

	if err := registerHandlers(bus, engine, notifier, client, tracer, opts.logSends, logger); err != nil {
		return err
	}

	if err := bus.Subscribe(ctx); err != nil {
		return err
	}

	pump := queue.NewPump(queue.NewRedisQueue(client, ""), bus, logger,
		queue.WithInterval(opts.pumpInterval),
		queue.WithVisibility(opts.pumpVisibility),
		queue.WithMetrics(engine.Metrics),
	)
	pump.Start(ctx)

	go notifier.RunSweeper(ctx, opts.sweepInterval)

	cmd.ServeMetrics(ctx, opts.metricsPort, engine.Registry, logger)

	logger.InfoContext(ctx, "Worker started")

	<-ctx.Done()

	pump.Stop(context.WithoutCancel(ctx))
	logger.InfoContext(ctx, "Worker stopped")

	return nil
}

func registerHandlers(
	bus eventbus.EventBus,
	engine *cmd.Engine,
	notifier *batchgroup.Notifier,
	client redis.UniversalClient,
	tracer trace.Tracer,
	logSends bool,
	logger *slog.Logger,
) error {
	ledger := engine.Ledger
	courier := gateway.NewCourier(gateway.NewEventBusSender(bus, logger), ledger.ProspectRepository(), engine.Metrics, logger)

	handlers := map[events.EventType]eventbus.EventHandler{
		events.BatchDispatchEvent: batching.NewBatchHandler(
			ledger.StageRepository(), courier, notifier, engine.Metrics, tracer, logger,
		).Handle,
		events.BatchGroupCompletedEvent: batching.NewCompletionHandler(
			ledger, engine.Graphs, engine.Advancer, engine.Metrics, tracer, logger,
		).Handle,
		events.ConditionEvaluationEvent: condition.NewEvaluator(
			ledger, engine.Graphs, engine.Advancer, gateway.NewRedisStats(client, ""), engine.Metrics, tracer, logger,
		).Handle,
	}

	if logSends {
		handlers[events.SendRequestedEvent] = gateway.NewLoggingTransport(logger).Handle
	}

	for eventType, handler := range handlers {
		if err := bus.Handle(eventType, handler); err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	return nil
}
