package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outflow/outflow/pkg/cmd"
	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/eventbus"
	"github.com/outflow/outflow/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

func run(ctx context.Context, logger *slog.Logger, command *cli.Command) error {
	cfg, err := config.Load(command.String("config-file"))
	if err != nil {
		return err
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, "outflow-api", command.String("otel-endpoint"))
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	ledger, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), command.String("flows-dir"), cfg.Database.StatementTimeout)
	if err != nil {
		return err
	}

	defer func() {
		if err := ledger.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	var bus eventbus.EventBus

	if provider := command.String("event-bus"); provider != "" {
		bus, err = cmd.NewEventBus(provider, command.String("kafka-brokers"), "outflow-api", logger)
		if err != nil {
			return err
		}

		defer func() {
			if err := bus.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
			}
		}()
	}

	api := NewAPI(logger, cmd.NewEngine(cfg, ledger, bus, logger), tracer)

	return api.Start(command.Int("port"))
}
