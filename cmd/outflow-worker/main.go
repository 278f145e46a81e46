// Package main runs the asynchronous side of the engine: the delayed queue pump,
// batch sends, batch group completions and condition evaluations.
package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/outflow/outflow/pkg/cmd"
	"github.com/outflow/outflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultMetricsPort = 9092

func main() {
	command := &cli.Command{
		Name:                  "outflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Deliver queued batches and evaluate conditions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (memory://, postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis URL for the delayed queue, batch groups and engagement statistics",
				Required: true,
				Sources:  cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (gochannel, kafka)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "config-file",
				Usage:   "Engine tuning YAML file",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "flows-dir",
				Usage:   "Directory of JSON flow documents, overrides flows stored in the database",
				Sources: cli.EnvVars("FLOWS_DIR"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "How often expired batch groups are fired",
				Value:   time.Minute,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "pump-interval",
				Usage:   "How often due queue units are published",
				Value:   time.Second,
				Sources: cli.EnvVars("PUMP_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "pump-visibility",
				Usage:   "How long a claimed queue unit stays hidden before it is redelivered",
				Value:   time.Minute,
				Sources: cli.EnvVars("PUMP_VISIBILITY"),
			},
			&cli.BoolFlag{
				Name:    "log-sends",
				Usage:   "Log send requests instead of leaving them to an external transport",
				Value:   true,
				Sources: cli.EnvVars("LOG_SENDS"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port serving /metrics, 0 disables it",
				Value:   defaultMetricsPort,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
			&cli.StringFlag{
				Name:    "otel-endpoint",
				Usage:   "OTLP/HTTP endpoint for traces, empty disables tracing",
				Sources: cli.EnvVars("OTEL_EXPORTER_OTLP_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("outflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing outflow worker")

			return run(ctx, logger, options{
				databaseURL:    command.String("database-url"),
				redisURL:       command.String("redis-url"),
				eventBus:       command.String("event-bus"),
				kafkaBrokers:   command.String("kafka-brokers"),
				configFile:     command.String("config-file"),
				flowsDir:       command.String("flows-dir"),
				sweepInterval:  command.Duration("sweep-interval"),
				pumpInterval:   command.Duration("pump-interval"),
				pumpVisibility: command.Duration("pump-visibility"),
				logSends:       command.Bool("log-sends"),
				metricsPort:    command.Int("metrics-port"),
				otelEndpoint:   command.String("otel-endpoint"),
			})
		},
	}

	if err := cmd.LoadEnv(); err != nil {
		log.WithModule("outflow-worker").Warn("Ignoring .env file", "error", err)
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("outflow-worker").Error("outflow-worker failed", "error", err)
		os.Exit(1)
	}
}
