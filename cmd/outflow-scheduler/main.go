// Package main runs the periodic node scheduler.
package main

import (
	"context"
	"os"

	"github.com/outflow/outflow/pkg/cmd"
	"github.com/outflow/outflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultMetricsPort = 9093

func main() {
	logger := log.WithModule("outflow-scheduler")

	command := &cli.Command{
		Name:                  "outflow-scheduler",
		Usage:                 "Advance due executions on a fixed schedule",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (memory://, postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis URL for the delayed queue, batch groups and the tick lock",
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
			&cli.StringFlag{
				Name:    "templates-dir",
				Usage:   "Directory of YAML message templates",
				Sources: cli.EnvVars("TEMPLATES_DIR"),
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
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single tick and exit",
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

			logger.InfoContext(ctx, "Initializing outflow scheduler")

			return run(ctx, logger, options{
				databaseURL:  command.String("database-url"),
				redisURL:     command.String("redis-url"),
				eventBus:     command.String("event-bus"),
				kafkaBrokers: command.String("kafka-brokers"),
				configFile:   command.String("config-file"),
				flowsDir:     command.String("flows-dir"),
				templatesDir: command.String("templates-dir"),
				metricsPort:  command.Int("metrics-port"),
				otelEndpoint: command.String("otel-endpoint"),
				once:         command.Bool("once"),
			})
		},
	}

	if err := cmd.LoadEnv(); err != nil {
		logger.Warn("Ignoring .env file", "error", err)
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("outflow-scheduler failed", "error", err)
		os.Exit(1)
	}
}
