// Package main imports prospect files into the ledger.
package main

import (
	"context"
	"os"

	"github.com/outflow/outflow/pkg/cmd"
	"github.com/outflow/outflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("outflow-importer")

	command := &cli.Command{
		Name:                  "outflow-importer",
		Usage:                 "Import prospect files in checkpointed chunks",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (memory://, postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "config-file",
				Usage:   "Engine tuning YAML file",
				Sources: cli.EnvVars("CONFIG_FILE"),
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
		Commands: []*cli.Command{
			NewImportCommand(logger),
			NewResumeCommand(logger),
		},
	}

	if err := cmd.LoadEnv(); err != nil {
		logger.Warn("Ignoring .env file", "error", err)
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("outflow-importer failed", "error", err)
		os.Exit(1)
	}
}
