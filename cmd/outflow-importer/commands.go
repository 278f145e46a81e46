package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/outflow/outflow/pkg/cmd"
	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/importer"
	"github.com/outflow/outflow/pkg/log"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/otelhelper"
	"github.com/outflow/outflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

var errMissingArgument = errors.New("missing argument")

func NewImportCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Aliases:   []string{"i"},
		Usage:     "Import a prospect CSV file",
		ArgsUsage: "<path>",
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("%w: file path", errMissingArgument)
			}

			return withImports(ctx, command, logger, func(imports *services.Imports) (*models.ImportRecord, error) {
				return imports.ImportFile(ctx, path)
			})
		},
	}
}

func NewResumeCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Aliases:   []string{"r"},
		Usage:     "Resume an interrupted import from its last checkpoint",
		ArgsUsage: "<import-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id := command.Args().First()
			if id == "" {
				return fmt.Errorf("%w: import id", errMissingArgument)
			}

			return withImports(ctx, command, logger, func(imports *services.Imports) (*models.ImportRecord, error) {
				return imports.ResumeImport(ctx, id)
			})
		},
	}
}

func withImports(
	ctx context.Context,
	command *cli.Command,
	logger *slog.Logger,
	action func(imports *services.Imports) (*models.ImportRecord, error),
) error {
	log.Setup(command.String("log-level"))

	cfg, err := config.Load(command.String("config-file"))
	if err != nil {
		return err
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, "outflow-importer", command.String("otel-endpoint"))
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	ledger, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), "", cfg.Database.StatementTimeout)
	if err != nil {
		return err
	}

	defer func() {
		if err := ledger.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	collector := cmd.NewEngine(cfg, ledger, nil, logger).Metrics
	imports := services.NewImports(ledger, importer.NewPipeline(ledger, cfg.Import, collector, tracer, logger))

	record, err := action(imports)
	if err != nil {
		return err
	}

	return printRecord(os.Stdout, record)
}

func printRecord(w io.Writer, record *models.ImportRecord) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(record)
}
