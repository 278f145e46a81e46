// Package main provides the outflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/outflow/outflow/pkg/cmd"
	"github.com/outflow/outflow/pkg/importer"
	"github.com/outflow/outflow/pkg/services"
	"github.com/outflow/outflow/pkg/web"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger   *slog.Logger
	engine   *cmd.Engine
	tracer   trace.Tracer
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, engine *cmd.Engine, tracer trace.Tracer) *API {
	return &API{
		logger:   logger,
		engine:   engine,
		tracer:   tracer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	ledger := a.engine.Ledger
	cfg := a.engine.Config

	executions := services.NewExecutions(ledger, a.engine.Graphs, a.engine.Advancer, cfg.Costs, a.logger)
	flows := services.NewFlows(ledger, a.logger)
	imports := services.NewImports(ledger, importer.NewPipeline(ledger, cfg.Import, a.engine.Metrics, a.tracer, a.logger))

	handlers := web.NewAPIHandlers(executions, flows, imports, a.validate)

	return web.NewApp(handlers, a.engine.Registry, false)
}

func (a *API) Start(port int) error {
	a.logger.Info("API listening", "port", port)

	return a.App().Listen(":" + strconv.Itoa(port))
}
