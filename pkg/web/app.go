package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewApp wires the routes. gatherer backs /metrics and may be nil.
func NewApp(handlers *APIHandlers, gatherer prometheus.Gatherer, quiet bool) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())

	if !quiet {
		app.Use(logger.New(logger.Config{
			DisableColors: true,
		}))
	}

	app.Get("/health", handlers.HealthCheck)

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	e := app.Group("/executions")
	e.Post("/", handlers.LaunchExecution)
	e.Get("/", handlers.ListExecutions)
	e.Get("/:id", handlers.GetExecution)
	e.Get("/:id/stages", handlers.GetExecutionStages)
	e.Post("/:id/pause", handlers.PauseExecution)
	e.Post("/:id/resume", handlers.ResumeExecution)

	f := app.Group("/flows")
	f.Get("/", handlers.ListFlows)
	f.Put("/:id", handlers.PutFlow)
	f.Get("/:id", handlers.GetFlow)

	i := app.Group("/imports")
	i.Post("/", handlers.CreateImport)
	i.Get("/:id", handlers.GetImport)
	i.Post("/:id/resume", handlers.ResumeImport)

	return app
}
