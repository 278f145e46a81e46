package cmd

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeMetrics exposes gatherer at /metrics on port until ctx is done. A zero port
// disables the endpoint.
func ServeMetrics(ctx context.Context, port int, gatherer prometheus.Gatherer, logger *slog.Logger) {
	if port == 0 {
		return
	}

	app := fiber.New()
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	go func() {
		<-ctx.Done()

		if err := app.Shutdown(); err != nil {
			logger.Error("Failed to stop metrics server", "error", err)
		}
	}()

	go func() {
		if err := app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			logger.ErrorContext(ctx, "Metrics server stopped", "error", err)
		}
	}()
}
