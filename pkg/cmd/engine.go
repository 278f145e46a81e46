package cmd

import (
	"log/slog"

	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/eventbus"
	"github.com/outflow/outflow/pkg/metrics"
	"github.com/outflow/outflow/pkg/persistence"
	"github.com/outflow/outflow/pkg/traversal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Engine bundles the traversal components shared by every binary that moves
// executions forward.
type Engine struct {
	Config   *config.Config
	Ledger   persistence.Persistence
	Graphs   *traversal.GraphCache
	Advancer *traversal.Advancer
	Metrics  *metrics.Collector
	Registry *prometheus.Registry
}

// NewEngine wires the advancer with its post-transition hooks. Terminal executions
// are announced on bus when one is given.
func NewEngine(cfg *config.Config, ledger persistence.Persistence, bus eventbus.EventBus, logger *slog.Logger) *Engine {
	registry := NewRegistry()
	collector := metrics.NewCollector(registry)

	hooks := []traversal.Hook{
		traversal.NewCostHook(ledger.ExecutionRepository(), ledger.StageRepository(), cfg.Costs),
	}

	if bus != nil {
		hooks = append(hooks, traversal.NewFinishedEventHook(bus, logger))
	}

	return &Engine{
		Config: cfg,
		Ledger: ledger,
		Graphs: traversal.NewGraphCache(ledger.FlowRepository()),
		Advancer: traversal.NewAdvancer(ledger, logger,
			traversal.WithHooks(hooks...),
			traversal.WithMetrics(collector),
		),
		Metrics:  collector,
		Registry: registry,
	}
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}
