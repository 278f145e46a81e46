package traversal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/eventbus"
	"github.com/outflow/outflow/pkg/events"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

// Hook runs after an execution state change was committed. A hook error is logged and
// never undoes the transition.
type Hook interface {
	AfterTransition(ctx context.Context, execution *models.Execution, from, to models.ExecutionStatus) error
}

type HookFunc func(ctx context.Context, execution *models.Execution, from, to models.ExecutionStatus) error

func (f HookFunc) AfterTransition(ctx context.Context, execution *models.Execution, from, to models.ExecutionStatus) error {
	return f(ctx, execution, from, to)
}

// EstimateCost prices a launch: every prospect receives every stage once.
func EstimateCost(flow *models.FlowDefinition, cohortSize int, costs config.CostsConfig) float64 {
	perProspect := 0.0
	for _, stage := range flow.Stages {
		perProspect += costs.UnitCost(stage.Channel)
	}

	return float64(cohortSize) * perProspect
}

// RealizedCost prices what the stages of an execution actually sent.
func RealizedCost(stages []*models.ExecutionStage, costs config.CostsConfig) float64 {
	total := 0.0

	for _, stage := range stages {
		if stage.Status != models.StageStatusCompleted {
			continue
		}

		channel := models.Channel(stage.ResultString(models.ResultChannel))
		total += float64(stage.ResultInt(models.ResultSent)) * costs.UnitCost(channel)
	}

	return total
}

// CostHook stores the realized cost of an execution once it is terminal.
type CostHook struct {
	executions persistence.ExecutionRepository
	stages     persistence.StageRepository
	costs      config.CostsConfig
}

func NewCostHook(executions persistence.ExecutionRepository, stages persistence.StageRepository, costs config.CostsConfig) *CostHook {
	return &CostHook{executions: executions, stages: stages, costs: costs}
}

func (h *CostHook) AfterTransition(ctx context.Context, execution *models.Execution, _, to models.ExecutionStatus) error {
	if !to.IsTerminal() {
		return nil
	}

	stages, err := h.stages.ListStages(ctx, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to list stages for cost: %w", err)
	}

	cost := RealizedCost(stages, h.costs)
	if err := h.executions.SetRealizedCost(ctx, execution.ID, cost); err != nil {
		return err
	}

	execution.RealizedCost = &cost

	return nil
}

// FinishedEventHook announces terminal executions on the event bus.
type FinishedEventHook struct {
	bus    eventbus.EventBus
	logger *slog.Logger
}

func NewFinishedEventHook(bus eventbus.EventBus, logger *slog.Logger) *FinishedEventHook {
	return &FinishedEventHook{bus: bus, logger: logger.With("module", "finished_event_hook")}
}

func (h *FinishedEventHook) AfterTransition(ctx context.Context, execution *models.Execution, _, to models.ExecutionStatus) error {
	if !to.IsTerminal() {
		return nil
	}

	event := events.ExecutionFinished{
		BaseEvent: events.NewBaseEvent(h.bus.GenerateID(), events.ExecutionFinishedEvent, execution.ID),
		FlowID:    execution.FlowID,
		Origin:    execution.Origin,
		Status:    to,
		Error:     execution.ErrorMessage,
	}

	if execution.RealizedCost != nil {
		event.RealizedCost = *execution.RealizedCost
	}

	return h.bus.Publish(ctx, execution.ID, event)
}
