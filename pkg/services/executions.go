package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
	"github.com/outflow/outflow/pkg/traversal"
)

// LaunchRequest starts a flow for a cohort.
type LaunchRequest struct {
	FlowID      string   `json:"flow_id"      validate:"required"`
	ProspectIDs []string `json:"prospect_ids" validate:"required,dive,required"`
	Origin      string   `json:"origin"`
}

type Executions struct {
	ledger   persistence.Persistence
	graphs   traversal.Graphs
	advancer *traversal.Advancer
	costs    config.CostsConfig
	validate *validator.Validate
	logger   *slog.Logger
}

func NewExecutions(
	ledger persistence.Persistence,
	graphs traversal.Graphs,
	advancer *traversal.Advancer,
	costs config.CostsConfig,
	logger *slog.Logger,
) *Executions {
	return &Executions{
		ledger:   ledger,
		graphs:   graphs,
		advancer: advancer,
		costs:    costs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "execution_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Executions) HealthCheck(ctx context.Context) (string, bool) {
	if err := s.ledger.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Launch creates a pending execution pointed at the start node of the flow. Duplicate
// prospect ids are dropped.
func (s *Executions) Launch(ctx context.Context, req LaunchRequest) (*models.Execution, error) {
	cohort := uniqueIDs(req.ProspectIDs)
	if len(cohort) == 0 {
		return nil, NewValidationError("Launch", "empty_cohort", "", ErrEmptyCohort)
	}

	req.ProspectIDs = cohort
	if err := s.validate.Struct(req); err != nil {
		return nil, NewValidationError("Launch", "invalid_request", err.Error(), ErrInvalidRequest)
	}

	graph, err := s.graphs.Graph(ctx, req.FlowID)
	if err != nil {
		return nil, err
	}

	now := s.advancer.Now()
	start := graph.Flow().StartNodeID
	due := now.Add(graph.Delay(start))

	execution := &models.Execution{
		ID:            uuid.NewString(),
		FlowID:        req.FlowID,
		Origin:        req.Origin,
		ProspectIDs:   cohort,
		NextNodeID:    &start,
		NextDueAt:     &due,
		Status:        models.ExecutionStatusPending,
		EstimatedCost: traversal.EstimateCost(graph.Flow(), len(cohort), s.costs),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.ledger.ExecutionRepository().CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	s.logger.InfoContext(ctx, "execution launched",
		"execution_id", execution.ID,
		"flow_id", execution.FlowID,
		"origin", execution.Origin,
		"cohort", len(cohort),
		"estimated_cost", execution.EstimatedCost,
		"currency", s.costs.Currency)

	return execution, nil
}

// Pause stops the scheduler from picking the execution up. Work already queued for it
// still completes and is recorded.
func (s *Executions) Pause(ctx context.Context, id string) (*models.Execution, error) {
	if err := s.ledger.ExecutionRepository().PauseExecution(ctx, id, s.advancer.Now()); err != nil {
		return nil, transitionError("Pause", id, "paused", err)
	}

	s.logger.InfoContext(ctx, "execution paused", "execution_id", id)

	return s.Get(ctx, id)
}

// Resume returns a paused execution to the scheduler. Due times restart from the
// resumption: every stage still waiting is rescheduled to now plus its node delay, and
// the pointer is settled again so work finished during the pause is taken into account.
func (s *Executions) Resume(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	graph, err := s.graphs.Graph(ctx, execution.FlowID)
	if err != nil {
		return nil, err
	}

	now := s.advancer.Now()

	if err := s.ledger.ExecutionRepository().ResumeExecution(ctx, id, now); err != nil {
		return nil, transitionError("Resume", id, "resumed", err)
	}

	stages, err := s.ledger.StageRepository().ListStages(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, stage := range stages {
		if !stage.CanEnter() {
			continue
		}

		due := now.Add(graph.Delay(stage.NodeID))
		if err := s.ledger.StageRepository().RescheduleStage(ctx, stage.ID, due); err != nil && !persistence.IsInvalidTransition(err) {
			return nil, fmt.Errorf("failed to reschedule stage %s: %w", stage.ID, err)
		}
	}

	// never started: only the pointer carries a due time
	if len(stages) == 0 && execution.NextNodeID != nil {
		next := *execution.NextNodeID
		if err := s.ledger.ExecutionRepository().PointExecution(ctx, id, "", next, now.Add(graph.Delay(next))); err != nil {
			return nil, fmt.Errorf("failed to reschedule execution %s: %w", id, err)
		}
	}

	if err := s.advancer.Settle(ctx, id, execution.CurrentNodeID); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "execution resumed", "execution_id", id)

	return s.Get(ctx, id)
}

func transitionError(op, id, verb string, err error) error {
	if persistence.IsInvalidTransition(err) {
		return &ServiceError{Op: op, Code: "invalid_status", Message: "execution " + id + " cannot be " + verb, Err: ErrExecutionStatus}
	}

	return err
}

func (s *Executions) Get(ctx context.Context, id string) (*models.Execution, error) {
	return s.ledger.ExecutionRepository().ExecutionByID(ctx, id)
}

func (s *Executions) List(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	if filter.Offset < 0 {
		filter.Offset = 0
	}

	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, NewValidationError("List", "invalid_status", "unknown status "+string(filter.Status), ErrInvalidRequest)
	}

	return s.ledger.ExecutionRepository().ListExecutions(ctx, filter)
}

// Stages returns the per-node records of an execution in schedule order.
func (s *Executions) Stages(ctx context.Context, id string) ([]*models.ExecutionStage, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	return s.ledger.StageRepository().ListStages(ctx, id)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))

	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}

		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	return unique
}
