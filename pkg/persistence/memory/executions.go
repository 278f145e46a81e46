package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

type executionRepository struct {
	store *store
}

func (r *executionRepository) CreateExecution(_ context.Context, execution *models.Execution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.executions[execution.ID]; exists {
		return fmt.Errorf("execution %s already exists", execution.ID)
	}

	r.store.executions[execution.ID] = copyExecution(execution)

	return nil
}

func (r *executionRepository) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	execution, ok := r.store.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	return copyExecution(execution), nil
}

func (r *executionRepository) ListExecutions(_ context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var executions []*models.Execution

	for _, execution := range r.store.executions {
		if filter.FlowID != "" && execution.FlowID != filter.FlowID {
			continue
		}

		if filter.Origin != "" && execution.Origin != filter.Origin {
			continue
		}

		if filter.Status != "" && execution.Status != filter.Status {
			continue
		}

		executions = append(executions, copyExecution(execution))
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if filter.Offset >= len(executions) {
		return []*models.Execution{}, nil
	}

	executions = executions[filter.Offset:]
	if filter.Limit > 0 && len(executions) > filter.Limit {
		executions = executions[:filter.Limit]
	}

	return executions, nil
}

func (r *executionRepository) DueExecutions(_ context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var due []*models.Execution

	for _, execution := range r.store.executions {
		if execution.IsDue(now) {
			due = append(due, copyExecution(execution))
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextDueAt.Before(*due[j].NextDueAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

// transition applies mutate when the execution is in one of from.
func (r *executionRepository) transition(op, id string, from []models.ExecutionStatus, mutate func(*models.Execution)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execution, ok := r.store.executions[id]
	if !ok {
		return persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
	}

	if from != nil && !slices.Contains(from, execution.Status) {
		return persistence.NewExecutionError(op, id,
			fmt.Errorf("%w: execution is %s", persistence.ErrInvalidTransition, execution.Status))
	}

	mutate(execution)
	execution.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *executionRepository) StartExecution(_ context.Context, id string, at time.Time) error {
	return r.transition("StartExecution", id, []models.ExecutionStatus{models.ExecutionStatusPending}, func(e *models.Execution) {
		e.Status = models.ExecutionStatusInProgress
		if e.StartedAt == nil {
			e.StartedAt = &at
		}
	})
}

func (r *executionRepository) PointExecution(_ context.Context, id, currentNodeID, nextNodeID string, dueAt time.Time) error {
	nonTerminal := []models.ExecutionStatus{
		models.ExecutionStatusPending, models.ExecutionStatusInProgress, models.ExecutionStatusPaused,
	}

	return r.transition("PointExecution", id, nonTerminal, func(e *models.Execution) {
		if currentNodeID != "" {
			e.CurrentNodeID = currentNodeID
		}

		next := nextNodeID
		due := dueAt
		e.NextNodeID = &next
		e.NextDueAt = &due
	})
}

func (r *executionRepository) CompleteExecution(_ context.Context, id string, at time.Time) error {
	return r.transition("CompleteExecution", id, models.SourcesFor(models.ExecutionStatusCompleted), func(e *models.Execution) {
		e.Status = models.ExecutionStatusCompleted
		e.EndedAt = &at
		e.NextNodeID = nil
		e.NextDueAt = nil
	})
}

func (r *executionRepository) FailExecution(_ context.Context, id, message string, at time.Time) error {
	return r.transition("FailExecution", id, models.SourcesFor(models.ExecutionStatusFailed), func(e *models.Execution) {
		e.Status = models.ExecutionStatusFailed
		e.ErrorMessage = message
		e.EndedAt = &at
		e.NextNodeID = nil
		e.NextDueAt = nil
	})
}

func (r *executionRepository) PauseExecution(_ context.Context, id string, at time.Time) error {
	return r.transition("PauseExecution", id, models.SourcesFor(models.ExecutionStatusPaused), func(e *models.Execution) {
		e.Status = models.ExecutionStatusPaused
		e.PausedAt = &at
	})
}

func (r *executionRepository) ResumeExecution(_ context.Context, id string, at time.Time) error {
	return r.transition("ResumeExecution", id, []models.ExecutionStatus{models.ExecutionStatusPaused}, func(e *models.Execution) {
		e.Status = models.ExecutionStatusInProgress
		e.PausedAt = nil
		if e.StartedAt == nil {
			e.StartedAt = &at
		}
	})
}

func (r *executionRepository) SetRealizedCost(_ context.Context, id string, cost float64) error {
	return r.transition("SetRealizedCost", id, nil, func(e *models.Execution) {
		e.RealizedCost = &cost
	})
}
