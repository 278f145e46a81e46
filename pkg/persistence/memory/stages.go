package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

type stageRepository struct {
	store *store
}

func stageKey(executionID, nodeID string) string {
	return executionID + "/" + nodeID
}

func (r *stageRepository) GetOrCreateStage(_ context.Context, stage *models.ExecutionStage) (*models.ExecutionStage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := stageKey(stage.ExecutionID, stage.NodeID)
	if id, exists := r.store.stageKeys[key]; exists {
		return copyStage(r.store.stages[id]), nil
	}

	created := copyStage(stage)
	if created.ID == "" {
		created.ID = uuid.NewString()
	}

	if created.Status == "" {
		created.Status = models.StageStatusPending
	}

	now := time.Now().UTC()
	created.CreatedAt = now
	created.UpdatedAt = now

	r.store.stages[created.ID] = created
	r.store.stageKeys[key] = created.ID

	return copyStage(created), nil
}

func (r *stageRepository) StageByID(_ context.Context, id string) (*models.ExecutionStage, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stage, ok := r.store.stages[id]
	if !ok {
		return nil, persistence.NewStageError("StageByID", id, persistence.ErrStageNotFound)
	}

	return copyStage(stage), nil
}

func (r *stageRepository) StageFor(_ context.Context, executionID, nodeID string) (*models.ExecutionStage, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.stageKeys[stageKey(executionID, nodeID)]
	if !ok {
		return nil, persistence.NewStageError("StageFor", stageKey(executionID, nodeID), persistence.ErrStageNotFound)
	}

	return copyStage(r.store.stages[id]), nil
}

func (r *stageRepository) ListStages(_ context.Context, executionID string) ([]*models.ExecutionStage, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var stages []*models.ExecutionStage

	for _, stage := range r.store.stages {
		if stage.ExecutionID == executionID {
			stages = append(stages, copyStage(stage))
		}
	}

	sort.Slice(stages, func(i, j int) bool {
		if stages[i].ScheduledFor.Equal(stages[j].ScheduledFor) {
			return stages[i].CreatedAt.Before(stages[j].CreatedAt)
		}

		return stages[i].ScheduledFor.Before(stages[j].ScheduledFor)
	})

	return stages, nil
}

func (r *stageRepository) LatestStageWithMessage(_ context.Context, executionID string) (*models.ExecutionStage, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var latest *models.ExecutionStage

	for _, stage := range r.store.stages {
		if stage.ExecutionID != executionID || stage.MessageID == "" || stage.ExecutedAt == nil {
			continue
		}

		if latest == nil || stage.ExecutedAt.After(*latest.ExecutedAt) {
			latest = stage
		}
	}

	if latest == nil {
		return nil, persistence.NewStageError("LatestStageWithMessage", executionID, persistence.ErrStageNotFound)
	}

	return copyStage(latest), nil
}

// update applies mutate when guard accepts the stored stage.
func (r *stageRepository) update(op, id string, guard func(*models.ExecutionStage) bool, mutate func(*models.ExecutionStage)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stage, ok := r.store.stages[id]
	if !ok {
		return persistence.NewStageError(op, id, persistence.ErrStageNotFound)
	}

	if guard != nil && !guard(stage) {
		return persistence.NewStageError(op, id,
			fmt.Errorf("%w: stage is %s (executed=%t)", persistence.ErrInvalidTransition, stage.Status, stage.Executed))
	}

	mutate(stage)
	stage.UpdatedAt = time.Now().UTC()

	return nil
}

func isOpen(stage *models.ExecutionStage) bool {
	return stage.CanEnter()
}

func (r *stageRepository) AssignStageProspects(_ context.Context, id string, prospectIDs []string) error {
	return r.update("AssignStageProspects", id, isOpen, func(s *models.ExecutionStage) {
		s.ProspectIDs = slices.Clone(prospectIDs)
	})
}

func (r *stageRepository) ClaimStage(_ context.Context, id string, _ time.Time) (bool, error) {
	err := r.update("ClaimStage", id, isOpen, func(s *models.ExecutionStage) {
		s.Status = models.StageStatusExecuting
	})
	if persistence.IsInvalidTransition(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (r *stageRepository) MarkStageBatching(_ context.Context, id string, result map[string]any) error {
	guard := func(s *models.ExecutionStage) bool { return s.Status == models.StageStatusExecuting }

	return r.update("MarkStageBatching", id, guard, func(s *models.ExecutionStage) {
		s.Status = models.StageStatusBatching
		s.Result = mergeResult(s.Result, result)
	})
}

func (r *stageRepository) UpdateStageResult(_ context.Context, id string, result map[string]any) error {
	return r.update("UpdateStageResult", id, nil, func(s *models.ExecutionStage) {
		s.Result = mergeResult(s.Result, result)
	})
}

func (r *stageRepository) CompleteStage(_ context.Context, id, messageID string, result map[string]any, at time.Time) error {
	guard := func(s *models.ExecutionStage) bool { return !s.Status.IsSettled() }

	return r.update("CompleteStage", id, guard, func(s *models.ExecutionStage) {
		s.Status = models.StageStatusCompleted
		s.Executed = true
		s.ExecutedAt = &at
		s.MessageID = messageID
		s.Result = mergeResult(s.Result, result)
	})
}

func (r *stageRepository) FailStage(_ context.Context, id, message string, at time.Time) error {
	guard := func(s *models.ExecutionStage) bool { return !s.Status.IsSettled() }

	return r.update("FailStage", id, guard, func(s *models.ExecutionStage) {
		s.Status = models.StageStatusFailed
		s.Executed = true
		s.ExecutedAt = &at
		s.ErrorMessage = message
	})
}

func (r *stageRepository) RescheduleStage(_ context.Context, id string, scheduledFor time.Time) error {
	return r.update("RescheduleStage", id, isOpen, func(s *models.ExecutionStage) {
		s.ScheduledFor = scheduledFor
	})
}
