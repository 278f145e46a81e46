// Package memory provides an in-process ledger used by tests and local development.
// It applies the same guards as the SQL backend.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

type store struct {
	mu         sync.RWMutex
	flows      map[string]*models.FlowDefinition
	executions map[string]*models.Execution
	stages     map[string]*models.ExecutionStage
	stageKeys  map[string]string
	prospects  map[string]*models.Prospect
	imports    map[string]*models.ImportRecord
}

// Persistence implements persistence.Persistence in memory.
type Persistence struct {
	store *store
}

func NewPersistence() *Persistence {
	return &Persistence{store: &store{
		flows:      make(map[string]*models.FlowDefinition),
		executions: make(map[string]*models.Execution),
		stages:     make(map[string]*models.ExecutionStage),
		stageKeys:  make(map[string]string),
		prospects:  make(map[string]*models.Prospect),
		imports:    make(map[string]*models.ImportRecord),
	}}
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return &flowRepository{store: p.store}
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return &executionRepository{store: p.store}
}

func (p *Persistence) StageRepository() persistence.StageRepository {
	return &stageRepository{store: p.store}
}

func (p *Persistence) ProspectRepository() persistence.ProspectRepository {
	return &prospectRepository{store: p.store}
}

func (p *Persistence) ImportRepository() persistence.ImportRepository {
	return &importRepository{store: p.store}
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func copyExecution(execution *models.Execution) *models.Execution {
	clone := *execution
	clone.ProspectIDs = slices.Clone(execution.ProspectIDs)

	if execution.NextNodeID != nil {
		next := *execution.NextNodeID
		clone.NextNodeID = &next
	}

	if execution.NextDueAt != nil {
		due := *execution.NextDueAt
		clone.NextDueAt = &due
	}

	if execution.RealizedCost != nil {
		cost := *execution.RealizedCost
		clone.RealizedCost = &cost
	}

	return &clone
}

func copyStage(stage *models.ExecutionStage) *models.ExecutionStage {
	clone := *stage
	clone.ProspectIDs = slices.Clone(stage.ProspectIDs)
	clone.Result = maps.Clone(stage.Result)

	if stage.ExecutedAt != nil {
		at := *stage.ExecutedAt
		clone.ExecutedAt = &at
	}

	return &clone
}

func mergeResult(target map[string]any, updates map[string]any) map[string]any {
	if target == nil {
		target = make(map[string]any, len(updates))
	}

	maps.Copy(target, updates)

	return target
}
