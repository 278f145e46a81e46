// Package persistence defines the execution ledger: the durable record of flows,
// executions, their per-node stages, prospects and imports.
package persistence

import (
	"context"
	"time"

	"github.com/outflow/outflow/pkg/models"
)

// Persistence groups the ledger repositories of one storage backend.
type Persistence interface {
	FlowRepository() FlowRepository
	ExecutionRepository() ExecutionRepository
	StageRepository() StageRepository
	ProspectRepository() ProspectRepository
	ImportRepository() ImportRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores canonical flow definitions.
type FlowRepository interface {
	SaveFlow(ctx context.Context, flow *models.FlowDefinition) error
	FlowByID(ctx context.Context, id string) (*models.FlowDefinition, error)
	ListFlows(ctx context.Context) ([]*models.FlowDefinition, error)
}

// ExecutionRepository mutates executions with single guarded statements. A guarded
// update that matches no row returns ErrInvalidTransition.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	ListExecutions(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error)

	// DueExecutions returns pending or in-progress executions whose next node is due at or before now.
	DueExecutions(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error)

	StartExecution(ctx context.Context, id string, at time.Time) error
	// PointExecution records the node just handled and the next node with its due time.
	// Only non-terminal executions are updated.
	PointExecution(ctx context.Context, id, currentNodeID, nextNodeID string, dueAt time.Time) error
	CompleteExecution(ctx context.Context, id string, at time.Time) error
	FailExecution(ctx context.Context, id, message string, at time.Time) error
	PauseExecution(ctx context.Context, id string, at time.Time) error
	ResumeExecution(ctx context.Context, id string, at time.Time) error
	SetRealizedCost(ctx context.Context, id string, cost float64) error
}

// StageRepository keeps at most one stage per (execution, node).
type StageRepository interface {
	// GetOrCreateStage inserts stage unless one already exists for its (execution, node)
	// pair, and returns the stored record either way.
	GetOrCreateStage(ctx context.Context, stage *models.ExecutionStage) (*models.ExecutionStage, error)
	StageByID(ctx context.Context, id string) (*models.ExecutionStage, error)
	StageFor(ctx context.Context, executionID, nodeID string) (*models.ExecutionStage, error)
	ListStages(ctx context.Context, executionID string) ([]*models.ExecutionStage, error)
	LatestStageWithMessage(ctx context.Context, executionID string) (*models.ExecutionStage, error)

	// AssignStageProspects replaces the subset of a stage that has not run yet.
	AssignStageProspects(ctx context.Context, id string, prospectIDs []string) error
	// ClaimStage moves a pending, unexecuted stage to executing and reports whether
	// this caller made the move.
	ClaimStage(ctx context.Context, id string, at time.Time) (bool, error)
	MarkStageBatching(ctx context.Context, id string, result map[string]any) error
	UpdateStageResult(ctx context.Context, id string, result map[string]any) error
	CompleteStage(ctx context.Context, id, messageID string, result map[string]any, at time.Time) error
	FailStage(ctx context.Context, id, message string, at time.Time) error
	RescheduleStage(ctx context.Context, id string, scheduledFor time.Time) error
}

// ProspectRepository stores imported prospects keyed by their identifier.
type ProspectRepository interface {
	UpsertProspects(ctx context.Context, prospects []*models.Prospect) error
	ProspectsByIDs(ctx context.Context, ids []string) ([]*models.Prospect, error)
}

// ImportRepository tracks prospect imports and their checkpoints.
type ImportRepository interface {
	CreateImport(ctx context.Context, record *models.ImportRecord) error
	ImportByID(ctx context.Context, id string) (*models.ImportRecord, error)
	SaveCheckpoint(ctx context.Context, id string, progress *models.ImportProgress) error
	FinishImport(ctx context.Context, id string, result *models.ImportResult, at time.Time) error
}
