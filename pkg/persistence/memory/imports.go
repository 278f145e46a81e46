package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

type importRepository struct {
	store *store
}

func copyImport(record *models.ImportRecord) *models.ImportRecord {
	clone := *record

	if record.Checkpoint != nil {
		checkpoint := *record.Checkpoint
		checkpoint.Errors = slices.Clone(record.Checkpoint.Errors)
		clone.Checkpoint = &checkpoint
	}

	if record.Result != nil {
		result := *record.Result
		result.Errors = slices.Clone(record.Result.Errors)
		clone.Result = &result
	}

	return &clone
}

func (r *importRepository) CreateImport(_ context.Context, record *models.ImportRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.imports[record.ID]; exists {
		return fmt.Errorf("import %s already exists", record.ID)
	}

	r.store.imports[record.ID] = copyImport(record)

	return nil
}

func (r *importRepository) ImportByID(_ context.Context, id string) (*models.ImportRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	record, ok := r.store.imports[id]
	if !ok {
		return nil, persistence.NewImportError("ImportByID", id, persistence.ErrImportNotFound)
	}

	return copyImport(record), nil
}

func (r *importRepository) SaveCheckpoint(_ context.Context, id string, progress *models.ImportProgress) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	record, ok := r.store.imports[id]
	if !ok {
		return persistence.NewImportError("SaveCheckpoint", id, persistence.ErrImportNotFound)
	}

	finished := record.Status == models.ImportStatusCompleted || record.Status == models.ImportStatusFailed
	if finished || (record.Checkpoint != nil && progress.LastProcessedRow < record.Checkpoint.LastProcessedRow) {
		return persistence.NewImportError("SaveCheckpoint", id,
			fmt.Errorf("%w: checkpoint at row %d is stale or the import has finished", persistence.ErrInvalidTransition, progress.LastProcessedRow))
	}

	checkpoint := *progress
	checkpoint.Errors = slices.Clone(progress.Errors)
	record.Checkpoint = &checkpoint
	record.Status = models.ImportStatusRunning
	record.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *importRepository) FinishImport(_ context.Context, id string, result *models.ImportResult, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	record, ok := r.store.imports[id]
	if !ok {
		return persistence.NewImportError("FinishImport", id, persistence.ErrImportNotFound)
	}

	final := *result
	final.Errors = slices.Clone(result.Errors)
	record.Result = &final
	record.Status = result.Status
	record.FinishedAt = &at
	record.UpdatedAt = time.Now().UTC()

	return nil
}
