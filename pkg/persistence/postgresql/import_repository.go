package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

// ImportRepository handles import records and their checkpoints.
type ImportRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewImportRepository creates a new import repository.
func NewImportRepository(db *sql.DB, logger *slog.Logger) *ImportRepository {
	return &ImportRepository{db: db, logger: logger}
}

func (ir *ImportRepository) CreateImport(ctx context.Context, record *models.ImportRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	record.UpdatedAt = now

	checkpoint, err := marshalCheckpoint(record.Checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	_, err = ir.db.ExecContext(ctx, `
		INSERT INTO imports (id, file_path, status, checkpoint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.FilePath, record.Status, checkpoint, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create import: %w", err)
	}

	return nil
}

func (ir *ImportRepository) ImportByID(ctx context.Context, id string) (*models.ImportRecord, error) {
	var (
		record     models.ImportRecord
		checkpoint []byte
		result     []byte
		errorText  sql.NullString
		finishedAt sql.NullTime
	)

	err := ir.db.QueryRowContext(ctx, `
		SELECT id, file_path, status, checkpoint, result, error, created_at, updated_at, finished_at
		FROM imports
		WHERE id = $1`, id).Scan(
		&record.ID,
		&record.FilePath,
		&record.Status,
		&checkpoint,
		&result,
		&errorText,
		&record.CreatedAt,
		&record.UpdatedAt,
		&finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewImportError("ImportByID", id, persistence.ErrImportNotFound)
		}

		return nil, fmt.Errorf("failed to scan import: %w", err)
	}

	if len(checkpoint) > 0 {
		record.Checkpoint = &models.ImportProgress{}
		if err := json.Unmarshal(checkpoint, record.Checkpoint); err != nil {
			// an unreadable checkpoint restarts the import from the first row
			ir.logger.WarnContext(ctx, "discarding unreadable import checkpoint", "import_id", id, "error", err)
			record.Checkpoint = nil
		}
	}

	if len(result) > 0 {
		record.Result = &models.ImportResult{}
		if err := json.Unmarshal(result, record.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal import result: %w", err)
		}
	}

	record.Error = errorText.String
	record.FinishedAt = timePtr(finishedAt)

	return &record, nil
}

func (ir *ImportRepository) SaveCheckpoint(ctx context.Context, id string, progress *models.ImportProgress) error {
	checkpoint, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// A checkpoint only moves forward and never reopens a finished import.
	err = ir.exec(ctx, "SaveCheckpoint", id, `
		UPDATE imports SET checkpoint = $2, status = 'running', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')
		AND (checkpoint IS NULL OR (checkpoint->>'last_processed_row')::int <= $3)`,
		checkpoint, progress.LastProcessedRow)
	if !errors.Is(err, persistence.ErrImportNotFound) {
		return err
	}

	var exists bool
	if err := ir.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM imports WHERE id = $1)`, id).Scan(&exists); err != nil {
		return persistence.NewImportError("SaveCheckpoint", id, err)
	}

	if !exists {
		return persistence.NewImportError("SaveCheckpoint", id, persistence.ErrImportNotFound)
	}

	return persistence.NewImportError("SaveCheckpoint", id,
		fmt.Errorf("%w: checkpoint at row %d is stale or the import has finished", persistence.ErrInvalidTransition, progress.LastProcessedRow))
}

func (ir *ImportRepository) FinishImport(ctx context.Context, id string, result *models.ImportResult, at time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal import result: %w", err)
	}

	return ir.exec(ctx, "FinishImport", id, `
		UPDATE imports SET result = $2, status = $3, finished_at = $4, updated_at = NOW()
		WHERE id = $1`, payload, result.Status, at)
}

func (ir *ImportRepository) exec(ctx context.Context, op, id, query string, args ...any) error {
	res, err := ir.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return persistence.NewImportError(op, id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return persistence.NewImportError(op, id, err)
	}

	if affected == 0 {
		return persistence.NewImportError(op, id, persistence.ErrImportNotFound)
	}

	return nil
}

func marshalCheckpoint(progress *models.ImportProgress) ([]byte, error) {
	if progress == nil {
		return nil, nil
	}

	return json.Marshal(progress)
}
