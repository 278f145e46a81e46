package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

const stageColumns = `
	id, execution_id, node_id, prospect_ids, scheduled_for, executed_at, status,
	message_id, result, executed, error_message, created_at, updated_at`

const (
	stageOpen      = `status = 'pending' AND executed = false`
	stageUnsettled = `status NOT IN ('completed', 'failed')`
)

// StageRepository handles execution_stages rows, unique per (execution, node).
type StageRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStageRepository creates a new stage repository.
func NewStageRepository(db *sql.DB, logger *slog.Logger) *StageRepository {
	return &StageRepository{db: db, logger: logger}
}

func (sr *StageRepository) GetOrCreateStage(ctx context.Context, stage *models.ExecutionStage) (*models.ExecutionStage, error) {
	id := stage.ID
	if id == "" {
		id = uuid.NewString()
	}

	status := stage.Status
	if status == "" {
		status = models.StageStatusPending
	}

	result, err := marshalResult(stage.Result)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO execution_stages (
			id, execution_id, node_id, prospect_ids, scheduled_for, status, result,
			executed, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, NOW(), NOW())
		ON CONFLICT (execution_id, node_id) DO NOTHING
	`

	_, err = sr.db.ExecContext(ctx, query,
		id,
		stage.ExecutionID,
		stage.NodeID,
		pq.Array(stage.ProspectIDs),
		stage.ScheduledFor,
		status,
		result,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage: %w", err)
	}

	return sr.StageFor(ctx, stage.ExecutionID, stage.NodeID)
}

func (sr *StageRepository) StageByID(ctx context.Context, id string) (*models.ExecutionStage, error) {
	row := sr.db.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM execution_stages WHERE id = $1`, id)

	return sr.scanOne(row, "StageByID", id)
}

func (sr *StageRepository) StageFor(ctx context.Context, executionID, nodeID string) (*models.ExecutionStage, error) {
	row := sr.db.QueryRowContext(ctx,
		`SELECT `+stageColumns+` FROM execution_stages WHERE execution_id = $1 AND node_id = $2`,
		executionID, nodeID)

	return sr.scanOne(row, "StageFor", executionID+"/"+nodeID)
}

func (sr *StageRepository) ListStages(ctx context.Context, executionID string) ([]*models.ExecutionStage, error) {
	rows, err := sr.db.QueryContext(ctx,
		`SELECT `+stageColumns+` FROM execution_stages WHERE execution_id = $1 ORDER BY scheduled_for, created_at`,
		executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}

	defer closeRows(ctx, sr.logger, rows)

	stages := make([]*models.ExecutionStage, 0)

	for rows.Next() {
		stage, err := sr.scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}

		stages = append(stages, stage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stages: %w", err)
	}

	return stages, nil
}

func (sr *StageRepository) LatestStageWithMessage(ctx context.Context, executionID string) (*models.ExecutionStage, error) {
	row := sr.db.QueryRowContext(ctx, `SELECT `+stageColumns+`
		FROM execution_stages
		WHERE execution_id = $1 AND message_id IS NOT NULL AND executed_at IS NOT NULL
		ORDER BY executed_at DESC
		LIMIT 1`, executionID)

	return sr.scanOne(row, "LatestStageWithMessage", executionID)
}

func (sr *StageRepository) AssignStageProspects(ctx context.Context, id string, prospectIDs []string) error {
	return sr.update(ctx, "AssignStageProspects", id, stageOpen,
		`prospect_ids = $2`, pq.Array(prospectIDs))
}

func (sr *StageRepository) ClaimStage(ctx context.Context, id string, _ time.Time) (bool, error) {
	err := sr.update(ctx, "ClaimStage", id, stageOpen, `status = 'executing'`)
	if persistence.IsInvalidTransition(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (sr *StageRepository) MarkStageBatching(ctx context.Context, id string, result map[string]any) error {
	payload, err := marshalResult(result)
	if err != nil {
		return err
	}

	return sr.update(ctx, "MarkStageBatching", id, `status = 'executing'`,
		`status = 'batching', result = COALESCE(result, '{}'::jsonb) || $2::jsonb`, payload)
}

func (sr *StageRepository) UpdateStageResult(ctx context.Context, id string, result map[string]any) error {
	payload, err := marshalResult(result)
	if err != nil {
		return err
	}

	return sr.update(ctx, "UpdateStageResult", id, "",
		`result = COALESCE(result, '{}'::jsonb) || $2::jsonb`, payload)
}

func (sr *StageRepository) CompleteStage(ctx context.Context, id, messageID string, result map[string]any, at time.Time) error {
	payload, err := marshalResult(result)
	if err != nil {
		return err
	}

	return sr.update(ctx, "CompleteStage", id, stageUnsettled,
		`status = 'completed', executed = true, executed_at = $2, message_id = $3,
		result = COALESCE(result, '{}'::jsonb) || $4::jsonb`,
		at, nullString(messageID), payload)
}

func (sr *StageRepository) FailStage(ctx context.Context, id, message string, at time.Time) error {
	return sr.update(ctx, "FailStage", id, stageUnsettled,
		`status = 'failed', executed = true, executed_at = $2, error_message = $3`, at, message)
}

func (sr *StageRepository) RescheduleStage(ctx context.Context, id string, scheduledFor time.Time) error {
	return sr.update(ctx, "RescheduleStage", id, stageOpen, `scheduled_for = $2`, scheduledFor)
}

// update runs "UPDATE execution_stages SET <set> WHERE id = $1 AND <guard>".
// Placeholders in set start at $2.
func (sr *StageRepository) update(ctx context.Context, op, id, guard, set string, args ...any) error {
	query := `UPDATE execution_stages SET ` + set + `, updated_at = NOW() WHERE id = $1`
	if guard != "" {
		query += ` AND ` + guard
	}

	result, err := sr.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return persistence.NewStageError(op, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStageError(op, id, err)
	}

	if affected > 0 {
		return nil
	}

	var (
		status   string
		executed bool
	)

	err = sr.db.QueryRowContext(ctx, `SELECT status, executed FROM execution_stages WHERE id = $1`, id).
		Scan(&status, &executed)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewStageError(op, id, persistence.ErrStageNotFound)
	}

	if err != nil {
		return persistence.NewStageError(op, id, err)
	}

	return persistence.NewStageError(op, id,
		fmt.Errorf("%w: stage is %s (executed=%t)", persistence.ErrInvalidTransition, status, executed))
}

func (sr *StageRepository) scanOne(row *sql.Row, op, key string) (*models.ExecutionStage, error) {
	stage, err := sr.scanStage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStageError(op, key, persistence.ErrStageNotFound)
		}

		return nil, fmt.Errorf("failed to scan stage: %w", err)
	}

	return stage, nil
}

func (sr *StageRepository) scanStage(row scanner) (*models.ExecutionStage, error) {
	var (
		stage        models.ExecutionStage
		prospectIDs  []string
		executedAt   sql.NullTime
		messageID    sql.NullString
		result       []byte
		errorMessage sql.NullString
	)

	err := row.Scan(
		&stage.ID,
		&stage.ExecutionID,
		&stage.NodeID,
		pq.Array(&prospectIDs),
		&stage.ScheduledFor,
		&executedAt,
		&stage.Status,
		&messageID,
		&result,
		&stage.Executed,
		&errorMessage,
		&stage.CreatedAt,
		&stage.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(result) > 0 {
		if err := json.Unmarshal(result, &stage.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage result: %w", err)
		}
	}

	stage.ProspectIDs = prospectIDs
	stage.ExecutedAt = timePtr(executedAt)
	stage.MessageID = messageID.String
	stage.ErrorMessage = errorMessage.String
	stage.ScheduledFor = stage.ScheduledFor.UTC()
	stage.CreatedAt = stage.CreatedAt.UTC()
	stage.UpdatedAt = stage.UpdatedAt.UTC()

	return &stage, nil
}

func marshalResult(result map[string]any) ([]byte, error) {
	if result == nil {
		result = map[string]any{}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage result: %w", err)
	}

	return payload, nil
}
