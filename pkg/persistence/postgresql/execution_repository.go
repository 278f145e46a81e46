package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

const executionColumns = `
	id, flow_id, origin, prospect_ids, current_node_id, next_node_id, next_due_at,
	status, error_message, estimated_cost, realized_cost, started_at, ended_at,
	paused_at, created_at, updated_at`

// ExecutionRepository handles execution rows. Every state change is a single
// UPDATE guarded on the current status.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (er *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) error {
	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	if execution.UpdatedAt.IsZero() {
		execution.UpdatedAt = now
	}

	var nextNodeID sql.NullString
	if execution.NextNodeID != nil {
		nextNodeID = nullString(*execution.NextNodeID)
	}

	query := `
		INSERT INTO executions (
			id, flow_id, origin, prospect_ids, current_node_id, next_node_id, next_due_at,
			status, error_message, estimated_cost, realized_cost, started_at, ended_at,
			paused_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := er.db.ExecContext(ctx, query,
		execution.ID,
		execution.FlowID,
		execution.Origin,
		pq.Array(execution.ProspectIDs),
		nullString(execution.CurrentNodeID),
		nextNodeID,
		nullTime(execution.NextDueAt),
		execution.Status,
		nullString(execution.ErrorMessage),
		execution.EstimatedCost,
		nullFloat(execution.RealizedCost),
		nullTime(execution.StartedAt),
		nullTime(execution.EndedAt),
		nullTime(execution.PausedAt),
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

func (er *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	row := er.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)

	execution, err := er.scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (er *ExecutionRepository) ListExecutions(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.FlowID != "" {
		args = append(args, filter.FlowID)
		conditions = append(conditions, fmt.Sprintf("flow_id = $%d", len(args)))
	}

	if filter.Origin != "" {
		args = append(args, filter.Origin)
		conditions = append(conditions, fmt.Sprintf("origin = $%d", len(args)))
	}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return er.queryExecutions(ctx, query, args...)
}

func (er *ExecutionRepository) DueExecutions(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE status IN ('pending', 'in_progress')
			AND next_node_id IS NOT NULL
			AND next_due_at <= $1
		ORDER BY next_due_at
		LIMIT $2`

	return er.queryExecutions(ctx, query, now, limit)
}

func (er *ExecutionRepository) StartExecution(ctx context.Context, id string, at time.Time) error {
	return er.transition(ctx, "StartExecution", id,
		[]models.ExecutionStatus{models.ExecutionStatusPending},
		`status = 'in_progress', started_at = COALESCE(started_at, $3)`, at)
}

func (er *ExecutionRepository) PointExecution(ctx context.Context, id, currentNodeID, nextNodeID string, dueAt time.Time) error {
	nonTerminal := []models.ExecutionStatus{
		models.ExecutionStatusPending, models.ExecutionStatusInProgress, models.ExecutionStatusPaused,
	}

	return er.transition(ctx, "PointExecution", id, nonTerminal,
		`current_node_id = COALESCE($3, current_node_id), next_node_id = $4, next_due_at = $5`,
		nullString(currentNodeID), nextNodeID, dueAt)
}

func (er *ExecutionRepository) CompleteExecution(ctx context.Context, id string, at time.Time) error {
	return er.transition(ctx, "CompleteExecution", id,
		models.SourcesFor(models.ExecutionStatusCompleted),
		`status = 'completed', ended_at = $3, next_node_id = NULL, next_due_at = NULL`, at)
}

func (er *ExecutionRepository) FailExecution(ctx context.Context, id, message string, at time.Time) error {
	return er.transition(ctx, "FailExecution", id,
		models.SourcesFor(models.ExecutionStatusFailed),
		`status = 'failed', error_message = $3, ended_at = $4, next_node_id = NULL, next_due_at = NULL`,
		message, at)
}

func (er *ExecutionRepository) PauseExecution(ctx context.Context, id string, at time.Time) error {
	return er.transition(ctx, "PauseExecution", id,
		models.SourcesFor(models.ExecutionStatusPaused),
		`status = 'paused', paused_at = $3`, at)
}

func (er *ExecutionRepository) ResumeExecution(ctx context.Context, id string, at time.Time) error {
	return er.transition(ctx, "ResumeExecution", id,
		[]models.ExecutionStatus{models.ExecutionStatusPaused},
		`status = 'in_progress', paused_at = NULL, started_at = COALESCE(started_at, $3)`, at)
}

func (er *ExecutionRepository) SetRealizedCost(ctx context.Context, id string, cost float64) error {
	result, err := er.db.ExecContext(ctx,
		`UPDATE executions SET realized_cost = $2, updated_at = NOW() WHERE id = $1`, id, cost)
	if err != nil {
		return fmt.Errorf("failed to set realized cost: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("SetRealizedCost", id, persistence.ErrExecutionNotFound)
	}

	return nil
}

// transition runs "UPDATE executions SET <set> WHERE id = $1 AND status = ANY($2)".
// Placeholders in set start at $3 and bind to args.
func (er *ExecutionRepository) transition(
	ctx context.Context,
	op, id string,
	from []models.ExecutionStatus,
	set string,
	args ...any,
) error {
	statuses := make([]string, len(from))
	for i, status := range from {
		statuses[i] = string(status)
	}

	query := `UPDATE executions SET ` + set + `, updated_at = NOW() WHERE id = $1 AND status = ANY($2)`

	result, err := er.db.ExecContext(ctx, query, append([]any{id, pq.Array(statuses)}, args...)...)
	if err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	if affected > 0 {
		return nil
	}

	var current string

	err = er.db.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	return persistence.NewExecutionError(op, id,
		fmt.Errorf("%w: execution is %s", persistence.ErrInvalidTransition, current))
}

func (er *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := er.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, er.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := er.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (er *ExecutionRepository) scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution     models.Execution
		prospectIDs   []string
		currentNodeID sql.NullString
		nextNodeID    sql.NullString
		nextDueAt     sql.NullTime
		errorMessage  sql.NullString
		realizedCost  sql.NullFloat64
		startedAt     sql.NullTime
		endedAt       sql.NullTime
		pausedAt      sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.FlowID,
		&execution.Origin,
		pq.Array(&prospectIDs),
		&currentNodeID,
		&nextNodeID,
		&nextDueAt,
		&execution.Status,
		&errorMessage,
		&execution.EstimatedCost,
		&realizedCost,
		&startedAt,
		&endedAt,
		&pausedAt,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.ProspectIDs = prospectIDs
	execution.CurrentNodeID = currentNodeID.String
	execution.ErrorMessage = errorMessage.String

	if nextNodeID.Valid {
		next := nextNodeID.String
		execution.NextNodeID = &next
	}

	if realizedCost.Valid {
		cost := realizedCost.Float64
		execution.RealizedCost = &cost
	}

	execution.NextDueAt = timePtr(nextDueAt)
	execution.StartedAt = timePtr(startedAt)
	execution.EndedAt = timePtr(endedAt)
	execution.PausedAt = timePtr(pausedAt)
	execution.CreatedAt = execution.CreatedAt.UTC()
	execution.UpdatedAt = execution.UpdatedAt.UTC()

	return &execution, nil
}
