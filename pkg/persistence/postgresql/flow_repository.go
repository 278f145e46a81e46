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

// FlowRepository stores flow definitions as JSONB documents.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

// SaveFlow inserts or replaces a flow definition.
func (fr *FlowRepository) SaveFlow(ctx context.Context, flow *models.FlowDefinition) error {
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	definition, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow definition: %w", err)
	}

	query := `
		INSERT INTO flows (id, name, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at
	`

	_, err = fr.db.ExecContext(ctx, query, flow.ID, flow.Name, definition, flow.CreatedAt, flow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	return nil
}

// FlowByID loads a flow definition.
func (fr *FlowRepository) FlowByID(ctx context.Context, id string) (*models.FlowDefinition, error) {
	row := fr.db.QueryRowContext(ctx, `SELECT definition, created_at FROM flows WHERE id = $1`, id)

	flow, err := fr.scanFlow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrFlowNotFound, id)
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	return flow, nil
}

// ListFlows returns all flows ordered by id.
func (fr *FlowRepository) ListFlows(ctx context.Context) ([]*models.FlowDefinition, error) {
	rows, err := fr.db.QueryContext(ctx, `SELECT definition, created_at FROM flows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer closeRows(ctx, fr.logger, rows)

	flows := make([]*models.FlowDefinition, 0)

	for rows.Next() {
		flow, err := fr.scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

func (fr *FlowRepository) scanFlow(row scanner) (*models.FlowDefinition, error) {
	var (
		definition []byte
		createdAt  time.Time
	)

	if err := row.Scan(&definition, &createdAt); err != nil {
		return nil, err
	}

	var flow models.FlowDefinition
	if err := json.Unmarshal(definition, &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow definition: %w", err)
	}

	flow.CreatedAt = createdAt.UTC()

	return &flow, nil
}
