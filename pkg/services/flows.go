package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outflow/outflow/pkg/flowgraph"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

type Flows struct {
	flows  persistence.FlowRepository
	logger *slog.Logger
}

func NewFlows(ledger persistence.Persistence, logger *slog.Logger) *Flows {
	return &Flows{flows: ledger.FlowRepository(), logger: logger.With("module", "flow_service")}
}

// SaveDocument parses a flow document and stores it under id.
func (s *Flows) SaveDocument(ctx context.Context, id string, document []byte) (*models.FlowDefinition, error) {
	flow, err := flowgraph.Parse(document)
	if err != nil {
		return nil, err
	}

	if id != "" && flow.ID != id {
		return nil, NewValidationError("SaveFlow", "id_mismatch",
			fmt.Sprintf("document id %q does not match %q", flow.ID, id), ErrInvalidRequest)
	}

	return flow, s.SaveFlow(ctx, flow)
}

// SaveFlow stores a validated flow. Running executions keep reading a flow by id, so a
// stored flow is never replaced.
func (s *Flows) SaveFlow(ctx context.Context, flow *models.FlowDefinition) error {
	if flow == nil {
		return NewValidationError("SaveFlow", "flow_nil", "flow cannot be nil", ErrInvalidRequest)
	}

	if err := flowgraph.Validate(flow); err != nil {
		return err
	}

	_, err := s.flows.FlowByID(ctx, flow.ID)
	switch {
	case err == nil:
		return &ServiceError{Op: "SaveFlow", Code: "flow_exists", Message: "flow " + flow.ID + " already exists", Err: ErrFlowExists}
	case !persistence.IsNotFound(err):
		return err
	}

	if err := s.flows.SaveFlow(ctx, flow); err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	s.logger.InfoContext(ctx, "flow saved", "flow_id", flow.ID, "stages", len(flow.Stages), "conditions", len(flow.Conditions))

	return nil
}

func (s *Flows) GetFlow(ctx context.Context, id string) (*models.FlowDefinition, error) {
	return s.flows.FlowByID(ctx, id)
}

func (s *Flows) ListFlows(ctx context.Context) ([]*models.FlowDefinition, error) {
	return s.flows.ListFlows(ctx)
}
