package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

type flowRepository struct {
	store *store
}

func (r *flowRepository) SaveFlow(_ context.Context, flow *models.FlowDefinition) error {
	clone, err := cloneFlow(flow)
	if err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := r.store.flows[flow.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}

	clone.UpdatedAt = now
	r.store.flows[flow.ID] = clone

	return nil
}

func (r *flowRepository) FlowByID(_ context.Context, id string) (*models.FlowDefinition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	flow, ok := r.store.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrFlowNotFound, id)
	}

	return cloneFlow(flow)
}

func (r *flowRepository) ListFlows(_ context.Context) ([]*models.FlowDefinition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	flows := make([]*models.FlowDefinition, 0, len(r.store.flows))

	for _, flow := range r.store.flows {
		clone, err := cloneFlow(flow)
		if err != nil {
			return nil, err
		}

		flows = append(flows, clone)
	}

	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })

	return flows, nil
}

func cloneFlow(flow *models.FlowDefinition) (*models.FlowDefinition, error) {
	payload, err := json.Marshal(flow)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow: %w", err)
	}

	var clone models.FlowDefinition
	if err := json.Unmarshal(payload, &clone); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}

	return &clone, nil
}
