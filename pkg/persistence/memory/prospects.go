package memory

import (
	"context"
	"time"

	"github.com/outflow/outflow/pkg/models"
)

type prospectRepository struct {
	store *store
}

func (r *prospectRepository) UpsertProspects(_ context.Context, prospects []*models.Prospect) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()

	for _, prospect := range prospects {
		clone := *prospect
		if clone.ID == "" {
			clone.ID = models.ProspectID(clone.Identifier)
		}

		clone.CreatedAt = now
		if existing, ok := r.store.prospects[clone.ID]; ok {
			clone.CreatedAt = existing.CreatedAt
		}

		clone.UpdatedAt = now
		r.store.prospects[clone.ID] = &clone
	}

	return nil
}

func (r *prospectRepository) ProspectsByIDs(_ context.Context, ids []string) ([]*models.Prospect, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	prospects := make([]*models.Prospect, 0, len(ids))

	for _, id := range ids {
		if prospect, ok := r.store.prospects[id]; ok {
			clone := *prospect
			prospects = append(prospects, &clone)
		}
	}

	return prospects, nil
}
