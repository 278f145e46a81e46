package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue keeps units in process. It backs tests and single-process runs.
type MemoryQueue struct {
	mu    sync.Mutex
	units map[string]*Unit
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{units: make(map[string]*Unit)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, unit *Unit) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	clone := *unit
	q.units[unit.ID] = &clone

	return nil
}

func (q *MemoryQueue) Claim(_ context.Context, now time.Time, limit int, visibility time.Duration) ([]*Unit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]*Unit, 0)
	for _, unit := range q.units {
		if !unit.DueAt.After(now) {
			due = append(due, unit)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].ID < due[j].ID
		}

		return due[i].DueAt.Before(due[j].DueAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Unit, len(due))
	for i, unit := range due {
		claimed[i] = &Unit{ID: unit.ID, Key: unit.Key, Type: unit.Type, Payload: unit.Payload, DueAt: unit.DueAt}
		unit.DueAt = now.Add(visibility)
	}

	return claimed, nil
}

func (q *MemoryQueue) Ack(_ context.Context, ids ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range ids {
		delete(q.units, id)
	}

	return nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.units), nil
}
