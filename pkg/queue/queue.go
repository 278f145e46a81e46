// Package queue is the delayed work queue: units of work become visible to consumers
// after their delay and are delivered at least once.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outflow/outflow/pkg/eventbus"
	"github.com/outflow/outflow/pkg/events"
)

// Unit is a unit of work as stored by a queue.
type Unit struct {
	// ID deduplicates enqueues: enqueueing an id that is already queued replaces it.
	ID      string           `json:"id"`
	Key     string           `json:"key"`
	Type    events.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
	DueAt   time.Time        `json:"due_at"`
}

// NewUnit serializes event into a unit due after delay.
func NewUnit(id, key string, event eventbus.Event, delay time.Duration, now time.Time) (*Unit, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s unit: %w", event.GetType(), err)
	}

	if delay < 0 {
		delay = 0
	}

	return &Unit{
		ID:      id,
		Key:     key,
		Type:    event.GetType(),
		Payload: payload,
		DueAt:   now.Add(delay),
	}, nil
}

// Event decodes the unit payload back into its typed event.
func (u *Unit) Event() (eventbus.Event, error) {
	decoded, err := eventbus.Decode(u.Type, u.Payload)
	if err != nil {
		return nil, err
	}

	event, ok := decoded.(eventbus.Event)
	if !ok {
		return nil, fmt.Errorf("unit %s does not carry an event", u.ID)
	}

	return event, nil
}

// Queue stores delayed units.
type Queue interface {
	Enqueue(ctx context.Context, unit *Unit) error
	// Claim returns up to limit units due at now and hides them for visibility. A claimed
	// unit that is not acknowledged becomes due again once visibility elapses.
	Claim(ctx context.Context, now time.Time, limit int, visibility time.Duration) ([]*Unit, error)
	Ack(ctx context.Context, ids ...string) error
	Len(ctx context.Context) (int, error)
}

// Enqueuer is what producers of delayed work depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, unit *Unit) error
}
