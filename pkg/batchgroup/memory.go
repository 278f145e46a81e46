package batchgroup

import (
	"context"
	"sort"
	"sync"
	"time"
)

type slotState int

const (
	slotClaimed slotState = iota + 1
	slotReported
)

type memoryGroup struct {
	Group

	slots    map[int]slotState
	reported int
	sent     int
	failed   int
	fired    bool
	// firingUntil is set while a caller holds the completion.
	firingUntil time.Time
}

// claim hands the completion to the caller unless it is fired or still held.
func (g *memoryGroup) claim(now time.Time) *Completion {
	if g.fired || g.firingUntil.After(now) {
		return nil
	}

	g.firingUntil = now.Add(FiringLease)

	return g.completion()
}

func (g *memoryGroup) completion() *Completion {
	return &Completion{
		GroupID:     g.ID,
		ExecutionID: g.ExecutionID,
		StageID:     g.StageID,
		Expected:    g.Expected,
		Reported:    g.reported,
		Sent:        g.sent,
		Failed:      g.failed,
		TimedOut:    g.reported < g.Expected,
	}
}

type MemoryTracker struct {
	mu     sync.Mutex
	groups map[string]*memoryGroup
	now    func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{groups: make(map[string]*memoryGroup), now: time.Now}
}

func (t *MemoryTracker) Register(_ context.Context, group Group) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.groups[group.ID]; !exists {
		t.groups[group.ID] = &memoryGroup{Group: group, slots: make(map[int]slotState)}
	}

	return nil
}

func (t *MemoryTracker) ClaimSlot(_ context.Context, groupID string, batchNumber int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	group, ok := t.groups[groupID]
	if !ok {
		return false, ErrUnknownGroup
	}

	if _, taken := group.slots[batchNumber]; taken {
		return false, nil
	}

	group.slots[batchNumber] = slotClaimed

	return true, nil
}

func (t *MemoryTracker) Report(_ context.Context, groupID string, batchNumber, sent, failed int) (*Completion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	group, ok := t.groups[groupID]
	if !ok {
		return nil, ErrUnknownGroup
	}

	if group.slots[batchNumber] != slotReported {
		group.slots[batchNumber] = slotReported
		group.reported++
		group.sent += sent
		group.failed += failed
	}

	if group.reported < group.Expected {
		return nil, nil
	}

	return group.claim(t.now()), nil
}

func (t *MemoryTracker) Expired(_ context.Context, now time.Time) ([]*Completion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	expired := make([]*Completion, 0)

	for _, group := range t.groups {
		if group.Deadline.After(now) {
			continue
		}

		if completion := group.claim(now); completion != nil {
			expired = append(expired, completion)
		}
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].GroupID < expired[j].GroupID })

	return expired, nil
}

func (t *MemoryTracker) MarkFired(_ context.Context, groupID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	group, ok := t.groups[groupID]
	if !ok {
		return ErrUnknownGroup
	}

	group.fired = true

	return nil
}

func (t *MemoryTracker) Release(_ context.Context, groupID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	group, ok := t.groups[groupID]
	if !ok {
		return ErrUnknownGroup
	}

	group.firingUntil = time.Time{}

	return nil
}
