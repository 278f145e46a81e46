package traversal

import (
	"context"
	"fmt"
	"sync"

	"github.com/outflow/outflow/pkg/flowgraph"
	"github.com/outflow/outflow/pkg/persistence"
)

// Graphs resolves the indexed graph of a flow.
type Graphs interface {
	Graph(ctx context.Context, flowID string) (*flowgraph.Graph, error)
}

// GraphCache loads flows from the ledger once. Flow definitions are immutable, so an
// entry never goes stale.
type GraphCache struct {
	flows  persistence.FlowRepository
	mu     sync.RWMutex
	graphs map[string]*flowgraph.Graph
}

func NewGraphCache(flows persistence.FlowRepository) *GraphCache {
	return &GraphCache{flows: flows, graphs: make(map[string]*flowgraph.Graph)}
}

func (c *GraphCache) Graph(ctx context.Context, flowID string) (*flowgraph.Graph, error) {
	c.mu.RLock()
	graph, ok := c.graphs[flowID]
	c.mu.RUnlock()

	if ok {
		return graph, nil
	}

	flow, err := c.flows.FlowByID(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow %s: %w", flowID, err)
	}

	graph, err = flowgraph.New(flow)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.graphs[flowID] = graph
	c.mu.Unlock()

	return graph, nil
}
