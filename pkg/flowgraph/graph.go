package flowgraph

import (
	"fmt"
	"time"

	"github.com/outflow/outflow/pkg/models"
)

// Graph indexes a flow definition for traversal.
type Graph struct {
	flow       *models.FlowDefinition
	stages     map[string]models.StageNode
	conditions map[string]models.ConditionNode
	ends       map[string]models.EndNode
	outgoing   map[string]map[string]models.Edge
}

// New validates flow and indexes it.
func New(flow *models.FlowDefinition) (*Graph, error) {
	if err := Validate(flow); err != nil {
		return nil, err
	}

	graph := &Graph{
		flow:       flow,
		stages:     make(map[string]models.StageNode, len(flow.Stages)),
		conditions: make(map[string]models.ConditionNode, len(flow.Conditions)),
		ends:       make(map[string]models.EndNode, len(flow.Ends)),
		outgoing:   make(map[string]map[string]models.Edge),
	}

	for _, stage := range flow.Stages {
		graph.stages[stage.ID] = stage
	}

	for _, condition := range flow.Conditions {
		graph.conditions[condition.ID] = condition
	}

	for _, end := range flow.Ends {
		graph.ends[end.ID] = end
	}

	for _, edge := range flow.Edges {
		if graph.outgoing[edge.Source] == nil {
			graph.outgoing[edge.Source] = make(map[string]models.Edge)
		}

		graph.outgoing[edge.Source][edge.Label] = edge
	}

	return graph, nil
}

func (g *Graph) Flow() *models.FlowDefinition {
	return g.flow
}

// Node resolves id among stage nodes first, then condition nodes, then end nodes.
func (g *Graph) Node(id string) (models.Node, error) {
	if stage, ok := g.stages[id]; ok {
		return stage, nil
	}

	if condition, ok := g.conditions[id]; ok {
		return condition, nil
	}

	if end, ok := g.ends[id]; ok {
		return end, nil
	}

	return nil, fmt.Errorf("%w: node %q in flow %q", ErrNodeNotFound, id, g.flow.ID)
}

func (g *Graph) Stage(id string) (models.StageNode, bool) {
	stage, ok := g.stages[id]

	return stage, ok
}

func (g *Graph) Condition(id string) (models.ConditionNode, bool) {
	condition, ok := g.conditions[id]

	return condition, ok
}

func (g *Graph) IsEnd(id string) bool {
	_, ok := g.ends[id]

	return ok
}

// Outgoing returns the edge leaving from with the given label.
func (g *Graph) Outgoing(from, label string) (models.Edge, bool) {
	edge, ok := g.outgoing[from][label]

	return edge, ok
}

// EdgesFrom returns every edge leaving from.
func (g *Graph) EdgesFrom(from string) []models.Edge {
	edges := make([]models.Edge, 0, len(g.outgoing[from]))
	for _, edge := range g.flow.Edges {
		if edge.Source == from {
			edges = append(edges, edge)
		}
	}

	return edges
}

// Delay is how long a node waits after being scheduled: a stage's wait or a
// condition's verification delay.
func (g *Graph) Delay(id string) time.Duration {
	if stage, ok := g.stages[id]; ok {
		return stage.Wait.Std()
	}

	if condition, ok := g.conditions[id]; ok {
		return condition.VerificationDelay.Std()
	}

	return 0
}
