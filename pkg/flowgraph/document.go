package flowgraph

import (
	"encoding/json"
	"fmt"

	"github.com/outflow/outflow/pkg/models"
)

type documentFlow struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	StartNodeID string           `json:"start_node_id"`
	Nodes       []map[string]any `json:"nodes"`
	Edges       []models.Edge    `json:"edges,omitempty"`
}

// Document renders a canonical definition in the authoring shape Parse accepts.
// Every edge, including condition outcomes, is written to the top-level edge list.
func Document(flow *models.FlowDefinition) ([]byte, error) {
	doc := documentFlow{
		ID:          flow.ID,
		Name:        flow.Name,
		StartNodeID: flow.StartNodeID,
		Edges:       flow.Edges,
	}

	for _, stage := range flow.Stages {
		fields, err := nodeFields(models.NodeKindStage, stage)
		if err != nil {
			return nil, err
		}

		doc.Nodes = append(doc.Nodes, fields)
	}

	for _, condition := range flow.Conditions {
		fields, err := nodeFields(models.NodeKindCondition, condition)
		if err != nil {
			return nil, err
		}

		doc.Nodes = append(doc.Nodes, fields)
	}

	for _, end := range flow.Ends {
		fields, err := nodeFields(models.NodeKindEnd, end)
		if err != nil {
			return nil, err
		}

		doc.Nodes = append(doc.Nodes, fields)
	}

	return json.MarshalIndent(doc, "", "  ")
}

func nodeFields(kind models.NodeKind, node any) (map[string]any, error) {
	payload, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s node: %w", kind, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s node: %w", kind, err)
	}

	fields["type"] = string(kind)

	return fields, nil
}
