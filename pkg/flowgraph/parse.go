// Package flowgraph loads flow documents into validated, canonical flow definitions
// and answers graph lookups for traversal.
package flowgraph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/outflow/outflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var schemaLoader = gojsonschema.NewStringLoader(flowSchema)

var labelAliases = map[string]string{
	"true":      models.LabelTrue,
	"yes":       models.LabelTrue,
	"match":     models.LabelTrue,
	"false":     models.LabelFalse,
	"no":        models.LabelFalse,
	"otherwise": models.LabelFalse,
	"else":      models.LabelFalse,
}

type rawFlow struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	StartNodeID string           `json:"start_node_id"`
	Nodes       []map[string]any `json:"nodes"`
	Edges       []models.Edge    `json:"edges"`
}

// Parse validates a flow document and returns its canonical definition. Condition
// branches and top-level edges are merged into a single edge list.
func Parse(document []byte) (*models.FlowDefinition, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(document))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}

	if !result.Valid() {
		var problems *multierror.Error
		for _, desc := range result.Errors() {
			problems = multierror.Append(problems, fmt.Errorf("%s", desc.String()))
		}

		return nil, newValidationError(flowIDOf(document), problems)
	}

	var raw rawFlow
	if err := json.Unmarshal(document, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}

	flow := &models.FlowDefinition{
		ID:          raw.ID,
		Name:        raw.Name,
		StartNodeID: raw.StartNodeID,
	}

	var problems *multierror.Error

	var branchEdges []models.Edge

	for index, node := range raw.Nodes {
		edges, err := decodeNode(flow, node)
		if err != nil {
			problems = multierror.Append(problems, fmt.Errorf("node %d: %w", index, err))

			continue
		}

		branchEdges = append(branchEdges, edges...)
	}

	if err := newValidationError(flow.ID, problems); err != nil {
		return nil, err
	}

	flow.Edges = append(flow.Edges, raw.Edges...)
	flow.Edges = append(flow.Edges, branchEdges...)
	normalizeLabels(flow)

	if err := Validate(flow); err != nil {
		return nil, err
	}

	return flow, nil
}

func decodeNode(flow *models.FlowDefinition, node map[string]any) ([]models.Edge, error) {
	fields := make(map[string]any, len(node))
	for key, value := range node {
		fields[key] = value
	}

	kind, _ := fields["type"].(string)
	delete(fields, "type")

	branches, hasBranches := fields["branches"].(map[string]any)
	delete(fields, "branches")

	if hasBranches && models.NodeKind(kind) != models.NodeKindCondition {
		return nil, fmt.Errorf("%s node %v cannot declare branches", kind, node["id"])
	}

	switch models.NodeKind(kind) {
	case models.NodeKindStage:
		var stage models.StageNode
		if err := decodeStrict(fields, &stage); err != nil {
			return nil, err
		}

		flow.Stages = append(flow.Stages, stage)

		return nil, nil
	case models.NodeKindCondition:
		var condition models.ConditionNode
		if err := decodeStrict(fields, &condition); err != nil {
			return nil, err
		}

		flow.Conditions = append(flow.Conditions, condition)

		labels := make([]string, 0, len(branches))
		for label := range branches {
			labels = append(labels, label)
		}

		sort.Strings(labels)

		edges := make([]models.Edge, 0, len(branches))
		for _, label := range labels {
			targetID, _ := branches[label].(string)
			edges = append(edges, models.Edge{Source: condition.ID, Target: targetID, Label: label})
		}

		return edges, nil
	case models.NodeKindEnd:
		var end models.EndNode
		if err := decodeStrict(fields, &end); err != nil {
			return nil, err
		}

		flow.Ends = append(flow.Ends, end)

		return nil, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", kind)
	}
}

func decodeStrict(input map[string]any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      output,
		DecodeHook:  durationHook,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}

var durationType = reflect.TypeOf(models.Duration(0))

func durationHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}

	return models.ParseDuration(data)
}

func normalizeLabels(flow *models.FlowDefinition) {
	conditions := make(map[string]bool, len(flow.Conditions))
	for _, condition := range flow.Conditions {
		conditions[condition.ID] = true
	}

	for i, edge := range flow.Edges {
		if !conditions[edge.Source] {
			continue
		}

		if canonical, ok := labelAliases[strings.ToLower(strings.TrimSpace(edge.Label))]; ok {
			flow.Edges[i].Label = canonical
		}
	}
}

func flowIDOf(document []byte) string {
	var header struct {
		ID string `json:"id"`
	}

	_ = json.Unmarshal(document, &header)

	return header.ID
}
