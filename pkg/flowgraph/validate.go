package flowgraph

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/outflow/outflow/pkg/models"
)

// Validate checks the structural invariants of a canonical flow definition.
func Validate(flow *models.FlowDefinition) error {
	var problems *multierror.Error

	kinds := make(map[string]models.NodeKind)

	register := func(id string, kind models.NodeKind) {
		if id == "" {
			problems = multierror.Append(problems, fmt.Errorf("%s node without id", kind))

			return
		}

		if _, exists := kinds[id]; exists {
			problems = multierror.Append(problems, fmt.Errorf("duplicate node id %q", id))

			return
		}

		kinds[id] = kind
	}

	for _, stage := range flow.Stages {
		register(stage.ID, models.NodeKindStage)

		if !stage.Channel.IsValid() {
			problems = multierror.Append(problems, fmt.Errorf("stage %q has unknown channel %q", stage.ID, stage.Channel))
		}

		if stage.TemplateRef == "" && stage.Content == "" {
			problems = multierror.Append(problems, fmt.Errorf("stage %q needs a template_ref or inline content", stage.ID))
		}

		if stage.Wait < 0 {
			problems = multierror.Append(problems, fmt.Errorf("stage %q has a negative wait", stage.ID))
		}
	}

	for _, condition := range flow.Conditions {
		register(condition.ID, models.NodeKindCondition)

		if condition.Metric == "" {
			problems = multierror.Append(problems, fmt.Errorf("condition %q has no metric", condition.ID))
		}

		if !condition.Operator.IsValid() {
			problems = multierror.Append(problems, fmt.Errorf("condition %q has unknown operator %q", condition.ID, condition.Operator))
		}

		if condition.VerificationDelay < 0 {
			problems = multierror.Append(problems, fmt.Errorf("condition %q has a negative verification delay", condition.ID))
		}
	}

	for _, end := range flow.Ends {
		register(end.ID, models.NodeKindEnd)
	}

	for _, condition := range flow.Conditions {
		if condition.SourceNodeID != "" && kinds[condition.SourceNodeID] != models.NodeKindStage {
			problems = multierror.Append(problems,
				fmt.Errorf("condition %q source_node_id %q is not a stage node", condition.ID, condition.SourceNodeID))
		}
	}

	switch kinds[flow.StartNodeID] {
	case models.NodeKindStage:
	case "":
		problems = multierror.Append(problems, fmt.Errorf("start node %q does not exist", flow.StartNodeID))
	default:
		problems = multierror.Append(problems, fmt.Errorf("start node %q must be a stage node", flow.StartNodeID))
	}

	seen := make(map[string]bool, len(flow.Edges))

	for _, edge := range flow.Edges {
		sourceKind, sourceOK := kinds[edge.Source]
		if !sourceOK {
			problems = multierror.Append(problems, fmt.Errorf("edge source %q does not exist", edge.Source))

			continue
		}

		if _, ok := kinds[edge.Target]; !ok {
			problems = multierror.Append(problems, fmt.Errorf("edge %s -> %s targets a missing node", edge.Source, edge.Target))
		}

		switch sourceKind {
		case models.NodeKindEnd:
			problems = multierror.Append(problems, fmt.Errorf("end node %q cannot have outgoing edges", edge.Source))
		case models.NodeKindStage:
			if edge.Label != "" {
				problems = multierror.Append(problems, fmt.Errorf("stage %q edge cannot carry label %q", edge.Source, edge.Label))
			}
		case models.NodeKindCondition:
			if edge.Label != models.LabelTrue && edge.Label != models.LabelFalse {
				problems = multierror.Append(problems,
					fmt.Errorf("condition %q edge label must be true or false, got %q", edge.Source, edge.Label))
			}
		}

		key := edge.Source + "\x00" + edge.Label
		if seen[key] {
			problems = multierror.Append(problems, fmt.Errorf("node %q has more than one %q edge", edge.Source, edge.Label))
		}

		seen[key] = true
	}

	return newValidationError(flow.ID, problems)
}
