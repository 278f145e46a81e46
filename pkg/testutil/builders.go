// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

// CreateTestStage creates a test StageNode with default values that can be overridden.
func CreateTestStage(id string, overrides ...func(*models.StageNode)) models.StageNode {
	stage := models.StageNode{
		ID:      id,
		Name:    "Stage " + id,
		Channel: models.ChannelEmail,
		Subject: "Hello {{.FirstName}}",
		Content: "Hi {{.Name}}, we have an offer for you.",
	}

	for _, override := range overrides {
		override(&stage)
	}

	return stage
}

// WithChannel sets the stage channel.
func WithChannel(channel models.Channel) func(*models.StageNode) {
	return func(s *models.StageNode) {
		s.Channel = channel
	}
}

// WithWait sets the stage wait.
func WithWait(wait time.Duration) func(*models.StageNode) {
	return func(s *models.StageNode) {
		s.Wait = models.Duration(wait)
	}
}

// WithTemplate makes the stage use a template reference.
func WithTemplate(ref string) func(*models.StageNode) {
	return func(s *models.StageNode) {
		s.TemplateRef = ref
	}
}

// CreateTestCondition creates a ConditionNode comparing metric with ">" against threshold.
func CreateTestCondition(id, metric string, threshold float64, overrides ...func(*models.ConditionNode)) models.ConditionNode {
	condition := models.ConditionNode{
		ID:        id,
		Name:      "Condition " + id,
		Metric:    metric,
		Operator:  models.OperatorGreater,
		Threshold: threshold,
	}

	for _, override := range overrides {
		override(&condition)
	}

	return condition
}

// CreateTestFlow creates a flow starting at the first stage, or the first condition when
// there are no stages.
func CreateTestFlow(id string, overrides ...func(*models.FlowDefinition)) *models.FlowDefinition {
	flow := &models.FlowDefinition{
		ID:   id,
		Name: "Flow " + id,
	}

	for _, override := range overrides {
		override(flow)
	}

	if flow.StartNodeID == "" && len(flow.Stages) > 0 {
		flow.StartNodeID = flow.Stages[0].ID
	}

	return flow
}

// WithStages appends stage nodes.
func WithStages(stages ...models.StageNode) func(*models.FlowDefinition) {
	return func(f *models.FlowDefinition) {
		f.Stages = append(f.Stages, stages...)
	}
}

// WithConditions appends condition nodes.
func WithConditions(conditions ...models.ConditionNode) func(*models.FlowDefinition) {
	return func(f *models.FlowDefinition) {
		f.Conditions = append(f.Conditions, conditions...)
	}
}

// WithEnds appends end nodes.
func WithEnds(ids ...string) func(*models.FlowDefinition) {
	return func(f *models.FlowDefinition) {
		for _, id := range ids {
			f.Ends = append(f.Ends, models.EndNode{ID: id})
		}
	}
}

// WithEdge appends an edge. label is empty for stage sources.
func WithEdge(source, target, label string) func(*models.FlowDefinition) {
	return func(f *models.FlowDefinition) {
		f.Edges = append(f.Edges, models.Edge{Source: source, Target: target, Label: label})
	}
}

// WithStart sets the start node.
func WithStart(id string) func(*models.FlowDefinition) {
	return func(f *models.FlowDefinition) {
		f.StartNodeID = id
	}
}

// CreateTestProspects builds n prospects with email and phone.
func CreateTestProspects(n int) []*models.Prospect {
	prospects := make([]*models.Prospect, n)

	for i := range n {
		identifier := fmt.Sprintf("P%06d", i+1)
		prospects[i] = &models.Prospect{
			ID:         models.ProspectID(identifier),
			Identifier: identifier,
			Name:       fmt.Sprintf("Prospect %d", i+1),
			Email:      fmt.Sprintf("prospect%d@example.com", i+1),
			Phone:      fmt.Sprintf("5511900%06d", i+1),
		}
	}

	return prospects
}

// SeedProspects stores n prospects and returns their ids.
func SeedProspects(ctx context.Context, repo persistence.ProspectRepository, n int) ([]string, error) {
	prospects := CreateTestProspects(n)

	if err := repo.UpsertProspects(ctx, prospects); err != nil {
		return nil, err
	}

	ids := make([]string, n)
	for i, prospect := range prospects {
		ids[i] = prospect.ID
	}

	return ids, nil
}

// CreateTestExecution creates a pending execution pointed at nodeID and due now.
func CreateTestExecution(flowID, nodeID string, prospectIDs []string, overrides ...func(*models.Execution)) *models.Execution {
	now := time.Now().UTC()
	execution := &models.Execution{
		ID:          uuid.NewString(),
		FlowID:      flowID,
		Origin:      "test",
		ProspectIDs: prospectIDs,
		NextNodeID:  &nodeID,
		NextDueAt:   &now,
		Status:      models.ExecutionStatusPending,
	}

	for _, override := range overrides {
		override(execution)
	}

	return execution
}
