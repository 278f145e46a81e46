package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/outflow/outflow/pkg/batching"
	"github.com/outflow/outflow/pkg/condition"
	"github.com/outflow/outflow/pkg/events"
	"github.com/outflow/outflow/pkg/flowgraph"
	"github.com/outflow/outflow/pkg/gateway"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/otelhelper"
	"github.com/outflow/outflow/pkg/persistence"
	"github.com/outflow/outflow/pkg/queue"
	"github.com/outflow/outflow/pkg/traversal"
	"go.opentelemetry.io/otel/attribute"
)

// EvaluationUnitID names the queued evaluation of a condition stage.
func EvaluationUnitID(stageID string) string {
	return "cond-" + stageID
}

// step handles the node the execution points at. It reports whether the execution
// moved on, in which case the caller reloads it and may take another step.
func (s *Scheduler) step(ctx context.Context, execution *models.Execution, graph *flowgraph.Graph) (bool, error) {
	nodeID := *execution.NextNodeID

	node, err := graph.Node(nodeID)
	if err != nil {
		return false, fmt.Errorf("%w: %w", traversal.ErrGraphIntegrity, err)
	}

	stage, err := s.stages.GetOrCreateStage(ctx, &models.ExecutionStage{
		ExecutionID:  execution.ID,
		NodeID:       nodeID,
		ScheduledFor: *execution.NextDueAt,
		Status:       models.StageStatusPending,
	})
	if err != nil {
		return false, fmt.Errorf("failed to load stage of node %s: %w", nodeID, err)
	}

	logger := s.logger.With("execution_id", execution.ID, "node_id", nodeID, "stage_id", stage.ID)

	if !stage.CanEnter() {
		if stage.Status.IsSettled() {
			// a crash between settling the stage and moving the pointer
			logger.InfoContext(ctx, "stage already settled, re-pointing execution", "stage_status", stage.Status)

			if stage.Status == models.StageStatusCompleted && node.Kind() == models.NodeKindStage {
				return true, s.advancer.Advance(ctx, execution, graph, stage)
			}

			return true, s.advancer.Settle(ctx, execution.ID, nodeID)
		}

		logger.DebugContext(ctx, "stage in flight, skipping", "stage_status", stage.Status)

		return false, nil
	}

	now := s.advancer.Now()
	if stage.ScheduledFor.After(now) {
		err := s.executions.PointExecution(ctx, execution.ID, execution.CurrentNodeID, nodeID, stage.ScheduledFor)
		if err != nil && !persistence.IsInvalidTransition(err) {
			return false, err
		}

		return false, nil
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "scheduler.node",
		attribute.String(otelhelper.NodeIDKey, nodeID),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind())),
		attribute.String(otelhelper.StageIDKey, stage.ID),
	)
	defer span.End()

	var progressed bool

	switch typed := node.(type) {
	case models.StageNode:
		progressed, err = s.executeStage(ctx, execution, graph, typed, stage)
	case models.ConditionNode:
		progressed, err = s.executeCondition(ctx, execution, typed, stage)
	case models.EndNode:
		progressed, err = s.executeEnd(ctx, execution, stage)
	default:
		err = fmt.Errorf("%w: node %s has unknown kind %s", traversal.ErrGraphIntegrity, nodeID, node.Kind())
	}

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return progressed, err
}

func (s *Scheduler) claim(ctx context.Context, stage *models.ExecutionStage) (bool, error) {
	claimed, err := s.stages.ClaimStage(ctx, stage.ID, s.advancer.Now())
	if err != nil {
		return false, fmt.Errorf("failed to claim stage %s: %w", stage.ID, err)
	}

	if !claimed {
		s.logger.DebugContext(ctx, "stage claimed elsewhere", "stage_id", stage.ID)
	}

	return claimed, nil
}

func (s *Scheduler) executeStage(
	ctx context.Context,
	execution *models.Execution,
	graph *flowgraph.Graph,
	node models.StageNode,
	stage *models.ExecutionStage,
) (bool, error) {
	claimed, err := s.claim(ctx, stage)
	if err != nil || !claimed {
		return false, err
	}

	content, err := gateway.StageContent(ctx, s.content, node)
	if err != nil {
		return false, s.failStage(ctx, models.NodeKindStage, stage, fmt.Errorf("failed to resolve content: %w", err))
	}

	recipients := stage.Recipients(execution.ProspectIDs)

	plan, err := s.orchestrator.Dispatch(ctx, batching.Request{
		Execution:   execution,
		Stage:       stage,
		Node:        node,
		Edges:       graph.EdgesFrom(node.ID),
		Content:     content,
		ProspectIDs: recipients,
	})
	if err != nil {
		return false, s.failStage(ctx, models.NodeKindStage, stage, err)
	}

	key := execution.ID + ":" + node.ID
	result := map[string]any{
		models.ResultContentSource: string(content.Source),
		models.ResultChannel:       string(node.Channel),
		models.ResultRecipients:    len(recipients),
	}

	var messageID string

	switch plan.Kind {
	case models.BatchPlanBatched:
		s.metrics.RecordStage(string(models.NodeKindStage), string(models.StageStatusBatching))

		return false, nil
	case models.BatchPlanEmpty:
		messageID = gateway.MessageID(key)
		result[models.ResultSent] = 0
		result[models.ResultFailed] = 0
	default:
		sent, err := s.courier.Deliver(ctx, gateway.Delivery{
			Node:           node,
			Content:        content,
			ProspectIDs:    recipients,
			IdempotencyKey: key,
			Context: map[string]any{
				"execution_id": execution.ID,
				"stage_id":     stage.ID,
				"flow_id":      execution.FlowID,
			},
		})
		if err != nil {
			return false, s.failStage(ctx, models.NodeKindStage, stage, err)
		}

		messageID = sent.MessageID
		result[models.ResultSent] = sent.Accepted
		result[models.ResultFailed] = sent.Rejected
	}

	if err := s.stages.CompleteStage(ctx, stage.ID, messageID, result, s.advancer.Now()); err != nil {
		return false, fmt.Errorf("failed to complete stage %s: %w", stage.ID, err)
	}

	s.metrics.RecordStage(string(models.NodeKindStage), string(models.StageStatusCompleted))

	s.logger.InfoContext(ctx, "stage sent",
		"execution_id", execution.ID,
		"node_id", node.ID,
		"channel", node.Channel,
		"message_id", messageID,
		"sent", result[models.ResultSent],
		"failed", result[models.ResultFailed])

	return true, s.advancer.Advance(ctx, execution, graph, stage)
}

func (s *Scheduler) executeCondition(
	ctx context.Context,
	execution *models.Execution,
	node models.ConditionNode,
	stage *models.ExecutionStage,
) (bool, error) {
	antecedent, err := condition.Antecedent(ctx, s.stages, execution.ID, node)
	if errors.Is(err, condition.ErrNoAntecedent) {
		return false, s.failStage(ctx, models.NodeKindCondition, stage, err)
	}

	if err != nil {
		return false, err
	}

	claimed, err := s.claim(ctx, stage)
	if err != nil || !claimed {
		return false, err
	}

	unitID := EvaluationUnitID(stage.ID)
	event := events.ConditionEvaluation{
		BaseEvent: events.NewBaseEvent(unitID, events.ConditionEvaluationEvent, execution.ID),
		StageID:   stage.ID,
		NodeID:    node.ID,
		MessageID: antecedent.MessageID,
	}

	unit, err := queue.NewUnit(unitID, execution.ID, event, 0, s.advancer.Now())
	if err != nil {
		return false, s.failStage(ctx, models.NodeKindCondition, stage, err)
	}

	if err := s.queue.Enqueue(ctx, unit); err != nil {
		return false, s.failStage(ctx, models.NodeKindCondition, stage, fmt.Errorf("failed to enqueue evaluation: %w", err))
	}

	s.logger.DebugContext(ctx, "condition evaluation queued",
		"execution_id", execution.ID, "node_id", node.ID, "message_id", antecedent.MessageID)

	return false, nil
}

func (s *Scheduler) executeEnd(ctx context.Context, execution *models.Execution, stage *models.ExecutionStage) (bool, error) {
	claimed, err := s.claim(ctx, stage)
	if err != nil || !claimed {
		return false, err
	}

	result := map[string]any{models.ResultRecipients: len(stage.Recipients(execution.ProspectIDs))}
	if err := s.stages.CompleteStage(ctx, stage.ID, "", result, s.advancer.Now()); err != nil {
		return false, fmt.Errorf("failed to complete end node %s: %w", stage.NodeID, err)
	}

	s.metrics.RecordStage(string(models.NodeKindEnd), string(models.StageStatusCompleted))

	return true, s.advancer.Settle(ctx, execution.ID, stage.NodeID)
}

// failStage records cause on the stage and lets the execution follow it. The cause is
// returned so the tick counts the execution as failed.
func (s *Scheduler) failStage(ctx context.Context, kind models.NodeKind, stage *models.ExecutionStage, cause error) error {
	s.metrics.RecordStage(string(kind), string(models.StageStatusFailed))

	err := s.stages.FailStage(ctx, stage.ID, cause.Error(), s.advancer.Now())
	if err != nil && !persistence.IsInvalidTransition(err) {
		return errors.Join(cause, fmt.Errorf("failed to record stage failure: %w", err))
	}

	if err := s.advancer.Settle(ctx, stage.ExecutionID, stage.NodeID); err != nil {
		return errors.Join(cause, err)
	}

	return cause
}
