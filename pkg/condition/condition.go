// Package condition routes the recipients of a condition node by the engagement
// statistics of the send it inspects.
package condition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/outflow/outflow/pkg/events"
	"github.com/outflow/outflow/pkg/gateway"
	"github.com/outflow/outflow/pkg/metrics"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/otelhelper"
	"github.com/outflow/outflow/pkg/persistence"
	"github.com/outflow/outflow/pkg/traversal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoAntecedent means no earlier send carries a message id the condition could inspect.
var ErrNoAntecedent = errors.New("condition has no prior send with a message id")

// Antecedent finds the stage whose message the condition inspects: the stage of its
// source node when one is named, else the most recent stage with a message id.
func Antecedent(
	ctx context.Context,
	stages persistence.StageRepository,
	executionID string,
	node models.ConditionNode,
) (*models.ExecutionStage, error) {
	var (
		stage *models.ExecutionStage
		err   error
	)

	if node.SourceNodeID != "" {
		stage, err = stages.StageFor(ctx, executionID, node.SourceNodeID)
	} else {
		stage, err = stages.LatestStageWithMessage(ctx, executionID)
	}

	if persistence.IsNotFound(err) {
		return nil, ErrNoAntecedent
	}

	if err != nil {
		return nil, err
	}

	if stage.MessageID == "" {
		return nil, ErrNoAntecedent
	}

	return stage, nil
}

// Partition is the outcome of one evaluation.
type Partition struct {
	Satisfied   []string
	Unsatisfied []string
	// Observed is the aggregate metric, or nil when recipients were compared one by one.
	Observed *float64
}

type Evaluator struct {
	executions persistence.ExecutionRepository
	stages     persistence.StageRepository
	graphs     traversal.Graphs
	advancer   *traversal.Advancer
	stats      gateway.StatsProvider
	metrics    *metrics.Collector
	tracer     trace.Tracer
	logger     *slog.Logger
}

func NewEvaluator(
	ledger persistence.Persistence,
	graphs traversal.Graphs,
	advancer *traversal.Advancer,
	stats gateway.StatsProvider,
	collector *metrics.Collector,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Evaluator {
	return &Evaluator{
		executions: ledger.ExecutionRepository(),
		stages:     ledger.StageRepository(),
		graphs:     graphs,
		advancer:   advancer,
		stats:      stats,
		metrics:    collector,
		tracer:     tracer,
		logger:     logger.With("module", "condition_evaluator"),
	}
}

// Evaluate compares recipients against the condition. Per-recipient statistics are
// used when the provider offers them.
func (e *Evaluator) Evaluate(ctx context.Context, node models.ConditionNode, messageID string, recipients []string) (*Partition, error) {
	if provider, ok := e.stats.(gateway.RecipientStatsProvider); ok {
		values, err := provider.RecipientStats(ctx, messageID, node.Metric, recipients)
		if err != nil {
			return nil, err
		}

		partition := &Partition{}

		for _, id := range recipients {
			if node.Operator.Compare(values[id], node.Threshold) {
				partition.Satisfied = append(partition.Satisfied, id)
			} else {
				partition.Unsatisfied = append(partition.Unsatisfied, id)
			}
		}

		return partition, nil
	}

	observed, err := e.stats.EngagementStats(ctx, messageID, node.Metric)
	if err != nil {
		return nil, err
	}

	partition := &Partition{Observed: &observed}
	if node.Operator.Compare(observed, node.Threshold) {
		partition.Satisfied = recipients
	} else {
		partition.Unsatisfied = recipients
	}

	return partition, nil
}

// Handle processes a ConditionEvaluation unit. It is a no-op once the stage left
// executing, so redelivery is safe.
func (e *Evaluator) Handle(ctx context.Context, event any) error {
	request, ok := event.(*events.ConditionEvaluation)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "condition.evaluate",
		attribute.String(otelhelper.ExecutionIDKey, request.ExecutionID),
		attribute.String(otelhelper.StageIDKey, request.StageID),
		attribute.String(otelhelper.NodeIDKey, request.NodeID),
	)
	defer span.End()

	if err := e.handle(ctx, request); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

func (e *Evaluator) handle(ctx context.Context, request *events.ConditionEvaluation) error {
	logger := e.logger.With("execution_id", request.ExecutionID, "stage_id", request.StageID, "node_id", request.NodeID)

	stage, err := e.stages.StageByID(ctx, request.StageID)
	if err != nil {
		return err
	}

	if stage.Status != models.StageStatusExecuting {
		logger.DebugContext(ctx, "condition stage is not executing, skipping", "stage_status", stage.Status)

		return nil
	}

	execution, err := e.executions.ExecutionByID(ctx, stage.ExecutionID)
	if err != nil {
		return err
	}

	graph, err := e.graphs.Graph(ctx, execution.FlowID)
	if err != nil {
		return e.fail(ctx, stage, err.Error())
	}

	node, ok := graph.Condition(stage.NodeID)
	if !ok {
		return e.fail(ctx, stage, fmt.Sprintf("%s: condition node %q not found", traversal.ErrGraphIntegrity, stage.NodeID))
	}

	recipients := stage.Recipients(execution.ProspectIDs)

	partition, err := e.Evaluate(ctx, node, request.MessageID, recipients)
	if err != nil {
		logger.ErrorContext(ctx, "engagement statistics unavailable", "error", err)

		return e.fail(ctx, stage, fmt.Sprintf("failed to read %s for message %s: %v", node.Metric, request.MessageID, err))
	}

	branches := []struct {
		label      string
		recipients []string
	}{
		{models.LabelTrue, partition.Satisfied},
		{models.LabelFalse, partition.Unsatisfied},
	}

	for _, branch := range branches {
		if len(branch.recipients) == 0 {
			continue
		}

		if _, ok := graph.Outgoing(node.ID, branch.label); !ok {
			logger.InfoContext(ctx, "no edge for branch, recipients leave the flow",
				"label", branch.label, "recipients", len(branch.recipients))

			continue
		}

		if err := e.advancer.Route(ctx, execution, graph, node.ID, branch.label, branch.recipients); err != nil {
			return e.fail(ctx, stage, err.Error())
		}
	}

	result := map[string]any{
		models.ResultSatisfied:   len(partition.Satisfied),
		models.ResultUnsatisfied: len(partition.Unsatisfied),
	}
	if partition.Observed != nil {
		result[models.ResultObserved] = *partition.Observed
	}

	err = e.stages.CompleteStage(ctx, stage.ID, "", result, e.advancer.Now())
	if persistence.IsInvalidTransition(err) {
		return nil
	}

	if err != nil {
		return err
	}

	e.metrics.RecordStage(string(models.NodeKindCondition), string(models.StageStatusCompleted))

	logger.InfoContext(ctx, "condition evaluated",
		"metric", node.Metric,
		"satisfied", len(partition.Satisfied),
		"unsatisfied", len(partition.Unsatisfied))

	return e.advancer.Settle(ctx, execution.ID, node.ID)
}

// fail marks the stage failed, which fails its execution. The unit is consumed: a
// failed stage is never re-entered.
func (e *Evaluator) fail(ctx context.Context, stage *models.ExecutionStage, message string) error {
	err := e.stages.FailStage(ctx, stage.ID, message, e.advancer.Now())
	if err != nil && !persistence.IsInvalidTransition(err) {
		return err
	}

	e.metrics.RecordStage(string(models.NodeKindCondition), string(models.StageStatusFailed))

	return e.advancer.Settle(ctx, stage.ExecutionID, stage.NodeID)
}
