// Package traversal moves an execution through its flow graph. The scheduler, the batch
// completion handler and the condition evaluator all advance executions through it, so
// direct and batched sends resolve the next node the same way.
package traversal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/outflow/outflow/pkg/flowgraph"
	"github.com/outflow/outflow/pkg/metrics"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

// ErrGraphIntegrity marks a flow that references a node or edge it does not define.
var ErrGraphIntegrity = errors.New("graph integrity violation")

type Advancer struct {
	executions persistence.ExecutionRepository
	stages     persistence.StageRepository
	hooks      []Hook
	metrics    *metrics.Collector
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Advancer)

func WithHooks(hooks ...Hook) Option {
	return func(a *Advancer) { a.hooks = append(a.hooks, hooks...) }
}

func WithClock(now func() time.Time) Option {
	return func(a *Advancer) { a.now = now }
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(a *Advancer) { a.metrics = collector }
}

func NewAdvancer(ledger persistence.Persistence, logger *slog.Logger, opts ...Option) *Advancer {
	advancer := &Advancer{
		executions: ledger.ExecutionRepository(),
		stages:     ledger.StageRepository(),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With("module", "traversal"),
	}

	for _, opt := range opts {
		opt(advancer)
	}

	return advancer
}

func (a *Advancer) Now() time.Time {
	return a.now()
}

// Advance schedules the successor of a settled stage node and re-points the execution.
// The successor inherits the recipient subset of from.
func (a *Advancer) Advance(ctx context.Context, execution *models.Execution, graph *flowgraph.Graph, from *models.ExecutionStage) error {
	if err := a.Route(ctx, execution, graph, from.NodeID, "", from.ProspectIDs); err != nil {
		return err
	}

	return a.Settle(ctx, execution.ID, from.NodeID)
}

// Route hands prospectIDs to the target of the edge leaving from with label. A nil
// subset means the whole cohort. A missing edge ends that path.
func (a *Advancer) Route(
	ctx context.Context,
	execution *models.Execution,
	graph *flowgraph.Graph,
	from, label string,
	prospectIDs []string,
) error {
	edge, ok := graph.Outgoing(from, label)
	if !ok {
		a.logger.DebugContext(ctx, "no outgoing edge, path ends",
			"execution_id", execution.ID, "node_id", from, "label", label)

		return nil
	}

	node, err := graph.Node(edge.Target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGraphIntegrity, err)
	}

	now := a.now()

	if node.Kind() == models.NodeKindEnd {
		return a.reachEnd(ctx, execution, node.NodeID(), prospectIDs, now)
	}

	stage, err := a.stages.GetOrCreateStage(ctx, &models.ExecutionStage{
		ExecutionID:  execution.ID,
		NodeID:       node.NodeID(),
		ProspectIDs:  prospectIDs,
		ScheduledFor: now.Add(graph.Delay(node.NodeID())),
		Status:       models.StageStatusPending,
	})
	if err != nil {
		return fmt.Errorf("failed to schedule node %s: %w", node.NodeID(), err)
	}

	// a second partition routed to the same node joins the existing subset
	if merged, changed := mergeSubset(stage.ProspectIDs, prospectIDs); changed && stage.CanEnter() {
		if err := a.stages.AssignStageProspects(ctx, stage.ID, merged); err != nil && !persistence.IsInvalidTransition(err) {
			return fmt.Errorf("failed to assign prospects to node %s: %w", node.NodeID(), err)
		}
	}

	a.logger.DebugContext(ctx, "node scheduled",
		"execution_id", execution.ID,
		"node_id", node.NodeID(),
		"scheduled_for", stage.ScheduledFor)

	return nil
}

func (a *Advancer) reachEnd(ctx context.Context, execution *models.Execution, nodeID string, prospectIDs []string, now time.Time) error {
	stage, err := a.stages.GetOrCreateStage(ctx, &models.ExecutionStage{
		ExecutionID:  execution.ID,
		NodeID:       nodeID,
		ProspectIDs:  prospectIDs,
		ScheduledFor: now,
		Status:       models.StageStatusPending,
	})
	if err != nil {
		return fmt.Errorf("failed to record end node %s: %w", nodeID, err)
	}

	if stage.Status.IsSettled() {
		return nil
	}

	result := map[string]any{models.ResultRecipients: len(stage.Recipients(execution.ProspectIDs))}

	err = a.stages.CompleteStage(ctx, stage.ID, "", result, now)
	if err != nil && !persistence.IsInvalidTransition(err) {
		return fmt.Errorf("failed to complete end node %s: %w", nodeID, err)
	}

	a.metrics.RecordStage(string(models.NodeKindEnd), string(models.StageStatusCompleted))

	return nil
}

// Settle points the execution at its next piece of work: the earliest pending stage,
// else a stage still in flight. With neither left the execution completes. A failed
// stage fails the execution.
func (a *Advancer) Settle(ctx context.Context, executionID, currentNodeID string) error {
	execution, err := a.executions.ExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status.IsTerminal() {
		return nil
	}

	stages, err := a.stages.ListStages(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to list stages: %w", err)
	}

	// not started yet, the pointer still names the start node
	if len(stages) == 0 {
		return nil
	}

	var pending, inFlight *models.ExecutionStage

	for _, stage := range stages {
		switch {
		case stage.Status == models.StageStatusFailed:
			return a.Fail(ctx, execution, fmt.Sprintf("node %s failed: %s", stage.NodeID, stage.ErrorMessage))
		case stage.CanEnter() && pending == nil:
			pending = stage
		case stage.Status.IsInFlight() && inFlight == nil:
			inFlight = stage
		}
	}

	next := pending
	if next == nil {
		next = inFlight
	}

	if next == nil {
		return a.Complete(ctx, execution)
	}

	if execution.NextNodeID != nil && *execution.NextNodeID == next.NodeID &&
		execution.NextDueAt != nil && execution.NextDueAt.Equal(next.ScheduledFor) {
		return nil
	}

	if err := a.executions.PointExecution(ctx, executionID, currentNodeID, next.NodeID, next.ScheduledFor); err != nil {
		if persistence.IsInvalidTransition(err) {
			return nil
		}

		return err
	}

	return nil
}

// Start moves a pending execution to in progress. Already started executions are left alone.
func (a *Advancer) Start(ctx context.Context, execution *models.Execution) error {
	if execution.Status != models.ExecutionStatusPending {
		return nil
	}

	if err := a.executions.StartExecution(ctx, execution.ID, a.now()); err != nil {
		if persistence.IsInvalidTransition(err) {
			return nil
		}

		return err
	}

	from := execution.Status
	execution.Status = models.ExecutionStatusInProgress
	a.runHooks(ctx, execution, from, execution.Status)

	return nil
}

// Complete finishes the execution. A paused execution is left for resume to settle.
func (a *Advancer) Complete(ctx context.Context, execution *models.Execution) error {
	now := a.now()

	if err := a.executions.CompleteExecution(ctx, execution.ID, now); err != nil {
		if persistence.IsInvalidTransition(err) {
			return nil
		}

		return err
	}

	from := execution.Status
	execution.Status = models.ExecutionStatusCompleted
	execution.EndedAt = &now
	execution.NextNodeID = nil
	execution.NextDueAt = nil

	a.logger.InfoContext(ctx, "execution completed", "execution_id", execution.ID)
	a.runHooks(ctx, execution, from, execution.Status)

	return nil
}

// Fail records message and finishes the execution as failed.
func (a *Advancer) Fail(ctx context.Context, execution *models.Execution, message string) error {
	now := a.now()

	if err := a.executions.FailExecution(ctx, execution.ID, message, now); err != nil {
		if persistence.IsInvalidTransition(err) {
			return nil
		}

		return err
	}

	from := execution.Status
	execution.Status = models.ExecutionStatusFailed
	execution.ErrorMessage = message
	execution.EndedAt = &now
	execution.NextNodeID = nil
	execution.NextDueAt = nil

	a.logger.ErrorContext(ctx, "execution failed", "execution_id", execution.ID, "error", message)
	a.metrics.RecordExecutionFailed()
	a.runHooks(ctx, execution, from, execution.Status)

	return nil
}

func (a *Advancer) runHooks(ctx context.Context, execution *models.Execution, from, to models.ExecutionStatus) {
	for _, hook := range a.hooks {
		if err := hook.AfterTransition(ctx, execution, from, to); err != nil {
			a.logger.WarnContext(ctx, "post-transition hook failed",
				"execution_id", execution.ID, "from", from, "to", to, "error", err)
		}
	}
}

// mergeSubset unions two recipient subsets. A nil subset stands for the whole cohort
// and absorbs the other.
func mergeSubset(existing, incoming []string) ([]string, bool) {
	if existing == nil {
		return nil, false
	}

	if incoming == nil {
		return nil, true
	}

	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}

	merged := slices.Clone(existing)

	for _, id := range incoming {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}

	return merged, len(merged) != len(existing)
}
