package batching

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/outflow/outflow/pkg/batchgroup"
	"github.com/outflow/outflow/pkg/events"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
	"github.com/outflow/outflow/pkg/queue"
)

// GroupID names the batch group of a stage. It doubles as the message id recorded on
// the stage once the group completes.
func GroupID(stageID string) string {
	return "bg-" + stageID
}

// UnitID names the queued unit of one batch, so a repeated dispatch replaces it.
func UnitID(groupID string, batchNumber int) string {
	return groupID + ":" + strconv.Itoa(batchNumber)
}

// Request is a send that may have to be split.
type Request struct {
	Execution   *models.Execution
	Stage       *models.ExecutionStage
	Node        models.StageNode
	Edges       []models.Edge
	Content     models.Content
	ProspectIDs []string
}

type Orchestrator struct {
	strategy     Strategy
	stages       persistence.StageRepository
	tracker      batchgroup.Tracker
	queue        queue.Enqueuer
	groupTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

func NewOrchestrator(
	strategy Strategy,
	stages persistence.StageRepository,
	tracker batchgroup.Tracker,
	enqueuer queue.Enqueuer,
	groupTimeout time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		strategy:     strategy,
		stages:       stages,
		tracker:      tracker,
		queue:        enqueuer,
		groupTimeout: groupTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.With("module", "batch_orchestrator"),
	}
}

// Dispatch returns a direct or empty plan for the caller to handle. A batched plan is
// carried out here: the group is registered, the stage moves to batching and every
// batch is enqueued with its delay.
func (o *Orchestrator) Dispatch(ctx context.Context, request Request) (*models.BatchPlan, error) {
	plan := o.strategy.Plan(request.ProspectIDs)
	if plan.Kind != models.BatchPlanBatched {
		return &plan, nil
	}

	batches := o.strategy.CreateBatches(request.ProspectIDs)
	total := len(batches)
	plan.GroupID = GroupID(request.Stage.ID)
	now := o.now()

	err := o.tracker.Register(ctx, batchgroup.Group{
		ID:          plan.GroupID,
		ExecutionID: request.Execution.ID,
		StageID:     request.Stage.ID,
		Expected:    total,
		Deadline:    now.Add(o.strategy.DelayForBatch(total-1, total) + o.groupTimeout),
	})
	if err != nil {
		return nil, err
	}

	err = o.stages.MarkStageBatching(ctx, request.Stage.ID, map[string]any{
		models.ResultBatchesTotal:    total,
		models.ResultBatchesReported: 0,
		models.ResultContentSource:   string(request.Content.Source),
		models.ResultChannel:         string(request.Node.Channel),
		models.ResultRecipients:      len(request.ProspectIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark stage batching: %w", err)
	}

	for i, batch := range batches {
		descriptor := plan.Batches[i]
		event := events.BatchDispatch{
			BaseEvent:    events.NewBaseEvent(UnitID(plan.GroupID, i), events.BatchDispatchEvent, request.Execution.ID),
			StageID:      request.Stage.ID,
			GroupID:      plan.GroupID,
			Node:         request.Node,
			Edges:        request.Edges,
			BatchNumber:  descriptor.Number,
			TotalBatches: total,
			IsLast:       descriptor.IsLast,
			ProspectIDs:  batch,
			Content:      request.Content,
		}

		unit, err := queue.NewUnit(UnitID(plan.GroupID, i), request.Execution.ID, event, descriptor.Delay, now)
		if err != nil {
			return nil, err
		}

		if err := o.queue.Enqueue(ctx, unit); err != nil {
			// the group deadline covers batches that never got enqueued
			return nil, fmt.Errorf("failed to enqueue batch %d of %d: %w", i, total, err)
		}
	}

	o.logger.InfoContext(ctx, "stage split into batches",
		"execution_id", request.Execution.ID,
		"stage_id", request.Stage.ID,
		"group_id", plan.GroupID,
		"batches", total,
		"recipients", len(request.ProspectIDs))

	return &plan, nil
}
