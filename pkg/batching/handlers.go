package batching

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outflow/outflow/pkg/batchgroup"
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

// BatchHandler sends one batch and reports it to its group.
type BatchHandler struct {
	stages   persistence.StageRepository
	courier  *gateway.Courier
	notifier *batchgroup.Notifier
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *slog.Logger
}

func NewBatchHandler(
	stages persistence.StageRepository,
	courier *gateway.Courier,
	notifier *batchgroup.Notifier,
	collector *metrics.Collector,
	tracer trace.Tracer,
	logger *slog.Logger,
) *BatchHandler {
	return &BatchHandler{
		stages:   stages,
		courier:  courier,
		notifier: notifier,
		metrics:  collector,
		tracer:   tracer,
		logger:   logger.With("module", "batch_handler"),
	}
}

func (h *BatchHandler) Handle(ctx context.Context, event any) error {
	dispatch, ok := event.(*events.BatchDispatch)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	ctx, span := otelhelper.StartSpan(ctx, h.tracer, "batching.batch",
		attribute.String(otelhelper.ExecutionIDKey, dispatch.ExecutionID),
		attribute.String(otelhelper.StageIDKey, dispatch.StageID),
		attribute.String(otelhelper.GroupIDKey, dispatch.GroupID),
		attribute.Int(otelhelper.BatchNumberKey, dispatch.BatchNumber),
	)
	defer span.End()

	logger := h.logger.With(
		"execution_id", dispatch.ExecutionID,
		"group_id", dispatch.GroupID,
		"batch_number", dispatch.BatchNumber,
	)

	stage, err := h.stages.StageByID(ctx, dispatch.StageID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	if stage.Status != models.StageStatusBatching {
		logger.InfoContext(ctx, "stage no longer batching, dropping batch", "stage_status", stage.Status)

		return nil
	}

	claimed, err := h.notifier.Tracker().ClaimSlot(ctx, dispatch.GroupID, dispatch.BatchNumber)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	if !claimed {
		logger.DebugContext(ctx, "batch already claimed, skipping redelivery")

		return nil
	}

	sent, failed := 0, 0

	result, err := h.courier.Deliver(ctx, gateway.Delivery{
		Node:           dispatch.Node,
		Content:        dispatch.Content,
		ProspectIDs:    dispatch.ProspectIDs,
		IdempotencyKey: UnitID(dispatch.GroupID, dispatch.BatchNumber),
		GroupID:        dispatch.GroupID,
		Context:        map[string]any{"execution_id": dispatch.ExecutionID, "stage_id": dispatch.StageID},
	})
	if err != nil {
		// a failed batch counts as failed recipients; the group still completes
		logger.ErrorContext(ctx, "batch send failed", "error", err)
		otelhelper.SetError(span, err)

		failed = len(dispatch.ProspectIDs)
	} else {
		sent, failed = result.Accepted, result.Rejected
	}

	h.metrics.RecordBatch(err)

	logger.InfoContext(ctx, "batch sent",
		"total_batches", dispatch.TotalBatches, "sent", sent, "failed", failed)

	// per-batch progress for read models; the group total arrives with the completion
	progress := map[string]any{
		models.ResultBatchKey(dispatch.BatchNumber): map[string]any{models.ResultSent: sent, models.ResultFailed: failed},
	}
	if err := h.stages.UpdateStageResult(ctx, dispatch.StageID, progress); err != nil {
		logger.WarnContext(ctx, "failed to record batch progress", "error", err)
	}

	return h.notifier.Report(ctx, dispatch.GroupID, dispatch.BatchNumber, sent, failed)
}

// CompletionHandler finishes a batching stage when its group fires and resumes
// traversal exactly like a direct send does.
type CompletionHandler struct {
	executions persistence.ExecutionRepository
	stages     persistence.StageRepository
	graphs     traversal.Graphs
	advancer   *traversal.Advancer
	metrics    *metrics.Collector
	tracer     trace.Tracer
	logger     *slog.Logger
}

func NewCompletionHandler(
	ledger persistence.Persistence,
	graphs traversal.Graphs,
	advancer *traversal.Advancer,
	collector *metrics.Collector,
	tracer trace.Tracer,
	logger *slog.Logger,
) *CompletionHandler {
	return &CompletionHandler{
		executions: ledger.ExecutionRepository(),
		stages:     ledger.StageRepository(),
		graphs:     graphs,
		advancer:   advancer,
		metrics:    collector,
		tracer:     tracer,
		logger:     logger.With("module", "batch_completion"),
	}
}

func (h *CompletionHandler) Handle(ctx context.Context, event any) error {
	completed, ok := event.(*events.BatchGroupCompleted)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	ctx, span := otelhelper.StartSpan(ctx, h.tracer, "batching.group_completed",
		attribute.String(otelhelper.ExecutionIDKey, completed.ExecutionID),
		attribute.String(otelhelper.StageIDKey, completed.StageID),
		attribute.String(otelhelper.GroupIDKey, completed.GroupID),
	)
	defer span.End()

	if err := h.complete(ctx, completed); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

func (h *CompletionHandler) complete(ctx context.Context, completed *events.BatchGroupCompleted) error {
	stage, err := h.stages.StageByID(ctx, completed.StageID)
	if err != nil {
		return err
	}

	if stage.Status != models.StageStatusBatching {
		h.logger.DebugContext(ctx, "stage is not batching, ignoring completion",
			"stage_id", stage.ID, "stage_status", stage.Status)

		return nil
	}

	if completed.TimedOut {
		h.logger.WarnContext(ctx, "completing stage of a timed out batch group",
			"stage_id", stage.ID,
			"expected", completed.ExpectedBatches,
			"reported", completed.ReportedBatches)
	}

	result := map[string]any{
		models.ResultSent:            completed.Sent,
		models.ResultFailed:          completed.Failed,
		models.ResultBatchesReported: completed.ReportedBatches,
		models.ResultTimedOut:        completed.TimedOut,
	}

	err = h.stages.CompleteStage(ctx, stage.ID, completed.GroupID, result, h.advancer.Now())
	if persistence.IsInvalidTransition(err) {
		return nil
	}

	if err != nil {
		return err
	}

	h.metrics.RecordStage(string(models.NodeKindStage), string(models.StageStatusCompleted))

	execution, err := h.executions.ExecutionByID(ctx, stage.ExecutionID)
	if err != nil {
		return err
	}

	graph, err := h.graphs.Graph(ctx, execution.FlowID)
	if err != nil {
		return h.advancer.Fail(ctx, execution, err.Error())
	}

	if err := h.advancer.Advance(ctx, execution, graph, stage); err != nil {
		return h.advancer.Fail(ctx, execution, err.Error())
	}

	return nil
}
