// Package scheduler advances every execution whose next node is due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/outflow/outflow/pkg/batching"
	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/gateway"
	"github.com/outflow/outflow/pkg/metrics"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/otelhelper"
	"github.com/outflow/outflow/pkg/persistence"
	"github.com/outflow/outflow/pkg/queue"
	"github.com/outflow/outflow/pkg/traversal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Deps are the collaborators of the scheduler.
type Deps struct {
	Ledger       persistence.Persistence
	Graphs       traversal.Graphs
	Advancer     *traversal.Advancer
	Orchestrator *batching.Orchestrator
	Courier      *gateway.Courier
	Content      gateway.ContentResolver
	Queue        queue.Enqueuer
	Metrics      *metrics.Collector
	Tracer       trace.Tracer
}

type Scheduler struct {
	executions   persistence.ExecutionRepository
	stages       persistence.StageRepository
	graphs       traversal.Graphs
	advancer     *traversal.Advancer
	orchestrator *batching.Orchestrator
	courier      *gateway.Courier
	content      gateway.ContentResolver
	queue        queue.Enqueuer
	cfg          config.SchedulerConfig
	metrics      *metrics.Collector
	tracer       trace.Tracer
	logger       *slog.Logger
}

func New(deps Deps, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Scheduler{
		executions:   deps.Ledger.ExecutionRepository(),
		stages:       deps.Ledger.StageRepository(),
		graphs:       deps.Graphs,
		advancer:     deps.Advancer,
		orchestrator: deps.Orchestrator,
		courier:      deps.Courier,
		content:      deps.Content,
		queue:        deps.Queue,
		cfg:          cfg,
		metrics:      deps.Metrics,
		tracer:       tracer,
		logger:       logger.With("module", "scheduler"),
	}
}

// TickResult summarizes one tick.
type TickResult struct {
	Due    int
	Failed int
}

// Tick processes every due execution. Executions are independent: one failing never
// stops the others, it only fails itself.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	started := time.Now()

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "scheduler.tick")
	defer span.End()

	due, err := s.executions.DueExecutions(ctx, s.advancer.Now(), s.cfg.BatchLimit)
	if err != nil {
		otelhelper.SetError(span, err)

		return TickResult{}, fmt.Errorf("failed to load due executions: %w", err)
	}

	var failed atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, s.cfg.Concurrency))

	for _, execution := range due {
		group.Go(func() error {
			if !s.processSafely(groupCtx, execution) {
				failed.Add(1)
			}

			return nil
		})
	}

	_ = group.Wait()

	result := TickResult{Due: len(due), Failed: int(failed.Load())}
	span.SetAttributes(attribute.Int("outflow.tick.due", result.Due), attribute.Int("outflow.tick.failed", result.Failed))

	s.metrics.RecordTick(time.Since(started), result.Due)

	if result.Due > 0 {
		s.logger.InfoContext(ctx, "tick finished", "due", result.Due, "failed", result.Failed, "duration", time.Since(started))
	}

	return result, nil
}

// processSafely is the per-execution boundary. It reports false when the execution
// was failed during this tick.
func (s *Scheduler) processSafely(ctx context.Context, execution *models.Execution) (ok bool) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "scheduler.execution",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.FlowIDKey, execution.FlowID),
	)
	defer span.End()

	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("panic while processing execution: %v", recovered)
			otelhelper.SetError(span, err)
			s.fail(ctx, execution, err)

			ok = false
		}
	}()

	if err := s.process(ctx, execution); err != nil {
		otelhelper.SetError(span, err)
		s.fail(ctx, execution, err)

		return false
	}

	return true
}

func (s *Scheduler) fail(ctx context.Context, execution *models.Execution, cause error) {
	s.logger.ErrorContext(ctx, "execution processing failed", "execution_id", execution.ID, "error", cause)

	if err := s.advancer.Fail(ctx, execution, cause.Error()); err != nil {
		s.logger.ErrorContext(ctx, "failed to record execution failure", "execution_id", execution.ID, "error", err)
	}
}

// process runs up to max_steps node transitions while the next node is already due.
func (s *Scheduler) process(ctx context.Context, execution *models.Execution) error {
	graph, err := s.graphs.Graph(ctx, execution.FlowID)
	if err != nil {
		return err
	}

	if err := s.advancer.Start(ctx, execution); err != nil {
		return err
	}

	for range max(1, s.cfg.MaxSteps) {
		if !execution.IsDue(s.advancer.Now()) {
			return nil
		}

		progressed, err := s.step(ctx, execution, graph)
		if err != nil {
			return err
		}

		if !progressed {
			return nil
		}

		execution, err = s.executions.ExecutionByID(ctx, execution.ID)
		if err != nil {
			return err
		}
	}

	return nil
}
