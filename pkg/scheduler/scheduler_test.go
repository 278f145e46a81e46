package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/outflow/outflow/pkg/batchgroup"
	"github.com/outflow/outflow/pkg/batching"
	"github.com/outflow/outflow/pkg/condition"
	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/events"
	"github.com/outflow/outflow/pkg/gateway"
	"github.com/outflow/outflow/pkg/mocks"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/otelhelper"
	"github.com/outflow/outflow/pkg/persistence/memory"
	"github.com/outflow/outflow/pkg/queue"
	"github.com/outflow/outflow/pkg/scheduler"
	"github.com/outflow/outflow/pkg/testutil"
	"github.com/outflow/outflow/pkg/traversal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type viewsStats float64

func (v viewsStats) EngagementStats(context.Context, string, string) (float64, error) {
	return float64(v), nil
}

type fixture struct {
	ctx       context.Context
	ledger    *memory.Persistence
	queue     *queue.MemoryQueue
	sender    *mocks.MockSender
	now       time.Time
	scheduler *scheduler.Scheduler
	evaluator *condition.Evaluator
	ids       []string
}

func newFixture(t *testing.T, cohort int, tune func(*config.Config), flows ...*models.FlowDefinition) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		ctx:    context.Background(),
		ledger: memory.NewPersistence(),
		queue:  queue.NewMemoryQueue(),
		sender: &mocks.MockSender{},
		now:    time.Now().UTC().Add(time.Second),
	}

	cfg := config.Default()
	if tune != nil {
		tune(cfg)
	}

	for _, flow := range flows {
		require.NoError(t, f.ledger.FlowRepository().SaveFlow(f.ctx, flow))
	}

	var err error
	f.ids, err = testutil.SeedProspects(f.ctx, f.ledger.ProspectRepository(), cohort)
	require.NoError(t, err)

	graphs := traversal.NewGraphCache(f.ledger.FlowRepository())
	advancer := traversal.NewAdvancer(f.ledger, logger, traversal.WithClock(func() time.Time { return f.now }))
	courier := gateway.NewCourier(f.sender, f.ledger.ProspectRepository(), nil, logger)
	orchestrator := batching.NewOrchestrator(batching.NewStrategy(cfg.Batching), f.ledger.StageRepository(),
		batchgroup.NewMemoryTracker(), f.queue, cfg.Batching.GroupTimeout, logger)

	f.scheduler = scheduler.New(scheduler.Deps{
		Ledger:       f.ledger,
		Graphs:       graphs,
		Advancer:     advancer,
		Orchestrator: orchestrator,
		Courier:      courier,
		Queue:        f.queue,
	}, cfg.Scheduler, logger)

	f.evaluator = condition.NewEvaluator(f.ledger, graphs, advancer, viewsStats(5), nil, otelhelper.NoopTracer(), logger)

	return f
}

func (f *fixture) acceptAll() {
	f.sender.On("Send", mock.Anything, mock.Anything).Return(func(_ context.Context, request gateway.SendRequest) *gateway.SendResult {
		return &gateway.SendResult{MessageID: gateway.MessageID(request.IdempotencyKey), Accepted: len(request.Recipients)}
	}, nil)
}

func (f *fixture) launch(t *testing.T, flowID, startNodeID string) *models.Execution {
	t.Helper()

	execution := testutil.CreateTestExecution(flowID, startNodeID, f.ids)
	require.NoError(t, f.ledger.ExecutionRepository().CreateExecution(f.ctx, execution))

	return execution
}

func (f *fixture) tick(t *testing.T) scheduler.TickResult {
	t.Helper()

	result, err := f.scheduler.Tick(f.ctx)
	require.NoError(t, err)

	return result
}

// drainEvaluations runs every queued condition evaluation, as a worker would.
func (f *fixture) drainEvaluations(t *testing.T) int {
	t.Helper()

	units, err := f.queue.Claim(f.ctx, f.now.Add(24*time.Hour), 100, time.Minute)
	require.NoError(t, err)

	for _, unit := range units {
		event, err := unit.Event()
		require.NoError(t, err)

		request, ok := event.(*events.ConditionEvaluation)
		require.True(t, ok, "unexpected unit %T", event)
		require.NoError(t, f.evaluator.Handle(f.ctx, request))
		require.NoError(t, f.queue.Ack(f.ctx, unit.ID))
	}

	return len(units)
}

func (f *fixture) execution(t *testing.T, id string) *models.Execution {
	t.Helper()

	execution, err := f.ledger.ExecutionRepository().ExecutionByID(f.ctx, id)
	require.NoError(t, err)

	return execution
}

func (f *fixture) stage(t *testing.T, executionID, nodeID string) *models.ExecutionStage {
	t.Helper()

	stage, err := f.ledger.StageRepository().StageFor(f.ctx, executionID, nodeID)
	require.NoError(t, err)

	return stage
}

func conditionalFlow() *models.FlowDefinition {
	return testutil.CreateTestFlow("f1",
		testutil.WithStages(testutil.CreateTestStage("A"), testutil.CreateTestStage("C")),
		testutil.WithConditions(testutil.CreateTestCondition("B", "views", 0, func(c *models.ConditionNode) {
			c.VerificationDelay = models.Duration(time.Hour)
		})),
		testutil.WithEnds("D"),
		testutil.WithEdge("A", "B", ""),
		testutil.WithEdge("B", "C", models.LabelTrue),
		testutil.WithEdge("B", "D", models.LabelFalse),
	)
}

func TestConditionalFlowEndToEnd(t *testing.T) {
	f := newFixture(t, 3, nil, conditionalFlow())
	f.acceptAll()
	execution := f.launch(t, "f1", "A")

	result := f.tick(t)
	assert.Equal(t, 1, result.Due)
	assert.Zero(t, result.Failed)

	a := f.stage(t, execution.ID, "A")
	assert.Equal(t, models.StageStatusCompleted, a.Status)
	assert.Equal(t, gateway.MessageID(execution.ID+":A"), a.MessageID)
	assert.Equal(t, 3, a.ResultInt(models.ResultSent))
	assert.Equal(t, string(models.ContentSourceInline), a.ResultString(models.ResultContentSource))

	current := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusInProgress, current.Status)
	require.NotNil(t, current.NextNodeID)
	assert.Equal(t, "B", *current.NextNodeID)
	assert.True(t, current.NextDueAt.Equal(f.now.Add(time.Hour)))

	// nothing is due before the verification delay
	assert.Equal(t, 0, f.tick(t).Due)
	assert.Equal(t, 0, f.drainEvaluations(t))

	f.now = f.now.Add(time.Hour)
	f.tick(t)
	assert.Equal(t, models.StageStatusExecuting, f.stage(t, execution.ID, "B").Status)
	assert.Equal(t, 1, f.drainEvaluations(t))

	b := f.stage(t, execution.ID, "B")
	assert.Equal(t, models.StageStatusCompleted, b.Status)
	assert.Equal(t, 3, b.ResultInt(models.ResultSatisfied))

	f.tick(t)

	done := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, done.Status)
	assert.NotNil(t, done.EndedAt)
	assert.Nil(t, done.NextNodeID)

	stages, err := f.ledger.StageRepository().ListStages(f.ctx, execution.ID)
	require.NoError(t, err)
	assert.Len(t, stages, 3, "A, B and C; nobody reached D")

	f.sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestRepeatedTickDoesNotResend(t *testing.T) {
	f := newFixture(t, 3, nil, conditionalFlow())
	f.acceptAll()
	execution := f.launch(t, "f1", "A")

	f.tick(t)

	// the pointer is moved back as if the process had died before recording it
	require.NoError(t, f.ledger.ExecutionRepository().PointExecution(f.ctx, execution.ID, "", "A", f.now))

	f.tick(t)

	stages, err := f.ledger.StageRepository().ListStages(f.ctx, execution.ID)
	require.NoError(t, err)
	assert.Len(t, stages, 2)

	current := f.execution(t, execution.ID)
	require.NotNil(t, current.NextNodeID)
	assert.Equal(t, "B", *current.NextNodeID)

	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestStageWithoutOutgoingEdgeCompletesExecution(t *testing.T) {
	flow := testutil.CreateTestFlow("solo", testutil.WithStages(testutil.CreateTestStage("A")))
	f := newFixture(t, 2, nil, flow)
	f.acceptAll()
	execution := f.launch(t, "solo", "A")

	f.tick(t)

	done := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, done.Status)
	assert.NotNil(t, done.EndedAt)
	assert.Nil(t, done.NextNodeID)
	assert.Nil(t, done.NextDueAt)
}

func TestConditionWithoutPriorMessageFailsOnlyItsExecution(t *testing.T) {
	// B inspects X, which has not run when B comes due
	orphan := testutil.CreateTestFlow("orphan",
		testutil.WithStages(testutil.CreateTestStage("A"), testutil.CreateTestStage("X")),
		testutil.WithConditions(testutil.CreateTestCondition("B", "views", 0, func(c *models.ConditionNode) {
			c.SourceNodeID = "X"
		})),
		testutil.WithEdge("A", "B", ""),
		testutil.WithEdge("B", "X", models.LabelTrue),
	)
	solo := testutil.CreateTestFlow("solo", testutil.WithStages(testutil.CreateTestStage("A")))

	f := newFixture(t, 2, nil, orphan, solo)
	f.acceptAll()
	broken := f.launch(t, "orphan", "A")
	healthy := f.launch(t, "solo", "A")

	result := f.tick(t)
	assert.Equal(t, 2, result.Due)
	assert.Equal(t, 1, result.Failed)

	b := f.stage(t, broken.ID, "B")
	assert.Equal(t, models.StageStatusFailed, b.Status)
	assert.Contains(t, b.ErrorMessage, condition.ErrNoAntecedent.Error())
	assert.Equal(t, models.ExecutionStatusFailed, f.execution(t, broken.ID).Status)

	assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, healthy.ID).Status)
	assert.Equal(t, 0, f.drainEvaluations(t))
}

func TestMaxStepsBoundsOneTick(t *testing.T) {
	flow := testutil.CreateTestFlow("chain",
		testutil.WithStages(testutil.CreateTestStage("A"), testutil.CreateTestStage("C"), testutil.CreateTestStage("E")),
		testutil.WithEdge("A", "C", ""),
		testutil.WithEdge("C", "E", ""),
	)
	f := newFixture(t, 1, func(cfg *config.Config) { cfg.Scheduler.MaxSteps = 2 }, flow)
	f.acceptAll()
	execution := f.launch(t, "chain", "A")

	f.tick(t)

	current := f.execution(t, execution.ID)
	require.NotNil(t, current.NextNodeID)
	assert.Equal(t, "E", *current.NextNodeID)
	f.sender.AssertNumberOfCalls(t, "Send", 2)

	f.tick(t)

	assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, execution.ID).Status)
	f.sender.AssertNumberOfCalls(t, "Send", 3)
}

func TestPanicFailsTheExecution(t *testing.T) {
	flow := testutil.CreateTestFlow("solo", testutil.WithStages(testutil.CreateTestStage("A")))
	f := newFixture(t, 1, nil, flow)
	f.sender.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("provider exploded") })
	execution := f.launch(t, "solo", "A")

	result := f.tick(t)
	assert.Equal(t, 1, result.Failed)

	failed := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "provider exploded")
}

func TestLargeCohortIsBatched(t *testing.T) {
	flow := testutil.CreateTestFlow("solo", testutil.WithStages(testutil.CreateTestStage("A")))
	f := newFixture(t, 5, func(cfg *config.Config) {
		cfg.Batching.Threshold = 2
		cfg.Batching.BatchCount = 2
		cfg.Batching.MaxBatchSize = 0
	}, flow)
	execution := f.launch(t, "solo", "A")

	f.tick(t)

	a := f.stage(t, execution.ID, "A")
	assert.Equal(t, models.StageStatusBatching, a.Status)
	assert.Equal(t, 2, a.ResultInt(models.ResultBatchesTotal))

	queued, err := f.queue.Len(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	// the stage is in flight, so the next tick leaves it alone
	f.tick(t)

	queued, err = f.queue.Len(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	assert.Equal(t, models.ExecutionStatusInProgress, f.execution(t, execution.ID).Status)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestUnknownFlowFailsExecution(t *testing.T) {
	f := newFixture(t, 1, nil)
	execution := f.launch(t, "missing", "A")

	result := f.tick(t)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, models.ExecutionStatusFailed, f.execution(t, execution.ID).Status)
}
