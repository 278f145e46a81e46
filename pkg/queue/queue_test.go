package queue_test

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/outflow/outflow/pkg/channels/gochannel"
	"github.com/outflow/outflow/pkg/eventbus"
	"github.com/outflow/outflow/pkg/events"
	"github.com/outflow/outflow/pkg/metrics"
	"github.com/outflow/outflow/pkg/queue"
	"github.com/outflow/outflow/pkg/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func evaluationUnit(t *testing.T, id string, delay time.Duration) *queue.Unit {
	t.Helper()

	unit, err := queue.NewUnit(id, "exec-1", events.ConditionEvaluation{
		BaseEvent: events.NewBaseEvent(id, events.ConditionEvaluationEvent, "exec-1"),
		StageID:   "stage-" + id,
		NodeID:    "B",
		MessageID: "m1",
	}, delay, base)
	require.NoError(t, err)

	return unit
}

func testQueue(t *testing.T, q queue.Queue) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, evaluationUnit(t, "late", 20*time.Minute)))
	require.NoError(t, q.Enqueue(ctx, evaluationUnit(t, "early", 10*time.Minute)))
	require.NoError(t, q.Enqueue(ctx, evaluationUnit(t, "early", 10*time.Minute)))

	length, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length, "same id enqueued twice is stored once")

	units, err := q.Claim(ctx, base.Add(5*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, units)

	units, err = q.Claim(ctx, base.Add(30*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "early", units[0].ID)
	assert.Equal(t, "late", units[1].ID)

	// hidden while claimed
	units, err = q.Claim(ctx, base.Add(30*time.Minute+30*time.Second), 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, units)

	require.NoError(t, q.Ack(ctx, "early"))

	// the unacknowledged unit comes back
	units, err = q.Claim(ctx, base.Add(32*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "late", units[0].ID)

	event, err := units[0].Event()
	require.NoError(t, err)

	evaluation, ok := event.(*events.ConditionEvaluation)
	require.True(t, ok)
	assert.Equal(t, "stage-late", evaluation.StageID)

	require.NoError(t, q.Ack(ctx, "late"))

	length, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestMemoryQueue(t *testing.T) {
	testQueue(t, queue.NewMemoryQueue())
}

func TestRedisQueue(t *testing.T) {
	client := testutil.RedisClient(t)

	testQueue(t, queue.NewRedisQueue(client, "test:queue"))
}

func TestPumpDrain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	defer bus.Close()

	received := make(chan string, 10)
	require.NoError(t, bus.Handle(events.ConditionEvaluationEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ConditionEvaluation).StageID

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, evaluationUnit(t, "now", 0)))
	require.NoError(t, q.Enqueue(ctx, evaluationUnit(t, "later", time.Hour)))

	pump := queue.NewPump(q, bus, logger, queue.WithClock(func() time.Time { return base.Add(time.Minute) }))

	delivered, err := pump.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	select {
	case stageID := <-received:
		assert.Equal(t, "stage-now", stageID)
	case <-time.After(5 * time.Second):
		t.Fatal("unit was not published")
	}

	length, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

type countingPublisher struct {
	published atomic.Int32
}

func (p *countingPublisher) Publish(context.Context, string, eventbus.Event) error {
	p.published.Add(1)

	return nil
}

func TestPumpReportsQueueDepth(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	publisher := &countingPublisher{}

	q := queue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, evaluationUnit(t, "now", 0)))
	require.NoError(t, q.Enqueue(ctx, evaluationUnit(t, "later", time.Hour)))

	pump := queue.NewPump(q, publisher, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
		queue.WithInterval(10*time.Millisecond),
		queue.WithClock(func() time.Time { return base.Add(time.Minute) }),
		queue.WithMetrics(metrics.NewCollector(registry)),
	)

	pump.Start(ctx)
	defer pump.Stop(ctx)

	expected := `
# HELP outflow_queue_depth Units waiting in the delayed work queue after the last drain
# TYPE outflow_queue_depth gauge
outflow_queue_depth 1
`

	assert.Eventually(t, func() bool {
		return promtestutil.GatherAndCompare(registry, strings.NewReader(expected), "outflow_queue_depth") == nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), publisher.published.Load())
}
