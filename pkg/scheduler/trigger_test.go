package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/outflow/outflow/pkg/scheduler"
	"github.com/outflow/outflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTicker struct {
	ticks atomic.Int32
}

func (c *countingTicker) Tick(context.Context) (scheduler.TickResult, error) {
	c.ticks.Add(1)

	return scheduler.TickResult{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewTriggerRejectsInvalidSchedule(t *testing.T) {
	_, err := scheduler.NewTrigger(&countingTicker{}, nil, "every minute", time.Minute, discardLogger())
	require.Error(t, err)
}

func TestFireSkipsWhileLockIsHeld(t *testing.T) {
	ticker := &countingTicker{}
	locker := &scheduler.LocalLocker{}

	trigger, err := scheduler.NewTrigger(ticker, locker, "@every 1m", time.Minute, discardLogger())
	require.NoError(t, err)

	lease, ok, err := locker.TryLock(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, trigger.Fire(context.Background()))
	assert.Equal(t, int32(0), ticker.ticks.Load())

	require.NoError(t, lease.Release(context.Background()))

	assert.True(t, trigger.Fire(context.Background()))
	assert.Equal(t, int32(1), ticker.ticks.Load())
}

func TestTriggerStartStop(t *testing.T) {
	trigger, err := scheduler.NewTrigger(&countingTicker{}, nil, "@every 1h", time.Minute, discardLogger())
	require.NoError(t, err)

	require.NoError(t, trigger.Start(context.Background()))
	trigger.Stop()
	trigger.Stop()
}

func TestRedisLocker(t *testing.T) {
	client := testutil.RedisClient(t)
	ctx := context.Background()

	first := scheduler.NewRedisLocker(client, "")
	second := scheduler.NewRedisLocker(client, "")

	lease, ok, err := first.TryLock(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryLock(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := lease.Renew(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, lease.Release(ctx))

	held, err = lease.Renew(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, held, "a released lease cannot be renewed")

	secondLease, ok, err := second.TryLock(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lease.Release(ctx), "a stale lease leaves the new holder alone")

	_, ok, err = first.TryLock(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, secondLease.Release(ctx))
}

// expiringLocker is an in-process lease that lapses after its ttl, like the redis one.
type expiringLocker struct {
	mu        sync.Mutex
	holder    string
	until     time.Time
	issued    int
	renewable bool
}

func (l *expiringLocker) TryLock(_ context.Context, ttl time.Duration) (scheduler.Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.holder != "" && l.until.After(now) {
		return nil, false, nil
	}

	l.issued++
	l.holder = strconv.Itoa(l.issued)
	l.until = now.Add(ttl)

	return &expiringLease{locker: l, token: l.holder}, true, nil
}

type expiringLease struct {
	locker *expiringLocker
	token  string
}

func (e *expiringLease) Renew(_ context.Context, ttl time.Duration) (bool, error) {
	l := e.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if !l.renewable || l.holder != e.token || !l.until.After(now) {
		return false, nil
	}

	l.until = now.Add(ttl)

	return true, nil
}

func (e *expiringLease) Release(context.Context) error {
	l := e.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == e.token {
		l.holder = ""
	}

	return nil
}

// slowTicker ignores cancellation and records how many ticks overlap.
type slowTicker struct {
	duration time.Duration
	running  atomic.Int32
	peak     atomic.Int32
}

func (s *slowTicker) Tick(context.Context) (scheduler.TickResult, error) {
	current := s.running.Add(1)
	defer s.running.Add(-1)

	for {
		peak := s.peak.Load()
		if current <= peak || s.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	time.Sleep(s.duration)

	return scheduler.TickResult{}, nil
}

func TestTickOutlivingLockTTLKeepsTheLease(t *testing.T) {
	locker := &expiringLocker{renewable: true}
	ticker := &slowTicker{duration: 200 * time.Millisecond}

	first, err := scheduler.NewTrigger(ticker, locker, "@every 1m", 50*time.Millisecond, discardLogger())
	require.NoError(t, err)

	second, err := scheduler.NewTrigger(ticker, locker, "@every 1m", 50*time.Millisecond, discardLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		assert.True(t, first.Fire(context.Background()))
	}()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, second.Fire(context.Background()), "the lease is still held past its first ttl")

	wg.Wait()
	assert.Equal(t, int32(1), ticker.peak.Load())

	assert.True(t, second.Fire(context.Background()), "the lease is released after the tick")
}

type cancellableTicker struct {
	cancelled atomic.Bool
}

func (c *cancellableTicker) Tick(ctx context.Context) (scheduler.TickResult, error) {
	select {
	case <-ctx.Done():
		c.cancelled.Store(true)
	case <-time.After(2 * time.Second):
	}

	return scheduler.TickResult{}, nil
}

func TestLostLeaseCancelsTheTick(t *testing.T) {
	locker := &expiringLocker{}
	ticker := &cancellableTicker{}

	trigger, err := scheduler.NewTrigger(ticker, locker, "@every 1m", 30*time.Millisecond, discardLogger())
	require.NoError(t, err)

	started := time.Now()

	assert.True(t, trigger.Fire(context.Background()))
	assert.True(t, ticker.cancelled.Load())
	assert.Less(t, time.Since(started), time.Second)
}
