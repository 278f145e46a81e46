package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Ticker is what the trigger fires.
type Ticker interface {
	Tick(ctx context.Context) (TickResult, error)
}

// Trigger fires ticks on a cron schedule. Overlapping ticks are skipped, both inside
// the process and, through the Locker, across replicas.
type Trigger struct {
	ticker   Ticker
	locker   Locker
	schedule string
	lockTTL  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func NewTrigger(ticker Ticker, locker Locker, schedule string, lockTTL time.Duration, logger *slog.Logger) (*Trigger, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid tick schedule '%s': %w", schedule, err)
	}

	if locker == nil {
		locker = &LocalLocker{}
	}

	return &Trigger{
		ticker:   ticker,
		locker:   locker,
		schedule: schedule,
		lockTTL:  lockTTL,
		logger:   logger.With("module", "scheduler_trigger"),
	}, nil
}

func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ctx, t.cancel = context.WithCancel(ctx)

	t.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := t.cron.AddFunc(t.schedule, func() { t.Fire(t.ctx) }); err != nil {
		return fmt.Errorf("failed to schedule ticks: %w", err)
	}

	t.cron.Start()
	t.logger.Info("scheduler trigger started", "schedule", t.schedule)

	return nil
}

// Stop waits for a running tick to finish.
func (t *Trigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cron == nil {
		return
	}

	<-t.cron.Stop().Done()
	t.cancel()
	t.cron = nil

	t.logger.Info("scheduler trigger stopped")
}

// Fire runs one tick if the lock is free. It reports whether the tick ran. The lease
// is renewed every third of its ttl while the tick runs; losing it cancels the tick.
func (t *Trigger) Fire(ctx context.Context) bool {
	lease, ok, err := t.locker.TryLock(ctx, t.lockTTL)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to take tick lock", "error", err)

		return false
	}

	if !ok {
		t.logger.DebugContext(ctx, "tick already running elsewhere, skipping")

		return false
	}

	tickCtx, cancel := context.WithCancel(ctx)
	renewing := make(chan struct{})

	go func() {
		defer close(renewing)
		t.keepLease(tickCtx, lease, cancel)
	}()

	defer func() {
		cancel()
		<-renewing

		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			t.logger.WarnContext(ctx, "failed to release tick lock", "error", err)
		}
	}()

	if _, err := t.ticker.Tick(tickCtx); err != nil {
		t.logger.ErrorContext(ctx, "tick failed", "error", err)
	}

	return true
}

func (t *Trigger) keepLease(ctx context.Context, lease Lease, cancel context.CancelFunc) {
	if t.lockTTL <= 0 {
		return
	}

	renewal := time.NewTicker(max(t.lockTTL/3, time.Millisecond))
	defer renewal.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-renewal.C:
			held, err := lease.Renew(ctx, t.lockTTL)
			if ctx.Err() != nil {
				return
			}

			if err == nil && held {
				continue
			}

			t.logger.ErrorContext(ctx, "lost tick lock, cancelling tick", "error", err)
			cancel()

			return
		}
	}
}
