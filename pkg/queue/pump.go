package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/outflow/outflow/pkg/eventbus"
	"github.com/outflow/outflow/pkg/metrics"
)

// Pump moves due units from a queue onto the event bus. A unit is acknowledged only
// after it was published, so a crash in between redelivers it.
type Pump struct {
	queue      Queue
	bus        eventbus.EventPublisher
	interval   time.Duration
	batchSize  int
	visibility time.Duration
	now        func() time.Time
	metrics    *metrics.Collector
	logger     *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type PumpOption func(*Pump)

func WithInterval(interval time.Duration) PumpOption {
	return func(p *Pump) { p.interval = interval }
}

func WithVisibility(visibility time.Duration) PumpOption {
	return func(p *Pump) { p.visibility = visibility }
}

func WithClock(now func() time.Time) PumpOption {
	return func(p *Pump) { p.now = now }
}

// WithMetrics reports the queue depth after every drain.
func WithMetrics(collector *metrics.Collector) PumpOption {
	return func(p *Pump) { p.metrics = collector }
}

func NewPump(queue Queue, bus eventbus.EventPublisher, logger *slog.Logger, opts ...PumpOption) *Pump {
	pump := &Pump{
		queue:      queue,
		bus:        bus,
		interval:   time.Second,
		batchSize:  100,
		visibility: time.Minute,
		now:        time.Now,
		logger:     logger.With("module", "queue_pump"),
		stopCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(pump)
	}

	return pump
}

func (p *Pump) Start(ctx context.Context) {
	p.logger.InfoContext(ctx, "Starting queue pump", "interval", p.interval)

	p.wg.Add(1)

	go p.run(ctx)
}

func (p *Pump) Stop(ctx context.Context) {
	p.logger.InfoContext(ctx, "Stopping queue pump")

	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pump) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Drain(ctx); err != nil {
				p.logger.ErrorContext(ctx, "Error draining queue", "error", err)
			}

			p.reportDepth(ctx)
		}
	}
}

// Drain publishes every unit due now and returns how many were delivered.
func (p *Pump) Drain(ctx context.Context) (int, error) {
	delivered := 0

	for {
		units, err := p.queue.Claim(ctx, p.now(), p.batchSize, p.visibility)
		if err != nil {
			return delivered, err
		}

		if len(units) == 0 {
			return delivered, nil
		}

		acked := make([]string, 0, len(units))

		for _, unit := range units {
			event, err := unit.Event()
			if err != nil {
				// a unit that cannot be decoded never will be
				p.logger.ErrorContext(ctx, "Dropping undecodable unit", "unit_id", unit.ID, "error", err)
				acked = append(acked, unit.ID)

				continue
			}

			if err := p.bus.Publish(ctx, unit.Key, event); err != nil {
				p.logger.WarnContext(ctx, "Failed to publish unit, will retry", "unit_id", unit.ID, "error", err)

				continue
			}

			acked = append(acked, unit.ID)
			delivered++
		}

		if err := p.queue.Ack(ctx, acked...); err != nil {
			return delivered, err
		}

		if len(units) < p.batchSize {
			return delivered, nil
		}
	}
}

func (p *Pump) reportDepth(ctx context.Context) {
	if p.metrics == nil {
		return
	}

	depth, err := p.queue.Len(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to read queue depth", "error", err)

		return
	}

	p.metrics.SetQueueDepth(depth)
}
