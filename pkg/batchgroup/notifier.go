package batchgroup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/outflow/outflow/pkg/eventbus"
	"github.com/outflow/outflow/pkg/events"
	"github.com/outflow/outflow/pkg/metrics"
)

// Notifier publishes BatchGroupCompleted for completions handed out by a Tracker. The
// tracker hands each completion to one caller at a time; a failed publish releases
// it, so the next report or sweep retries.
type Notifier struct {
	tracker Tracker
	bus     eventbus.EventBus
	metrics *metrics.Collector
	now     func() time.Time
	logger  *slog.Logger
}

func NewNotifier(tracker Tracker, bus eventbus.EventBus, collector *metrics.Collector, logger *slog.Logger) *Notifier {
	return &Notifier{
		tracker: tracker,
		bus:     bus,
		metrics: collector,
		now:     time.Now,
		logger:  logger.With("module", "batchgroup"),
	}
}

func (n *Notifier) Tracker() Tracker {
	return n.tracker
}

// Report records one batch and fires the group when it was the last to confirm.
func (n *Notifier) Report(ctx context.Context, groupID string, batchNumber, sent, failed int) error {
	completion, err := n.tracker.Report(ctx, groupID, batchNumber, sent, failed)
	if err != nil {
		return err
	}

	if completion == nil {
		return nil
	}

	return n.fire(ctx, completion)
}

// Sweep fires every group whose deadline passed. It returns how many were fired.
func (n *Notifier) Sweep(ctx context.Context) (int, error) {
	expired, err := n.tracker.Expired(ctx, n.now())
	if err != nil {
		return 0, err
	}

	fired := 0

	for _, completion := range expired {
		if err := n.fire(ctx, completion); err != nil {
			n.logger.ErrorContext(ctx, "failed to fire expired batch group", "group_id", completion.GroupID, "error", err)

			continue
		}

		fired++
	}

	return fired, nil
}

// RunSweeper sweeps every interval until ctx is done.
func (n *Notifier) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := n.Sweep(ctx); err != nil {
				n.logger.ErrorContext(ctx, "batch group sweep failed", "error", err)
			}
		}
	}
}

func (n *Notifier) fire(ctx context.Context, completion *Completion) error {
	event := events.BatchGroupCompleted{
		BaseEvent:       events.NewBaseEvent(n.bus.GenerateID(), events.BatchGroupCompletedEvent, completion.ExecutionID),
		GroupID:         completion.GroupID,
		StageID:         completion.StageID,
		ExpectedBatches: completion.Expected,
		ReportedBatches: completion.Reported,
		Sent:            completion.Sent,
		Failed:          completion.Failed,
		TimedOut:        completion.TimedOut,
	}

	if err := n.bus.Publish(ctx, completion.ExecutionID, event); err != nil {
		if releaseErr := n.tracker.Release(ctx, completion.GroupID); releaseErr != nil {
			n.logger.ErrorContext(ctx, "failed to release batch group", "group_id", completion.GroupID, "error", releaseErr)
		}

		return fmt.Errorf("failed to publish batch group completion: %w", err)
	}

	if err := n.tracker.MarkFired(ctx, completion.GroupID); err != nil {
		return err
	}

	if completion.TimedOut {
		n.logger.WarnContext(ctx, "batch group timed out",
			"group_id", completion.GroupID,
			"expected", completion.Expected,
			"reported", completion.Reported)
	} else {
		n.logger.InfoContext(ctx, "batch group completed",
			"group_id", completion.GroupID,
			"sent", completion.Sent,
			"failed", completion.Failed)
	}

	n.metrics.RecordBatchGroup(completion.TimedOut)

	return nil
}
