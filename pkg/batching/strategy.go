// Package batching splits large cohorts into delayed batches and finishes the stage
// once every batch of the group has reported.
package batching

import (
	"time"

	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/models"
)

// Strategy decides whether and how a cohort is split. It holds no state.
type Strategy struct {
	Threshold    int
	BatchCount   int
	MaxBatchSize int
	Interval     time.Duration
}

func NewStrategy(cfg config.BatchingConfig) Strategy {
	return Strategy{
		Threshold:    cfg.Threshold,
		BatchCount:   cfg.BatchCount,
		MaxBatchSize: cfg.MaxBatchSize,
		Interval:     cfg.Interval,
	}
}

// ShouldBatch is true only above the threshold.
func (s Strategy) ShouldBatch(count int) bool {
	return count > s.Threshold
}

// BatchCountFor is how many batches a cohort of total is split into. With a maximum
// batch size the batches are filled up to it; otherwise the configured count is used.
// A batch is never empty.
func (s Strategy) BatchCountFor(total int) int {
	if total <= 0 {
		return 0
	}

	if !s.ShouldBatch(total) {
		return 1
	}

	count := s.BatchCount
	if s.MaxBatchSize > 0 {
		count = (total + s.MaxBatchSize - 1) / s.MaxBatchSize
	}

	return max(1, min(count, total))
}

// CreateBatches splits ids in order into batches whose sizes differ by at most one.
func (s Strategy) CreateBatches(ids []string) [][]string {
	count := s.BatchCountFor(len(ids))
	if count == 0 {
		return nil
	}

	batches := make([][]string, 0, count)
	size, extra := len(ids)/count, len(ids)%count
	start := 0

	for i := range count {
		end := start + size
		if i < extra {
			end++
		}

		batches = append(batches, ids[start:end:end])
		start = end
	}

	return batches
}

// DelayForBatch grows linearly: batch i waits i intervals.
func (s Strategy) DelayForBatch(index, _ int) time.Duration {
	return time.Duration(index) * s.Interval
}

// Plan describes how ids would be sent.
func (s Strategy) Plan(ids []string) models.BatchPlan {
	switch {
	case len(ids) == 0:
		return models.BatchPlan{Kind: models.BatchPlanEmpty}
	case !s.ShouldBatch(len(ids)):
		return models.BatchPlan{Kind: models.BatchPlanDirect, ProspectIDs: ids}
	}

	batches := s.CreateBatches(ids)
	plan := models.BatchPlan{Kind: models.BatchPlanBatched, Batches: make([]models.BatchDescriptor, len(batches))}

	for i, batch := range batches {
		plan.Batches[i] = models.BatchDescriptor{
			Number: i,
			Size:   len(batch),
			Delay:  s.DelayForBatch(i, len(batches)),
			IsLast: i == len(batches)-1,
		}
	}

	return plan
}
