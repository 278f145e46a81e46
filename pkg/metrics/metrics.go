// Package metrics exposes engine counters and histograms to Prometheus.
//
// A nil *Collector is valid and records nothing, so components can take one optionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "outflow"

// Collector holds every engine metric.
type Collector struct {
	ticks               prometheus.Counter
	tickDuration        prometheus.Histogram
	executionsProcessed prometheus.Counter
	executionsFailed    prometheus.Counter
	stageTransitions    *prometheus.CounterVec
	batchesSent         prometheus.Counter
	batchesFailed       prometheus.Counter
	messages            *prometheus.CounterVec
	batchGroups         *prometheus.CounterVec
	importRows          *prometheus.CounterVec
	importChunkDuration prometheus.Histogram
	queueDepth          prometheus.Gauge
}

// NewCollector creates the collector and registers it with registerer.
func NewCollector(registerer prometheus.Registerer) *Collector {
	c := &Collector{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler ticks run",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Wall time of one scheduler tick",
			Buckets:   prometheus.DefBuckets,
		}),
		executionsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_executions_processed_total",
			Help:      "Due executions handled by the scheduler",
		}),
		executionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_failed_total",
			Help:      "Executions moved to failed",
		}),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage status changes by node kind",
		}, []string{"kind", "status"}),
		batchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_sent_total",
			Help:      "Batches handed to the send gateway",
		}),
		batchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_failed_total",
			Help:      "Batches whose send call returned an error",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Recipients accepted or rejected by the send gateway",
		}, []string{"channel", "outcome"}),
		batchGroups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_groups_completed_total",
			Help:      "Batch groups finalized, by whether they timed out",
		}, []string{"timed_out"}),
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Import rows by outcome",
		}, []string{"outcome"}),
		importChunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_chunk_duration_seconds",
			Help:      "Time to parse and store one import chunk",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Units waiting in the delayed work queue after the last drain",
		}),
	}

	registerer.MustRegister(
		c.ticks,
		c.tickDuration,
		c.executionsProcessed,
		c.executionsFailed,
		c.stageTransitions,
		c.batchesSent,
		c.batchesFailed,
		c.messages,
		c.batchGroups,
		c.importRows,
		c.importChunkDuration,
		c.queueDepth,
	)

	return c
}

func (c *Collector) RecordTick(duration time.Duration, processed int) {
	if c == nil {
		return
	}

	c.ticks.Inc()
	c.tickDuration.Observe(duration.Seconds())
	c.executionsProcessed.Add(float64(processed))
}

func (c *Collector) RecordExecutionFailed() {
	if c == nil {
		return
	}

	c.executionsFailed.Inc()
}

func (c *Collector) RecordStage(kind, status string) {
	if c == nil {
		return
	}

	c.stageTransitions.WithLabelValues(kind, status).Inc()
}

func (c *Collector) RecordBatch(err error) {
	if c == nil {
		return
	}

	if err != nil {
		c.batchesFailed.Inc()

		return
	}

	c.batchesSent.Inc()
}

func (c *Collector) RecordMessages(channel string, accepted, rejected int) {
	if c == nil {
		return
	}

	c.messages.WithLabelValues(channel, "accepted").Add(float64(accepted))
	c.messages.WithLabelValues(channel, "rejected").Add(float64(rejected))
}

func (c *Collector) RecordBatchGroup(timedOut bool) {
	if c == nil {
		return
	}

	label := "false"
	if timedOut {
		label = "true"
	}

	c.batchGroups.WithLabelValues(label).Inc()
}

func (c *Collector) RecordImportChunk(duration time.Duration, succeeded, failed int) {
	if c == nil {
		return
	}

	c.importChunkDuration.Observe(duration.Seconds())
	c.importRows.WithLabelValues("succeeded").Add(float64(succeeded))
	c.importRows.WithLabelValues("failed").Add(float64(failed))
}

func (c *Collector) SetQueueDepth(depth int) {
	if c == nil {
		return
	}

	c.queueDepth.Set(float64(depth))
}
