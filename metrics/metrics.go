package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_normalized_total",
			Help: "Total number of raw records normalized into events",
		},
		[]string{"format"},
	)

	NormalizationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_normalization_failures_total",
			Help: "Total number of raw records rejected during normalization",
		},
		[]string{"format"},
	)

	TriggersEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_triggers_emitted_total",
			Help: "Total number of trigger records emitted by the engines",
		},
		[]string{"engine"},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"severity"},
	)

	AlertsMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_alerts_merged_total",
			Help: "Total number of triggers merged into existing alerts by deduplication",
		},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_event_processing_duration_seconds",
			Help:    "Time taken to evaluate an event against all rules",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_active_workers",
			Help: "Number of active workers per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_queue_size",
			Help: "Number of queued tasks per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed per pool",
		},
		[]string{"pool"},
	)

	IngestRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_ingest_rate_limited_total",
			Help: "Total number of raw records dropped by the ingest rate limiter",
		},
	)
)
