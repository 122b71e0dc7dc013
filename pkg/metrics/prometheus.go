package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfprelay_enqueued_total",
			Help: "Total number of webhook deliveries enqueued by event type",
		},
		[]string{"type"},
	)

	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfprelay_delivery_attempts_total",
			Help: "Total number of delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfprelay_dead_letters_total",
			Help: "Total number of entries moved to the dead letter queue",
		},
		[]string{"type"},
	)

	ReplaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cfprelay_replays_total",
			Help: "Total number of operator replays of dead-lettered entries",
		},
	)

	CleanupDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cfprelay_cleanup_deleted_total",
			Help: "Total number of abandoned entries hard-deleted by the cleanup sweep",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cfprelay_queue_depth",
			Help: "Number of queue entries by status",
		},
		[]string{"status"},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cfprelay_delivery_duration_seconds",
			Help:    "Webhook delivery attempt duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	IngestSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfprelay_ingest_skipped_total",
			Help: "Total number of ingested messages skipped by reason",
		},
		[]string{"reason"},
	)
)
