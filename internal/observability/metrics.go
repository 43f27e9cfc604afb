package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the evaluation engine.
type Metrics struct {
	// --- Ingestion / evaluation ---
	EventsApplied  prometheus.Counter
	EventsRejected *prometheus.CounterVec
	EventDuration  prometheus.Histogram
	VerdictsTotal  *prometheus.CounterVec
	LockWait       prometheus.Histogram

	// --- Publisher ---
	PublishAttempts *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	PublishSkipped  prometheus.Counter
	OutboxFallbacks prometheus.Counter
	OutboxReplayed  prometheus.Counter
	OutboxUnshipped prometheus.Gauge
	PublishDuration prometheus.Histogram

	// --- Persistence ---
	CommitDuration prometheus.Histogram
	CommitErrors   *prometheus.CounterVec

	// --- Projection ---
	ProjectionUpdates prometheus.Counter
	ProjectionDrops   prometheus.Counter
	ProjectionErrors  prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	evalBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	}
	ioBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		EventsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eval_events_applied_total",
			Help: "Trade events applied to a challenge",
		}),

		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_events_rejected_total",
			Help: "Trade events dropped (unknown, terminal, duplicate, frozen, error)",
		}, []string{"reason"}),

		EventDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eval_event_apply_duration_seconds",
			Help:    "Full read-modify-decide-commit cycle duration per event",
			Buckets: ioBuckets,
		}),

		VerdictsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_verdicts_total",
			Help: "Rule-evaluation verdicts by outcome",
		}, []string{"outcome"}),

		LockWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eval_exclusive_section_wait_seconds",
			Help:    "Time spent waiting for a challenge's exclusive section",
			Buckets: evalBuckets,
		}),

		PublishAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_publish_attempts_total",
			Help: "Outbound publish attempts by effect kind",
		}, []string{"kind"}),

		PublishFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_publish_failures_total",
			Help: "Outbound publish failures by effect kind",
		}, []string{"kind"}),

		PublishSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eval_publish_skipped_total",
			Help: "Effects skipped because their state version was already published",
		}),

		OutboxFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eval_outbox_fallbacks_total",
			Help: "Effects left in the durable outbox after retry exhaustion",
		}),

		OutboxReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eval_outbox_replayed_total",
			Help: "Unpublished outbox rows re-enqueued by the replayer",
		}),

		OutboxUnshipped: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eval_outbox_unpublished",
			Help: "Unpublished outbox rows at last replay sweep",
		}),

		PublishDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eval_publish_duration_seconds",
			Help:    "Successful publish latency including retries",
			Buckets: ioBuckets,
		}),

		CommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eval_commit_duration_seconds",
			Help:    "Postgres commit transaction duration",
			Buckets: ioBuckets,
		}),

		CommitErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_commit_errors_total",
			Help: "Commit transaction errors by stage",
		}, []string{"stage"}),

		ProjectionUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eval_projection_updates_total",
			Help: "Status projection rows refreshed",
		}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eval_projection_drops_total",
			Help: "Snapshots dropped due to full projection channel",
		}),

		ProjectionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eval_projection_errors_total",
			Help: "Projection update failures",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eval_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: evalBuckets,
		}, []string{"endpoint"}),
	}
}
