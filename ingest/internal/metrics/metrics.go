package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decision engine metrics
	IngestOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersafe_ingest_outcomes_total",
			Help: "Total number of classified arrivals by outcome and reason code",
		},
		[]string{"outcome", "reason"},
	)

	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersafe_ingest_rejected_total",
			Help: "Total number of arrivals rejected before any state change",
		},
		[]string{"reason"},
	)

	IngestEventBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgersafe_ingest_event_bytes_total",
			Help: "Total bytes of accepted event bodies",
		},
	)

	DecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgersafe_decision_duration_seconds",
			Help:    "Duration of the read-decide-write transaction in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	TransactionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersafe_transaction_retries_total",
			Help: "Total number of transactions re-run after a conflict or serialization failure",
		},
		[]string{"operation", "cause"},
	)

	TransientFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersafe_transient_failures_total",
			Help: "Total number of operations that gave up with a retryable error",
		},
		[]string{"operation"},
	)

	InvariantViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersafe_invariant_violations_total",
			Help: "Total number of fatal invariant violations",
		},
		[]string{"operation"},
	)

	// Resolution engine metrics
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersafe_resolutions_total",
			Help: "Total number of resolution attempts by action and result",
		},
		[]string{"action", "result"},
	)

	// Side-effect metrics
	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersafe_notifications_failed_total",
			Help: "Total number of lifecycle notifications that could not be published",
		},
		[]string{"subject"},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgersafe_dead_lettered_total",
			Help: "Total number of arrivals written to the dead-letter stream",
		},
		[]string{"reason"},
	)
)
