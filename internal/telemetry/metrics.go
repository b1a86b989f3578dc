package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transfer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Transfer metrics
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_attempts_total",
			Help: "Total number of transfer attempts",
		},
		[]string{"status"}, // success or the failure kind
	)

	TransferProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transfer_processing_duration_seconds",
			Help:    "Time to process a transfer end to end",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	AdjustmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_adjustments_total",
			Help: "Total number of single-account adjustment attempts",
		},
		[]string{"status"},
	)

	// Lock metrics
	LockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transfer_lock_wait_duration_seconds",
			Help:    "Time spent acquiring account row locks",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
	)

	LockTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transfer_lock_timeouts_total",
			Help: "Total number of lock acquisitions that hit the wait bound",
		},
	)

	// Journal metrics
	JournalWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transfer_journal_write_duration_seconds",
			Help:    "Time to append committed records to the journal",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	JournalRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_journal_records_total",
			Help: "Total number of records appended to the journal",
		},
		[]string{"type"}, // account_created, balance_written, account_deleted
	)

	// NATS metrics
	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject"},
	)

	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"subject"},
	)

	// Account metrics
	AccountCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transfer_account_count",
			Help: "Total number of accounts",
		},
	)
)
