// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dedup layers reported by RecordDedupSkip.
const (
	DedupLayerMemory   = "memory"
	DedupLayerStore    = "store"
	DedupLayerInFlight = "in_flight"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Pipeline metrics
	LogEventsReceived  prometheus.Counter
	DedupSkips         *prometheus.CounterVec
	TxFetchFailures    *prometheus.CounterVec
	FailedTxSuppressed prometheus.Counter

	// Notification metrics
	NotificationsDelivered *prometheus.CounterVec
	NotificationsFailed    *prometheus.CounterVec

	// Subscription metrics
	ActiveSubscriptions prometheus.Gauge
	SubscriptionErrors  *prometheus.CounterVec

	// Snapshot metrics
	SnapshotRequests prometheus.Counter
	SnapshotPartial  *prometheus.CounterVec

	// Latency metrics
	RPCCallLatency  *prometheus.HistogramVec
	EventLatency    prometheus.Histogram
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Bot metrics
	UpdatesHandled *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "wallet_tracker"
	}

	return &Metrics{
		LogEventsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "log_events_received_total",
			Help:      "Total number of log events received from subscriptions",
		}),
		DedupSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "dedup_skips_total",
			Help:      "Total number of events skipped as duplicates by layer",
		}, []string{"layer"}),
		TxFetchFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "tx_fetch_failures_total",
			Help:      "Total number of transaction fetches that returned nothing",
		}, []string{"reason"}),
		FailedTxSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "failed_tx_suppressed_total",
			Help:      "Total number of on-chain failed transactions not notified",
		}),

		NotificationsDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "delivered_total",
			Help:      "Total number of notifications delivered by sink",
		}, []string{"sink"}),
		NotificationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failed_total",
			Help:      "Total number of notification delivery failures by sink",
		}, []string{"sink"}),

		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "active_subscriptions",
			Help:      "Current number of live wallet subscriptions",
		}),
		SubscriptionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "subscription_errors_total",
			Help:      "Total number of subscription failures by operation",
		}, []string{"operation"}),

		SnapshotRequests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "snapshot_requests_total",
			Help:      "Total number of wallet snapshot requests",
		}),
		SnapshotPartial: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "snapshot_partial_total",
			Help:      "Total number of snapshot sub-queries that degraded to defaults",
		}, []string{"query"}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		EventLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "event_latency_seconds",
			Help:      "Time from log event receipt to notification outcome in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		UpdatesHandled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "updates_handled_total",
			Help:      "Total number of bot updates handled by kind",
		}, []string{"kind"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("wallet_tracker")

// RecordLogEvent increments the received log events counter.
func RecordLogEvent() {
	DefaultMetrics.LogEventsReceived.Inc()
}

// RecordDedupSkip records a duplicate dropped at layer.
func RecordDedupSkip(layer string) {
	DefaultMetrics.DedupSkips.WithLabelValues(layer).Inc()
}

// RecordTxFetchFailure records a transaction that could not be fetched.
func RecordTxFetchFailure(reason string) {
	DefaultMetrics.TxFetchFailures.WithLabelValues(reason).Inc()
}

// RecordFailedTxSuppressed records an on-chain failed transaction.
func RecordFailedTxSuppressed() {
	DefaultMetrics.FailedTxSuppressed.Inc()
}

// RecordNotification records a delivery attempt on sink.
func RecordNotification(sink string, err error) {
	if err != nil {
		DefaultMetrics.NotificationsFailed.WithLabelValues(sink).Inc()
		return
	}
	DefaultMetrics.NotificationsDelivered.WithLabelValues(sink).Inc()
}

// SetActiveSubscriptions updates the live subscription gauge.
func SetActiveSubscriptions(n int) {
	DefaultMetrics.ActiveSubscriptions.Set(float64(n))
}

// RecordSubscriptionError records a failed subscribe or unsubscribe.
func RecordSubscriptionError(operation string) {
	DefaultMetrics.SubscriptionErrors.WithLabelValues(operation).Inc()
}

// RecordSnapshot increments the snapshot requests counter.
func RecordSnapshot() {
	DefaultMetrics.SnapshotRequests.Inc()
}

// RecordSnapshotPartial records a snapshot sub-query that fell back to its default.
func RecordSnapshotPartial(query string) {
	DefaultMetrics.SnapshotPartial.WithLabelValues(query).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordEventLatency records end-to-end handling time of one log event.
func RecordEventLatency(seconds float64) {
	DefaultMetrics.EventLatency.Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordUpdate records a handled bot update.
func RecordUpdate(kind string) {
	DefaultMetrics.UpdatesHandled.WithLabelValues(kind).Inc()
}
