// Package metrics holds the Prometheus instruments shared across kharcha.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts finished sync runs by outcome: completed, failed, lock_lost.
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kharcha_sync_runs_total",
			Help: "Sync runs by outcome",
		},
		[]string{"outcome"},
	)

	// SyncTriggers counts trigger requests by result: queued, rejected, inactive.
	SyncTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kharcha_sync_triggers_total",
			Help: "Sync trigger requests by result",
		},
		[]string{"result"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kharcha_sync_duration_seconds",
			Help:    "Wall time of a sync run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
		},
	)

	// MessagesProcessed counts messages by final status: processed, skipped, error.
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kharcha_messages_processed_total",
			Help: "Messages handled by the sync pipeline",
		},
		[]string{"status"},
	)

	ClassifierConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kharcha_classifier_confidence",
			Help:    "Financial classifier confidence per message",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	StuckLocksReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kharcha_stuck_locks_released_total",
			Help: "Sync locks released by the watchdog",
		},
	)

	// ApprovalsResolved counts approval decisions: approved, rejected, invalid.
	ApprovalsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kharcha_approvals_resolved_total",
			Help: "Approval decisions by result",
		},
		[]string{"result"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kharcha_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveSync records one finished sync run.
func ObserveSync(outcome string, d time.Duration) {
	SyncRuns.WithLabelValues(outcome).Inc()
	SyncDuration.Observe(d.Seconds())
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, path, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}
