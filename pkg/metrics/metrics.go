// Package metrics exposes the kernel's prometheus counters,
// histograms, and gauges as package-level collectors plus Record*
// helpers, so every component calls a plain function rather than
// threading a registry handle through its constructor.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "diagkernel_scans_started_total",
		Help: "Total number of scans created by the Scan Orchestrator.",
	})

	ScansCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagkernel_scans_completed_total",
		Help: "Total number of scans that reached a terminal status, by status.",
	}, []string{"status"})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "diagkernel_scan_duration_seconds",
		Help:    "Wall-clock duration of a completed scan.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. 2048s (~34min)
	})

	FindingsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagkernel_findings_emitted_total",
		Help: "Total number of findings produced by the Rule Engine, by severity.",
	}, []string{"severity"})

	RemediationAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagkernel_remediation_attempts_total",
		Help: "Total number of remediation attempts, by terminal status.",
	}, []string{"status"})

	RemediationRollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "diagkernel_remediation_rollbacks_total",
		Help: "Total number of remediation attempts that rolled back.",
	})

	RemediationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "diagkernel_remediation_duration_seconds",
		Help:    "Wall-clock duration of a remediation attempt's execute step.",
		Buckets: prometheus.DefBuckets,
	})

	EventBusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagkernel_eventbus_dropped_total",
		Help: "Total number of events shed by a slow subscriber, by topic.",
	}, []string{"topic"})

	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagkernel_snapshots_total",
		Help: "Total number of snapshot operations, by operation and outcome.",
	}, []string{"operation", "outcome"})
)

// RecordScanStarted increments the scans-started counter.
func RecordScanStarted() {
	ScansStartedTotal.Inc()
}

// RecordScanCompleted increments the scans-completed counter for
// status and records the scan's wall-clock duration.
func RecordScanCompleted(status string, duration time.Duration) {
	ScansCompletedTotal.WithLabelValues(status).Inc()
	ScanDuration.Observe(duration.Seconds())
}

// RecordFinding increments the findings-emitted counter for severity.
func RecordFinding(severity string) {
	FindingsEmittedTotal.WithLabelValues(severity).Inc()
}

// RecordRemediationAttempt increments the remediation-attempts
// counter for status and records duration in the remediation-duration
// histogram, whatever the status.
func RecordRemediationAttempt(status string, duration time.Duration) {
	RemediationAttemptsTotal.WithLabelValues(status).Inc()
	RemediationDuration.Observe(duration.Seconds())
}

// RecordRemediationRollback increments the rollback counter.
func RecordRemediationRollback() {
	RemediationRollbacksTotal.Inc()
}

// RecordEventBusDropped implements eventbus.DropRecorder: this is how
// the Event Bus reports drop-oldest backpressure without importing
// this package's prometheus dependency directly.
func RecordEventBusDropped(topic string) {
	EventBusDroppedTotal.WithLabelValues(topic).Inc()
}

// RecordSnapshot increments the snapshots counter for operation
// ("create", "restore", "expire") and outcome ("ok", "corrupt",
// "missing", "error").
func RecordSnapshot(operation, outcome string) {
	SnapshotsTotal.WithLabelValues(operation, outcome).Inc()
}
