// Package metrics declares the Prometheus instruments exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registered once at init.
var (
	ValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentra_validations_total",
			Help: "Input validations performed, by resulting threat level",
		},
		[]string{"level"},
	)
	ThreatsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentra_threats_detected_total",
			Help: "Threats detected during validation, by type",
		},
		[]string{"type"},
	)
	CommandsClassifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentra_commands_classified_total",
			Help: "Commands classified, by risk level",
		},
		[]string{"risk"},
	)
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentra_executions_total",
			Help: "Sandboxed executions, by outcome",
		},
		[]string{"outcome"},
	)
	ActiveExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentra_active_executions",
			Help: "Sandboxed executions currently running",
		},
	)
	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentra_execution_duration_seconds",
			Help:    "Wall time of sandboxed executions",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)
	AuditEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentra_audit_entries_total",
			Help: "Entries appended to the audit chain",
		},
	)
	PatternAlertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentra_pattern_alerts_total",
			Help: "Suspicious-activity pattern alerts raised",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ValidationsTotal,
		ThreatsDetectedTotal,
		CommandsClassifiedTotal,
		ExecutionsTotal,
		ActiveExecutions,
		ExecutionDuration,
		AuditEntriesTotal,
		PatternAlertsTotal,
	)
}

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
