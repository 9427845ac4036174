// Package telemetry holds the Prometheus metrics of the ledger service.
//
// All metrics are registered against the default registry through promauto and
// are served by the router at METRICS_PATH (default /metrics).
//
// HTTP metrics are labelled with chi's route pattern (for example
// /api/v1/{entityType}/batches/{batchKey}), never the raw URL, so that batch
// keys and record ids cannot blow up label cardinality.
//
// Usage:
//
//	telemetry.ImportsTotal.WithLabelValues(entityType, telemetry.OutcomeOK).Inc()
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values shared by the import and revocation counters.
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeNotFound  = "not_found"
	OutcomeError     = "error"
	OutcomeThrottled = "throttled"
)

// HTTP metrics, labelled by method, route pattern and status code.
//
// Example PromQL queries:
//   - Error rate (%): sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route: histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route pattern.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Batch lifecycle metrics.
//
// ImportsTotal counts import attempts by entity type and outcome; a rising
// "rejected" share usually means an upstream spreadsheet template changed.
// RevocationsTotal counts revocation attempts; "conflict" is a second attempt
// on an already revoked batch.
var (
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_imports_total",
			Help: "Total number of batch import attempts, by entity type and outcome.",
		},
		[]string{"entity_type", "outcome"},
	)

	ImportedRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_imported_rows_total",
			Help: "Total number of rows committed by batch imports, by entity type.",
		},
		[]string{"entity_type"},
	)

	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_import_duration_seconds",
			Help:    "Duration of batch imports from parse to commit, by entity type.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"entity_type"},
	)

	RevocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_revocations_total",
			Help: "Total number of batch revocation attempts, by entity type and outcome.",
		},
		[]string{"entity_type", "outcome"},
	)

	ActiveImports = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_active_imports",
			Help: "Number of imports currently holding a limiter slot.",
		},
	)
)

// LedgerAppendsTotal counts audit entries written, by entity type and action.
var LedgerAppendsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_appends_total",
		Help: "Total number of audit entries appended, by entity type and action.",
	},
	[]string{"entity_type", "action"},
)

// Ledger export job metrics.
var (
	LedgerExportedEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_exported_entries_total",
			Help: "Total number of audit entries written to the blob store by the export job.",
		},
	)

	LedgerExportErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_export_errors_total",
			Help: "Total number of failed ledger export runs.",
		},
	)
)
