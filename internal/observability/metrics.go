package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting control-plane
// Prometheus metrics: reconciler cycle throughput, sandbox lifecycle
// transitions, task executor iterations, and tool-call latency/outcomes.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordReconcilerCycle(dispatched, slept, recovered, time.Since(start).Seconds())
//	defer metrics.RecordToolCall(server, tool, "success", time.Since(start).Seconds())
type Metrics struct {
	// ReconcilerCycleDuration measures wall-clock time per reconciler cycle.
	ReconcilerCycleDuration prometheus.Histogram

	// ReconcilerRequestsDispatched counts requests dispatched by kind and outcome.
	// Labels: kind (create_sandbox|wake|sleep|destroy|...), status (success|error)
	ReconcilerRequestsDispatched *prometheus.CounterVec

	// ReconcilerAutoSleeps counts sandboxes transitioned to sleeping by the
	// idle/busy-timeout auto-sleep scan.
	ReconcilerAutoSleeps prometheus.Counter

	// ReconcilerHealthRecoveries counts sandboxes recovered by the health scan.
	ReconcilerHealthRecoveries prometheus.Counter

	// SandboxState is a gauge tracking the number of sandboxes in each state.
	// Labels: state (provisioning|running|idle|sleeping|destroyed|error)
	SandboxState *prometheus.GaugeVec

	// TaskExecutorIterations counts task executor inner-loop iterations.
	// Labels: status (continue|tool_call|done|error)
	TaskExecutorIterations *prometheus.CounterVec

	// TaskExecutorIterationDuration measures per-iteration latency, including
	// the LLM completion call.
	TaskExecutorIterationDuration prometheus.Histogram

	// ToolCallDuration measures MCP tool call latency by server and tool.
	// Labels: server, tool
	ToolCallDuration *prometheus.HistogramVec

	// ToolCallCounter counts MCP tool calls by server, tool, and outcome.
	// Labels: server, tool, status (success|error)
	ToolCallCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (reconciler|executor|toolcatalog|sandboxrt), error_type
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures the control-plane HTTP/gRPC API latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// DatabaseQueryDuration measures store query latency.
	// Labels: operation (select|insert|update|delete), table
	DatabaseQueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ReconcilerCycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nexus_reconciler_cycle_duration_seconds",
				Help:    "Duration of a single reconciler cycle in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
		),

		ReconcilerRequestsDispatched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_reconciler_requests_dispatched_total",
				Help: "Total number of requests dispatched by kind and status",
			},
			[]string{"kind", "status"},
		),

		ReconcilerAutoSleeps: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nexus_reconciler_auto_sleeps_total",
				Help: "Total number of sandboxes transitioned to sleeping by the auto-sleep scan",
			},
		),

		ReconcilerHealthRecoveries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nexus_reconciler_health_recoveries_total",
				Help: "Total number of sandboxes recovered by the health scan",
			},
		),

		SandboxState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_sandbox_state",
				Help: "Current number of sandboxes by state",
			},
			[]string{"state"},
		),

		TaskExecutorIterations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_task_executor_iterations_total",
				Help: "Total number of task executor inner-loop iterations by status",
			},
			[]string{"status"},
		),

		TaskExecutorIterationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nexus_task_executor_iteration_duration_seconds",
				Help:    "Duration of a task executor inner-loop iteration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		ToolCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_tool_call_duration_seconds",
				Help:    "Duration of MCP tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"server", "tool"},
		),

		ToolCallCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_tool_calls_total",
				Help: "Total number of MCP tool calls by server, tool, and status",
			},
			[]string{"server", "tool", "status"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),
	}
}

// RecordReconcilerCycle records the outcome of one reconciler cycle.
func (m *Metrics) RecordReconcilerCycle(autoSlept, healthRecovered int, durationSeconds float64) {
	m.ReconcilerCycleDuration.Observe(durationSeconds)
	if autoSlept > 0 {
		m.ReconcilerAutoSleeps.Add(float64(autoSlept))
	}
	if healthRecovered > 0 {
		m.ReconcilerHealthRecoveries.Add(float64(healthRecovered))
	}
}

// RecordRequestDispatched records the outcome of dispatching one queued request.
func (m *Metrics) RecordRequestDispatched(kind, status string) {
	m.ReconcilerRequestsDispatched.WithLabelValues(kind, status).Inc()
}

// SetSandboxState sets the gauge for the number of sandboxes in a given state.
func (m *Metrics) SetSandboxState(state string, count int) {
	m.SandboxState.WithLabelValues(state).Set(float64(count))
}

// RecordTaskExecutorIteration records one task executor inner-loop iteration.
func (m *Metrics) RecordTaskExecutorIteration(status string, durationSeconds float64) {
	m.TaskExecutorIterations.WithLabelValues(status).Inc()
	m.TaskExecutorIterationDuration.Observe(durationSeconds)
}

// RecordToolCall records the outcome of one MCP tool call.
func (m *Metrics) RecordToolCall(server, tool, status string, durationSeconds float64) {
	m.ToolCallCounter.WithLabelValues(server, tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(server, tool).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a database query.
func (m *Metrics) RecordDatabaseQuery(operation, table string, durationSeconds float64) {
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
