// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the sandbox server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecBuckets covers sandbox operations from fast file reads to slow
// container starts, 10ms to 120s.
var ExecBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandbox_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: ExecBuckets,
		},
		[]string{"method"},
	)

	// SessionsActive tracks sessions currently held by the registry.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandbox_sessions_active",
			Help: "Active sandbox sessions",
		},
	)

	// SessionCreatesTotal counts session creations by backend and outcome
	// ("created", "exists", "failed").
	SessionCreatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_session_creates_total",
			Help: "Sandbox session create attempts",
		},
		[]string{"backend", "outcome"},
	)

	// SessionClosesTotal counts session closes by backend and outcome
	// ("closed", "error", "timeout", "not_found").
	SessionClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_session_closes_total",
			Help: "Sandbox session close attempts",
		},
		[]string{"backend", "outcome"},
	)

	// BackendLatency records adapter initialize/close/exec latency.
	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandbox_backend_latency_seconds",
			Help:    "Backend operation latency",
			Buckets: ExecBuckets,
		},
		[]string{"backend", "operation"},
	)

	// ToolExecutionsTotal counts MCP tool executions by name and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"tool_name", "status"},
	)

	// ToolDuration records MCP tool execution duration in seconds.
	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandbox_tool_duration_seconds",
			Help:    "Tool execution duration",
			Buckets: ExecBuckets,
		},
		[]string{"tool_name"},
	)

	// TelnetConnectionsActive tracks open telnet connections.
	TelnetConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandbox_telnet_connections_active",
			Help: "Active telnet connections",
		},
	)

	// MCPStreamsActive tracks open server-to-client MCP event streams.
	MCPStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandbox_mcp_streams_active",
			Help: "Open MCP event streams",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		SessionsActive,
		SessionCreatesTotal,
		SessionClosesTotal,
		BackendLatency,
		ToolExecutionsTotal,
		ToolDuration,
		TelnetConnectionsActive,
		MCPStreamsActive,
		RateLimitRejectedTotal,
	)
}
