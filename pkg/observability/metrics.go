// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the codeact gateway and its sandbox.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// ExecutionBuckets covers sandbox and tool latencies from 10ms to 60s.
var ExecutionBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route pattern.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeact_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeact_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codeact_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// ProviderRequestsTotal counts requests sent to the model backend.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeact_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records model backend latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeact_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeact_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// ToolExecutionsTotal counts tool executions by name and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeact_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"tool_name", "status"},
	)

	// ToolDuration records tool execution duration in seconds.
	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeact_tool_duration_seconds",
			Help:    "Tool execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"tool_name"},
	)

	// SandboxExecutionsTotal counts sandbox operations by backend, operation and outcome.
	SandboxExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeact_sandbox_executions_total",
			Help: "Sandbox operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// SandboxDuration records sandbox operation wall-clock time in seconds.
	SandboxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeact_sandbox_duration_seconds",
			Help:    "Sandbox operation duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"backend", "operation"},
	)

	// RateLimitRejectedTotal counts requests refused by the usage limiter,
	// by service tier and usage class (message, tool, mcp).
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeact_ratelimit_rejected_total",
			Help: "Usage limit rejections",
		},
		[]string{"tier", "class"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		ToolExecutionsTotal,
		ToolDuration,
		SandboxExecutionsTotal,
		SandboxDuration,
		RateLimitRejectedTotal,
	)
}
