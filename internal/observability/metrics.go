package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects counters and histograms for the agent runtime.
//
// Tracked concerns:
//   - tool executions by name and status
//   - turn duration and terminal status
//   - model token consumption
//   - WebSocket events emitted, buffered, and dropped
//   - active sessions and running turns
type Metrics struct {
	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error|cancelled)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// TurnDuration measures full turn duration in seconds.
	// Labels: mode (direct|plan), status (done|cancelled|error)
	TurnDuration *prometheus.HistogramVec

	// ModelTokens counts tokens by direction.
	// Labels: model, type (input|output|cache_read)
	ModelTokens *prometheus.CounterVec

	// StreamRetries counts model stream retry attempts.
	// Labels: model
	StreamRetries *prometheus.CounterVec

	// EventsEmitted counts outbound events by type.
	EventsEmitted *prometheus.CounterVec

	// EventsDropped counts events dropped due to slow clients.
	EventsDropped prometheus.Counter

	// ActiveSessions tracks resident sessions.
	ActiveSessions prometheus.Gauge

	// RunningTurns tracks turns currently in flight.
	RunningTurns prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at startup; the /metrics endpoint serves them.
func NewMetrics() *Metrics {
	return &Metrics{
		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"tool"},
		),
		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_turn_duration_seconds",
				Help:    "Duration of agent turns in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"mode", "status"},
		),
		ModelTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_model_tokens_total",
				Help: "Total model tokens by model and type",
			},
			[]string{"model", "type"},
		),
		StreamRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_stream_retries_total",
				Help: "Total model stream retry attempts",
			},
			[]string{"model"},
		),
		EventsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_events_emitted_total",
				Help: "Total outbound events by type",
			},
			[]string{"type"},
		),
		EventsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "forge_events_dropped_total",
				Help: "Total events dropped due to slow clients",
			},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "forge_active_sessions",
				Help: "Current number of resident sessions",
			},
		),
		RunningTurns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "forge_running_turns",
				Help: "Current number of turns in flight",
			},
		),
	}
}
