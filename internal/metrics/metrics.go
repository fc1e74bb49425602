// ABOUTME: Prometheus metrics for device commands, session transitions and tool calls.
// ABOUTME: Implements vacuum.Observer and serves its own registry at /metrics.

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/roborock-gateway/internal/vacuum"
)

const namespace = "roborock_gateway"

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64

	// GoCollectors adds the Go runtime and process collectors
	GoCollectors bool
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		GoCollectors:   true,
	}
}

// Exporter records gateway metrics.
type Exporter struct {
	registry *prometheus.Registry

	commands        *prometheus.CounterVec
	commandLatency  *prometheus.HistogramVec
	sessionEvents   *prometheus.CounterVec
	sessionUp       prometheus.Gauge
	toolCalls       *prometheus.CounterVec
	toolCallLatency *prometheus.HistogramVec
}

// New creates an Exporter and registers its collectors.
func New(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "commands_total",
			Help:      "Device commands by command name and outcome.",
		},
		[]string{"command", "outcome"},
	)

	e.commandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "command_duration_seconds",
			Help:      "Device command duration in seconds, including session setup.",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"command"},
	)

	e.sessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Device session transitions by kind.",
		},
		[]string{"kind"},
	)

	e.sessionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "up",
			Help:      "1 when a device session is live.",
		},
	)

	e.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool name and status.",
		},
		[]string{"tool", "status"},
	)

	e.toolCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mcp",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds.",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"tool"},
	)

	registry.MustRegister(
		e.commands,
		e.commandLatency,
		e.sessionEvents,
		e.sessionUp,
		e.toolCalls,
		e.toolCallLatency,
	)
	if cfg.GoCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return e
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// CommandFinished implements vacuum.Observer.
func (e *Exporter) CommandFinished(_ context.Context, rep vacuum.CommandReport) {
	e.commands.WithLabelValues(rep.Command, rep.Outcome).Inc()
	e.commandLatency.WithLabelValues(rep.Command).Observe(rep.Duration.Seconds())
}

// SessionChanged implements vacuum.Observer.
func (e *Exporter) SessionChanged(_ context.Context, ch vacuum.SessionChange) {
	e.sessionEvents.WithLabelValues(string(ch.Kind)).Inc()
	switch ch.Kind {
	case vacuum.SessionConnected:
		e.sessionUp.Set(1)
	case vacuum.SessionReset, vacuum.SessionLoginFailed:
		e.sessionUp.Set(0)
	}
}

// RecordToolCall records one tool call made through the MCP server.
func (e *Exporter) RecordToolCall(tool string, isError bool, d time.Duration) {
	status := "ok"
	if isError {
		status = "error"
	}
	e.toolCalls.WithLabelValues(tool, status).Inc()
	e.toolCallLatency.WithLabelValues(tool).Observe(d.Seconds())
}
