// Package metrics exposes Prometheus collectors for the push-channel
// transport. All methods are safe to call on a nil *Metrics, which records
// nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcp"

type Metrics struct {
	registry *prometheus.Registry

	sessionsActive   prometheus.Gauge
	sessionsOpened   prometheus.Counter
	sessionLifetime  prometheus.Histogram
	routedMessages   *prometheus.CounterVec
	rateLimited      prometheus.Counter
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	inflightRequests prometheus.Gauge
	frames           *prometheus.CounterVec
	shutdowns        *prometheus.CounterVec
}

// New builds the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live push-channel sessions.",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Push-channel sessions opened since start.",
		}),
		sessionLifetime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_lifetime_seconds",
			Help:      "Lifetime of closed sessions.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		routedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routed_messages_total",
			Help:      "Inbound messages by routing outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Inbound messages rejected by the per-session rate limit.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		inflightRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_requests",
			Help:      "JSON-RPC requests currently being served.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sse_frames_total",
			Help:      "SSE frames written by result.",
		}, []string{"result"}),
		shutdowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shutdowns_total",
			Help:      "Shutdown drains by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsActive,
		m.sessionsOpened,
		m.sessionLifetime,
		m.routedMessages,
		m.rateLimited,
		m.toolCalls,
		m.toolDuration,
		m.inflightRequests,
		m.frames,
		m.shutdowns,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed(age time.Duration) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionLifetime.Observe(age.Seconds())
}

func (m *Metrics) Routed(outcome string) {
	if m == nil {
		return
	}
	m.routedMessages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) ToolCall(tool, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(dur.Seconds())
}

func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.inflightRequests.Inc()
}

func (m *Metrics) RequestFinished() {
	if m == nil {
		return
	}
	m.inflightRequests.Dec()
}

func (m *Metrics) FrameWritten(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.frames.WithLabelValues(result).Inc()
}

func (m *Metrics) Shutdown(result string) {
	if m == nil {
		return
	}
	m.shutdowns.WithLabelValues(result).Inc()
}
