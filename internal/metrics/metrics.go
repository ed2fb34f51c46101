// Package metrics exposes prometheus collectors for provider calls, transcriptions and interview sessions.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "interviewer"

// Collector holds the process metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	generationRequests *prometheus.CounterVec
	generationLatency  *prometheus.HistogramVec
	generationTokens   *prometheus.CounterVec

	transcriptionRequests *prometheus.CounterVec
	transcriptionLatency  *prometheus.HistogramVec

	sessionTransitions *prometheus.CounterVec
	activeSessions     prometheus.Gauge
}

// New creates a collector with every metric registered.
func New() *Collector {
	latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		generationRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_requests_total",
				Help:      "Text generation attempts by provider and outcome.",
			},
			[]string{"provider", "outcome", "kind"},
		),
		generationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Text generation latency in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"provider"},
		),
		generationTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_tokens_total",
				Help:      "Tokens consumed by text generation.",
			},
			[]string{"provider", "direction"},
		),
		transcriptionRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transcription_requests_total",
				Help:      "Transcription attempts by provider and outcome.",
			},
			[]string{"provider", "outcome", "kind"},
		),
		transcriptionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transcription_duration_seconds",
				Help:      "Transcription processing time in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"provider"},
		),
		sessionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_transitions_total",
				Help:      "Voice session state transitions by target state.",
			},
			[]string{"state"},
		),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Voice sessions currently open.",
		}),
	}

	c.registry.MustRegister(
		c.generationRequests,
		c.generationLatency,
		c.generationTokens,
		c.transcriptionRequests,
		c.transcriptionLatency,
		c.sessionTransitions,
		c.activeSessions,
	)
	return c
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveGeneration records one text generation attempt. An empty kind means success.
func (c *Collector) ObserveGeneration(provider string, elapsed time.Duration, kind string, inputTokens, outputTokens int) {
	if c == nil {
		return
	}
	c.generationRequests.WithLabelValues(provider, outcome(kind), kind).Inc()
	c.generationLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	if inputTokens > 0 {
		c.generationTokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		c.generationTokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// ObserveTranscription records one transcription attempt. An empty kind means success.
func (c *Collector) ObserveTranscription(provider string, elapsed time.Duration, kind string) {
	if c == nil {
		return
	}
	c.transcriptionRequests.WithLabelValues(provider, outcome(kind), kind).Inc()
	c.transcriptionLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveTransition counts one session transition into state.
func (c *Collector) ObserveTransition(state string) {
	if c == nil {
		return
	}
	c.sessionTransitions.WithLabelValues(state).Inc()
}

// SessionOpened increments the active session gauge.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}

func outcome(kind string) string {
	if kind == "" {
		return "success"
	}
	return "failure"
}
