package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promMetrics mirrors Metrics as Prometheus collectors, registered on a
// private registry so /metrics never leaks Go runtime defaults the operator
// didn't ask for.
type promMetrics struct {
	registry    *prometheus.Registry
	requests    prometheus.Counter
	completions prometheus.Counter
	errors      prometheus.Counter
	tokens      prometheus.Counter
	latency     prometheus.Histogram
}

func newPromMetrics() *promMetrics {
	reg := prometheus.NewRegistry()
	pm := &promMetrics{
		registry: reg,
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anyclaude_proxy",
			Name:      "requests_total",
			Help:      "Total /v1/messages requests received.",
		}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anyclaude_proxy",
			Name:      "completions_total",
			Help:      "Total backend completions returned successfully.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anyclaude_proxy",
			Name:      "errors_total",
			Help:      "Total backend completion failures.",
		}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anyclaude_proxy",
			Name:      "completion_tokens_total",
			Help:      "Total tokens returned across all completions.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "anyclaude_proxy",
			Name:      "completion_latency_seconds",
			Help:      "Backend completion latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(pm.requests, pm.completions, pm.errors, pm.tokens, pm.latency)
	return pm
}

func (pm *promMetrics) recordRequest() { pm.requests.Inc() }

func (pm *promMetrics) recordError() { pm.errors.Inc() }

func (pm *promMetrics) recordCompletion(tokens int, latency time.Duration) {
	pm.completions.Inc()
	pm.tokens.Add(float64(tokens))
	pm.latency.Observe(latency.Seconds())
}

func (pm *promMetrics) handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}
