package gateway

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/anyclaude/anyclaude-proxy/internal/breaker"
)

// Metrics tracks gateway-level request counters using atomic operations for
// lock-free concurrency, independent of the circuit breaker metrics served
// at /v1/circuit-breaker/metrics. It mirrors its counters onto a Prometheus
// registry when one is attached, so /metrics and the JSON snapshot never
// drift apart.
type Metrics struct {
	requests     atomic.Int64
	completions  atomic.Int64
	errors       atomic.Int64
	totalTokens  atomic.Int64
	totalLatency atomic.Int64 // nanoseconds

	prom *promMetrics
}

// RecordCompletion records a successful backend completion.
func (m *Metrics) RecordCompletion(tokens int, latency time.Duration) {
	m.completions.Add(1)
	m.totalTokens.Add(int64(tokens))
	m.totalLatency.Add(int64(latency))
	if m.prom != nil {
		m.prom.recordCompletion(tokens, latency)
	}
}

// RecordRequest records an inbound /v1/messages request.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
	if m.prom != nil {
		m.prom.recordRequest()
	}
}

// RecordError records a failed completion.
func (m *Metrics) RecordError() {
	m.errors.Add(1)
	if m.prom != nil {
		m.prom.recordError()
	}
}

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	completions := m.completions.Load()
	snap := MetricsSnapshot{
		Requests:    m.requests.Load(),
		Completions: completions,
		Errors:      m.errors.Load(),
		TotalTokens: m.totalTokens.Load(),
	}
	if completions > 0 {
		snap.AvgLatency = time.Duration(m.totalLatency.Load() / completions)
	}
	return snap
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Requests    int64         `json:"requests"`
	Completions int64         `json:"completions"`
	Errors      int64         `json:"errors"`
	TotalTokens int64         `json:"total_tokens"`
	AvgLatency  time.Duration `json:"avg_latency_ns"`
}

type breakerMetricsBody struct {
	Phase                  string  `json:"phase"`
	FailureCount           int     `json:"failure_count"`
	SuccessCount           int     `json:"success_count"`
	AvgLatencyMS           float64 `json:"avg_latency_ms"`
	LatencySampleCount     int     `json:"latency_sample_count"`
	Min                    float64 `json:"min"`
	Max                    float64 `json:"max"`
	P50                    float64 `json:"p50"`
	P95                    float64 `json:"p95"`
	P99                    float64 `json:"p99"`
	ConsecutiveHighLatency int     `json:"consecutive_high_latency"`
	NextAttempt            *string `json:"next_attempt"`
	Timestamp              string  `json:"timestamp"`
}

// handleBreakerMetrics serves GET /v1/circuit-breaker/metrics. Per
// spec.md §4.5, any other method or path reaching this handler returns 404
// JSON rather than 405, and the response carries permissive CORS headers.
func (g *Gateway) handleBreakerMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET")

	if r.Method != http.MethodGet || r.URL.Path != "/v1/circuit-breaker/metrics" {
		writeError(w, http.StatusNotFound, "not_found_error", "no such route")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.breakerMetricsBody())
}

// breakerMetricsBody builds the JSON-serializable circuit breaker snapshot
// shared by the polling /v1/circuit-breaker/metrics route and the pushed
// /v1/circuit-breaker/stream WebSocket.
func (g *Gateway) breakerMetricsBody() breakerMetricsBody {
	if g.br == nil {
		return breakerMetricsBody{
			Phase:     string(breaker.Closed),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
	}

	m := g.br.GetMetrics()
	body := breakerMetricsBody{
		Phase:                  string(m.Phase),
		FailureCount:           m.FailureCount,
		SuccessCount:           m.SuccessCount,
		AvgLatencyMS:           m.AvgLatencyMS,
		LatencySampleCount:     m.LatencySampleCount,
		Min:                    m.Min,
		Max:                    m.Max,
		P50:                    m.P50,
		P95:                    m.P95,
		P99:                    m.P99,
		ConsecutiveHighLatency: m.ConsecutiveHighLatency,
		Timestamp:              m.Timestamp.UTC().Format(time.RFC3339),
	}
	if m.NextAttempt != nil {
		s := m.NextAttempt.UTC().Format(time.RFC3339)
		body.NextAttempt = &s
	}
	return body
}
