package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/anyclaude/anyclaude-proxy/internal/breaker"
	"github.com/anyclaude/anyclaude-proxy/internal/cluster"
)

// readiness abstracts over a single-backend breaker and a cluster node
// table so /health/ready can report a consistent shape regardless of which
// backend mode is active.
type readiness interface {
	// Check returns the breaker-shaped state string, ready, and a failure
	// count, per spec.md §4.8's checks.circuit_breaker shape.
	Check() (state string, ready bool, failureCount int)
}

type breakerReadiness struct {
	breaker *breaker.Breaker
}

func (r breakerReadiness) Check() (string, bool, int) {
	m := r.breaker.GetMetrics()
	ready := m.Phase == breaker.Closed || m.Phase == breaker.HalfOpen
	return string(m.Phase), ready, m.FailureCount
}

// clusterReadiness reports ready when at least one node is currently
// eligible for routing (I5); the cluster has no single breaker phase, so
// CLOSED/OPEN stand in for "has capacity"/"has none".
type clusterReadiness struct {
	table *cluster.Table
}

func (r clusterReadiness) Check() (string, bool, int) {
	eligible := r.table.Eligible()
	if len(eligible) > 0 {
		return string(breaker.Closed), true, 0
	}
	return string(breaker.Open), false, r.table.Len()
}

type liveBody struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(liveBody{Status: "alive"})
}

type readyBody struct {
	Status string          `json:"status"`
	Checks readyBodyChecks `json:"checks"`
}

type readyBodyChecks struct {
	CircuitBreaker readyBodyBreaker `json:"circuit_breaker"`
}

type readyBodyBreaker struct {
	State        string `json:"state"`
	FailureCount int    `json:"failure_count"`
}

func (g *Gateway) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if g.ready == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(readyBody{
			Status: "not_ready",
			Checks: readyBodyChecks{CircuitBreaker: readyBodyBreaker{State: "UNKNOWN"}},
		})
		return
	}

	state, ready, failureCount := g.ready.Check()
	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(readyBody{
		Status: status,
		Checks: readyBodyChecks{CircuitBreaker: readyBodyBreaker{State: state, FailureCount: failureCount}},
	})
}
