package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anyclaude/anyclaude-proxy/internal/breaker"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := &Metrics{}
	m.RecordRequest()
	m.RecordCompletion(100, 50*time.Millisecond)
	m.RecordCompletion(200, 150*time.Millisecond)
	m.RecordError()

	snap := m.Snapshot()
	if snap.Requests != 1 || snap.Completions != 2 || snap.Errors != 1 || snap.TotalTokens != 300 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.AvgLatency != 100*time.Millisecond {
		t.Fatalf("got avg latency %v", snap.AvgLatency)
	}
}

func TestHandleBreakerMetrics_WrongMethodReturns404(t *testing.T) {
	g := &Gateway{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/circuit-breaker/metrics", nil)
	g.handleBreakerMetrics(rec, req)

	if rec.Code != 404 {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestHandleBreakerMetrics_SetsPermissiveCORS(t *testing.T) {
	g := &Gateway{br: breaker.New(breaker.DefaultsForMode("local"))}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/circuit-breaker/metrics", nil)
	g.handleBreakerMetrics(rec, req)

	if rec.Code != 200 {
		t.Fatalf("got status %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	var body breakerMetricsBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Phase != "CLOSED" {
		t.Fatalf("got phase %q", body.Phase)
	}
}

func TestHandleBreakerMetrics_NilBreakerReturnsDefault(t *testing.T) {
	g := &Gateway{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/circuit-breaker/metrics", nil)
	g.handleBreakerMetrics(rec, req)

	if rec.Code != 200 {
		t.Fatalf("got status %d", rec.Code)
	}
}
