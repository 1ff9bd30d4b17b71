package breaker

import (
	"testing"
	"time"
)

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	b := New(cfg)
	clock := &fakeClock{t: time.Unix(0, 0)}
	b.now = clock.Now
	return b, clock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestDefaultsForMode_LocalAndMlxCluster(t *testing.T) {
	for _, mode := range []string{"local", "mlx-cluster", "lmstudio"} {
		cfg := DefaultsForMode(mode)
		if cfg.FailureThreshold != 5 || cfg.LatencyThresholdMS != 120000 {
			t.Fatalf("mode %q: got %+v", mode, cfg)
		}
	}
}

func TestDefaultsForMode_OpenrouterAndClaude(t *testing.T) {
	for _, mode := range []string{"openrouter", "claude"} {
		cfg := DefaultsForMode(mode)
		if cfg.FailureThreshold != 5 || cfg.LatencyThresholdMS != 30000 {
			t.Fatalf("mode %q: got %+v", mode, cfg)
		}
	}
}

func TestOverride_DisabledForcesLatencyThresholdToZero(t *testing.T) {
	base := DefaultsForMode("local")
	disabled := false
	cfg := Override{Enabled: &disabled}.Apply(base)
	if cfg.LatencyThresholdMS != 0 {
		t.Fatalf("LatencyThresholdMS = %d, want 0 when disabled", cfg.LatencyThresholdMS)
	}
}

func TestBreaker_ClosedToOpenOnFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, RetryTimeoutMS: 1000, Enabled: true})
	var reasons []string
	b.OnTransition(func(p Phase, r string) { reasons = append(reasons, string(p)+":"+r) })

	for i := 0; i < 2; i++ {
		b.RecordFailure(0)
	}
	if b.PhaseNow() != Closed {
		t.Fatal("should still be closed below threshold")
	}
	b.RecordFailure(0)
	if b.PhaseNow() != Open {
		t.Fatalf("should be open at threshold, got %s", b.PhaseNow())
	}
	if len(reasons) != 1 || reasons[0] != "OPEN:failure threshold exceeded" {
		t.Fatalf("unexpected transitions: %v", reasons)
	}
}

func TestBreaker_OpenFailsFastUntilRetryTimeout(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, RetryTimeoutMS: 5000, Enabled: true})
	b.RecordFailure(0)
	if b.PhaseNow() != Open {
		t.Fatal("expected open")
	}
	if b.Allow() {
		t.Fatal("open breaker should not allow requests before timeout")
	}
	clock.Advance(5001 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("open breaker should allow a probe after retry timeout elapses")
	}
	if b.PhaseNow() != HalfOpen {
		t.Fatalf("expected half-open after probe allowed, got %s", b.PhaseNow())
	}
}

func TestBreaker_HalfOpenClosesOnCleanSuccess(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, RetryTimeoutMS: 1000, Enabled: true})
	b.RecordFailure(0)
	clock.Advance(1001 * time.Millisecond)
	b.Allow()
	if b.PhaseNow() != HalfOpen {
		t.Fatal("expected half-open")
	}
	b.RecordSuccess(10)
	if b.PhaseNow() != Closed {
		t.Fatalf("expected closed after clean success, got %s", b.PhaseNow())
	}
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, RetryTimeoutMS: 1000, Enabled: true})
	b.RecordFailure(0)
	clock.Advance(1001 * time.Millisecond)
	b.Allow()
	b.RecordFailure(0)
	if b.PhaseNow() != Open {
		t.Fatalf("expected open after half-open failure, got %s", b.PhaseNow())
	}
}

func TestBreaker_LatencyThresholdTripsAfterConsecutiveChecks(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold:         100,
		RetryTimeoutMS:           1000,
		LatencyThresholdMS:       100,
		LatencyConsecutiveChecks: 2,
		LatencyWindowMS:          60000,
		AutoCheckLatency:         true,
		Enabled:                  true,
	})
	b.RecordLatency(200)
	if b.PhaseNow() != Closed {
		t.Fatal("one high-latency sample should not trip yet")
	}
	b.RecordLatency(200)
	if b.PhaseNow() != Open {
		t.Fatalf("expected open after consecutive high latency checks, got %s", b.PhaseNow())
	}
}

func TestBreaker_LatencyConsecutiveChecksZeroDisablesTripping(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold:         100,
		LatencyThresholdMS:       10,
		LatencyConsecutiveChecks: 0,
		LatencyWindowMS:          60000,
		AutoCheckLatency:         true,
		Enabled:                  true,
	})
	for i := 0; i < 10; i++ {
		b.RecordLatency(1000)
	}
	if b.PhaseNow() != Closed {
		t.Fatal("latency_consecutive_checks = 0 must disable latency tripping")
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, RetryTimeoutMS: 1000, Enabled: true})
	b.RecordFailure(0)
	b.Reset()
	if b.PhaseNow() != Closed {
		t.Fatal("expected closed after reset")
	}
	m := b.GetMetrics()
	if m.FailureCount != 0 {
		t.Fatalf("FailureCount after reset = %d, want 0", m.FailureCount)
	}
}

func TestBreaker_GetMetrics_ZeroSamples(t *testing.T) {
	b, _ := newTestBreaker(Config{Enabled: true})
	m := b.GetMetrics()
	if m.AvgLatencyMS != 0 || m.Min != 0 || m.Max != 0 || m.P50 != 0 {
		t.Fatalf("expected all-zero latency fields with no samples, got %+v", m)
	}
}

func TestBreaker_GetMetrics_PercentilesWithFewSamples(t *testing.T) {
	b, _ := newTestBreaker(Config{Enabled: true, LatencyWindowMS: 60000})
	b.RecordLatency(10)
	b.RecordLatency(20)
	m := b.GetMetrics()
	if m.Min != 10 || m.Max != 20 {
		t.Fatalf("got min=%v max=%v, want 10/20", m.Min, m.Max)
	}
}

func TestBreaker_LatencyWindowEvictsOldSamples(t *testing.T) {
	b, clock := newTestBreaker(Config{Enabled: true, LatencyWindowMS: 1000})
	b.RecordLatency(500)
	clock.Advance(2 * time.Second)
	b.RecordLatency(10)
	m := b.GetMetrics()
	if m.LatencySampleCount != 1 {
		t.Fatalf("LatencySampleCount = %d, want 1 (old sample evicted)", m.LatencySampleCount)
	}
}

func TestBreaker_NextAttemptNilWhenNotOpen(t *testing.T) {
	b, _ := newTestBreaker(Config{Enabled: true})
	m := b.GetMetrics()
	if m.NextAttempt != nil {
		t.Fatal("NextAttempt should be nil when breaker is not open")
	}
}
