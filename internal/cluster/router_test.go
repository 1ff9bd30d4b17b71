package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
)

func noSleep(time.Duration) {}

func TestRouter_RoundRobin_DistinctIndicesAcrossConcurrentSelects(t *testing.T) {
	table := NewTable([]NodeSpec{{ID: "a", URL: "http://a"}, {ID: "b", URL: "http://b"}, {ID: "c", URL: "http://c"}})
	r := NewRouter(table, RoutingConfig{Strategy: RoundRobin})

	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		n, err := r.Select("", nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		seen[n.ID]++
	}
	for _, id := range []string{"a", "b", "c"} {
		if seen[id] != 2 {
			t.Errorf("node %s selected %d times, want 2", id, seen[id])
		}
	}
}

func TestRouter_LeastLoaded_PicksMinLoad(t *testing.T) {
	table := NewTable([]NodeSpec{{ID: "a", URL: "http://a"}, {ID: "b", URL: "http://b"}})
	a, _ := table.Get("a")
	a.IncLoad()
	a.IncLoad()

	r := NewRouter(table, RoutingConfig{Strategy: LeastLoaded})
	n, err := r.Select("", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if n.ID != "b" {
		t.Errorf("selected %s, want b", n.ID)
	}
}

func TestRouter_LeastLoaded_TiesBreakByRoundRobin(t *testing.T) {
	table := NewTable([]NodeSpec{{ID: "a", URL: "http://a"}, {ID: "b", URL: "http://b"}})
	r := NewRouter(table, RoutingConfig{Strategy: LeastLoaded})

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		n, err := r.Select("", nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		seen[n.ID]++
	}
	if seen["a"] != 2 || seen["b"] != 2 {
		t.Errorf("seen = %+v, want 2/2 split", seen)
	}
}

func TestRouter_LatencyBased_PicksLowestEWMA(t *testing.T) {
	table := NewTable([]NodeSpec{{ID: "a", URL: "http://a"}, {ID: "b", URL: "http://b"}})
	a, _ := table.Get("a")
	b, _ := table.Get("b")
	a.recordProbeSuccess(200)
	b.recordProbeSuccess(50)

	r := NewRouter(table, RoutingConfig{Strategy: LatencyBased})
	n, err := r.Select("", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if n.ID != "b" {
		t.Errorf("selected %s, want b", n.ID)
	}
}

func TestRouter_CacheAware_PrefersAffinity(t *testing.T) {
	table := NewTable([]NodeSpec{{ID: "a", URL: "http://a"}, {ID: "b", URL: "http://b"}})
	b, _ := table.Get("b")
	b.RememberFingerprint("fp1")

	r := NewRouter(table, RoutingConfig{Strategy: CacheAware})
	n, err := r.Select("fp1", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if n.ID != "b" {
		t.Errorf("selected %s, want b", n.ID)
	}
}

func TestRouter_CacheAware_FallsBackToLeastLoadedWithoutAffinityMatch(t *testing.T) {
	table := NewTable([]NodeSpec{{ID: "a", URL: "http://a"}, {ID: "b", URL: "http://b"}})
	a, _ := table.Get("a")
	a.IncLoad()

	r := NewRouter(table, RoutingConfig{Strategy: CacheAware})
	n, err := r.Select("unknown-fp", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if n.ID != "b" {
		t.Errorf("selected %s, want b (fallback to least-loaded)", n.ID)
	}
}

func TestRouter_Select_NoEligibleNodes(t *testing.T) {
	table := NewTable([]NodeSpec{{ID: "a", URL: "http://a"}})
	a, _ := table.Get("a")
	a.recordProbeFailure(1)

	r := NewRouter(table, RoutingConfig{Strategy: RoundRobin})
	if _, err := r.Select("", nil); !errors.Is(err, ErrNoEligibleNodes) {
		t.Fatalf("got %v, want ErrNoEligibleNodes", err)
	}
}

func TestRouter_Dispatch_SucceedsOnFirstAttempt(t *testing.T) {
	table := NewTable([]NodeSpec{{ID: "a", URL: "http://a"}})
	r := NewRouter(table, RoutingConfig{Strategy: RoundRobin, MaxRetries: 2, RetryDelayMS: 1})
	r.sleep = noSleep

	calls := 0
	err := r.Dispatch(context.Background(), "", func(n *Node) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRouter_Dispatch_RetriesADifferentNodeEachAttempt(t *testing.T) {
	table := NewTable([]NodeSpec{{ID: "a", URL: "http://a"}, {ID: "b", URL: "http://b"}})
	r := NewRouter(table, RoutingConfig{Strategy: RoundRobin, MaxRetries: 1, RetryDelayMS: 1})
	r.sleep = noSleep

	var tried []string
	err := r.Dispatch(context.Background(), "", func(n *Node) error {
		tried = append(tried, n.ID)
		return backend.ErrUnavailable
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if len(tried) != 2 || tried[0] == tried[1] {
		t.Errorf("tried = %v, want two distinct nodes", tried)
	}

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("error = %v, want *DispatchError", err)
	}
	if dispatchErr.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", dispatchErr.Attempts)
	}
}

func TestRouter_Dispatch_NeverRetriesNonRetryableError(t *testing.T) {
	table := NewTable([]NodeSpec{{ID: "a", URL: "http://a"}, {ID: "b", URL: "http://b"}})
	r := NewRouter(table, RoutingConfig{Strategy: RoundRobin, MaxRetries: 2, RetryDelayMS: 1})
	r.sleep = noSleep

	var tried []string
	err := r.Dispatch(context.Background(), "", func(n *Node) error {
		tried = append(tried, n.ID)
		return backend.ErrContextLength
	})
	if !errors.Is(err, backend.ErrContextLength) {
		t.Fatalf("got %v, want backend.ErrContextLength", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want exactly one node (no retry on non-retryable error)", tried)
	}

	var dispatchErr *DispatchError
	if errors.As(err, &dispatchErr) {
		t.Fatalf("error should not be wrapped in DispatchError, got %v", err)
	}
}

func TestRouter_Dispatch_NeverRetriesAfterContextCanceled(t *testing.T) {
	table := NewTable([]NodeSpec{{ID: "a", URL: "http://a"}})
	r := NewRouter(table, RoutingConfig{Strategy: RoundRobin, MaxRetries: 3, RetryDelayMS: 1})
	r.sleep = noSleep

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Dispatch(ctx, "", func(n *Node) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}
