package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
)

// ErrNoEligibleNodes is returned when no node in the table currently
// satisfies I5.
var ErrNoEligibleNodes = errors.New("cluster: no eligible nodes")

// Router selects a node per dispatch according to a configured strategy,
// and retries dispatch failures against a different eligible node.
type Router struct {
	table *Table
	cfg   RoutingConfig

	// roundRobinCounter is shared by ROUND_ROBIN selection and as the
	// LEAST_LOADED tie-breaker; atomic so concurrent selections always
	// observe distinct indices (spec.md §5).
	roundRobinCounter atomic.Uint64

	sleep func(time.Duration)
}

// NewRouter builds a Router over table using cfg's strategy and retry
// settings.
func NewRouter(table *Table, cfg RoutingConfig) *Router {
	return &Router{table: table, cfg: cfg, sleep: time.Sleep}
}

// Select picks one eligible node for fingerprint according to the
// configured strategy, excluding any node whose ID appears in exclude.
func (r *Router) Select(fingerprint string, exclude map[string]struct{}) (*Node, error) {
	candidates := r.table.Eligible()
	if len(exclude) > 0 {
		filtered := candidates[:0:0]
		for _, n := range candidates {
			if _, skip := exclude[n.ID]; !skip {
				filtered = append(filtered, n)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return nil, ErrNoEligibleNodes
	}

	switch r.cfg.Strategy {
	case LeastLoaded:
		return r.selectLeastLoaded(candidates), nil
	case LatencyBased:
		return r.selectLatencyBased(candidates), nil
	case CacheAware:
		return r.selectCacheAware(candidates, fingerprint), nil
	default: // RoundRobin
		return r.selectRoundRobin(candidates), nil
	}
}

func (r *Router) selectRoundRobin(candidates []*Node) *Node {
	idx := r.roundRobinCounter.Add(1) - 1
	return candidates[idx%uint64(len(candidates))]
}

func (r *Router) selectLeastLoaded(candidates []*Node) *Node {
	best := candidates[0]
	bestLoad := best.Load()
	tied := []*Node{best}

	for _, n := range candidates[1:] {
		load := n.Load()
		switch {
		case load < bestLoad:
			best, bestLoad = n, load
			tied = []*Node{n}
		case load == bestLoad:
			tied = append(tied, n)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	return r.selectRoundRobin(tied)
}

func (r *Router) selectLatencyBased(candidates []*Node) *Node {
	best := candidates[0]
	bestLatency := best.LatencyEWMA()
	for _, n := range candidates[1:] {
		if latency := n.LatencyEWMA(); latency < bestLatency {
			best, bestLatency = n, latency
		}
	}
	return best
}

func (r *Router) selectCacheAware(candidates []*Node, fingerprint string) *Node {
	if fingerprint != "" {
		for _, n := range candidates {
			if n.HasFingerprint(fingerprint) {
				return n
			}
		}
	}
	return r.selectLeastLoaded(candidates)
}

// DispatchError is returned when every retry attempt fails. It wraps the
// last node's failure so callers (C11) can surface which node was last
// tried.
type DispatchError struct {
	NodeID  string
	Attempts int
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("cluster: dispatch failed after %d attempt(s), last node %s: %v", e.Attempts, e.NodeID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Dispatch selects a node and invokes fn, retrying against a different
// eligible node on failure up to cfg.MaxRetries additional attempts,
// pausing RetryDelayMS between attempts. It never retries if ctx is
// already canceled, and never retries a non-retryable failure (per
// backend.IsRetryable) such as a 4xx client error — spec.md §5 — since
// a different node will fail the same request the same way.
func (r *Router) Dispatch(ctx context.Context, fingerprint string, fn func(*Node) error) error {
	exclude := make(map[string]struct{})
	var lastErr error
	var lastNodeID string

	maxAttempts := r.cfg.MaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		node, err := r.Select(fingerprint, exclude)
		if err != nil {
			if lastErr != nil {
				return &DispatchError{NodeID: lastNodeID, Attempts: attempt, Err: lastErr}
			}
			return err
		}

		node.IncLoad()
		err = fn(node)
		node.DecLoad()

		if err == nil {
			return nil
		}

		if !backend.IsRetryable(err) {
			return err
		}

		lastErr = err
		lastNodeID = node.ID
		exclude[node.ID] = struct{}{}

		if attempt < maxAttempts-1 && r.cfg.RetryDelayMS > 0 {
			r.sleep(time.Duration(r.cfg.RetryDelayMS) * time.Millisecond)
		}
	}

	return &DispatchError{NodeID: lastNodeID, Attempts: maxAttempts, Err: lastErr}
}
