package security

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request exceeds the configured rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig holds configurable request-rate limits for the gateway.
type RateLimitConfig struct {
	// GlobalPerSecond caps the aggregate request rate across all clients.
	// 0 disables the global limiter.
	GlobalPerSecond float64 `yaml:"global_per_second"`
	// GlobalBurst is the global bucket's burst capacity.
	GlobalBurst int `yaml:"global_burst"`

	// PerClientPerSecond caps the request rate for a single client (keyed
	// by remote IP). 0 disables per-client limiting.
	PerClientPerSecond float64 `yaml:"per_client_per_second"`
	// PerClientBurst is each per-client bucket's burst capacity.
	PerClientBurst int `yaml:"per_client_burst"`

	// ClientIdleTTL is how long an idle per-client bucket is retained
	// before being evicted. Defaults to 10 minutes.
	ClientIdleTTL time.Duration `yaml:"client_idle_ttl"`
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.GlobalBurst <= 0 {
		c.GlobalBurst = 1
	}
	if c.PerClientBurst <= 0 {
		c.PerClientBurst = 1
	}
	if c.ClientIdleTTL <= 0 {
		c.ClientIdleTTL = 10 * time.Minute
	}
	return c
}

// clientBucket pairs a per-client token bucket with the last time it was touched.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles gateway requests using a global token bucket and one
// per-client token bucket, keyed by remote address. Idle per-client buckets
// are evicted lazily on access so memory does not grow unbounded under churn.
type RateLimiter struct {
	cfg    RateLimitConfig
	global *rate.Limiter

	mu      sync.Mutex
	clients map[string]*clientBucket

	now func() time.Time
}

// NewRateLimiter creates a RateLimiter from cfg, applying defaults to
// zero-valued fields. A zero rate for either scope disables that scope.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg = cfg.withDefaults()

	rl := &RateLimiter{
		cfg:     cfg,
		clients: make(map[string]*clientBucket),
		now:     time.Now,
	}
	if cfg.GlobalPerSecond > 0 {
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalPerSecond), cfg.GlobalBurst)
	}
	return rl
}

// Allow reports whether a request from clientKey (typically the remote IP)
// may proceed, consuming one token from both the global and per-client
// buckets if so. Returns ErrRateLimited if either bucket is exhausted.
func (rl *RateLimiter) Allow(clientKey string) error {
	now := rl.now()

	if rl.global != nil && !rl.global.AllowN(now, 1) {
		return ErrRateLimited
	}

	if rl.cfg.PerClientPerSecond <= 0 {
		return nil
	}

	rl.mu.Lock()
	rl.evictLocked(now)
	b, ok := rl.clients[clientKey]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(rl.cfg.PerClientPerSecond), rl.cfg.PerClientBurst)}
		rl.clients[clientKey] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	rl.mu.Unlock()

	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// ClientCount returns the number of tracked per-client buckets. Exported for
// tests and metrics.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// evictLocked removes buckets idle longer than cfg.ClientIdleTTL.
// Caller must hold rl.mu.
func (rl *RateLimiter) evictLocked(now time.Time) {
	for key, b := range rl.clients {
		if now.Sub(b.lastSeen) > rl.cfg.ClientIdleTTL {
			delete(rl.clients, key)
		}
	}
}
