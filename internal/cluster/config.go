// Package cluster implements the mlx-cluster backend mode: a pool of
// local inference workers fronted by a health supervisor and a routing
// strategy, rather than a single upstream URL.
package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/anyclaude/anyclaude-proxy/internal/security"
	"gopkg.in/yaml.v3"
)

// DiscoveryMode selects how cluster nodes are enumerated.
type DiscoveryMode string

// Supported discovery modes.
const (
	DiscoveryStatic     DiscoveryMode = "static"
	DiscoveryKubernetes DiscoveryMode = "kubernetes"
)

// Strategy selects the node-selection algorithm used by the router.
type Strategy string

// Supported routing strategies.
const (
	RoundRobin   Strategy = "ROUND_ROBIN"
	LeastLoaded  Strategy = "LEAST_LOADED"
	CacheAware   Strategy = "CACHE_AWARE"
	LatencyBased Strategy = "LATENCY_BASED"
)

func validStrategy(s Strategy) bool {
	switch s {
	case RoundRobin, LeastLoaded, CacheAware, LatencyBased:
		return true
	}
	return false
}

// NodeSpec identifies one statically-declared cluster worker.
type NodeSpec struct {
	URL string `json:"url" yaml:"url"`
	ID  string `json:"id" yaml:"id"`
}

// DiscoveryConfig controls how cluster nodes are found.
type DiscoveryConfig struct {
	Mode  DiscoveryMode `json:"mode" yaml:"mode"`
	Nodes []NodeSpec    `json:"nodes,omitempty" yaml:"nodes,omitempty"`
}

// HealthConfig tunes the health supervisor (C10).
type HealthConfig struct {
	CheckIntervalMS        int     `json:"check_interval_ms" yaml:"check_interval_ms"`
	TimeoutMS              int     `json:"timeout_ms" yaml:"timeout_ms"`
	MaxConsecutiveFailures int     `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	UnhealthyThreshold     float64 `json:"unhealthy_threshold" yaml:"unhealthy_threshold"`
}

// CacheConfig tunes cache-affinity routing and eviction (C9, internal/maintenance).
type CacheConfig struct {
	MaxAgeSec     int     `json:"max_age_sec" yaml:"max_age_sec"`
	MinHitRate    float64 `json:"min_hit_rate" yaml:"min_hit_rate"`
	MaxSizeTokens int     `json:"max_size_tokens" yaml:"max_size_tokens"`
}

// RoutingConfig tunes the router (C9).
type RoutingConfig struct {
	Strategy     Strategy `json:"strategy" yaml:"strategy"`
	MaxRetries   int      `json:"max_retries" yaml:"max_retries"`
	RetryDelayMS int      `json:"retry_delay_ms" yaml:"retry_delay_ms"`
}

// Config is the full mlx-cluster configuration shape.
type Config struct {
	Enabled   bool            `json:"enabled" yaml:"enabled"`
	Discovery DiscoveryConfig `json:"discovery" yaml:"discovery"`
	Health    HealthConfig    `json:"health" yaml:"health"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Routing   RoutingConfig   `json:"routing" yaml:"routing"`
}

// Defaults returns the baseline configuration merged beneath any user
// input. Values are chosen conservatively for a small local cluster;
// spec.md leaves exact defaults to the implementation.
func Defaults() Config {
	return Config{
		Enabled: true,
		Discovery: DiscoveryConfig{
			Mode: DiscoveryStatic,
		},
		Health: HealthConfig{
			CheckIntervalMS:        10_000,
			TimeoutMS:              5_000,
			MaxConsecutiveFailures: 3,
			UnhealthyThreshold:     0.5,
		},
		Cache: CacheConfig{
			MaxAgeSec:     300,
			MinHitRate:    0.0,
			MaxSizeTokens: 100_000,
		},
		Routing: RoutingConfig{
			Strategy:     RoundRobin,
			MaxRetries:   2,
			RetryDelayMS: 500,
		},
	}
}

// ErrorCode is a member of the closed set of cluster configuration error
// codes.
type ErrorCode string

// The closed set of configuration error codes.
const (
	CodeInvalidConfig   ErrorCode = "INVALID_CONFIG"
	CodeMissingNodes    ErrorCode = "MISSING_NODES"
	CodeInvalidURL      ErrorCode = "INVALID_URL"
	CodeInvalidStrategy ErrorCode = "INVALID_STRATEGY"
	CodeParseError      ErrorCode = "PARSE_ERROR"
	CodeFileNotFound    ErrorCode = "FILE_NOT_FOUND"
)

// ConfigError carries a closed-set code plus a context object, per
// spec.md's cluster configuration error taxonomy.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cluster config: %s: %s", e.Code, e.Message)
}

func newConfigError(code ErrorCode, message string, ctx map[string]any) *ConfigError {
	return &ConfigError{Code: code, Message: message, Context: ctx}
}

// ParseResult is the outcome of the parsing pipeline.
type ParseResult struct {
	Success  bool
	Config   *Config
	Error    *ConfigError
	Warnings []string
}

// Parse runs the full pure pipeline: load file, merge with defaults,
// apply environment overrides, validate. It never mutates its inputs
// and never touches global state beyond reading the named environment
// variables. filter, when non-nil, is consulted by validate to reject
// node URLs outside the configured allow/deny list (SSRF guard); pass
// nil to skip URL filtering entirely.
func Parse(path string, getenv func(string) (string, bool), filter *security.URLFilter) ParseResult {
	if getenv == nil {
		getenv = os.LookupEnv
	}

	loaded, cfgErr := loadFile(path)
	if cfgErr != nil {
		return ParseResult{Error: cfgErr}
	}

	merged := mergeWithDefaults(*loaded)

	withEnv, warnings, cfgErr := applyEnvOverrides(merged, getenv)
	if cfgErr != nil {
		return ParseResult{Error: cfgErr, Warnings: warnings}
	}

	cfgErr, moreWarnings := validate(withEnv, filter)
	warnings = append(warnings, moreWarnings...)
	if cfgErr != nil {
		return ParseResult{Error: cfgErr, Warnings: warnings}
	}

	return ParseResult{Success: true, Config: &withEnv, Warnings: warnings}
}

func loadFile(path string) (*Config, *ConfigError) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, newConfigError(CodeFileNotFound, fmt.Sprintf("no such file: %s", path), map[string]any{"path": path})
		}
		return nil, newConfigError(CodeParseError, err.Error(), map[string]any{"path": path})
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, newConfigError(CodeParseError, err.Error(), map[string]any{"path": path})
	}
	return &cfg, nil
}

// mergeWithDefaults deep-merges user onto Defaults(). Zero-valued fields
// in user are treated as unset; user is never mutated, and the returned
// value shares no mutable state (slices, maps) with user.
func mergeWithDefaults(user Config) Config {
	merged := Defaults()

	if user.Discovery.Mode != "" {
		merged.Discovery.Mode = user.Discovery.Mode
	}
	if len(user.Discovery.Nodes) > 0 {
		merged.Discovery.Nodes = append([]NodeSpec(nil), user.Discovery.Nodes...)
	}

	if user.Health.CheckIntervalMS != 0 {
		merged.Health.CheckIntervalMS = user.Health.CheckIntervalMS
	}
	if user.Health.TimeoutMS != 0 {
		merged.Health.TimeoutMS = user.Health.TimeoutMS
	}
	if user.Health.MaxConsecutiveFailures != 0 {
		merged.Health.MaxConsecutiveFailures = user.Health.MaxConsecutiveFailures
	}
	if user.Health.UnhealthyThreshold != 0 {
		merged.Health.UnhealthyThreshold = user.Health.UnhealthyThreshold
	}

	if user.Cache.MaxAgeSec != 0 {
		merged.Cache.MaxAgeSec = user.Cache.MaxAgeSec
	}
	if user.Cache.MinHitRate != 0 {
		merged.Cache.MinHitRate = user.Cache.MinHitRate
	}
	if user.Cache.MaxSizeTokens != 0 {
		merged.Cache.MaxSizeTokens = user.Cache.MaxSizeTokens
	}

	if user.Routing.Strategy != "" {
		merged.Routing.Strategy = user.Routing.Strategy
	}
	if user.Routing.MaxRetries != 0 {
		merged.Routing.MaxRetries = user.Routing.MaxRetries
	}
	if user.Routing.RetryDelayMS != 0 {
		merged.Routing.RetryDelayMS = user.Routing.RetryDelayMS
	}

	return merged
}

// normalizeStrategy accepts case- and separator-insensitive spellings
// (e.g. "cache-aware", "Cache_Aware") and returns the canonical form.
func normalizeStrategy(s string) Strategy {
	s = strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	return Strategy(s)
}

// applyEnvOverrides applies the four MLX_CLUSTER_* environment variables
// on top of cfg, without mutating cfg.
func applyEnvOverrides(cfg Config, getenv func(string) (string, bool)) (Config, []string, *ConfigError) {
	out := cfg
	out.Discovery.Nodes = append([]NodeSpec(nil), cfg.Discovery.Nodes...)
	var warnings []string

	if raw, ok := getenv("MLX_CLUSTER_NODES"); ok && raw != "" {
		var nodes []NodeSpec
		if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
			return cfg, warnings, newConfigError(CodeParseError, "MLX_CLUSTER_NODES is not a valid JSON array: "+err.Error(), map[string]any{"value": raw})
		}
		out.Discovery.Nodes = nodes
	}

	if raw, ok := getenv("MLX_CLUSTER_STRATEGY"); ok && raw != "" {
		strat := normalizeStrategy(raw)
		if !validStrategy(strat) {
			return cfg, warnings, newConfigError(CodeInvalidStrategy, fmt.Sprintf("unknown strategy %q", raw), map[string]any{"value": raw})
		}
		out.Routing.Strategy = strat
	}

	if raw, ok := getenv("MLX_CLUSTER_HEALTH_INTERVAL"); ok && raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, warnings, newConfigError(CodeParseError, "MLX_CLUSTER_HEALTH_INTERVAL is not an integer: "+err.Error(), map[string]any{"value": raw})
		}
		out.Health.CheckIntervalMS = ms
	}

	if raw, ok := getenv("MLX_CLUSTER_ENABLED"); ok && raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return cfg, warnings, newConfigError(CodeParseError, "MLX_CLUSTER_ENABLED is not a boolean: "+err.Error(), map[string]any{"value": raw})
		}
		out.Enabled = enabled
	}

	return out, warnings, nil
}

const (
	warnIntervalTooLongMS = 3_600_000 // 1 hour
	warnRetriesTooHigh    = 20
)

// validate checks cfg against spec.md's closed rule set, returning an
// error for the first violation found and any non-fatal warnings. filter,
// when non-nil, additionally rejects any node URL outside its configured
// allow/deny list.
func validate(cfg Config, filter *security.URLFilter) (*ConfigError, []string) {
	var warnings []string

	if cfg.Discovery.Mode == DiscoveryStatic && len(cfg.Discovery.Nodes) == 0 {
		return newConfigError(CodeMissingNodes, "static discovery requires at least one node", nil), warnings
	}

	seen := make(map[string]struct{}, len(cfg.Discovery.Nodes))
	for _, n := range cfg.Discovery.Nodes {
		u, err := url.Parse(n.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return newConfigError(CodeInvalidURL, fmt.Sprintf("node %q has an invalid URL %q", n.ID, n.URL), map[string]any{"id": n.ID, "url": n.URL}), warnings
		}
		if filter != nil {
			if err := filter.Check(n.URL); err != nil {
				return newConfigError(CodeInvalidURL, fmt.Sprintf("node %q URL %q rejected: %s", n.ID, n.URL, err.Error()), map[string]any{"id": n.ID, "url": n.URL}), warnings
			}
		}
		if n.ID != "" {
			if _, dup := seen[n.ID]; dup {
				return newConfigError(CodeInvalidConfig, fmt.Sprintf("duplicate node id %q", n.ID), map[string]any{"id": n.ID}), warnings
			}
			seen[n.ID] = struct{}{}
		}
	}

	if !validStrategy(cfg.Routing.Strategy) {
		return newConfigError(CodeInvalidStrategy, fmt.Sprintf("unknown strategy %q", cfg.Routing.Strategy), map[string]any{"value": cfg.Routing.Strategy}), warnings
	}

	for name, v := range map[string]int{
		"health.check_interval_ms": cfg.Health.CheckIntervalMS,
		"health.timeout_ms":        cfg.Health.TimeoutMS,
		"routing.max_retries":      cfg.Routing.MaxRetries,
		"routing.retry_delay_ms":   cfg.Routing.RetryDelayMS,
		"cache.max_age_sec":        cfg.Cache.MaxAgeSec,
		"cache.max_size_tokens":    cfg.Cache.MaxSizeTokens,
	} {
		if v < 0 {
			return newConfigError(CodeInvalidConfig, fmt.Sprintf("%s must be non-negative, got %d", name, v), map[string]any{"field": name, "value": v}), warnings
		}
	}
	if cfg.Health.MaxConsecutiveFailures < 0 {
		return newConfigError(CodeInvalidConfig, "health.max_consecutive_failures must be non-negative", map[string]any{"value": cfg.Health.MaxConsecutiveFailures}), warnings
	}

	for name, v := range map[string]float64{
		"health.unhealthy_threshold": cfg.Health.UnhealthyThreshold,
		"cache.min_hit_rate":         cfg.Cache.MinHitRate,
	} {
		if v < 0.0 || v > 1.0 {
			return newConfigError(CodeInvalidConfig, fmt.Sprintf("%s must be within [0.0, 1.0], got %v", name, v), map[string]any{"field": name, "value": v}), warnings
		}
	}

	if cfg.Health.CheckIntervalMS > warnIntervalTooLongMS {
		warnings = append(warnings, fmt.Sprintf("health.check_interval_ms of %d is unusually long", cfg.Health.CheckIntervalMS))
	}
	if cfg.Routing.MaxRetries > warnRetriesTooHigh {
		warnings = append(warnings, fmt.Sprintf("routing.max_retries of %d is unusually high", cfg.Routing.MaxRetries))
	}

	return nil, warnings
}
