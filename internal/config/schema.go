// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for anyclaude-proxy.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Modules maps module IDs to their raw YAML configuration. Keys must
	// match registered module IDs (e.g. "gateway", "backend.local").
	Modules map[string]yaml.Node `yaml:"modules"`

	// Security holds optional gateway security settings.
	Security *SecurityConfig `yaml:"security,omitempty"`

	// Tracing holds optional OpenTelemetry export settings. Absent or with
	// an empty endpoint, tracing is a no-op.
	Tracing *TracingConfig `yaml:"tracing,omitempty"`
}

// TracingConfig mirrors internal/tracing.Config's YAML shape.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint,omitempty"`
}

// SecurityConfig holds security-related gateway settings.
type SecurityConfig struct {
	RateLimits RateLimitConfig `yaml:"rate_limits,omitempty"`
	URLFilter  URLFilterConfig `yaml:"url_filter,omitempty"`
}

// RateLimitConfig mirrors internal/security.RateLimitConfig's YAML shape so
// it can be decoded here without internal/config importing internal/security.
type RateLimitConfig struct {
	GlobalPerSecond    float64       `yaml:"global_per_second"`
	GlobalBurst        int           `yaml:"global_burst"`
	PerClientPerSecond float64       `yaml:"per_client_per_second"`
	PerClientBurst     int           `yaml:"per_client_burst"`
	ClientIdleTTL      time.Duration `yaml:"client_idle_ttl,omitempty"`
}

// URLFilterConfig mirrors internal/security.URLFilterConfig's YAML shape.
// Applies to outbound base_url validation for backend and cluster node
// configuration (SSRF guard), not to any browsing/tool-use surface.
type URLFilterConfig struct {
	AllowDomains []string `yaml:"allow_domains,omitempty"`
	DenyDomains  []string `yaml:"deny_domains,omitempty"`
}
