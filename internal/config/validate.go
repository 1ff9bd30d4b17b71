package config

import (
	"errors"
	"fmt"

	"github.com/anyclaude/anyclaude-proxy/internal/core"
)

// Validate checks the structural validity of a Config: the version field,
// that at least one module is configured, that every referenced module ID
// is registered, and basic sanity of the security settings. Configurable
// modules not listed in cfg.Modules are simply not loaded — no error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	errs = append(errs, validateSecurity(cfg.Security)...)

	return errors.Join(errs...)
}

func validateSecurity(sec *SecurityConfig) []error {
	if sec == nil {
		return nil
	}
	var errs []error

	if sec.RateLimits.GlobalPerSecond < 0 || sec.RateLimits.PerClientPerSecond < 0 {
		errs = append(errs, errors.New("config: security.rate_limits rates must not be negative"))
	}

	for _, d := range sec.URLFilter.DenyDomains {
		if d == "" {
			errs = append(errs, errors.New("config: security.url_filter.deny_domains contains an empty entry"))
		}
	}

	return errs
}
