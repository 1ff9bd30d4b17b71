// Package app provides the anyclaude-proxy entry point: configuration
// loading, security foundation wiring, module startup, and signal-driven
// shutdown/reload.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anyclaude/anyclaude-proxy/internal/config"
	"github.com/anyclaude/anyclaude-proxy/internal/core"
	"github.com/anyclaude/anyclaude-proxy/internal/reload"
	"github.com/anyclaude/anyclaude-proxy/internal/security"
	"github.com/anyclaude/anyclaude-proxy/internal/tracing"
)

const tracingShutdownTimeout = 5 * time.Second

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file. If
	// empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// Workspace overrides the default working directory.
	Workspace string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received. SIGHUP and file-change events trigger a live
// configuration reload for modules that implement core.Reloader.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	// Initialize credential store and redactor (security foundation).
	credStore := security.NewCredentialStore()
	redactor := security.NewRedactor()

	// Wrap the text handler in a redacting handler to prevent secret leakage in logs.
	innerHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: params.LogLevel,
	})
	logger := slog.New(security.NewRedactingHandler(innerHandler, redactor))

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	workspace := params.Workspace
	if workspace == "" {
		workspace = DefaultWorkspace()
	}

	tracingCfg := tracing.Config{ServiceName: "anyclaude-proxy", Version: params.Version}
	if cfg.Tracing != nil {
		tracingCfg.Endpoint = cfg.Tracing.Endpoint
	}
	tracer, err := tracing.New(context.Background(), tracingCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	appCtx := core.NewAppContext(logger, dataDir, workspace)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)

	appCtx.RegisterService("security.credentials", credStore)
	appCtx.RegisterService("security.redactor", redactor)
	appCtx.RegisterService("config.path", cfgPath)

	if cfg.Security != nil {
		rl := cfg.Security.RateLimits
		rateLimiter := security.NewRateLimiter(security.RateLimitConfig{
			GlobalPerSecond:    rl.GlobalPerSecond,
			GlobalBurst:        rl.GlobalBurst,
			PerClientPerSecond: rl.PerClientPerSecond,
			PerClientBurst:     rl.PerClientBurst,
			ClientIdleTTL:      rl.ClientIdleTTL,
		})
		appCtx.RegisterService("security.ratelimiter", rateLimiter)

		if len(cfg.Security.URLFilter.AllowDomains) > 0 || len(cfg.Security.URLFilter.DenyDomains) > 0 {
			urlFilter := security.NewURLFilter(security.URLFilterConfig{
				AllowDomains: cfg.Security.URLFilter.AllowDomains,
				DenyDomains:  cfg.Security.URLFilter.DenyDomains,
			})
			appCtx.RegisterService("security.urlfilter", urlFilter)
		}
	}

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return err
	}

	handler := reload.NewHandler(application, logger, dataDir, workspace)
	appCtx.RegisterService("reload.handler", handler)

	if err := application.Start(); err != nil {
		return err
	}

	// Sync the redactor with credentials registered by modules during Start
	// (e.g. backend API keys) so they're redacted from logs going forward.
	redactor.SyncCredentials(credStore)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watcher := reload.NewWatcher(reload.WatcherConfig{ConfigPath: cfgPath})
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	watcher.Start(watchCtx)
	defer watcher.Stop()

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("SIGHUP received, reloading configuration")
				if err := reloadConfig(watchCtx, handler, cfgPath); err != nil {
					logger.Error("reload failed", "error", err)
				}
			default:
				logger.Info("shutdown signal received", "signal", sig.String())
				application.Stop()
				logger.Info("shutdown complete")
				return nil
			}
		case evt := <-watcher.Events():
			logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			if err := reloadConfig(watchCtx, handler, cfgPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}

func reloadConfig(ctx context.Context, handler *reload.Handler, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return handler.HandleReloadFromConfig(ctx, cfg)
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/anyclaude-proxy/config.yaml →
// ~/.config/anyclaude-proxy/config.yaml → ./anyclaude-proxy.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "anyclaude-proxy", "config.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "anyclaude-proxy", "config.yaml"))
	}
	candidates = append(candidates, "anyclaude-proxy.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "anyclaude-proxy")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "anyclaude-proxy")
}

// DefaultWorkspace returns the current working directory.
func DefaultWorkspace() string {
	dir, _ := os.Getwd()
	return dir
}
