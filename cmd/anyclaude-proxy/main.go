// Package main is the entry point for the anyclaude-proxy CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/anyclaude/anyclaude-proxy/internal/app"
	"github.com/anyclaude/anyclaude-proxy/internal/config"
	"github.com/anyclaude/anyclaude-proxy/internal/core"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "anyclaude-proxy",
		Short:         "API-compatibility proxy translating Anthropic requests to configurable backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), serveCmd(), configCmd(), serviceCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("anyclaude-proxy %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Println("\nNo compiled modules.")
				return
			}
			fmt.Println("\nCompiled modules:")
			for _, mod := range mods {
				fmt.Printf("  %s\n", mod.ID)
			}
		},
	}
}

func serveCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy with all configured modules",
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Run(app.RunParams{
				ConfigPath: cfgPath,
				Version:    version,
				Commit:     commit,
				Date:       date,
				LogLevel:   slog.LevelInfo,
			})
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}))
			appCtx := core.NewAppContext(logger, app.DefaultDataDir(), app.DefaultWorkspace())
			appCtx = appCtx.WithModuleConfigs(cfg.Modules)

			a := core.NewApp(appCtx)
			ids := config.Resolve(cfg)
			if err := a.LoadModules(ids); err != nil {
				return err
			}
			defer a.Stop()

			fmt.Printf("Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Printf("  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

// proxyService adapts app.Run to the kardianos/service.Interface contract
// so the proxy can install as a systemd/launchd/Windows service.
type proxyService struct {
	cfgPath string
	done    chan struct{}
}

func (p *proxyService) Start(s service.Service) error {
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		if err := app.Run(app.RunParams{ConfigPath: p.cfgPath, Version: version, Commit: commit, Date: date, LogLevel: slog.LevelInfo}); err != nil {
			logger, lerr := s.Logger(nil)
			if lerr == nil {
				_ = logger.Error(err)
			}
		}
	}()
	return nil
}

func (p *proxyService) Stop(_ service.Service) error {
	return nil
}

func serviceConfig(cfgPath string) *service.Config {
	cfg := &service.Config{
		Name:        "anyclaude-proxy",
		DisplayName: "anyclaude-proxy",
		Description: "Anthropic-wire-format proxy to configurable inference backends",
	}
	if cfgPath != "" {
		cfg.Arguments = []string{"serve", "--config", cfgPath}
	}
	return cfg
}

func serviceCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "service <install|uninstall|start|stop|restart|status>",
		Short: "Manage anyclaude-proxy as an OS service",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			prg := &proxyService{cfgPath: cfgPath}
			s, err := service.New(prg, serviceConfig(cfgPath))
			if err != nil {
				return fmt.Errorf("service: %w", err)
			}
			return service.Control(s, args[0])
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file")
	return cmd
}
