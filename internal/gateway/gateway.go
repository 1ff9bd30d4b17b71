// Package gateway implements the proxy front-end (C11): an HTTP server that
// receives Anthropic-shape requests, orchestrates the cache-fingerprint
// extractor, context-window manager, circuit breaker, and chosen backend
// (single dialect or cluster router), and streams responses back as SSE or
// buffered JSON. It also serves the health and circuit-breaker metrics
// routes.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
	"github.com/anyclaude/anyclaude-proxy/internal/breaker"
	"github.com/anyclaude/anyclaude-proxy/internal/cachefingerprint"
	"github.com/anyclaude/anyclaude-proxy/internal/cluster"
	"github.com/anyclaude/anyclaude-proxy/internal/contextwindow"
	"github.com/anyclaude/anyclaude-proxy/internal/core"
	"github.com/anyclaude/anyclaude-proxy/internal/launcher"
	"github.com/anyclaude/anyclaude-proxy/internal/security"
	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Interface guards.
var (
	_ core.Module       = (*Gateway)(nil)
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Gateway is the gateway.http module. It is a leaf module — nothing imports
// it.
type Gateway struct {
	config Config
	appCtx *core.AppContext
	logger *slog.Logger
	server *http.Server

	// Resolved lazily at Start() via the service registry, populated by
	// whichever backend-mode module (single dialect or mlx-cluster) was
	// configured. Exactly one of backend/router is non-nil once resolved.
	backend backend.Backend
	br      *breaker.Breaker
	router  *cluster.Router
	ready   readiness

	// rateLimiter is resolved from the service registry if internal/app
	// registered one from config.Security.RateLimits; nil means unlimited.
	rateLimiter *security.RateLimiter

	// urlFilter is resolved from the service registry if internal/app
	// registered one; nil means no allow/deny restriction on node or
	// backend base URLs.
	urlFilter *security.URLFilter

	ctxCfg     contextwindow.Config
	metrics    *Metrics
	httpClient *http.Client

	startedAt time.Time
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger

	port := launcher.ResolvePort(os.Getenv("ANYCLAUDE_PORT"), g.config.Port)
	g.config.Bind = rebindPort(g.config.Bind, port)

	g.ctxCfg = contextwindow.Config{EnableSummarization: true}
	g.httpClient = &http.Client{Timeout: 120 * time.Second}

	g.metrics = &Metrics{prom: newPromMetrics()}
	ctx.RegisterService("gateway.metrics", g.metrics)

	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves the active backend binding
// from the service registry — graceful degradation if nothing registered
// yet, in which case /health/ready reports not_ready and /v1/messages
// responds with an upstream-unavailable error.
func (g *Gateway) Start() error {
	if svc, ok := g.appCtx.Service("backend.active"); ok {
		if b, ok := svc.(backend.Backend); ok {
			g.backend = b
		}
	}
	if svc, ok := g.appCtx.Service("breaker.active"); ok {
		if br, ok := svc.(*breaker.Breaker); ok {
			g.br = br
		}
	}
	if svc, ok := g.appCtx.Service("cluster.router"); ok {
		if r, ok := svc.(*cluster.Router); ok {
			g.router = r
		}
	}
	if svc, ok := g.appCtx.Service("cluster.table"); ok {
		if t, ok := svc.(*cluster.Table); ok {
			g.ready = clusterReadiness{table: t}
		}
	}
	if g.ready == nil && g.br != nil {
		g.ready = breakerReadiness{breaker: g.br}
	}
	if svc, ok := g.appCtx.Service("security.ratelimiter"); ok {
		if rl, ok := svc.(*security.RateLimiter); ok {
			g.rateLimiter = rl
		}
	}
	if svc, ok := g.appCtx.Service("security.urlfilter"); ok {
		if uf, ok := svc.(*security.URLFilter); ok {
			g.urlFilter = uf
		}
	}

	g.startedAt = time.Now()

	mux := g.buildRouter()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      mux,
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(validationMiddleware(g.config.MaxBodyBytes))
	if g.rateLimiter != nil {
		r.Use(rateLimitMiddleware(g.rateLimiter))
	}

	r.HandleFunc("/v1/messages", methodOnly(g.handleMessages, http.MethodPost))
	r.HandleFunc("/health/live", methodOnly(g.handleHealthLive, http.MethodGet))
	r.HandleFunc("/health/ready", methodOnly(g.handleHealthReady, http.MethodGet))
	r.HandleFunc("/v1/circuit-breaker/metrics", g.handleBreakerMetrics)
	r.HandleFunc("/v1/circuit-breaker/stream", methodOnly(g.handleBreakerStream, http.MethodGet))
	if g.metrics != nil && g.metrics.prom != nil {
		r.Handle("/metrics", g.metrics.prom.handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found_error", "no such route")
	})

	return r
}

func rebindPort(bind string, port int) string {
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, portString(port))
}

func portString(port int) string {
	return strconv.Itoa(port)
}

// cacheFingerprintString returns the fingerprint string for routing, or ""
// when the request carries no cacheable system content.
func cacheFingerprintString(res cachefingerprint.Result) string {
	if res.Fingerprint == nil || !res.HasSystemCache {
		return ""
	}
	return *res.Fingerprint
}
