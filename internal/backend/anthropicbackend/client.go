package anthropicbackend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
	"github.com/anyclaude/anyclaude-proxy/internal/breaker"
	"github.com/anyclaude/anyclaude-proxy/internal/security"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

// Config configures one Client binding.
type Config struct {
	APIKey        string
	Model         string
	BaseURL       string
	MaxTokens     int
	ContextWindow int
	Timeout       time.Duration

	// URLFilter, when non-nil, must allow a non-empty BaseURL or New
	// returns an error instead of a Client (SSRF guard for operator
	// overrides of the Anthropic API base URL).
	URLFilter *security.URLFilter
}

// Client implements backend.Backend as a thin passthrough to the real
// Anthropic Messages API, via the vendor SDK.
type Client struct {
	cfg           Config
	client        sdkanthropic.Client
	breaker       *breaker.Breaker
	contextWindow int
}

// New builds a Client bound to a circuit breaker. br may be nil. It returns
// an error if cfg.URLFilter rejects a non-empty cfg.BaseURL.
func New(cfg Config, br *breaker.Breaker) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.BaseURL != "" && cfg.URLFilter != nil {
		if err := cfg.URLFilter.Check(cfg.BaseURL); err != nil {
			return nil, fmt.Errorf("anthropicbackend: base URL rejected: %w", err)
		}
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, option.WithMaxRetries(0))

	httpClient := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: cfg.Timeout,
			TLSHandshakeTimeout:   10 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
	opts = append(opts, option.WithHTTPClient(httpClient))

	window := cfg.ContextWindow
	if window == 0 {
		window = lookupContextWindow(cfg.Model)
	}

	return &Client{
		cfg:           cfg,
		client:        sdkanthropic.NewClient(opts...),
		breaker:       br,
		contextWindow: window,
	}, nil
}

// ModelName returns the bound model identifier.
func (c *Client) ModelName() string { return c.cfg.Model }

// ContextWindow returns the resolved context window for the bound model.
func (c *Client) ContextWindow() int { return c.contextWindow }

// Complete sends a synchronous completion request.
func (c *Client) Complete(ctx context.Context, req *anthropic.Request) (backend.Response, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return backend.Response{}, backend.ErrUnavailable
	}

	start := time.Now()
	params := convertRequest(c.cfg.Model, c.cfg.MaxTokens, req)

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		c.recordFailure(time.Since(start))
		return backend.Response{}, mapError(err)
	}

	c.recordSuccess(time.Since(start))
	return convertResponse(msg), nil
}

func (c *Client) recordSuccess(d time.Duration) {
	if c.breaker != nil {
		c.breaker.RecordSuccess(float64(d.Milliseconds()))
	}
}

func (c *Client) recordFailure(d time.Duration) {
	if c.breaker != nil {
		c.breaker.RecordFailure(float64(d.Milliseconds()))
	}
}
