package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
	"github.com/anyclaude/anyclaude-proxy/internal/breaker"
	"github.com/anyclaude/anyclaude-proxy/internal/security"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Config configures one Client binding.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	MaxTokens     int
	Referer       string
	Title         string
	ContextWindow int
	HTTPClient    *http.Client

	// URLFilter, when non-nil, must allow BaseURL or New returns an error
	// instead of a Client (SSRF guard for operator overrides of the
	// OpenRouter base URL).
	URLFilter *security.URLFilter
}

// Client implements backend.Backend against the OpenRouter API.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *breaker.Breaker
}

// New creates a Client bound to a circuit breaker. br may be nil. It
// returns an error if cfg.URLFilter rejects the resolved BaseURL.
func New(cfg Config, br *breaker.Breaker) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.URLFilter != nil {
		if err := cfg.URLFilter.Check(cfg.BaseURL); err != nil {
			return nil, fmt.Errorf("openrouter: base URL rejected: %w", err)
		}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Transport: &http.Transport{
				TLSHandshakeTimeout:   120 * time.Second,
				ResponseHeaderTimeout: 120 * time.Second,
			},
		}
	}
	return &Client{cfg: cfg, http: cfg.HTTPClient, breaker: br}, nil
}

// ModelName returns the resolved model identifier, with "auto" mapped to
// OpenRouter's own auto-router model.
func (c *Client) ModelName() string { return resolveModel(c.cfg.Model) }

// ContextWindow returns the configured override or a lookup-table value.
func (c *Client) ContextWindow() int {
	if c.cfg.ContextWindow > 0 {
		return c.cfg.ContextWindow
	}
	return lookupContextWindow(c.ModelName())
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}
}

// Complete issues a non-streaming chat-completions call.
func (c *Client) Complete(ctx context.Context, req *anthropic.Request) (backend.Response, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return backend.Response{}, backend.ErrUnavailable
	}

	start := time.Now()
	apiReq := buildRequest(c.cfg.Model, c.cfg.MaxTokens, req, false)

	resp, err := c.doRequest(ctx, apiReq)
	if err != nil {
		c.recordFailure(time.Since(start))
		return backend.Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := handleErrorResponse(resp.StatusCode, resp.Body)
		c.recordFailure(time.Since(start))
		return backend.Response{}, err
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.recordFailure(time.Since(start))
		return backend.Response{}, fmt.Errorf("openrouter: decoding response: %w", err)
	}
	if out.Error.Message != "" {
		c.recordFailure(time.Since(start))
		return backend.Response{}, fmt.Errorf("openrouter: %s", out.Error.Message)
	}

	c.recordSuccess(time.Since(start))
	return parseResponse(out), nil
}

func (c *Client) doRequest(ctx context.Context, body apiRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openrouter: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openrouter: creating request: %w", err)
	}
	c.applyHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	return resp, nil
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
