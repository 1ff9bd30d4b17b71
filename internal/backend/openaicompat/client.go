package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
	"github.com/anyclaude/anyclaude-proxy/internal/breaker"
	"github.com/anyclaude/anyclaude-proxy/internal/security"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

// Config configures one Client binding.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	Headers    map[string]string
	HTTPClient *http.Client

	// URLFilter, when non-nil, must allow BaseURL or New returns an error
	// instead of a Client (SSRF guard for operator-supplied base URLs).
	URLFilter *security.URLFilter
}

// Client implements backend.Backend against an OpenAI-compatible server.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *breaker.Breaker

	contextWindow int
}

// New creates a Client bound to a circuit breaker. br may be nil, in which
// case breaker checks are skipped (used by tests and by callers that wrap
// breaker logic at a higher layer). It returns an error if cfg.URLFilter
// rejects cfg.BaseURL.
func New(cfg Config, br *breaker.Breaker) (*Client, error) {
	cfg.BaseURL = backend.NormalizeBaseURL(cfg.BaseURL)
	if cfg.URLFilter != nil {
		if err := cfg.URLFilter.Check(cfg.BaseURL); err != nil {
			return nil, fmt.Errorf("openaicompat: base URL rejected: %w", err)
		}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{cfg: cfg, http: cfg.HTTPClient, breaker: br}, nil
}

// ModelName returns the bound model identifier.
func (c *Client) ModelName() string { return c.cfg.Model }

// ContextWindow returns the previously discovered context window, or 0.
func (c *Client) ContextWindow() int { return c.contextWindow }

// DiscoverContextWindow calls the server's /models endpoint and stores the
// discovered window for ContextWindow, if one could be determined.
func (c *Client) DiscoverContextWindow(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	c.applyHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if n := backend.DiscoverContextLength(body); n != nil {
		c.contextWindow = *n
	}
	return nil
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
}

// Complete issues a non-streaming chat-completions call.
func (c *Client) Complete(ctx context.Context, req *anthropic.Request) (backend.Response, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return backend.Response{}, backend.ErrUnavailable
	}

	start := time.Now()
	oaiReq := buildRequest(c.cfg.Model, c.cfg.MaxTokens, req, false)

	resp, err := c.doRequest(ctx, oaiReq)
	if err != nil {
		c.recordFailure(time.Since(start))
		return backend.Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := handleErrorResponse(resp)
		c.recordFailure(time.Since(start))
		return backend.Response{}, err
	}

	var out oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.recordFailure(time.Since(start))
		return backend.Response{}, fmt.Errorf("decode response: %w", err)
	}

	c.recordSuccess(time.Since(start))
	return parseResponse(out), nil
}

func (c *Client) doRequest(ctx context.Context, body oaiRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
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

const maxErrorBodySize = 4096

func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", backend.ErrRateLimit, body)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", backend.ErrUnavailable, resp.StatusCode, body)
	case resp.StatusCode == http.StatusBadRequest && isContextLengthError(body):
		return fmt.Errorf("%w: %s", backend.ErrContextLength, body)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
}

func isContextLengthError(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "context_length_exceeded") ||
		strings.Contains(lower, "context length") ||
		strings.Contains(lower, "maximum context") ||
		strings.Contains(lower, "token limit")
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
