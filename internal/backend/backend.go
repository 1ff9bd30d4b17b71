// Package backend defines the shared contract every backend dialect
// (internal/backend/openaicompat, openrouter, anthropicbackend) implements,
// and the producer event translation each one feeds to internal/transcoder.
package backend

import (
	"context"

	"github.com/anyclaude/anyclaude-proxy/internal/transcoder"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

// Response is the assembled result of a non-streaming call.
type Response struct {
	Content      []anthropic.ContentBlock
	FinishReason string
	Usage        anthropic.Usage
}

// Backend translates an Anthropic-shape request into its own wire dialect
// and dispatches it.
type Backend interface {
	// Complete issues a non-streaming call.
	Complete(ctx context.Context, req *anthropic.Request) (Response, error)

	// Stream issues a streaming call and feeds producer events to emit as
	// they're decoded from the backend's native stream. emit returning an
	// error aborts the stream early (e.g. the client disconnected).
	Stream(ctx context.Context, req *anthropic.Request, emit func(transcoder.ProducerEvent) error) error

	// ContextWindow returns the previously discovered context window for
	// the bound model, or 0 if undiscovered.
	ContextWindow() int

	// ModelName returns the identifier of the bound model.
	ModelName() string
}

// HealthChecker is an optional interface a Backend may implement to support
// active probing by internal/breaker-driven health supervisors.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
