package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anyclaude/anyclaude-proxy/internal/backend"
	"github.com/anyclaude/anyclaude-proxy/internal/backend/openaicompat"
	"github.com/anyclaude/anyclaude-proxy/internal/cachefingerprint"
	"github.com/anyclaude/anyclaude-proxy/internal/cluster"
	"github.com/anyclaude/anyclaude-proxy/internal/contextwindow"
	"github.com/anyclaude/anyclaude-proxy/internal/security"
	"github.com/anyclaude/anyclaude-proxy/internal/tracing"
	"github.com/anyclaude/anyclaude-proxy/internal/transcoder"
	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var messagesTracer = tracing.Tracer("anyclaude-proxy/gateway")

// ErrNoBackend is returned when neither a single backend nor a cluster
// router has been resolved from the service registry by Start.
var ErrNoBackend = errors.New("gateway: no backend configured")

func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	g.metrics.RecordRequest()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "could not read request body")
		return
	}
	if err := security.ValidateMessageSize(body, int(g.config.MaxBodyBytes)); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", err.Error())
		return
	}
	if err := security.ValidateJSONDepth(body, security.DefaultMaxJSONDepth); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	var req anthropic.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed JSON: "+err.Error())
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "model and messages are required")
		return
	}

	fp := cachefingerprint.Extract(&req)

	cwCfg := g.ctxCfg
	cwCfg.ModelName = req.Model
	if g.backend != nil {
		cwCfg.ContextWindowOverride = g.backend.ContextWindow()
	}
	managed := contextwindow.New(cwCfg, nil, nil).Manage(req.Messages, req.SystemBlocks())
	if managed.Overflowed {
		g.writeDispatchError(w, backend.ErrContextLength)
		return
	}
	req.Messages = managed.Messages

	if req.Stream {
		g.streamMessage(w, r.Context(), &req, fp)
		return
	}
	g.completeMessage(w, r.Context(), &req, fp)
}

func (g *Gateway) completeMessage(w http.ResponseWriter, ctx context.Context, req *anthropic.Request, fp cachefingerprint.Result) {
	ctx, span := messagesTracer.Start(ctx, "gateway.complete_message")
	defer span.End()
	span.SetAttributes(attribute.String("model", req.Model), attribute.Bool("stream", false))

	start := time.Now()

	var resp backend.Response
	var err error
	if g.router != nil {
		err = g.router.Dispatch(ctx, cacheFingerprintString(fp), func(node *cluster.Node) error {
			client, clientErr := g.clusterClient(node, req)
			if clientErr != nil {
				return clientErr
			}
			var dispatchErr error
			resp, dispatchErr = client.Complete(ctx, req)
			if dispatchErr == nil {
				node.RememberFingerprint(cacheFingerprintString(fp))
			}
			return dispatchErr
		})
	} else if g.backend != nil {
		resp, err = g.backend.Complete(ctx, req)
	} else {
		err = ErrNoBackend
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.writeDispatchError(w, err)
		return
	}

	g.metrics.RecordCompletion(resp.Usage.OutputTokens, time.Since(start))
	span.SetAttributes(attribute.Int("output_tokens", resp.Usage.OutputTokens))

	out := anthropic.MessageResponse{
		ID:         "msg_" + uuid.NewString(),
		Type:       "message",
		Role:       anthropic.RoleAssistant,
		Model:      req.Model,
		Content:    resp.Content,
		StopReason: resp.FinishReason,
		Usage:      resp.Usage,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (g *Gateway) streamMessage(w http.ResponseWriter, ctx context.Context, req *anthropic.Request, fp cachefingerprint.Result) {
	ctx, span := messagesTracer.Start(ctx, "gateway.stream_message")
	defer span.End()
	span.SetAttributes(attribute.String("model", req.Model), attribute.Bool("stream", true))

	if g.router == nil && g.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "overloaded_error", ErrNoBackend.Error())
		return
	}

	sw, err := newSSEWriter(w, g.config.KeepAliveInterval)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
		return
	}
	defer sw.Close()

	tc := transcoder.New(transcoder.Options{
		MessageID: "msg_" + uuid.NewString(),
		Model:     req.Model,
	}, sw)
	if err := tc.Start(); err != nil {
		return
	}

	emit := func(ev transcoder.ProducerEvent) error { return tc.Handle(ev) }

	start := time.Now()
	var dispatchErr error
	if g.router != nil {
		dispatchErr = g.router.Dispatch(ctx, cacheFingerprintString(fp), func(node *cluster.Node) error {
			client, clientErr := g.clusterClient(node, req)
			if clientErr != nil {
				return clientErr
			}
			err := client.Stream(ctx, req, emit)
			if err == nil {
				node.RememberFingerprint(cacheFingerprintString(fp))
			}
			return err
		})
	} else {
		dispatchErr = g.backend.Stream(ctx, req, emit)
	}

	_ = tc.Flush()

	if dispatchErr != nil {
		span.RecordError(dispatchErr)
		span.SetStatus(codes.Error, dispatchErr.Error())
		g.metrics.RecordError()
		g.logger.Error("stream dispatch failed", "error", dispatchErr)
		return
	}
	g.metrics.RecordCompletion(0, time.Since(start))
}

// clusterClient builds an openaicompat.Client bound to node's URL. A fresh
// client is built per dispatch since the bound model/max-tokens come from
// the request; the shared http.Client still pools connections per node. A
// URL-filter rejection of this one node's URL is reported as
// backend.ErrUnavailable rather than surfaced raw, so Router.Dispatch
// treats it as retryable and excludes just this node instead of aborting
// the whole dispatch over one misconfigured node.
func (g *Gateway) clusterClient(node *cluster.Node, req *anthropic.Request) (*openaicompat.Client, error) {
	client, err := openaicompat.New(openaicompat.Config{
		BaseURL:    node.URL,
		Model:      req.Model,
		MaxTokens:  req.MaxTokens,
		HTTPClient: g.httpClient,
		URLFilter:  g.urlFilter,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnavailable, err.Error())
	}
	return client, nil
}

func (g *Gateway) writeDispatchError(w http.ResponseWriter, err error) {
	g.metrics.RecordError()

	var de *cluster.DispatchError
	if errors.As(err, &de) {
		writeError(w, http.StatusServiceUnavailable, "overloaded_error",
			"all cluster nodes exhausted, last failure on "+de.NodeID+": "+de.Err.Error())
		return
	}

	switch {
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, cluster.ErrNoEligibleNodes), errors.Is(err, ErrNoBackend):
		writeError(w, http.StatusServiceUnavailable, "overloaded_error", "backend temporarily unavailable")
	case errors.Is(err, backend.ErrRateLimit):
		writeError(w, http.StatusTooManyRequests, "rate_limit_error", "backend rate limited")
	case errors.Is(err, backend.ErrContextLength):
		writeError(w, http.StatusBadRequest, "invalid_request_error", "context length exceeded")
	default:
		writeError(w, http.StatusBadGateway, "api_error", err.Error())
	}
}
