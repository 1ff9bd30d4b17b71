package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const breakerStreamInterval = 2 * time.Second

// handleBreakerStream serves GET /v1/circuit-breaker/stream, a WebSocket
// push of the same payload served at /v1/circuit-breaker/metrics, emitted on
// a fixed interval for dashboards that would otherwise have to poll.
func (g *Gateway) handleBreakerStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Error("circuit breaker stream: accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "stream closed")
	}()

	ctx := r.Context()
	ticker := time.NewTicker(breakerStreamInterval)
	defer ticker.Stop()

	if err := g.writeBreakerSnapshot(ctx, conn); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.writeBreakerSnapshot(ctx, conn); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) writeBreakerSnapshot(ctx context.Context, conn *websocket.Conn) error {
	body := g.breakerMetricsBody()
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
