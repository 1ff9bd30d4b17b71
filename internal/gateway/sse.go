package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/anyclaude/anyclaude-proxy/pkg/wire/anthropic"
)

// sseWriter serializes anthropic.Event frames onto an http.ResponseWriter
// and periodically emits a ping frame to hold the connection open past
// intermediary idle timeouts, per spec.md §5. Writes are serialized with
// a mutex since the keep-alive ticker and the producer goroutine share
// the same underlying writer.
type sseWriter struct {
	mu       sync.Mutex
	w        http.ResponseWriter
	flusher  http.Flusher
	bw       *bufio.Writer
	stopKeep chan struct{}
	keepDone chan struct{}
}

func newSSEWriter(w http.ResponseWriter, keepAliveInterval time.Duration) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("gateway: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &sseWriter{
		w:        w,
		flusher:  flusher,
		bw:       bufio.NewWriter(w),
		stopKeep: make(chan struct{}),
		keepDone: make(chan struct{}),
	}

	if keepAliveInterval > 0 {
		go sw.keepAliveLoop(keepAliveInterval)
	} else {
		close(sw.keepDone)
	}

	return sw, nil
}

// Emit writes one SSE frame: "event: <type>\ndata: <json>\n\n".
func (sw *sseWriter) Emit(ev anthropic.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if _, err := fmt.Fprintf(sw.bw, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	if err := sw.bw.Flush(); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

func (sw *sseWriter) keepAliveLoop(interval time.Duration) {
	defer close(sw.keepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.stopKeep:
			return
		case <-ticker.C:
			sw.mu.Lock()
			_, err := fmt.Fprint(sw.bw, ": keep-alive\n\n")
			if err == nil {
				err = sw.bw.Flush()
			}
			if err == nil {
				sw.flusher.Flush()
			}
			sw.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close stops the keep-alive loop and waits for it to exit.
func (sw *sseWriter) Close() {
	close(sw.stopKeep)
	<-sw.keepDone
}
