package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	wsReconnectInitial = time.Second
	wsReconnectMax     = 30 * time.Second
)

// WSSource subscribes to the platform's push channel over WebSocket and
// forwards decoded span batches to the sink. The connection is retried
// with exponential backoff for the lifetime of the source.
type WSSource struct {
	url     string
	sink    SpanSink
	verbose bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWSSource creates a stream source for the given ws:// or wss:// URL.
func NewWSSource(url string, sink SpanSink, verbose bool) *WSSource {
	return &WSSource{url: url, sink: sink, verbose: verbose}
}

// Start launches the read loop in the background.
func (w *WSSource) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop tears down the connection and waits for the loop to exit.
func (w *WSSource) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *WSSource) run(ctx context.Context) {
	defer w.wg.Done()

	backoff := wsReconnectInitial
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.Dial(ctx, w.url, nil)
		if err != nil {
			log.Printf("⚠️  stream: dial %s: %v (retrying in %s)", w.url, err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, wsReconnectMax)
			continue
		}

		if w.verbose {
			log.Printf("🔌 stream: connected to %s", w.url)
		}
		backoff = wsReconnectInitial

		w.readLoop(ctx, conn)
		conn.CloseNow()
	}
}

// readLoop consumes messages until the connection drops or the context
// ends. Messages that fail to decode are skipped, not fatal.
func (w *WSSource) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("⚠️  stream: read: %v (reconnecting)", err)
			}
			return
		}

		spans, err := DecodeSpanPayload(data)
		if err != nil {
			if w.verbose {
				log.Printf("⚠️  stream: %v", err)
			}
			continue
		}
		w.sink.Ingest("stream", spans)
	}
}
