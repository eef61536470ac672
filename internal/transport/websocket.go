// Package transport provides the websocket implementation of the chat
// connection. Reads and writes run on dedicated pumps; the writer owns the
// socket for outbound frames and pings.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paydesk/finchat/internal/logging"
	"github.com/paydesk/finchat/internal/wire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// WebSocket dials the gateway's socket endpoint and shuttles wire events in
// both directions. It satisfies the connection manager's Transport contract:
// single use, callbacks registered before Dial.
type WebSocket struct {
	url   string
	token string
	log   *logging.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	sendCh    chan wire.Event
	done      chan struct{}
	closed    bool
	reported  sync.Once
	eventFn   func(wire.Event)
	closeFn   func(error)
}

// NewWebSocket creates a transport for the given socket URL. The bearer
// token authenticates the connection during the HTTP upgrade.
func NewWebSocket(url, token string, log *logging.Logger) *WebSocket {
	return &WebSocket{
		url:    url,
		token:  token,
		log:    log.Sub("ws"),
		sendCh: make(chan wire.Event, sendBuffer),
		done:   make(chan struct{}),
	}
}

// OnEvent registers the inbound event callback. Must be called before Dial.
func (t *WebSocket) OnEvent(fn func(wire.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eventFn = fn
}

// OnClose registers the callback invoked once when the connection dies.
// Must be called before Dial.
func (t *WebSocket) OnClose(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeFn = fn
}

// Dial performs the websocket handshake and starts the read and write
// pumps.
func (t *WebSocket) Dial(ctx context.Context) error {
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (%d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readPump(conn)
	go t.writePump(conn)

	t.log.Debug().Str("url", t.url).Msg("websocket connected")
	return nil
}

// Send queues an event for the write pump. It fails fast when the buffer is
// full rather than blocking the caller behind a stalled connection.
func (t *WebSocket) Send(ev wire.Event) error {
	select {
	case <-t.done:
		return fmt.Errorf("websocket closed")
	default:
	}

	select {
	case t.sendCh <- ev:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close shuts the transport down without invoking the close callback; the
// callback is reserved for the connection dying underneath its owner.
func (t *WebSocket) Close() error {
	t.shutdown()
	return nil
}

// readPump delivers inbound frames to the event callback until the
// connection dies, then reports the cause exactly once.
func (t *WebSocket) readPump(conn *websocket.Conn) {
	defer t.shutdown()

	for {
		var ev wire.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.Warn().Err(err).Msg("websocket read failed")
				t.reportClose(err)
			} else {
				t.reportClose(nil)
			}
			return
		}

		t.mu.Lock()
		fn := t.eventFn
		t.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
	}
}

// writePump owns all writes to the socket: queued events and keepalive
// pings.
func (t *WebSocket) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-t.sendCh:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				t.log.Warn().Err(err).Msg("websocket write failed")
				t.reportClose(err)
				t.shutdown()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.reportClose(err)
				t.shutdown()
				return
			}

		case <-t.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// shutdown closes the socket and releases both pumps. Idempotent.
func (t *WebSocket) shutdown() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	close(t.done)
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// reportClose invokes the close callback at most once, and not at all when
// Close was called first.
func (t *WebSocket) reportClose(err error) {
	t.mu.Lock()
	fn := t.closeFn
	alreadyClosed := t.closed
	t.mu.Unlock()

	if alreadyClosed || fn == nil {
		return
	}
	t.reported.Do(func() { fn(err) })
}
