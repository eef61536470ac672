package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paydesk/finchat/internal/logging"
	"github.com/paydesk/finchat/internal/wire"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// echoServer upgrades, records the auth header, and echoes every frame
// back.
type echoServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	authSeen string
	conns    []*websocket.Conn
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	e := &echoServer{}
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.authSeen = r.Header.Get("Authorization")
		e.mu.Unlock()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		e.mu.Lock()
		e.conns = append(e.conns, conn)
		e.mu.Unlock()

		for {
			var ev wire.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http")
}

func (e *echoServer) auth() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authSeen
}

func (e *echoServer) dropConnections() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.conns {
		c.Close()
	}
}

func testLogger() *logging.Logger {
	return logging.New(nil, "silent", "json")
}

func TestDial_SendsBearerToken(t *testing.T) {
	server := newEchoServer(t)

	ws := NewWebSocket(server.wsURL(), "tok-abc", testLogger())
	require.NoError(t, ws.Dial(context.Background()))
	defer ws.Close()

	assert.Equal(t, "Bearer tok-abc", server.auth())
}

func TestDial_FailsAgainstClosedServer(t *testing.T) {
	server := newEchoServer(t)
	url := server.wsURL()
	server.srv.Close()

	ws := NewWebSocket(url, "", testLogger())
	err := ws.Dial(context.Background())
	require.Error(t, err)
}

func TestSendAndReceive_RoundTrip(t *testing.T) {
	server := newEchoServer(t)

	received := make(chan wire.Event, 1)
	ws := NewWebSocket(server.wsURL(), "", testLogger())
	ws.OnEvent(func(ev wire.Event) { received <- ev })

	require.NoError(t, ws.Dial(context.Background()))
	defer ws.Close()

	ev, err := wire.New(wire.EventTyping, wire.TypingPayload{ConversationID: "cust-1", IsTyping: true})
	require.NoError(t, err)
	require.NoError(t, ws.Send(ev))

	select {
	case got := <-received:
		assert.Equal(t, wire.EventTyping, got.Type)
		var p wire.TypingPayload
		require.NoError(t, got.Decode(&p))
		assert.Equal(t, "cust-1", p.ConversationID)
		assert.True(t, p.IsTyping)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}
}

func TestServerDrop_ReportsCloseOnce(t *testing.T) {
	server := newEchoServer(t)

	var mu sync.Mutex
	closeCount := 0
	ws := NewWebSocket(server.wsURL(), "", testLogger())
	ws.OnClose(func(error) {
		mu.Lock()
		closeCount++
		mu.Unlock()
	})

	require.NoError(t, ws.Dial(context.Background()))

	server.dropConnections()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return closeCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A later Close does not fire the callback again.
	ws.Close()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, closeCount)
}

func TestOwnerClose_DoesNotFireCallback(t *testing.T) {
	server := newEchoServer(t)

	var mu sync.Mutex
	fired := false
	ws := NewWebSocket(server.wsURL(), "", testLogger())
	ws.OnClose(func(error) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	require.NoError(t, ws.Dial(context.Background()))
	require.NoError(t, ws.Close())

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired, "deliberate close is not a connection failure")
}

func TestSend_AfterCloseFails(t *testing.T) {
	server := newEchoServer(t)

	ws := NewWebSocket(server.wsURL(), "", testLogger())
	require.NoError(t, ws.Dial(context.Background()))
	require.NoError(t, ws.Close())

	ev, err := wire.New(wire.EventTyping, wire.TypingPayload{ConversationID: "cust-1"})
	require.NoError(t, err)
	assert.Error(t, ws.Send(ev))
}
