package gateway

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/paydesk/finchat/internal/domain"
	"github.com/paydesk/finchat/internal/logging"
	"github.com/paydesk/finchat/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// client is one live websocket connection registered with the hub. The
// actor identity comes from the authenticated upgrade; the join event binds
// the connection to the event stream.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	actorID string
	role    domain.Role
	send    chan wire.Event
	log     *logging.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, actorID string, role domain.Role, log *logging.Logger) *client {
	return &client{
		hub:     hub,
		conn:    conn,
		actorID: actorID,
		role:    role,
		send:    make(chan wire.Event, sendBuffer),
		log:     log.Sub("client").WithActor(actorID, string(role)),
	}
}

// readPump consumes inbound frames and hands them to the hub until the
// connection dies.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var ev wire.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("read failed")
			}
			return
		}
		c.hub.handleEvent(c, ev)
	}
}

// writePump owns all writes to the socket: queued events and keepalive
// pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.Warn().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver queues an event, dropping the client if its buffer is full.
func (c *client) deliver(ev wire.Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}
