package chatsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/paydesk/finchat/internal/domain"
	"github.com/paydesk/finchat/internal/logging"
	"github.com/paydesk/finchat/internal/wire"
)

// Conn manages the single live connection of one session. It owns the
// state machine disconnected → connecting → connected → active and enforces
// the singleton-connection invariant: a new Connect tears down any prior
// transport before dialing.
//
// Entering active means the join handshake was emitted on this transport;
// outbound actions are rejected with ErrNotActive in any other state.
type Conn struct {
	actorID string
	role    domain.Role
	factory TransportFactory
	log     *logging.Logger

	mu        sync.Mutex
	state     domain.ConnState
	transport Transport
	stateFns  []func(domain.ConnState)
	eventFn   func(wire.Event)
}

// NewConn creates a connection manager for the given actor. The factory is
// invoked once per connection attempt.
func NewConn(factory TransportFactory, actorID string, role domain.Role, log *logging.Logger) *Conn {
	return &Conn{
		actorID: actorID,
		role:    role,
		factory: factory,
		log:     log.Sub("conn"),
		state:   domain.StateDisconnected,
	}
}

// OnStateChange registers a callback for connection-state transitions.
// Callbacks run outside the manager's lock, in transition order.
func (c *Conn) OnStateChange(fn func(domain.ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFns = append(c.stateFns, fn)
}

// OnEvent registers the inbound event callback, forwarded from the
// underlying transport.
func (c *Conn) OnEvent(fn func(wire.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventFn = fn
}

// State returns the current connection state.
func (c *Conn) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials a fresh transport and runs the join handshake. Any existing
// connection is torn down first. On success the state is active; on any
// failure the state is disconnected and the caller may retry.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	notify := c.transitionLocked(domain.StateConnecting)

	t := c.factory()
	t.OnEvent(c.forwardEvent)
	t.OnClose(func(err error) { c.handleClose(t, err) })
	c.transport = t
	c.mu.Unlock()
	notify()

	if err := t.Dial(ctx); err != nil {
		c.teardown(t)
		return fmt.Errorf("dialing transport: %w", err)
	}

	c.setState(domain.StateConnected)

	join, err := wire.NewJoin(c.actorID, c.role)
	if err != nil {
		c.teardown(t)
		return fmt.Errorf("building join event: %w", err)
	}
	if err := t.Send(join); err != nil {
		c.teardown(t)
		return fmt.Errorf("sending join: %w", err)
	}

	c.setState(domain.StateActive)

	c.log.Info().Str("actorId", c.actorID).Str("role", string(c.role)).Msg("connection active")
	return nil
}

// Disconnect closes the connection. Idempotent; always ends disconnected.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	notify := c.transitionLocked(domain.StateDisconnected)
	c.mu.Unlock()
	notify()

	if t != nil {
		t.Close()
		c.log.Info().Msg("disconnected")
	}
}

// Send emits an outbound event on the live connection. Allowed only while
// active: after a transport drop, a new join must complete before further
// sends are accepted.
func (c *Conn) Send(ev wire.Event) error {
	c.mu.Lock()
	if c.state != domain.StateActive || c.transport == nil {
		c.mu.Unlock()
		return ErrNotActive
	}
	t := c.transport
	c.mu.Unlock()

	return t.Send(ev)
}

// forwardEvent delivers a transport event to the registered consumer.
func (c *Conn) forwardEvent(ev wire.Event) {
	c.mu.Lock()
	fn := c.eventFn
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// handleClose reacts to the transport dying underneath us. Connection
// errors are non-fatal: the state drops to disconnected and the caller may
// Connect again.
func (c *Conn) handleClose(t Transport, err error) {
	c.mu.Lock()
	if c.transport != t {
		// A stale transport from before a reconnect; ignore.
		c.mu.Unlock()
		return
	}
	c.transport = nil
	notify := c.transitionLocked(domain.StateDisconnected)
	c.mu.Unlock()
	notify()

	if err != nil {
		c.log.Warn().Err(err).Msg("transport closed")
	} else {
		c.log.Debug().Msg("transport closed cleanly")
	}
}

// teardown closes a failed transport and resets state, unless a newer
// transport has already replaced it.
func (c *Conn) teardown(t Transport) {
	t.Close()
	c.mu.Lock()
	notify := func() {}
	if c.transport == t {
		c.transport = nil
		notify = c.transitionLocked(domain.StateDisconnected)
	}
	c.mu.Unlock()
	notify()
}

// setState transitions the state and notifies subscribers.
func (c *Conn) setState(s domain.ConnState) {
	c.mu.Lock()
	notify := c.transitionLocked(s)
	c.mu.Unlock()
	notify()
}

// transitionLocked updates the state and returns a function that delivers
// the notification. Callers must hold c.mu when calling it and must invoke
// the returned function after releasing the lock.
func (c *Conn) transitionLocked(s domain.ConnState) func() {
	if c.state == s {
		return func() {}
	}
	c.state = s
	fns := make([]func(domain.ConnState), len(c.stateFns))
	copy(fns, c.stateFns)
	return func() {
		for _, fn := range fns {
			fn(s)
		}
	}
}
