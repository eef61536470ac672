// Package chatsync implements the real-time chat synchronization core:
// connection lifecycle, optimistic message reconciliation, typing presence,
// read receipts, and the admin-side conversation roster.
package chatsync

import (
	"context"
	"errors"

	"github.com/paydesk/finchat/internal/wire"
)

var (
	// ErrNotActive is returned when an outbound action is attempted before
	// the join handshake has completed.
	ErrNotActive = errors.New("connection is not active")

	// ErrEmptyBody is returned when a message body is empty after trimming.
	ErrEmptyBody = errors.New("message body is empty")

	// ErrNoConversation is returned when an operation requires an open
	// conversation and none is open.
	ErrNoConversation = errors.New("no conversation is open")
)

// Transport is the observable contract of one persistent duplex connection
// to the chat gateway. Implementations deliver inbound events through the
// OnEvent callback and report terminal failure through OnClose. Send
// preserves the order of enqueued events.
type Transport interface {
	// Dial establishes the connection. It must be called before Send.
	Dial(ctx context.Context) error

	// Send enqueues an event for delivery. Order-preserving.
	Send(ev wire.Event) error

	// OnEvent registers the inbound event callback. Must be set before Dial.
	OnEvent(fn func(wire.Event))

	// OnClose registers a callback invoked once when the connection dies,
	// with the terminal error (nil on clean close).
	OnClose(fn func(error))

	// Close tears the connection down. Idempotent.
	Close() error
}

// TransportFactory produces a fresh Transport for each connection attempt.
// A bare transport-level reconnect without a new join handshake is treated
// as still logically disconnected, so the connection manager always dials a
// fresh transport and re-joins.
type TransportFactory func() Transport
