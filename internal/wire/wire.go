// Package wire defines the JSON event protocol spoken over the chat
// connection. Every frame is an envelope with a type name and a typed
// payload; payload shapes are shared by the client engine and the gateway.
package wire

import (
	"encoding/json"
	"time"

	"github.com/paydesk/finchat/internal/domain"
)

// Outbound event types (client → gateway).
const (
	EventJoin    = "join"
	EventMessage = "message"
	// Typing carries an isTyping flag; the gateway fans it out as the
	// started/stopped variants below.
	EventTyping      = "typing"
	EventAdminTyping = "admin_typing"
)

// Inbound event types (gateway → client).
const (
	EventNewMessage         = "new_message"
	EventUserTyping         = "user_typing"
	EventUserStoppedTyping  = "user_stopped_typing"
	EventAdminStartedTyping = "admin_started_typing"
	EventAdminStoppedTyping = "admin_stopped_typing"
	EventUserStatus         = "user_status"
	EventMessagesRead       = "messages_read"
	EventError              = "error"
)

// Event is the envelope for all frames on the wire.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New creates an event of the given type with a JSON-encoded payload.
func New(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: raw}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// JoinPayload binds a connection to an actor's event stream.
type JoinPayload struct {
	ActorID string      `json:"actorId"`
	Role    domain.Role `json:"role"`
}

// MessagePayload is an outbound just-sent message. LocalID is the caller's
// correlation value; the gateway echoes it back on the confirmed record so
// the sender can reconcile its optimistic entry.
type MessagePayload struct {
	ConversationID string      `json:"conversationId"`
	Body           string      `json:"body"`
	Sender         domain.Role `json:"sender"`
	LocalID        string      `json:"localId,omitempty"`
}

// NewMessagePayload is the full record of a persisted message, broadcast to
// both sides of the conversation (including an echo to the sender).
type NewMessagePayload struct {
	ServerID       string      `json:"serverId"`
	ConversationID string      `json:"conversationId"`
	Body           string      `json:"body"`
	Sender         domain.Role `json:"sender"`
	CreatedAt      time.Time   `json:"createdAt"`
	Seq            int64       `json:"seq"`
	LocalID        string      `json:"localId,omitempty"`
}

// Message converts the payload into a confirmed domain message.
func (p NewMessagePayload) Message() domain.Message {
	return domain.Message{
		ID:             domain.Identity{LocalID: p.LocalID, ServerID: p.ServerID},
		ConversationID: p.ConversationID,
		Body:           p.Body,
		Sender:         p.Sender,
		CreatedAt:      p.CreatedAt,
		Seq:            p.Seq,
	}
}

// TypingPayload is a presence signal for one conversation.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// StatusPayload reports a customer going online or offline.
type StatusPayload struct {
	ConversationID string `json:"conversationId"`
	Online         bool   `json:"online"`
}

// ReadPayload acknowledges that messages were read by the peer.
type ReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReadBy         string   `json:"readBy,omitempty"`
}

// ErrorPayload is a non-fatal error surfaced by the gateway.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewJoin creates a join event for the given actor.
func NewJoin(actorID string, role domain.Role) (Event, error) {
	return New(EventJoin, JoinPayload{ActorID: actorID, Role: role})
}

// NewOutboundMessage creates the broadcast event for a just-sent message.
func NewOutboundMessage(conversationID, body string, sender domain.Role, localID string) (Event, error) {
	return New(EventMessage, MessagePayload{
		ConversationID: conversationID,
		Body:           body,
		Sender:         sender,
		LocalID:        localID,
	})
}

// NewTyping creates the outbound presence signal for the given role.
// Customers emit "typing", admins emit "admin_typing".
func NewTyping(conversationID string, role domain.Role, isTyping bool) (Event, error) {
	eventType := EventTyping
	if role == domain.RoleAdmin {
		eventType = EventAdminTyping
	}
	return New(eventType, TypingPayload{ConversationID: conversationID, IsTyping: isTyping})
}

// TypingEventFor returns the inbound started/stopped event name the gateway
// uses when fanning out a typing signal from the given role.
func TypingEventFor(role domain.Role, isTyping bool) string {
	if role == domain.RoleAdmin {
		if isTyping {
			return EventAdminStartedTyping
		}
		return EventAdminStoppedTyping
	}
	if isTyping {
		return EventUserTyping
	}
	return EventUserStoppedTyping
}
