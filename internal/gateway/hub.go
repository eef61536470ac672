package gateway

import (
	"sync"

	"github.com/paydesk/finchat/internal/domain"
	"github.com/paydesk/finchat/internal/logging"
	"github.com/paydesk/finchat/internal/store"
	"github.com/paydesk/finchat/internal/wire"
)

// Hub tracks live connections and fans wire events out to the right
// parties: a conversation's events go to its customer and to every admin.
// Persistence of socket-borne messages is idempotent on the sender's local
// id, so the socket and HTTP legs of a send can race safely.
type Hub struct {
	store *store.ChatStore
	log   *logging.Logger

	mu      sync.Mutex
	clients map[*client]bool
}

// NewHub creates a hub backed by the given store.
func NewHub(s *store.ChatStore, log *logging.Logger) *Hub {
	return &Hub{
		store:   s,
		log:     log.Sub("hub"),
		clients: make(map[*client]bool),
	}
}

// register adds a connected client. A customer coming online is announced
// to the admin side.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info().Str("actorId", c.actorID).Str("role", string(c.role)).
		Int("clients", count).Msg("client connected")

	if c.role == domain.RoleCustomer {
		h.broadcastStatus(c.actorID, true)
	}
}

// unregister removes a client. When a customer's last connection drops, the
// admin side sees them go offline.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	stillOnline := false
	for other := range h.clients {
		if other.actorID == c.actorID {
			stillOnline = true
			break
		}
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info().Str("actorId", c.actorID).Int("clients", count).Msg("client disconnected")

	if c.role == domain.RoleCustomer && !stillOnline {
		h.broadcastStatus(c.actorID, false)
	}
}

// handleEvent dispatches one inbound frame from a client.
func (h *Hub) handleEvent(c *client, ev wire.Event) {
	switch ev.Type {
	case wire.EventJoin:
		// The connection is already authenticated and bound; the join
		// confirms the client is ready for its event stream.
		h.log.Debug().Str("actorId", c.actorID).Msg("join received")

	case wire.EventMessage:
		h.handleMessage(c, ev)

	case wire.EventTyping, wire.EventAdminTyping:
		h.handleTyping(c, ev)

	default:
		h.log.Debug().Str("type", ev.Type).Msg("ignoring unknown event")
		h.sendError(c, "unknown_event", "unsupported event type: "+ev.Type)
	}
}

// handleMessage persists a socket-borne message and broadcasts the
// confirmed record. Customers may only write to their own conversation.
func (h *Hub) handleMessage(c *client, ev wire.Event) {
	var p wire.MessagePayload
	if err := ev.Decode(&p); err != nil {
		h.sendError(c, "bad_payload", "malformed message payload")
		return
	}
	if c.role == domain.RoleCustomer {
		p.ConversationID = c.actorID
	}
	if p.ConversationID == "" || p.Body == "" {
		h.sendError(c, "bad_payload", "conversation id and body are required")
		return
	}

	m, created, err := h.store.AppendMessage(p.ConversationID, c.role, p.Body, p.LocalID)
	if err != nil {
		h.log.Error().Err(err).Str("conversationId", p.ConversationID).Msg("failed to persist message")
		h.sendError(c, "persist_failed", "message could not be stored")
		return
	}
	if created {
		h.BroadcastMessage(m)
	}
}

// handleTyping fans a presence signal out to the other side of the
// conversation.
func (h *Hub) handleTyping(c *client, ev wire.Event) {
	var p wire.TypingPayload
	if err := ev.Decode(&p); err != nil {
		h.sendError(c, "bad_payload", "malformed typing payload")
		return
	}
	if c.role == domain.RoleCustomer {
		p.ConversationID = c.actorID
	}
	if p.ConversationID == "" {
		return
	}

	out, err := wire.New(wire.TypingEventFor(c.role, p.IsTyping), wire.TypingPayload{
		ConversationID: p.ConversationID,
		IsTyping:       p.IsTyping,
	})
	if err != nil {
		return
	}
	h.deliverToPeers(p.ConversationID, c.role, out)
}

// BroadcastMessage delivers a persisted message to everyone in its
// conversation: the customer, every admin, and the sender's other
// connections (the echo that confirms an optimistic entry).
func (h *Hub) BroadcastMessage(m domain.Message) {
	ev, err := wire.New(wire.EventNewMessage, wire.NewMessagePayload{
		ServerID:       m.ID.ServerID,
		ConversationID: m.ConversationID,
		Body:           m.Body,
		Sender:         m.Sender,
		CreatedAt:      m.CreatedAt,
		Seq:            m.Seq,
		LocalID:        m.ID.LocalID,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode broadcast")
		return
	}
	h.deliverToConversation(m.ConversationID, ev)
}

// BroadcastRead notifies the authors that their messages were read.
func (h *Hub) BroadcastRead(conversationID string, messageIDs []string, reader domain.Role) {
	if len(messageIDs) == 0 {
		return
	}
	ev, err := wire.New(wire.EventMessagesRead, wire.ReadPayload{
		ConversationID: conversationID,
		MessageIDs:     messageIDs,
		ReadBy:         string(reader),
	})
	if err != nil {
		return
	}
	h.deliverToPeers(conversationID, reader, ev)
}

// broadcastStatus tells every admin that a customer went on- or offline.
func (h *Hub) broadcastStatus(conversationID string, online bool) {
	ev, err := wire.New(wire.EventUserStatus, wire.StatusPayload{
		ConversationID: conversationID,
		Online:         online,
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.role == domain.RoleAdmin {
			c.deliver(ev)
		}
	}
}

// deliverToConversation sends to the conversation's customer and all
// admins.
func (h *Hub) deliverToConversation(conversationID string, ev wire.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.role == domain.RoleAdmin || c.actorID == conversationID {
			if !c.deliver(ev) {
				h.log.Warn().Str("actorId", c.actorID).Msg("send buffer full, dropping event")
			}
		}
	}
}

// deliverToPeers sends to the opposite side of the conversation only.
func (h *Hub) deliverToPeers(conversationID string, from domain.Role, ev wire.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		switch from {
		case domain.RoleCustomer:
			if c.role == domain.RoleAdmin {
				c.deliver(ev)
			}
		case domain.RoleAdmin:
			if c.role == domain.RoleCustomer && c.actorID == conversationID {
				c.deliver(ev)
			}
		}
	}
}

func (h *Hub) sendError(c *client, code, message string) {
	ev, err := wire.New(wire.EventError, wire.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.deliver(ev)
}
