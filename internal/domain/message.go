package domain

import "time"

// Role identifies which side of a conversation an actor is on.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Peer returns the opposite side of the conversation.
func (r Role) Peer() Role {
	if r == RoleCustomer {
		return RoleAdmin
	}
	return RoleCustomer
}

// Identity is the dual identity of a message: a provisional local id
// assigned at optimistic-send time, and the authoritative server id once
// the gateway acknowledges persistence. The server id wins as the
// deduplication key as soon as it is known.
type Identity struct {
	LocalID  string `json:"localId,omitempty"`
	ServerID string `json:"serverId,omitempty"`
}

// ProvisionalID creates an identity for a locally originated, unconfirmed
// message.
func ProvisionalID(localID string) Identity {
	return Identity{LocalID: localID}
}

// ConfirmedID creates an identity for a server-persisted message.
func ConfirmedID(serverID string) Identity {
	return Identity{ServerID: serverID}
}

// Confirmed reports whether the server has acknowledged this message.
func (id Identity) Confirmed() bool { return id.ServerID != "" }

// Key returns the deduplication key: the server id once known, the
// provisional id before that.
func (id Identity) Key() string {
	if id.ServerID != "" {
		return id.ServerID
	}
	return id.LocalID
}

// Message is one entry in a conversation's visible list.
type Message struct {
	ID             Identity  `json:"id"`
	ConversationID string    `json:"conversationId"`
	Body           string    `json:"body"`
	Sender         Role      `json:"sender"`
	CreatedAt      time.Time `json:"createdAt"`
	Read           bool      `json:"read"`

	// Seq is the gateway-assigned monotonic per-conversation sequence
	// number. Zero for provisional messages until confirmation.
	Seq int64 `json:"seq,omitempty"`
}
