package domain

import (
	"strings"
	"time"
)

// Preview is the last-message summary shown on a roster entry.
type Preview struct {
	Body      string    `json:"body"`
	Sender    Role      `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// RosterEntry is the admin-side summary of one customer conversation.
// The conversation id doubles as the customer id.
type RosterEntry struct {
	ConversationID string    `json:"conversationId"`
	DisplayName    string    `json:"displayName"`
	Email          string    `json:"email,omitempty"`
	Online         bool      `json:"online"`
	Typing         bool      `json:"typing"`
	UnreadCount    int       `json:"unreadCount"`
	LastMessage    *Preview  `json:"lastMessage,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Matches reports whether the entry matches a roster search query.
// Matching is case-insensitive over display name, email, and id.
func (e *RosterEntry) Matches(query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(e.DisplayName), q) ||
		strings.Contains(strings.ToLower(e.Email), q) ||
		strings.Contains(strings.ToLower(e.ConversationID), q)
}
