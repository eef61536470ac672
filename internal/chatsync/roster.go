package chatsync

import (
	"sort"
	"sync"

	"github.com/paydesk/finchat/internal/domain"
	"github.com/paydesk/finchat/internal/logging"
)

// Roster maintains the admin-side map of customer conversations with
// summary state: unread count, last-message preview, online flag, and
// typing flag. Events are applied to whichever conversation they target,
// independent of which conversation is currently open.
type Roster struct {
	log *logging.Logger

	mu      sync.Mutex
	entries map[string]*domain.RosterEntry
}

// NewRoster creates an empty roster.
func NewRoster(log *logging.Logger) *Roster {
	return &Roster{
		log:     log.Sub("roster"),
		entries: make(map[string]*domain.RosterEntry),
	}
}

// Replace swaps in a full conversation list from the backfill collaborator.
func (r *Roster) Replace(entries []domain.RosterEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*domain.RosterEntry, len(entries))
	for i := range entries {
		e := entries[i]
		r.entries[e.ConversationID] = &e
	}
}

// ApplyMessage updates the targeted entry's last-message preview and, for
// unread customer-authored messages, increments the unread counter. The
// entry is created on first sight of its conversation.
func (r *Roster) ApplyMessage(m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.ensureLocked(m.ConversationID)
	e.LastMessage = &domain.Preview{
		Body:      m.Body,
		Sender:    m.Sender,
		CreatedAt: m.CreatedAt,
	}
	e.UpdatedAt = m.CreatedAt
	if m.Sender == domain.RoleCustomer && !m.Read {
		e.UnreadCount++
	}
}

// SetOnline updates the advisory online flag for a conversation.
func (r *Roster) SetOnline(conversationID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(conversationID).Online = online
}

// SetTyping updates the peer-typing flag for a conversation.
func (r *Roster) SetTyping(conversationID string, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(conversationID).Typing = typing
}

// ResetUnread zeroes the unread counter for a conversation. Other
// conversations' counters are untouched.
func (r *Roster) ResetUnread(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[conversationID]; ok {
		e.UnreadCount = 0
	}
}

// Get returns a copy of one roster entry.
func (r *Roster) Get(conversationID string) (domain.RosterEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[conversationID]
	if !ok {
		return domain.RosterEntry{}, false
	}
	return *e, true
}

// Entries returns all roster entries, most recently updated first.
func (r *Roster) Entries() []domain.RosterEntry {
	return r.Filter("")
}

// Filter returns the entries matching a search query, most recently
// updated first.
func (r *Roster) Filter(query string) []domain.RosterEntry {
	r.mu.Lock()
	out := make([]domain.RosterEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Matches(query) {
			out = append(out, *e)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Len returns the number of tracked conversations.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Roster) ensureLocked(conversationID string) *domain.RosterEntry {
	e, ok := r.entries[conversationID]
	if !ok {
		e = &domain.RosterEntry{ConversationID: conversationID, DisplayName: conversationID}
		r.entries[conversationID] = e
		r.log.Debug().Str("conversationId", conversationID).Msg("roster entry created")
	}
	return e
}
