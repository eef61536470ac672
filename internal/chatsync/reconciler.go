package chatsync

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paydesk/finchat/internal/domain"
	"github.com/paydesk/finchat/internal/logging"
)

// Reconciler maintains the ordered, deduplicated message list for one
// conversation. It merges three arrival paths for the same logical message:
// the local optimistic insert, the durable-write confirmation, and the wire
// broadcast echo. The deduplication key is the server id once known, the
// provisional id before that.
type Reconciler struct {
	conversationID string
	log            *logging.Logger
	newLocalID     func() string
	now            func() time.Time

	mu       sync.Mutex
	messages []domain.Message
	index    map[string]int // identity key → list position
	lastSeq  int64
}

// NewReconciler creates an empty reconciler for the given conversation.
func NewReconciler(conversationID string, log *logging.Logger) *Reconciler {
	return &Reconciler{
		conversationID: conversationID,
		log:            log.Sub("reconciler"),
		newLocalID:     func() string { return "tmp-" + uuid.New().String() },
		now:            time.Now,
		index:          make(map[string]int),
	}
}

// ConversationID returns the conversation this reconciler tracks.
func (r *Reconciler) ConversationID() string { return r.conversationID }

// ReplaceHistory replaces the entire visible list with the backfilled
// history, ordered oldest first as delivered by the HTTP collaborator.
func (r *Reconciler) ReplaceHistory(msgs []domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = make([]domain.Message, len(msgs))
	copy(r.messages, msgs)
	r.index = make(map[string]int, len(msgs))
	r.lastSeq = 0
	for i, m := range r.messages {
		r.indexLocked(m, i)
		if m.Seq > r.lastSeq {
			r.lastSeq = m.Seq
		}
	}
}

// SendOptimistic synchronously appends a provisional self-authored message
// and returns it. The visible effect of sending never waits on the network;
// the caller runs the wire emit and the durable write separately and
// reconciles via ConfirmSend or Rollback.
func (r *Reconciler) SendOptimistic(body string, sender domain.Role) (domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Message{}, ErrEmptyBody
	}

	m := domain.Message{
		ID:             domain.ProvisionalID(r.newLocalID()),
		ConversationID: r.conversationID,
		Body:           body,
		Sender:         sender,
		CreatedAt:      r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	r.indexLocked(m, len(r.messages)-1)
	return m, nil
}

// ConfirmSend replaces the provisional entry's identity, timestamp, and
// sequence number with the server-assigned ones, preserving list position
// so confirmation never causes a visual jump. A no-op if no provisional
// entry matches (the confirmation raced with the wire echo) or if the entry
// was already confirmed.
func (r *Reconciler) ConfirmSend(localID string, confirmed domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[localID]
	if !ok || r.messages[i].ID.Confirmed() {
		return
	}

	m := &r.messages[i]
	m.ID.ServerID = confirmed.ID.ServerID
	m.CreatedAt = confirmed.CreatedAt
	m.Seq = confirmed.Seq
	r.indexLocked(*m, i)
	if confirmed.Seq > r.lastSeq {
		r.lastSeq = confirmed.Seq
	}
}

// ReceiveInbound merges a server-confirmed message arriving on the wire.
// Duplicates of already-merged messages are ignored; an echo of this
// session's own optimistic entry (matched by its correlation local id)
// confirms it in place. Events at or below the last applied sequence number
// are dropped as stale.
func (r *Reconciler) ReceiveInbound(m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ID.ServerID != "" {
		if _, ok := r.index[m.ID.ServerID]; ok {
			return
		}
	}

	// Wire echo for a still-provisional local entry.
	if m.ID.LocalID != "" {
		if i, ok := r.index[m.ID.LocalID]; ok {
			e := &r.messages[i]
			if !e.ID.Confirmed() {
				e.ID.ServerID = m.ID.ServerID
				e.CreatedAt = m.CreatedAt
				e.Seq = m.Seq
				r.indexLocked(*e, i)
				if m.Seq > r.lastSeq {
					r.lastSeq = m.Seq
				}
			}
			return
		}
	}

	if m.Seq > 0 && m.Seq <= r.lastSeq {
		r.log.Debug().
			Str("serverId", m.ID.ServerID).
			Int64("seq", m.Seq).
			Int64("lastSeq", r.lastSeq).
			Msg("dropping stale inbound message")
		return
	}
	if m.Seq > 0 && r.lastSeq > 0 && m.Seq > r.lastSeq+1 {
		r.log.Warn().
			Int64("seq", m.Seq).
			Int64("lastSeq", r.lastSeq).
			Msg("sequence gap in inbound messages")
	}

	r.messages = append(r.messages, m)
	r.indexLocked(m, len(r.messages)-1)
	if m.Seq > r.lastSeq {
		r.lastSeq = m.Seq
	}
}

// Rollback removes a provisional entry whose durable write ultimately
// failed. Confirmed entries are never removed.
func (r *Reconciler) Rollback(localID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[localID]
	if !ok || r.messages[i].ID.Confirmed() {
		return
	}

	r.messages = append(r.messages[:i], r.messages[i+1:]...)
	r.reindexLocked()
}

// MarkRead sets the read flag on messages matching the given server ids.
// Unknown ids are ignored; read state only ever transitions false→true.
// Returns the number of messages newly marked.
func (r *Reconciler) MarkRead(serverIDs []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, id := range serverIDs {
		if i, ok := r.index[id]; ok && !r.messages[i].Read {
			r.messages[i].Read = true
			n++
		}
	}
	return n
}

// MarkPeerRead sets the read flag on every message authored by the given
// role. Used when the viewer marks the whole conversation read.
func (r *Reconciler) MarkPeerRead(peer domain.Role) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.messages {
		if r.messages[i].Sender == peer && !r.messages[i].Read {
			r.messages[i].Read = true
			n++
		}
	}
	return n
}

// Messages returns a copy of the visible list, oldest first.
func (r *Reconciler) Messages() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Len returns the number of visible messages.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// indexLocked records both identity keys of a message at position i.
func (r *Reconciler) indexLocked(m domain.Message, i int) {
	if m.ID.LocalID != "" {
		r.index[m.ID.LocalID] = i
	}
	if m.ID.ServerID != "" {
		r.index[m.ID.ServerID] = i
	}
}

// reindexLocked rebuilds the identity index after a removal.
func (r *Reconciler) reindexLocked() {
	r.index = make(map[string]int, len(r.messages))
	for i, m := range r.messages {
		r.indexLocked(m, i)
	}
}
