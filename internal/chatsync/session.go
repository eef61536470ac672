package chatsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paydesk/finchat/internal/domain"
	"github.com/paydesk/finchat/internal/logging"
	"github.com/paydesk/finchat/internal/wire"
)

// API is the HTTP collaborator consumed by the synchronization core. The
// socket carries incremental events only; initial state always comes from
// these calls.
type API interface {
	// History returns a conversation's full message list, oldest first.
	History(ctx context.Context, conversationID string) ([]domain.Message, error)

	// SendMessage durably persists a message and returns the confirmed
	// record with its server id and sequence number. The local id is the
	// correlation value chosen at optimistic-send time.
	SendMessage(ctx context.Context, conversationID, body, localID string) (domain.Message, error)

	// MarkRead marks a conversation's peer messages read and returns the
	// affected server ids.
	MarkRead(ctx context.Context, conversationID string) ([]string, error)

	// Conversations returns the admin roster with previews and unread
	// counts.
	Conversations(ctx context.Context) ([]domain.RosterEntry, error)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithTypingTimeout overrides the typing inactivity window.
func WithTypingTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.typingTimeout = d }
}

// WithOnUpdate registers a callback invoked after any visible state change
// (messages, roster, presence). Intended for render scheduling.
func WithOnUpdate(fn func()) SessionOption {
	return func(s *Session) { s.updateFn = fn }
}

// Session is the injectable per-actor state container binding the
// synchronization core together: it owns the connection manager, routes
// inbound wire events by type and conversation id, and exposes the
// outbound operations (send, typing input, open conversation). Customer
// sessions track their single implicit conversation; admin sessions carry
// the full roster.
type Session struct {
	actorID       string
	role          domain.Role
	api           API
	conn          *Conn
	presence      *PresenceTracker
	receipts      *ReceiptTracker
	roster        *Roster // nil for customer sessions
	log           *logging.Logger
	typingTimeout time.Duration
	updateFn      func()

	mu  sync.Mutex
	rec *Reconciler // active conversation, nil until one is opened
}

// NewSession creates a session for an authenticated actor.
func NewSession(actorID string, role domain.Role, factory TransportFactory, api API, log *logging.Logger, opts ...SessionOption) *Session {
	s := &Session{
		actorID: actorID,
		role:    role,
		api:     api,
		log:     log.Sub("session").WithActor(actorID, string(role)),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.conn = NewConn(factory, actorID, role, s.log)
	s.receipts = NewReceiptTracker(api, s.log)
	s.presence = NewPresenceTracker(s.typingTimeout, s.emitTyping, s.log)
	if role == domain.RoleAdmin {
		s.roster = NewRoster(s.log)
		s.presence.OnPeerChange(func(conversationID string, typing bool) {
			s.roster.SetTyping(conversationID, typing)
			s.notifyUpdate()
		})
	} else {
		s.presence.OnPeerChange(func(string, bool) { s.notifyUpdate() })
	}

	s.conn.OnEvent(s.route)
	s.conn.OnStateChange(s.onState)
	return s
}

// Connect establishes the connection, runs the join handshake, and
// performs the initial HTTP backfill: the roster for admins, the actor's
// own conversation history for customers.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.conn.Connect(ctx); err != nil {
		return err
	}

	if s.role == domain.RoleAdmin {
		entries, err := s.api.Conversations(ctx)
		if err != nil {
			return fmt.Errorf("loading roster: %w", err)
		}
		s.roster.Replace(entries)
		s.notifyUpdate()
		return nil
	}

	return s.OpenConversation(ctx, s.actorID)
}

// Disconnect tears down the connection and cancels all pending typing
// timers. Idempotent.
func (s *Session) Disconnect() {
	s.conn.Disconnect()
	s.presence.CancelAll()
}

// State returns the connection state.
func (s *Session) State() domain.ConnState { return s.conn.State() }

// Snapshot returns the session's identity and connection state.
func (s *Session) Snapshot() domain.Session {
	return domain.Session{
		ActorID: s.actorID,
		Role:    s.role,
		State:   s.conn.State(),
	}
}

// ActorID returns the session's actor id.
func (s *Session) ActorID() string { return s.actorID }

// Role returns the session's role.
func (s *Session) Role() domain.Role { return s.role }

// OpenConversation loads a conversation's history and makes it the active
// one. If it has unread peer messages, they are marked read.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) error {
	history, err := s.api.History(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	rec := NewReconciler(conversationID, s.log)
	rec.ReplaceHistory(history)

	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()

	if s.hasUnreadPeerMessages(history, conversationID) {
		s.markConversationRead(rec)
	}
	s.notifyUpdate()
	return nil
}

// OpenConversationID returns the active conversation id, or empty.
func (s *Session) OpenConversationID() string {
	if rec := s.reconciler(); rec != nil {
		return rec.ConversationID()
	}
	return ""
}

// Send optimistically appends a message to the active conversation and
// returns it immediately; the wire broadcast and the durable write run in
// parallel and reconcile later. The rendered message never waits on
// network latency.
func (s *Session) Send(ctx context.Context, body string) (domain.Message, error) {
	rec := s.reconciler()
	if rec == nil {
		return domain.Message{}, ErrNoConversation
	}

	m, err := rec.SendOptimistic(body, s.role)
	if err != nil {
		return domain.Message{}, err
	}
	s.presence.StopLocalInput(rec.ConversationID())
	s.notifyUpdate()

	ev, err := wire.NewOutboundMessage(rec.ConversationID(), m.Body, s.role, m.ID.LocalID)
	if err == nil {
		err = s.conn.Send(ev)
	}
	if err != nil {
		// The durable write still runs; the echo path is best-effort.
		s.log.Warn().Err(err).Msg("wire broadcast failed")
	}

	go s.durableSend(ctx, rec, m)
	return m, nil
}

// durableSend runs the HTTP persistence leg of an optimistic send and
// reconciles the provisional entry: confirm on success, roll back on
// failure.
func (s *Session) durableSend(ctx context.Context, rec *Reconciler, m domain.Message) {
	confirmed, err := s.api.SendMessage(ctx, rec.ConversationID(), m.Body, m.ID.LocalID)
	if err != nil {
		s.log.Error().Err(err).
			Str("localId", m.ID.LocalID).
			Msg("durable send failed, rolling back")
		rec.Rollback(m.ID.LocalID)
		s.notifyUpdate()
		return
	}
	rec.ConfirmSend(m.ID.LocalID, confirmed)
	s.notifyUpdate()
}

// TypingInput records one keystroke in the active conversation's compose
// box. Signals are debounced: one "started" per burst, one "stopped" after
// the inactivity window.
func (s *Session) TypingInput() {
	if rec := s.reconciler(); rec != nil {
		s.presence.OnLocalInput(rec.ConversationID())
	}
}

// Messages returns the active conversation's visible list, oldest first.
func (s *Session) Messages() []domain.Message {
	if rec := s.reconciler(); rec != nil {
		return rec.Messages()
	}
	return nil
}

// PeerTyping reports whether the peer of the given conversation is typing.
func (s *Session) PeerTyping(conversationID string) bool {
	return s.presence.PeerTyping(conversationID)
}

// Roster returns the admin roster, or nil for customer sessions.
func (s *Session) Roster() *Roster { return s.roster }

// route dispatches one inbound wire event to the owning component.
func (s *Session) route(ev wire.Event) {
	switch ev.Type {
	case wire.EventNewMessage:
		s.routeNewMessage(ev)

	case wire.EventUserTyping, wire.EventAdminStartedTyping:
		if p, ok := s.decodeTyping(ev); ok {
			s.presence.OnPeerTypingStarted(p.ConversationID)
		}

	case wire.EventUserStoppedTyping, wire.EventAdminStoppedTyping:
		if p, ok := s.decodeTyping(ev); ok {
			s.presence.OnPeerTypingStopped(p.ConversationID)
		}

	case wire.EventUserStatus:
		var p wire.StatusPayload
		if err := ev.Decode(&p); err != nil {
			s.log.Warn().Err(err).Msg("bad user_status payload")
			return
		}
		if s.roster != nil {
			s.roster.SetOnline(p.ConversationID, p.Online)
			s.notifyUpdate()
		}

	case wire.EventMessagesRead:
		var p wire.ReadPayload
		if err := ev.Decode(&p); err != nil {
			s.log.Warn().Err(err).Msg("bad messages_read payload")
			return
		}
		rec := s.reconciler()
		if rec != nil && rec.ConversationID() == p.ConversationID {
			s.receipts.OnPeerReadAck(rec, p.MessageIDs)
			s.notifyUpdate()
		}

	case wire.EventError:
		var p wire.ErrorPayload
		_ = ev.Decode(&p)
		s.log.Warn().Str("code", p.Code).Str("message", p.Message).Msg("gateway error event")

	default:
		s.log.Debug().Str("type", ev.Type).Msg("ignoring unknown event")
	}
}

// routeNewMessage applies an inbound message to the roster and, when its
// conversation is open, to the visible list. Peer messages arriving in the
// open conversation are marked read immediately since they are in view.
func (s *Session) routeNewMessage(ev wire.Event) {
	var p wire.NewMessagePayload
	if err := ev.Decode(&p); err != nil {
		s.log.Warn().Err(err).Msg("bad new_message payload")
		return
	}
	m := p.Message()

	if s.roster != nil {
		s.roster.ApplyMessage(m)
	}

	rec := s.reconciler()
	if rec != nil && rec.ConversationID() == m.ConversationID {
		rec.ReceiveInbound(m)
		if m.Sender == s.role.Peer() {
			s.presence.OnPeerTypingStopped(m.ConversationID)
			s.markConversationRead(rec)
		}
	}
	s.notifyUpdate()
}

// markConversationRead applies the read transition locally, resets the
// roster counter, and fires the durable leg.
func (s *Session) markConversationRead(rec *Reconciler) {
	s.receipts.MarkConversationRead(context.Background(), rec, s.role)
	if s.roster != nil {
		s.roster.ResetUnread(rec.ConversationID())
	}
}

// onState reacts to connection-state transitions. Dropping to disconnected
// cancels all pending typing timers so no stale signal fires after a
// reconnect.
func (s *Session) onState(st domain.ConnState) {
	if st == domain.StateDisconnected {
		s.presence.CancelAll()
	}
	s.notifyUpdate()
}

// emitTyping is the presence tracker's outbound emitter.
func (s *Session) emitTyping(conversationID string, isTyping bool) {
	ev, err := wire.NewTyping(conversationID, s.role, isTyping)
	if err == nil {
		err = s.conn.Send(ev)
	}
	if err != nil {
		s.log.Debug().Err(err).Msg("typing signal not sent")
	}
}

func (s *Session) decodeTyping(ev wire.Event) (wire.TypingPayload, bool) {
	var p wire.TypingPayload
	if err := ev.Decode(&p); err != nil {
		s.log.Warn().Err(err).Str("type", ev.Type).Msg("bad typing payload")
		return p, false
	}
	return p, true
}

func (s *Session) reconciler() *Reconciler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *Session) hasUnreadPeerMessages(history []domain.Message, conversationID string) bool {
	peer := s.role.Peer()
	for _, m := range history {
		if m.Sender == peer && !m.Read {
			return true
		}
	}
	if s.roster != nil {
		if e, ok := s.roster.Get(conversationID); ok && e.UnreadCount > 0 {
			return true
		}
	}
	return false
}

func (s *Session) notifyUpdate() {
	if s.updateFn != nil {
		s.updateFn()
	}
}
