package chatsync

import (
	"sync"
	"time"

	"github.com/paydesk/finchat/internal/logging"
)

// DefaultTypingTimeout is the inactivity window after which a typing
// indicator expires, for both the self debounce and the peer auto-expiry.
const DefaultTypingTimeout = 3 * time.Second

// TypingEmitter sends the outbound typing signal for a conversation.
type TypingEmitter func(conversationID string, isTyping bool)

// typingState is the timer-backed boolean for one (conversation, direction)
// pair. The timer is the explicit cancellation token: teardown stops every
// pending timer deterministically.
type typingState struct {
	active bool
	timer  *time.Timer
}

// PresenceTracker maintains per-conversation typing flags in both
// directions. Self-typing is debounced: a burst of input emits exactly one
// "started" signal, and one "stopped" signal after the inactivity window.
// Peer-typing carries a defensive auto-expiry so a lost "stopped" event
// cannot leave the indicator stuck.
type PresenceTracker struct {
	timeout time.Duration
	emit    TypingEmitter
	log     *logging.Logger

	mu     sync.Mutex
	self   map[string]*typingState
	peer   map[string]*typingState
	peerFn func(conversationID string, typing bool)
}

// NewPresenceTracker creates a tracker. A non-positive timeout selects
// DefaultTypingTimeout. The emitter is invoked outside the tracker's lock.
func NewPresenceTracker(timeout time.Duration, emit TypingEmitter, log *logging.Logger) *PresenceTracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if emit == nil {
		emit = func(string, bool) {}
	}
	return &PresenceTracker{
		timeout: timeout,
		emit:    emit,
		log:     log.Sub("presence"),
		self:    make(map[string]*typingState),
		peer:    make(map[string]*typingState),
	}
}

// OnPeerChange registers a callback for peer-typing flag changes, including
// auto-expiry. Used to keep roster typing flags in sync.
func (p *PresenceTracker) OnPeerChange(fn func(conversationID string, typing bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peerFn = fn
}

// OnLocalInput records one keystroke in the compose box of a conversation.
// The first call of a burst emits "typing started"; every call resets the
// inactivity timer; timer expiry emits "typing stopped".
func (p *PresenceTracker) OnLocalInput(conversationID string) {
	p.mu.Lock()
	st := p.self[conversationID]
	if st == nil {
		st = &typingState{}
		p.self[conversationID] = st
	}
	started := !st.active
	st.active = true
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(p.timeout, func() { p.expireSelf(conversationID) })
	p.mu.Unlock()

	if started {
		p.emit(conversationID, true)
	}
}

// StopLocalInput cancels the self-typing state, emitting "typing stopped"
// if a burst was in progress. Called when the user sends the message.
func (p *PresenceTracker) StopLocalInput(conversationID string) {
	p.mu.Lock()
	st := p.self[conversationID]
	stopped := st != nil && st.active
	if st != nil {
		st.active = false
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
	}
	p.mu.Unlock()

	if stopped {
		p.emit(conversationID, false)
	}
}

// expireSelf fires when the inactivity window elapses without input.
func (p *PresenceTracker) expireSelf(conversationID string) {
	p.mu.Lock()
	st := p.self[conversationID]
	stopped := st != nil && st.active
	if st != nil {
		st.active = false
		st.timer = nil
	}
	p.mu.Unlock()

	if stopped {
		p.emit(conversationID, false)
	}
}

// OnPeerTypingStarted sets the peer-typing flag for a conversation and arms
// the auto-expiry timer.
func (p *PresenceTracker) OnPeerTypingStarted(conversationID string) {
	p.mu.Lock()
	st := p.peer[conversationID]
	if st == nil {
		st = &typingState{}
		p.peer[conversationID] = st
	}
	changed := !st.active
	st.active = true
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(p.timeout, func() { p.expirePeer(conversationID) })
	fn := p.peerFn
	p.mu.Unlock()

	if changed && fn != nil {
		fn(conversationID, true)
	}
}

// OnPeerTypingStopped clears the peer-typing flag.
func (p *PresenceTracker) OnPeerTypingStopped(conversationID string) {
	p.clearPeer(conversationID, false)
}

// expirePeer clears a peer flag whose explicit "stopped" event was lost.
func (p *PresenceTracker) expirePeer(conversationID string) {
	p.clearPeer(conversationID, true)
}

func (p *PresenceTracker) clearPeer(conversationID string, expired bool) {
	p.mu.Lock()
	st := p.peer[conversationID]
	changed := st != nil && st.active
	if st != nil {
		st.active = false
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
	}
	fn := p.peerFn
	p.mu.Unlock()

	if changed {
		if expired {
			p.log.Debug().Str("conversationId", conversationID).Msg("peer typing flag expired")
		}
		if fn != nil {
			fn(conversationID, false)
		}
	}
}

// SelfTyping reports whether a local typing burst is in progress.
func (p *PresenceTracker) SelfTyping(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.self[conversationID]
	return st != nil && st.active
}

// PeerTyping reports whether the peer is currently typing.
func (p *PresenceTracker) PeerTyping(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.peer[conversationID]
	return st != nil && st.active
}

// CancelAll stops every pending timer and clears all typing state without
// emitting signals. Called on disconnect and teardown.
func (p *PresenceTracker) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.self {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	for _, st := range p.peer {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	p.self = make(map[string]*typingState)
	p.peer = make(map[string]*typingState)
}
