package chatsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// typingRecorder captures emitted typing signals.
type typingRecorder struct {
	mu      sync.Mutex
	signals []bool
}

func (r *typingRecorder) emit(_ string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, isTyping)
}

func (r *typingRecorder) all() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.signals))
	copy(out, r.signals)
	return out
}

func TestOnLocalInput_DebouncesBurst(t *testing.T) {
	rec := &typingRecorder{}
	p := NewPresenceTracker(50*time.Millisecond, rec.emit, testLogger())

	// A burst of keystrokes produces exactly one "started" signal.
	for i := 0; i < 10; i++ {
		p.OnLocalInput("cust-1")
	}

	assert.Equal(t, []bool{true}, rec.all())
	assert.True(t, p.SelfTyping("cust-1"))

	// Silence produces exactly one "stopped" signal.
	require.Eventually(t, func() bool {
		return !p.SelfTyping("cust-1")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.all())
}

func TestOnLocalInput_NewBurstAfterExpiry(t *testing.T) {
	rec := &typingRecorder{}
	p := NewPresenceTracker(30*time.Millisecond, rec.emit, testLogger())

	p.OnLocalInput("cust-1")
	require.Eventually(t, func() bool {
		return !p.SelfTyping("cust-1")
	}, time.Second, 5*time.Millisecond)

	p.OnLocalInput("cust-1")
	assert.True(t, p.SelfTyping("cust-1"))

	signals := rec.all()
	require.Len(t, signals, 3)
	assert.Equal(t, []bool{true, false, true}, signals)
}

func TestStopLocalInput_EmitsStoppedOnce(t *testing.T) {
	rec := &typingRecorder{}
	p := NewPresenceTracker(time.Minute, rec.emit, testLogger())

	p.OnLocalInput("cust-1")
	p.StopLocalInput("cust-1")
	p.StopLocalInput("cust-1")

	assert.Equal(t, []bool{true, false}, rec.all())
	assert.False(t, p.SelfTyping("cust-1"))
}

func TestPeerTyping_AutoExpiry(t *testing.T) {
	p := NewPresenceTracker(30*time.Millisecond, nil, testLogger())

	var mu sync.Mutex
	var changes []bool
	p.OnPeerChange(func(_ string, typing bool) {
		mu.Lock()
		changes = append(changes, typing)
		mu.Unlock()
	})

	// A lost "stopped" event must not leave the flag stuck.
	p.OnPeerTypingStarted("cust-1")
	assert.True(t, p.PeerTyping("cust-1"))

	require.Eventually(t, func() bool {
		return !p.PeerTyping("cust-1")
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, changes)
}

func TestPeerTyping_ExplicitStop(t *testing.T) {
	p := NewPresenceTracker(time.Minute, nil, testLogger())

	p.OnPeerTypingStarted("cust-1")
	p.OnPeerTypingStopped("cust-1")
	assert.False(t, p.PeerTyping("cust-1"))

	// Stopping again is harmless.
	p.OnPeerTypingStopped("cust-1")
	assert.False(t, p.PeerTyping("cust-1"))
}

func TestPeerTyping_PerConversation(t *testing.T) {
	p := NewPresenceTracker(time.Minute, nil, testLogger())

	p.OnPeerTypingStarted("cust-1")
	p.OnPeerTypingStarted("cust-2")
	p.OnPeerTypingStopped("cust-1")

	assert.False(t, p.PeerTyping("cust-1"))
	assert.True(t, p.PeerTyping("cust-2"))
}

func TestCancelAll_ClearsStateWithoutEmitting(t *testing.T) {
	rec := &typingRecorder{}
	p := NewPresenceTracker(30*time.Millisecond, rec.emit, testLogger())

	p.OnLocalInput("cust-1")
	p.OnPeerTypingStarted("cust-2")
	p.CancelAll()

	assert.False(t, p.SelfTyping("cust-1"))
	assert.False(t, p.PeerTyping("cust-2"))

	// No expiry signal fires after teardown.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []bool{true}, rec.all())
}

func TestDefaultTypingTimeout(t *testing.T) {
	p := NewPresenceTracker(0, nil, testLogger())
	assert.Equal(t, DefaultTypingTimeout, p.timeout)
}
