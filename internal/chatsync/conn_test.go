package chatsync

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paydesk/finchat/internal/domain"
	"github.com/paydesk/finchat/internal/wire"
)

// fakeTransport is an in-memory Transport for driving the connection
// manager and session from tests.
type fakeTransport struct {
	mu      sync.Mutex
	dialErr error
	sendErr error
	dialed  bool
	closed  bool
	sent    []wire.Event
	eventFn func(wire.Event)
	closeFn func(error)
}

func (t *fakeTransport) Dial(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dialErr != nil {
		return t.dialErr
	}
	t.dialed = true
	return nil
}

func (t *fakeTransport) Send(ev wire.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, ev)
	return nil
}

func (t *fakeTransport) OnEvent(fn func(wire.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eventFn = fn
}

func (t *fakeTransport) OnClose(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeFn = fn
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// emit pushes an inbound event to the registered consumer.
func (t *fakeTransport) emit(ev wire.Event) {
	t.mu.Lock()
	fn := t.eventFn
	t.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// drop simulates the transport dying.
func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	fn := t.closeFn
	t.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (t *fakeTransport) sentEvents() []wire.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]wire.Event, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *fakeTransport) sentTypes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	types := make([]string, len(t.sent))
	for i, ev := range t.sent {
		types[i] = ev.Type
	}
	return types
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// transportSeq hands out a new fake transport per connection attempt and
// remembers them all.
type transportSeq struct {
	mu         sync.Mutex
	transports []*fakeTransport
	nextDial   error
}

func (q *transportSeq) factory() Transport {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := &fakeTransport{dialErr: q.nextDial}
	q.transports = append(q.transports, t)
	return t
}

func (q *transportSeq) at(i int) *fakeTransport {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.transports[i]
}

func (q *transportSeq) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.transports)
}

func TestConnect_RunsJoinHandshake(t *testing.T) {
	seq := &transportSeq{}
	c := NewConn(seq.factory, "cust-1", domain.RoleCustomer, testLogger())

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, domain.StateActive, c.State())

	sent := seq.at(0).sentEvents()
	require.NotEmpty(t, sent)
	assert.Equal(t, wire.EventJoin, sent[0].Type)

	var p wire.JoinPayload
	require.NoError(t, sent[0].Decode(&p))
	assert.Equal(t, "cust-1", p.ActorID)
	assert.Equal(t, domain.RoleCustomer, p.Role)
}

func TestConnect_DialFailureEndsDisconnected(t *testing.T) {
	seq := &transportSeq{nextDial: errors.New("refused")}
	c := NewConn(seq.factory, "cust-1", domain.RoleCustomer, testLogger())

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.StateDisconnected, c.State())
	assert.True(t, seq.at(0).isClosed())
}

func TestConnect_TearsDownPriorTransport(t *testing.T) {
	seq := &transportSeq{}
	c := NewConn(seq.factory, "cust-1", domain.RoleCustomer, testLogger())

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	// Singleton connection: the first transport was closed by the second
	// connect, and exactly two were ever dialed.
	assert.Equal(t, 2, seq.count())
	assert.True(t, seq.at(0).isClosed())
	assert.False(t, seq.at(1).isClosed())
	assert.Equal(t, domain.StateActive, c.State())
}

func TestSend_RejectedUnlessActive(t *testing.T) {
	seq := &transportSeq{}
	c := NewConn(seq.factory, "cust-1", domain.RoleCustomer, testLogger())

	ev, err := wire.NewTyping("cust-1", domain.RoleCustomer, true)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Send(ev), ErrNotActive)

	require.NoError(t, c.Connect(context.Background()))
	assert.NoError(t, c.Send(ev))
}

func TestReconnect_ReJoinsBeforeAcceptingSends(t *testing.T) {
	seq := &transportSeq{}
	c := NewConn(seq.factory, "admin-1", domain.RoleAdmin, testLogger())

	require.NoError(t, c.Connect(context.Background()))

	// Transport drops; sends must be rejected until a new join completes.
	seq.at(0).drop(errors.New("connection reset"))
	assert.Equal(t, domain.StateDisconnected, c.State())

	ev, err := wire.NewTyping("cust-1", domain.RoleAdmin, true)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Send(ev), ErrNotActive)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, domain.StateActive, c.State())

	// The new transport carries its own join before anything else.
	types := seq.at(1).sentTypes()
	require.NotEmpty(t, types)
	assert.Equal(t, wire.EventJoin, types[0])
	assert.NoError(t, c.Send(ev))
}

func TestDisconnect_Idempotent(t *testing.T) {
	seq := &transportSeq{}
	c := NewConn(seq.factory, "cust-1", domain.RoleCustomer, testLogger())

	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()
	assert.Equal(t, domain.StateDisconnected, c.State())
	assert.True(t, seq.at(0).isClosed())

	// Safe from any state.
	c.Disconnect()
	assert.Equal(t, domain.StateDisconnected, c.State())
}

func TestStateChangeNotifications(t *testing.T) {
	seq := &transportSeq{}
	c := NewConn(seq.factory, "cust-1", domain.RoleCustomer, testLogger())

	var mu sync.Mutex
	var states []domain.ConnState
	c.OnStateChange(func(s domain.ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.ConnState{
		domain.StateConnecting,
		domain.StateConnected,
		domain.StateActive,
		domain.StateDisconnected,
	}, states)
}

func TestStaleTransportCloseIgnored(t *testing.T) {
	seq := &transportSeq{}
	c := NewConn(seq.factory, "cust-1", domain.RoleCustomer, testLogger())

	require.NoError(t, c.Connect(context.Background()))
	old := seq.at(0)
	require.NoError(t, c.Connect(context.Background()))

	// A close callback from the replaced transport must not disturb the
	// live connection.
	old.drop(errors.New("late close"))
	assert.Equal(t, domain.StateActive, c.State())
}
