package chatsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paydesk/finchat/internal/domain"
	"github.com/paydesk/finchat/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent", "json")
}

func confirmedMsg(serverID, conv, body string, sender domain.Role, seq int64) domain.Message {
	return domain.Message{
		ID:             domain.ConfirmedID(serverID),
		ConversationID: conv,
		Body:           body,
		Sender:         sender,
		CreatedAt:      time.Now(),
		Seq:            seq,
	}
}

func TestSendOptimistic_AppendsProvisional(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())

	m, err := rec.SendOptimistic("  hello  ", domain.RoleCustomer)
	require.NoError(t, err)

	assert.False(t, m.ID.Confirmed())
	assert.NotEmpty(t, m.ID.LocalID)
	assert.Equal(t, "hello", m.Body, "body should be trimmed")
	assert.False(t, m.Read)

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, m.ID.Key(), msgs[0].ID.Key())
}

func TestSendOptimistic_RejectsEmptyBody(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())

	_, err := rec.SendOptimistic("   ", domain.RoleCustomer)
	assert.ErrorIs(t, err, ErrEmptyBody)
	assert.Zero(t, rec.Len())
}

func TestOptimisticOrderingStability(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())

	a, err := rec.SendOptimistic("A", domain.RoleCustomer)
	require.NoError(t, err)
	b, err := rec.SendOptimistic("B", domain.RoleCustomer)
	require.NoError(t, err)

	// B's durable write returns first; A's later. Order must not change.
	rec.ConfirmSend(b.ID.LocalID, confirmedMsg("srv-2", "cust-1", "B", domain.RoleCustomer, 2))
	rec.ConfirmSend(a.ID.LocalID, confirmedMsg("srv-1", "cust-1", "A", domain.RoleCustomer, 1))

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "A", msgs[0].Body)
	assert.Equal(t, "B", msgs[1].Body)
	assert.True(t, msgs[0].ID.Confirmed())
	assert.True(t, msgs[1].ID.Confirmed())
}

func TestConfirmSend_PreservesPositionAndIdentity(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())
	rec.ReplaceHistory([]domain.Message{
		confirmedMsg("srv-1", "cust-1", "earlier", domain.RoleAdmin, 1),
	})

	m, err := rec.SendOptimistic("Hi", domain.RoleCustomer)
	require.NoError(t, err)

	serverTime := time.Now().Add(2 * time.Second)
	confirmed := domain.Message{
		ID:             domain.ConfirmedID("srv-42"),
		ConversationID: "cust-1",
		Body:           "Hi",
		Sender:         domain.RoleCustomer,
		CreatedAt:      serverTime,
		Seq:            2,
	}
	rec.ConfirmSend(m.ID.LocalID, confirmed)

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "srv-42", msgs[1].ID.ServerID)
	assert.Equal(t, m.ID.LocalID, msgs[1].ID.LocalID)
	assert.Equal(t, serverTime, msgs[1].CreatedAt)
	assert.Equal(t, int64(2), msgs[1].Seq)
}

func TestConfirmSend_UnknownProvisionalIsNoop(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())
	rec.ConfirmSend("tmp-missing", confirmedMsg("srv-1", "cust-1", "x", domain.RoleCustomer, 1))
	assert.Zero(t, rec.Len())
}

func TestReceiveInbound_AppendsPeerMessage(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())

	rec.ReceiveInbound(confirmedMsg("srv-1", "cust-1", "hello", domain.RoleAdmin, 1))
	rec.ReceiveInbound(confirmedMsg("srv-2", "cust-1", "world", domain.RoleAdmin, 2))

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Equal(t, "world", msgs[1].Body)
}

func TestReceiveInbound_DeduplicatesByServerID(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())

	m := confirmedMsg("srv-1", "cust-1", "hello", domain.RoleAdmin, 1)
	rec.ReceiveInbound(m)
	rec.ReceiveInbound(m)

	assert.Equal(t, 1, rec.Len())
}

func TestReceiveInbound_EchoConfirmsProvisionalInPlace(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())

	m, err := rec.SendOptimistic("Hi", domain.RoleCustomer)
	require.NoError(t, err)

	echo := domain.Message{
		ID:             domain.Identity{LocalID: m.ID.LocalID, ServerID: "srv-42"},
		ConversationID: "cust-1",
		Body:           "Hi",
		Sender:         domain.RoleCustomer,
		CreatedAt:      time.Now(),
		Seq:            1,
	}
	rec.ReceiveInbound(echo)

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-42", msgs[0].ID.ServerID)

	// The late HTTP confirmation is now a no-op.
	rec.ConfirmSend(m.ID.LocalID, echo)
	assert.Equal(t, 1, rec.Len())
}

// The dual-path scenario: optimistic insert, then durable confirmation,
// then the wire broadcast echo. Exactly one entry must remain, under the
// server id, at its optimistic position.
func TestDualPathSend_NoDuplicateRendering(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())
	rec.ReplaceHistory([]domain.Message{
		confirmedMsg("srv-40", "cust-1", "welcome", domain.RoleAdmin, 40),
	})

	m, err := rec.SendOptimistic("Hi", domain.RoleCustomer)
	require.NoError(t, err)

	confirmed := domain.Message{
		ID:             domain.Identity{LocalID: m.ID.LocalID, ServerID: "srv-42"},
		ConversationID: "cust-1",
		Body:           "Hi",
		Sender:         domain.RoleCustomer,
		CreatedAt:      time.Now(),
		Seq:            41,
	}
	rec.ConfirmSend(m.ID.LocalID, confirmed)
	rec.ReceiveInbound(confirmed)

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "srv-42", msgs[1].ID.Key())
	assert.Equal(t, "Hi", msgs[1].Body)
}

func TestRollback_RemovesProvisionalOnly(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())

	a, err := rec.SendOptimistic("keep", domain.RoleCustomer)
	require.NoError(t, err)
	b, err := rec.SendOptimistic("drop", domain.RoleCustomer)
	require.NoError(t, err)

	rec.ConfirmSend(a.ID.LocalID, confirmedMsg("srv-1", "cust-1", "keep", domain.RoleCustomer, 1))
	rec.Rollback(b.ID.LocalID)

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "keep", msgs[0].Body)

	// Rolling back a confirmed entry is a no-op.
	rec.Rollback(a.ID.LocalID)
	assert.Equal(t, 1, rec.Len())
}

func TestReceiveInbound_DropsStaleSequence(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())
	rec.ReplaceHistory([]domain.Message{
		confirmedMsg("srv-1", "cust-1", "one", domain.RoleAdmin, 1),
		confirmedMsg("srv-2", "cust-1", "two", domain.RoleAdmin, 2),
	})

	// A replayed event at seq 2 under a different id must not duplicate.
	rec.ReceiveInbound(confirmedMsg("srv-2b", "cust-1", "two again", domain.RoleAdmin, 2))
	assert.Equal(t, 2, rec.Len())

	rec.ReceiveInbound(confirmedMsg("srv-3", "cust-1", "three", domain.RoleAdmin, 3))
	assert.Equal(t, 3, rec.Len())
}

func TestReplaceHistory_ResetsState(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())
	_, err := rec.SendOptimistic("stale", domain.RoleCustomer)
	require.NoError(t, err)

	rec.ReplaceHistory([]domain.Message{
		confirmedMsg("srv-1", "cust-1", "fresh", domain.RoleAdmin, 1),
	})

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "fresh", msgs[0].Body)
}

func TestMarkRead_MonotonicAndIgnoresUnknown(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())
	rec.ReplaceHistory([]domain.Message{
		confirmedMsg("srv-1", "cust-1", "one", domain.RoleCustomer, 1),
		confirmedMsg("srv-2", "cust-1", "two", domain.RoleCustomer, 2),
	})

	n := rec.MarkRead([]string{"srv-1", "srv-404"})
	assert.Equal(t, 1, n)
	assert.True(t, rec.Messages()[0].Read)

	// Marking again changes nothing; read state never reverts.
	n = rec.MarkRead([]string{"srv-1"})
	assert.Zero(t, n)
	assert.True(t, rec.Messages()[0].Read)
}

func TestMarkPeerRead(t *testing.T) {
	rec := NewReconciler("cust-1", testLogger())
	rec.ReplaceHistory([]domain.Message{
		confirmedMsg("srv-1", "cust-1", "from customer", domain.RoleCustomer, 1),
		confirmedMsg("srv-2", "cust-1", "from admin", domain.RoleAdmin, 2),
	})

	n := rec.MarkPeerRead(domain.RoleCustomer)
	assert.Equal(t, 1, n)

	msgs := rec.Messages()
	assert.True(t, msgs[0].Read)
	assert.False(t, msgs[1].Read, "own messages are not touched")
}
