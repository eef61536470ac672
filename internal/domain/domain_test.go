package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRolePeer(t *testing.T) {
	assert.Equal(t, RoleAdmin, RoleCustomer.Peer())
	assert.Equal(t, RoleCustomer, RoleAdmin.Peer())
}

func TestIdentityKey(t *testing.T) {
	prov := ProvisionalID("tmp-1")
	assert.False(t, prov.Confirmed())
	assert.Equal(t, "tmp-1", prov.Key())

	conf := ConfirmedID("srv-42")
	assert.True(t, conf.Confirmed())
	assert.Equal(t, "srv-42", conf.Key())

	// Server id wins once both are present
	both := Identity{LocalID: "tmp-1", ServerID: "srv-42"}
	assert.True(t, both.Confirmed())
	assert.Equal(t, "srv-42", both.Key())
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "active", StateActive.String())
}

func TestRosterEntryMatches(t *testing.T) {
	entry := &RosterEntry{
		ConversationID: "cust-17",
		DisplayName:    "Dana Whitmore",
		Email:          "dana@example.com",
		UpdatedAt:      time.Now(),
	}

	assert.True(t, entry.Matches(""))
	assert.True(t, entry.Matches("dana"))
	assert.True(t, entry.Matches("WHIT"))
	assert.True(t, entry.Matches("example.com"))
	assert.True(t, entry.Matches("cust-17"))
	assert.False(t, entry.Matches("zebra"))
}
