package chatsync

import (
	"context"

	"github.com/paydesk/finchat/internal/domain"
	"github.com/paydesk/finchat/internal/logging"
)

// ReadMarker is the durable mark-read collaborator. It returns the server
// ids of the messages the gateway marked read.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID string) ([]string, error)
}

// ReceiptTracker applies read state in both directions: marking inbound
// peer messages read when the conversation is in view, and reflecting peer
// read acknowledgements on outbound messages. Read state is monotonic:
// once true it never reverts.
type ReceiptTracker struct {
	marker ReadMarker
	log    *logging.Logger
}

// NewReceiptTracker creates a tracker using the given durable collaborator.
func NewReceiptTracker(marker ReadMarker, log *logging.Logger) *ReceiptTracker {
	return &ReceiptTracker{marker: marker, log: log.Sub("receipts")}
}

// MarkConversationRead locally sets read on all peer-authored messages and
// issues the durable mark-read request on a separate goroutine, so the
// visible effect never waits on the network. A durable failure is logged
// and never reverts local state. Returns the number of messages newly
// marked locally.
func (t *ReceiptTracker) MarkConversationRead(ctx context.Context, rec *Reconciler, viewer domain.Role) int {
	n := rec.MarkPeerRead(viewer.Peer())
	if n > 0 {
		t.log.Debug().
			Str("conversationId", rec.ConversationID()).
			Int("count", n).
			Msg("marked peer messages read")
	}

	conversationID := rec.ConversationID()
	go func() {
		if _, err := t.marker.MarkRead(ctx, conversationID); err != nil {
			t.log.Warn().Err(err).
				Str("conversationId", conversationID).
				Msg("durable mark-read failed")
		}
	}()
	return n
}

// OnPeerReadAck applies an inbound acknowledgement that the peer read the
// given messages. Unknown ids are ignored; they legitimately occur across
// conversation switches.
func (t *ReceiptTracker) OnPeerReadAck(rec *Reconciler, serverIDs []string) {
	if rec == nil {
		return
	}
	n := rec.MarkRead(serverIDs)
	if n > 0 {
		t.log.Debug().
			Str("conversationId", rec.ConversationID()).
			Int("count", n).
			Msg("peer read acknowledged")
	}
}
