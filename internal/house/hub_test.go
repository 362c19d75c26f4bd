package house

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/distributed-auction-network/internal/protocol"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewSession(protocol.NewCodec(server))
}

func drainOne(t *testing.T, s *Session) (protocol.Message, bool) {
	t.Helper()
	select {
	case msg := <-s.out:
		return msg, true
	default:
		return protocol.Message{}, false
	}
}

func TestHubNotifyRoutesByAccount(t *testing.T) {
	hub := NewHub(zap.NewNop())
	s := newTestSession(t)
	hub.Bind(s, 1000)

	hub.Notify(1000, protocol.BidStatusNotification{ItemID: 1, Status: protocol.BidOutbid})
	msg, ok := drainOne(t, s)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeBidStatus, msg.Type)

	// Nothing is queued for accounts without a session.
	hub.Notify(9999, protocol.BidStatusNotification{ItemID: 1, Status: protocol.BidOutbid})
	_, ok = drainOne(t, s)
	assert.False(t, ok)
}

func TestHubRebindReleasesOldAccount(t *testing.T) {
	hub := NewHub(zap.NewNop())
	s := newTestSession(t)

	// The connection first identifies as 1000, then as 1001.
	hub.Bind(s, 1000)
	hub.Bind(s, 1001)

	// The old id no longer routes to this connection.
	hub.Notify(1000, protocol.BidStatusNotification{ItemID: 1, Status: protocol.BidWinner})
	_, ok := drainOne(t, s)
	assert.False(t, ok)

	hub.Notify(1001, protocol.BidStatusNotification{ItemID: 1, Status: protocol.BidWinner})
	_, ok = drainOne(t, s)
	assert.True(t, ok)
}

func TestHubBindReplacesPriorConnection(t *testing.T) {
	hub := NewHub(zap.NewNop())
	old := newTestSession(t)
	fresh := newTestSession(t)

	hub.Bind(old, 1000)
	hub.Bind(fresh, 1000)

	assert.True(t, old.Closed())
	hub.Notify(1000, protocol.BidStatusNotification{ItemID: 1, Status: protocol.BidOutbid})
	_, ok := drainOne(t, fresh)
	assert.True(t, ok)
}

func TestHubBroadcastPrunesDeadSessions(t *testing.T) {
	hub := NewHub(zap.NewNop())
	live := newTestSession(t)
	dead := newTestSession(t)
	hub.Bind(live, 1000)
	hub.Bind(dead, 1001)
	dead.close()

	hub.Broadcast(protocol.BidStatusNotification{ItemID: 1, Status: protocol.BidItemSold})
	_, ok := drainOne(t, live)
	assert.True(t, ok)
	assert.Equal(t, 1, hub.count())
}
