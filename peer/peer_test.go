package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"houseportal/control"
)

func clockAt(t int64) func() int64 { return func() int64 { return t } }

func TestStaticPeerNeverDowngraded(t *testing.T) {
	tab := New("self", clockAt(0))
	require.NoError(t, tab.AddStatic("peerA"))
	require.NoError(t, tab.Observe(control.PeerAddr{Host: "peerA", Explicit: true, Expiration: 100}, 180))

	snap := tab.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(0), snap[0].Expiration, "static peer must stay permanent")
}

func TestExpirationMonotonic(t *testing.T) {
	tab := New("self", clockAt(0))
	require.NoError(t, tab.Observe(control.PeerAddr{Host: "peerA", Explicit: true, Expiration: 200}, 180))
	require.NoError(t, tab.Observe(control.PeerAddr{Host: "peerA", Explicit: true, Expiration: 100}, 180))

	assert.Equal(t, int64(200), tab.Snapshot()[0].Expiration, "an older lease must not roll back a newer one")

	require.NoError(t, tab.Observe(control.PeerAddr{Host: "peerA", Explicit: true, Expiration: 300}, 180))
	assert.Equal(t, int64(300), tab.Snapshot()[0].Expiration)
}

func TestSelfNeverInserted(t *testing.T) {
	tab := New("self", clockAt(0))
	require.NoError(t, tab.AddStatic("self"))
	require.NoError(t, tab.Observe(control.PeerAddr{Host: "self", Explicit: true, Expiration: 100}, 180))
	assert.Empty(t, tab.Snapshot())
}

func TestExpireEmitsOnceThenRecover(t *testing.T) {
	clock := int64(0)
	tab := New("self", func() int64 { return clock })
	require.NoError(t, tab.Observe(control.PeerAddr{Host: "peerA", Explicit: true, Expiration: 100}, 180))

	clock = 101
	tab.Expire(clock)
	assert.Equal(t, int64(1), tab.Snapshot()[0].Expiration)

	tab.Expire(clock) // idempotent: no panic, no duplicate event
	assert.Equal(t, int64(1), tab.Snapshot()[0].Expiration)

	clock = 200
	require.NoError(t, tab.Observe(control.PeerAddr{Host: "peerA", Explicit: true, Expiration: 400}, 180))
	assert.Equal(t, int64(400), tab.Snapshot()[0].Expiration)
}

func TestGossipIncludesSelfAndPeers(t *testing.T) {
	tab := New("self", clockAt(0))
	require.NoError(t, tab.AddStatic("peerA"))
	addrs := tab.Gossip()
	require.Len(t, addrs, 2)
	assert.Equal(t, "self", addrs[0].Host)
}
