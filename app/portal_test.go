package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseportal/config"
	"houseportal/control"
	"houseportal/transport"
)

func TestHandlePacketAppliesRedirect(t *testing.T) {
	fakeNow := int64(1000)
	p := NewPortalEngine("portal.lan", nil, nil, func() int64 { return fakeNow })
	handler := p.Handler()

	line, err := control.SerializeLive(&control.Message{
		Keyword: control.KeywordRedirect,
		Redirect: &control.RedirectMessage{
			Target: "127.0.0.1:9001",
			Paths:  []control.RedirectPath{{Service: "web", Path: "/shop"}},
		},
	}, fakeNow, nil)
	require.NoError(t, err)

	handler(transport.Packet{Data: []byte(line)})

	e := p.Redirect.Resolve("/shop/item")
	require.NotNil(t, e)
	assert.Equal(t, "127.0.0.1:9001", e.Target)
}

func TestHandlePacketAppliesPeerGossip(t *testing.T) {
	fakeNow := int64(1000)
	p := NewPortalEngine("portal.lan", nil, nil, func() int64 { return fakeNow })
	handler := p.Handler()

	line, err := control.SerializeLive(&control.Message{
		Keyword: control.KeywordPeer,
		Peer:    &control.PeerMessage{Peers: []control.PeerAddr{{Host: "peer2.lan", Explicit: true, Expiration: fakeNow + 60}}},
	}, fakeNow, nil)
	require.NoError(t, err)

	handler(transport.Packet{Data: []byte(line)})

	snap := p.Peer.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "peer2.lan", snap[0].Name)
}

func TestHandlePacketDropsMalformedSilently(t *testing.T) {
	p := NewPortalEngine("portal.lan", nil, nil, nil)
	handler := p.Handler()
	assert.NotPanics(t, func() {
		handler(transport.Packet{Data: []byte("garbage")})
	})
}

func TestHandleTickReapsExpiredEntries(t *testing.T) {
	fakeNow := int64(1000)
	tr := transport.Open(19090, true, false)
	defer tr.Close()
	p := NewPortalEngine("portal.lan", tr, nil, func() int64 { return fakeNow })
	require.NoError(t, p.Redirect.AddOrRenew("127.0.0.1:9001", false, 0, "web", "/shop", true))

	fakeNow += redirectLifetimeForTest + 1
	p.handleTick(Tick{At: time.Unix(fakeNow, 0)})

	assert.Nil(t, p.Redirect.Resolve("/shop/item"))
}

const redirectLifetimeForTest = 180

func TestLoadConfigAppliesStaticPeersAndPermanentRedirects(t *testing.T) {
	p := NewPortalEngine("portal.lan", nil, nil, nil)
	f := &config.File{
		Peers: []control.PeerAddr{{Host: "peer2.lan"}},
		Redirects: []*control.RedirectMessage{
			{Target: "127.0.0.1:9001", Paths: []control.RedirectPath{{Service: "web", Path: "/shop"}}},
		},
	}
	p.LoadConfig(f)

	snap := p.Peer.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Static())

	e := p.Redirect.Resolve("/shop")
	require.NotNil(t, e)
	assert.True(t, e.Permanent())
}

func TestReloadConfigDropsRemovedPermanentEntries(t *testing.T) {
	fakeNow := int64(1000)
	p := NewPortalEngine("portal.lan", nil, nil, func() int64 { return fakeNow })
	p.LoadConfig(&config.File{
		Redirects: []*control.RedirectMessage{
			{Target: "127.0.0.1:9001", Paths: []control.RedirectPath{{Path: "/old"}}},
		},
	})
	require.NotNil(t, p.Redirect.Resolve("/old"))

	p.ReloadConfig(&config.File{
		Redirects: []*control.RedirectMessage{
			{Target: "127.0.0.1:9002", Paths: []control.RedirectPath{{Path: "/new"}}},
		},
	})
	assert.NotNil(t, p.Redirect.Resolve("/new"))

	fakeNow++
	p.Redirect.Reap(fakeNow, nil)
	assert.Nil(t, p.Redirect.Resolve("/old"), "entry dropped from the new config must be reaped")
}
