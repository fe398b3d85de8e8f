package app

import (
	"time"

	"houseportal/config"
	"houseportal/control"
	"houseportal/peer"
	"houseportal/redirect"
	"houseportal/transport"
)

// GossipInterval is how often the Portal broadcasts its PEER message.
const GossipInterval = 30 * time.Second

// PortalEngine is the Portal's domain state: the redirection and peer
// tables plus everything needed to apply inbound control messages and
// drive periodic maintenance (spec sections 4.C/4.D/5). Its Handler is
// meant to be the sole consumer of an Engine's mailbox.
type PortalEngine struct {
	Redirect *redirect.Table
	Peer     *peer.Table
	Keys     control.KeySet

	self       string
	tr         *transport.Transport
	now        func() int64
	lastGossip time.Time
}

// NewPortalEngine creates a PortalEngine for a Portal known to its peers as
// self, sending gossip and unresolvable-redirect-free traffic over tr. now
// lets tests control the clock; pass nil in production for the wall clock.
func NewPortalEngine(self string, tr *transport.Transport, keys control.KeySet, now func() int64) *PortalEngine {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &PortalEngine{
		Redirect: redirect.New(now),
		Peer:     peer.New(self, now),
		Keys:     keys,
		self:     self,
		tr:       tr,
		now:      now,
	}
}

// Handler adapts PortalEngine to the generic Engine's mailbox.
func (p *PortalEngine) Handler() Handler {
	return func(msg interface{}) {
		switch m := msg.(type) {
		case transport.Packet:
			p.handlePacket(m)
		case Tick:
			p.handleTick(m)
		case *config.File:
			p.ReloadConfig(m)
		}
	}
}

// LoadConfig applies a config.File's static peers and permanent redirects.
// Call once at startup, and again (after ReloadConfig's DeprecateAll) on
// every successful config reload.
func (p *PortalEngine) LoadConfig(f *config.File) {
	p.Keys = f.Keys
	for _, addr := range f.Peers {
		if err := p.Peer.AddStatic(addr.Host); err != nil {
			log.Warnf("static peer %s rejected: %v", addr.Host, err)
		}
	}
	for _, rm := range f.Redirects {
		for _, path := range rm.Paths {
			if err := p.Redirect.AddOrRenew(rm.Target, rm.Hide, rm.PID, path.Service, path.Path, false); err != nil {
				log.Warnf("permanent redirect %s rejected: %v", path.Path, err)
			}
		}
	}
}

// ReloadConfig tombstones every permanent redirect before reapplying f, so
// an entry the new file no longer names is reaped on the next tick instead
// of lingering (spec section 5's reload rule).
func (p *PortalEngine) ReloadConfig(f *config.File) {
	p.Redirect.DeprecateAll()
	p.LoadConfig(f)
}

func (p *PortalEngine) handlePacket(pkt transport.Packet) {
	msg, err := control.ParseLive(pkt.Data, p.Keys)
	if err != nil {
		log.Warnf("dropping malformed control message from %s: %v", pkt.From, err)
		return
	}
	switch msg.Keyword {
	case control.KeywordRedirect:
		p.applyRedirect(msg.Redirect)
	case control.KeywordPeer:
		for _, addr := range msg.Peer.Peers {
			if err := p.Peer.Observe(addr, redirect.RedirectLifetime); err != nil {
				log.Warnf("peer table rejected %s: %v", addr.Host, err)
			}
		}
	}
}

func (p *PortalEngine) applyRedirect(rm *control.RedirectMessage) {
	for _, path := range rm.Paths {
		if err := p.Redirect.AddOrRenew(rm.Target, rm.Hide, rm.PID, path.Service, path.Path, true); err != nil {
			log.Warnf("redirect table rejected %s: %v", path.Path, err)
		}
	}
}

func (p *PortalEngine) handleTick(t Tick) {
	now := p.now()
	p.Redirect.Reap(now, nil)
	p.Peer.Expire(now)
	if t.At.Sub(p.lastGossip) >= GossipInterval {
		p.lastGossip = t.At
		p.sendGossip()
	}
}

func (p *PortalEngine) sendGossip() {
	msg := &control.Message{Keyword: control.KeywordPeer, Peer: &control.PeerMessage{Peers: p.Peer.Gossip()}}
	line, err := control.SerializeLive(msg, p.now(), p.Keys)
	if err != nil {
		log.Warnf("gossip serialize failed: %v", err)
		return
	}
	if err := p.tr.SendBroadcast([]byte(line)); err != nil {
		log.Warnf("gossip broadcast failed: %v", err)
	}
	for _, name := range p.Peer.StaticNames() {
		if err := p.tr.SendUnicast(name, []byte(line)); err != nil {
			log.Warnf("gossip unicast to %s failed: %v", name, err)
		}
	}
}
