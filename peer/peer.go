// Package peer tracks the Portals participating in gossip: the statically
// configured ones (permanent) and the ones learned from inbound PEER
// messages (leased), per spec section 4.D.
package peer

import (
	"sort"
	"sync"

	"houseportal/control"
	"houseportal/houseerr"
	"houseportal/houselog"
)

// MaxPeers bounds the table; additions beyond this are dropped (spec 4.D).
const MaxPeers = 128

var log = houselog.For("peer")

// Peer is one known Portal.
type Peer struct {
	Name       string
	Expiration int64 // 0 = static/permanent, 1 = tombstoned, else live lease
}

func (p *Peer) Static() bool { return p.Expiration == 0 }

// Table is the process-owned peer table, touched only from the single
// event-loop worker.
type Table struct {
	mu    sync.RWMutex
	self  string
	peers map[string]*Peer
	now   func() int64
}

// New creates a table that suppresses self as a loopback guard (spec 4.D:
// "a Portal's own host name must never be inserted as a peer").
func New(self string, now func() int64) *Table {
	return &Table{self: self, peers: make(map[string]*Peer), now: now}
}

// AddStatic registers a permanently-known peer from the config file.
func (t *Table) AddStatic(name string) error {
	if name == t.self {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[name]; !ok && len(t.peers) >= MaxPeers {
		log.Warnf("peer table full (%d), dropping static peer %s", MaxPeers, name)
		return houseerr.ErrTableFull
	}
	t.peers[name] = &Peer{Name: name, Expiration: 0}
	return nil
}

// Observe applies one gossiped PeerAddr, honoring the monotonic-expiry and
// permanent-never-downgraded invariants (spec section 3/4.D).
func (t *Table) Observe(addr control.PeerAddr, defaultLease int64) error {
	if addr.Host == t.self {
		return nil
	}
	lease := addr.Expiration
	if !addr.Explicit {
		lease = 0 // bare name: advertised as permanent
	} else if lease <= t.now() {
		lease = t.now() + defaultLease
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	existing, ok := t.peers[addr.Host]
	if !ok {
		if len(t.peers) >= MaxPeers {
			log.Warnf("peer table full (%d), dropping %s", MaxPeers, addr.Host)
			return houseerr.ErrTableFull
		}
		t.peers[addr.Host] = &Peer{Name: addr.Host, Expiration: lease}
		return nil
	}
	if existing.Static() {
		return nil // invariant: static peer never downgraded by gossip
	}
	if lease == 0 {
		existing.Expiration = 0
		return nil
	}
	wasTombstoned := existing.Expiration == 1
	if lease > existing.Expiration {
		existing.Expiration = lease
		if wasTombstoned {
			log.WithField("peer", addr.Host).Event("PEER/RECOVER", nil)
		}
	}
	return nil
}

// Expire tombstones any live peer whose lease has passed now, emitting
// PEER/EXPIRE exactly once per transition (expiration becomes 1).
func (t *Table) Expire(now int64) {
	t.mu.Lock()
	var expired []string
	for name, p := range t.peers {
		if p.Expiration > 1 && p.Expiration <= now {
			p.Expiration = 1
			expired = append(expired, name)
		}
	}
	t.mu.Unlock()
	sort.Strings(expired)
	for _, name := range expired {
		log.WithField("peer", name).Event("PEER/EXPIRE", nil)
	}
}

// Snapshot returns every known peer name (including tombstoned ones, per
// spec S4: "/portal/peers still lists B until the operator-chosen TTL").
func (t *Table) Snapshot() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StaticNames returns every statically configured peer, used to target
// off-subnet unicast gossip sends (spec 4.D).
func (t *Table) StaticNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for _, p := range t.peers {
		if p.Static() {
			out = append(out, p.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Gossip builds the list of control.PeerAddr values this Portal advertises
// in its periodic PEER broadcast: itself plus every known peer.
func (t *Table) Gossip() []control.PeerAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]control.PeerAddr, 0, len(t.peers)+1)
	out = append(out, control.PeerAddr{Host: t.self, Explicit: false})
	for _, p := range t.peers {
		if p.Static() {
			out = append(out, control.PeerAddr{Host: p.Name, Explicit: false})
		} else {
			out = append(out, control.PeerAddr{Host: p.Name, Explicit: true, Expiration: p.Expiration})
		}
	}
	sort.Slice(out[1:], func(i, j int) bool { return out[i+1].Host < out[j+1].Host })
	return out
}
