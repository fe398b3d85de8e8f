// Package register implements the client-side registration API (spec
// section 4.E): a service process packs its (port, PID, paths) into signed
// REDIRECT datagrams and renews them periodically against its local Portal.
package register

import (
	"fmt"
	"os"
	"time"

	"houseportal/control"
	"houseportal/houselog"
	"houseportal/transport"
)

// RenewInterval is how often a registered path set is re-sent.
const RenewInterval = 30 * time.Second

// MaxDatagramPayload bounds the size of each REDIRECT datagram, including
// its header and the room kept for an appended signature suffix.
const MaxDatagramPayload = 1400

var log = houselog.For("register")

// Path is one local route this process wants the Portal to publish.
type Path struct {
	Service string
	Path    string
	Hide    bool
}

// Client registers a set of paths with a local Portal and renews them on a
// timer. Host/Port is the externally reachable address (after any
// -portal-map port rewrite and host substitution, spec 4.E); Portal is the
// Portal's UDP control address ("host:port").
type Client struct {
	Portal string
	Host   string // empty for a local Portal: only the port is advertised
	Port   int
	PID    int
	Keys   control.KeySet

	tr    *transport.Transport
	paths []Path
	stop  chan struct{}
}

// New creates a registration Client. tr is the caller's own UDP transport
// (typically opened on an ephemeral port purely to unicast to the Portal).
func New(tr *transport.Transport, portal string, host string, port int, keys control.KeySet) *Client {
	return &Client{
		Portal: portal,
		Host:   host,
		Port:   port,
		PID:    os.Getpid(),
		Keys:   keys,
		tr:     tr,
		stop:   make(chan struct{}),
	}
}

// Register adds paths to the set this client advertises. Safe to call
// before or after Start.
func (c *Client) Register(paths ...Path) {
	c.paths = append(c.paths, paths...)
}

// target is the "host:port" or bare "port" token advertised in REDIRECT,
// per spec 4.E host substitution rule.
func (c *Client) target() string {
	if c.Host == "" {
		return fmt.Sprintf("%d", c.Port)
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SendOnce packs the registered paths into one or more REDIRECT datagrams
// and unicasts them to the Portal immediately.
func (c *Client) SendOnce() error {
	ts := time.Now().Unix()
	// Header "REDIRECT <ts> <target> HIDE PID:<pid>" plus " <method> <8-hex sig>".
	overhead := len(fmt.Sprintf("%s %d %s HIDE PID:%d", control.KeywordRedirect, ts, c.target(), c.PID)) +
		len(" "+control.MethodSHA256+" ") + 8
	for _, batch := range packBatches(c.paths, MaxDatagramPayload-overhead) {
		msg := &control.Message{Keyword: control.KeywordRedirect, Redirect: &control.RedirectMessage{
			Target: c.target(),
			PID:    c.PID,
			Hide:   batch.hide,
			Paths:  batch.paths,
		}}
		line, err := control.SerializeLive(msg, ts, c.Keys)
		if err != nil {
			return err
		}
		if err := c.tr.SendUnicast(c.Portal, []byte(line)); err != nil {
			log.Warnf("registration send to %s failed: %v", c.Portal, err)
			return err
		}
	}
	return nil
}

// Start renews the registration every RenewInterval until Stop is called.
func (c *Client) Start() {
	go func() {
		ticker := time.NewTicker(RenewInterval)
		defer ticker.Stop()
		if err := c.SendOnce(); err != nil {
			log.Warnf("initial registration failed: %v", err)
		}
		for {
			select {
			case <-ticker.C:
				if err := c.SendOnce(); err != nil {
					log.Warnf("registration renewal failed: %v", err)
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop ends the renewal loop.
func (c *Client) Stop() { close(c.stop) }

// batch is one outgoing datagram's worth of paths. HIDE applies to the
// whole message, so hidden and visible paths are never mixed in one batch.
type batch struct {
	hide  bool
	paths []control.RedirectPath
}

// packBatches groups paths into datagrams whose encoded path tokens fit in
// limit bytes, splitting hidden and visible paths into separate datagrams.
func packBatches(paths []Path, limit int) []batch {
	var hidden, visible []control.RedirectPath
	for _, p := range paths {
		rp := control.RedirectPath{Service: p.Service, Path: p.Path}
		if p.Hide {
			hidden = append(hidden, rp)
		} else {
			visible = append(visible, rp)
		}
	}
	var out []batch
	for _, chunk := range chunkBySize(visible, limit) {
		out = append(out, batch{hide: false, paths: chunk})
	}
	for _, chunk := range chunkBySize(hidden, limit) {
		out = append(out, batch{hide: true, paths: chunk})
	}
	return out
}

func chunkBySize(paths []control.RedirectPath, limit int) [][]control.RedirectPath {
	if len(paths) == 0 {
		return nil
	}
	var out [][]control.RedirectPath
	var cur []control.RedirectPath
	size := 0
	for _, p := range paths {
		tokenLen := len(p.Path) + len(p.Service) + 2
		if size+tokenLen > limit && len(cur) > 0 {
			out = append(out, cur)
			cur = nil
			size = 0
		}
		cur = append(cur, p)
		size += tokenLen
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
