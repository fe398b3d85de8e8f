// Package transport implements the multi-interface IPv4/IPv6 UDP transport:
// one unicast listener plus one broadcast-capable socket per non-loopback
// interface, matching spec section 4.A. Bind failures at startup are
// retried on a 30s ticker rather than treated as fatal; only a failure of
// every attempted socket operation on an already-bound transport surfaces
// as houseerr.ErrTransportUnavailable.
package transport

import (
	"net"
	"sync"
	"time"

	"houseportal/houseerr"
	"houseportal/houselog"
)

const (
	bufferSize  = 256 * 1024
	retryPeriod = 30 * time.Second
)

var log = houselog.For("transport")

// Packet is one received UDP datagram, handed to the caller's handler.
type Packet struct {
	Data []byte
	From *net.UDPAddr
}

type broadcastSocket struct {
	iface     string
	conn      *net.UDPConn
	broadcast *net.UDPAddr
}

// Transport owns the Portal's UDP sockets. It is safe to construct once per
// process; Send* methods may be called from any goroutine, but received
// packets are always delivered to a single handler so that whatever owns
// Transport can push them into its single-worker event loop.
type Transport struct {
	mu        sync.RWMutex
	port      int
	localOnly bool
	v4        *net.UDPConn
	v6        *net.UDPConn
	bcast     []*broadcastSocket
	stop      chan struct{}
	stopOnce  sync.Once
}

// Open starts a Transport listening on port. enableV6 additionally opens an
// IPv6 unicast listener (best effort; its absence is not fatal). localOnly
// mirrors the config file's LOCAL directive: no broadcast sockets are opened
// and SendBroadcast is a no-op. Unicast sends are not affected, and the
// listeners bind to every local address, not only to loopback.
func Open(port int, localOnly bool, enableV6 bool) *Transport {
	t := &Transport{port: port, localOnly: localOnly, stop: make(chan struct{})}
	if err := t.bind(enableV6); err != nil {
		log.Warnf("initial bind on port %d failed, retrying every 30s: %v", port, err)
		go t.retryLoop(enableV6)
	}
	return t
}

func (t *Transport) retryLoop(enableV6 bool) {
	ticker := time.NewTicker(retryPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.bind(enableV6); err == nil {
				log.Infof("bind on port %d succeeded after retry", t.port)
				return
			}
		case <-t.stop:
			return
		}
	}
}

func (t *Transport) bind(enableV6 bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.v4 != nil {
		return nil
	}
	v4, err := net.ListenUDP("udp4", &net.UDPAddr{Port: t.port})
	if err != nil {
		return err
	}
	_ = v4.SetReadBuffer(bufferSize)
	_ = v4.SetWriteBuffer(bufferSize)
	t.v4 = v4

	if enableV6 {
		if v6, err := net.ListenUDP("udp6", &net.UDPAddr{Port: t.port}); err == nil {
			_ = v6.SetReadBuffer(bufferSize)
			_ = v6.SetWriteBuffer(bufferSize)
			t.v6 = v6
		} else {
			log.Warnf("IPv6 listener unavailable, continuing on IPv4 only: %v", err)
		}
	}

	if !t.localOnly {
		t.bcast = openBroadcastSockets(t.port)
	}
	return nil
}

// Bound reports whether the unicast listener is up.
func (t *Transport) Bound() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.v4 != nil
}

// Close releases every socket and stops the retry loop, if any.
func (t *Transport) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.v4 != nil {
		t.v4.Close()
	}
	if t.v6 != nil {
		t.v6.Close()
	}
	for _, b := range t.bcast {
		b.conn.Close()
	}
}

// SendBroadcast emits data on every interface's directed broadcast address.
// A no-op in LOCAL mode. Returns houseerr.ErrTransportUnavailable only if
// every interface socket failed to send (and at least one was attempted).
func (t *Transport) SendBroadcast(data []byte) error {
	if t.localOnly {
		return nil
	}
	t.mu.RLock()
	sockets := t.bcast
	t.mu.RUnlock()
	if len(sockets) == 0 {
		return nil
	}
	failures := 0
	for _, b := range sockets {
		if _, err := b.conn.WriteToUDP(data, b.broadcast); err != nil {
			log.Warnf("broadcast send on %s failed: %v", b.iface, err)
			failures++
		}
	}
	if failures == len(sockets) {
		return houseerr.ErrTransportUnavailable
	}
	return nil
}

// SendUnicast resolves hostport and emits data on the matching-family socket.
func (t *Transport) SendUnicast(hostport string, data []byte) error {
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return houseerr.ErrTransportUnavailable
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	conn := t.v4
	if addr.IP.To4() == nil && t.v6 != nil {
		conn = t.v6
	}
	if conn == nil {
		return houseerr.ErrTransportUnavailable
	}
	if _, err := conn.WriteToUDP(data, addr); err != nil {
		return houseerr.ErrTransportUnavailable
	}
	return nil
}

// Serve reads datagrams from every bound listener until Close is called,
// invoking handler for each. handler is expected to do nothing more than
// hand the packet to a single-worker engine (spec section 5); it must not
// block for long or further reads stall.
func (t *Transport) Serve(handler func(Packet)) {
	t.mu.RLock()
	v4, v6 := t.v4, t.v6
	t.mu.RUnlock()
	var wg sync.WaitGroup
	if v4 != nil {
		wg.Add(1)
		go func() { defer wg.Done(); readLoop(v4, t.stop, handler) }()
	}
	if v6 != nil {
		wg.Add(1)
		go func() { defer wg.Done(); readLoop(v6, t.stop, handler) }()
	}
	wg.Wait()
}

func readLoop(conn *net.UDPConn, stop <-chan struct{}, handler func(Packet)) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-stop:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-stop:
				return
			default:
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		handler(Packet{Data: data, From: from})
	}
}

func openBroadcastSockets(port int) []*broadcastSocket {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Warnf("cannot enumerate interfaces: %v", err)
		return nil
	}
	var sockets []*broadcastSocket
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			bcastIP := directedBroadcast(ipNet)
			if bcastIP == nil {
				continue
			}
			conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
			if err != nil {
				log.Warnf("broadcast socket on %s failed, skipping: %v", iface.Name, err)
				continue
			}
			sockets = append(sockets, &broadcastSocket{
				iface:     iface.Name,
				conn:      conn,
				broadcast: &net.UDPAddr{IP: bcastIP, Port: port},
			})
		}
	}
	return sockets
}

func directedBroadcast(ipNet *net.IPNet) net.IP {
	ip4 := ipNet.IP.To4()
	mask := ipNet.Mask
	if len(mask) != 4 || ip4 == nil {
		return nil
	}
	bcast := make(net.IP, 4)
	for i := range bcast {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast
}
