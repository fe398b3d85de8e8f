// Package discover implements the two-phase discovery client (spec section
// 4.F): a peer-phase crawl of the local Portal's known peers, and a
// service-phase crawl of every known Portal's redirection list, merged into
// a catalog other client libraries (e.g. depot) consume.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"houseportal/houselog"
)

const (
	// PortalInterval is how often the peer phase polls /portal/peers.
	PortalInterval = 10 * time.Second
	// ServiceInterval is how often the service phase re-crawls every portal.
	ServiceInterval = 120 * time.Second
	// SettleDelay is how long the service phase waits after a new portal is
	// discovered, to let that portal's own services register with it first.
	SettleDelay = 3 * time.Second
	// RequestTimeout bounds every HTTP call this client makes.
	RequestTimeout = 10 * time.Second
)

var log = houselog.For("discover")

type peersResponse struct {
	Host      string `json:"host"`
	Timestamp int64  `json:"timestamp"`
	Portal    struct {
		Peers []string `json:"peers"`
	} `json:"portal"`
}

type listResponse struct {
	Host   string `json:"host"`
	Portal struct {
		Redirect []struct {
			Service string `json:"service"`
			Path    string `json:"path"`
		} `json:"redirect"`
	} `json:"portal"`
}

type urlRecord struct {
	lastSeen  time.Time
	firstSeen time.Time
}

// Catalog is the process-owned discovery state.
type Catalog struct {
	mu         sync.RWMutex
	byURL      map[string]*urlRecord
	byService  map[string]map[string]struct{}
	portalURLs map[string]struct{} // known "http://peer/portal/list" endpoints

	localPortal string
	client      *http.Client
	now         func() time.Time
}

// New creates a Catalog that crawls localPortal ("host:port" of this
// process's own Portal).
func New(localPortal string) *Catalog {
	return &Catalog{
		byURL:       make(map[string]*urlRecord),
		byService:   make(map[string]map[string]struct{}),
		portalURLs:  make(map[string]struct{}),
		localPortal: localPortal,
		client:      &http.Client{Timeout: RequestTimeout},
		now:         time.Now,
	}
}

// Run drives the two-phase crawl until ctx is cancelled.
func (c *Catalog) Run(ctx context.Context) {
	portalTicker := time.NewTicker(PortalInterval)
	defer portalTicker.Stop()
	serviceTicker := time.NewTicker(ServiceInterval)
	defer serviceTicker.Stop()

	c.peerPhase(ctx)
	c.servicePhase(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-portalTicker.C:
			if newPortals := c.peerPhase(ctx); newPortals {
				go func() {
					select {
					case <-time.After(SettleDelay):
						c.servicePhase(ctx)
					case <-ctx.Done():
					}
				}()
			}
		case <-serviceTicker.C:
			c.servicePhase(ctx)
		}
	}
}

// peerPhase fetches /portal/peers from the local Portal, recording every
// peer in the response as a "portal" service each cycle (so a peer's
// lastSeen keeps advancing as long as it's still reported) and returning
// true only for the cycle a portal is first seen.
func (c *Catalog) peerPhase(ctx context.Context) bool {
	url := fmt.Sprintf("http://%s/portal/peers", c.localPortal)
	var resp peersResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		log.Warnf("peer phase: %v", err)
		return false
	}
	newPortal := false
	for _, peer := range resp.Portal.Peers {
		listURL := fmt.Sprintf("http://%s/portal/list", peer)
		c.mu.Lock()
		_, known := c.portalURLs[listURL]
		if !known {
			c.portalURLs[listURL] = struct{}{}
			newPortal = true
		}
		c.mu.Unlock()
		// record every cycle, not just on first sight, so a continuously
		// rediscovered portal's lastSeen keeps advancing past SERVICE_INTERVAL
		c.record("portal", listURL)
	}
	return newPortal
}

// servicePhase fetches /portal/list from every known portal and records
// each service path it advertises.
func (c *Catalog) servicePhase(ctx context.Context) {
	c.mu.RLock()
	urls := make([]string, 0, len(c.portalURLs))
	for u := range c.portalURLs {
		urls = append(urls, u)
	}
	c.mu.RUnlock()

	for _, listURL := range urls {
		var resp listResponse
		if err := c.getJSON(ctx, listURL, &resp); err != nil {
			log.Warnf("service phase: %v", err)
			continue
		}
		for _, item := range resp.Portal.Redirect {
			if item.Service == "" {
				continue
			}
			abs := fmt.Sprintf("http://%s%s", resp.Host, item.Path)
			c.record(item.Service, abs)
		}
	}
}

func (c *Catalog) record(service, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	rec, ok := c.byURL[url]
	if !ok {
		rec = &urlRecord{firstSeen: now}
		c.byURL[url] = rec
	}
	rec.lastSeen = now
	set, ok := c.byService[service]
	if !ok {
		set = make(map[string]struct{})
		c.byService[service] = set
	}
	set[url] = struct{}{}
}

func (c *Catalog) getJSON(ctx context.Context, url string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discover: %s returned %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Discovered invokes fn for every URL registered under service that is not
// lapsed (last seen less than ServiceInterval before the current time; the
// start time of the latest discovery pass is not tracked or used). Lapsed
// URLs are never forgotten (spec 4.F open question 2): they simply stop
// being yielded until seen again.
func (c *Catalog) Discovered(service string, fn func(url string)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cutoff := c.now().Add(-ServiceInterval)
	for url := range c.byService[service] {
		if rec := c.byURL[url]; rec != nil && rec.lastSeen.After(cutoff) {
			fn(url)
		}
	}
}

// Changed reports whether any URL for service was first detected at or
// after since.
func (c *Catalog) Changed(service string, since time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for url := range c.byService[service] {
		if rec := c.byURL[url]; rec != nil && !rec.firstSeen.Before(since) {
			return true
		}
	}
	return false
}
