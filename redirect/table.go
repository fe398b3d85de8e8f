// Package redirect implements the longest-prefix URL redirection table
// (spec section 4.C / 3): the live Portal state that maps registered path
// prefixes to the client processes that own them, with lease expiry for
// entries learned over UDP and permanence for entries loaded from config.
package redirect

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"houseportal/houseerr"
	"houseportal/houselog"
)

// RedirectLifetime is the lease granted to a live (UDP-registered) entry,
// renewed on every REDIRECT heard from the owning process.
const RedirectLifetime = 180 // seconds

// MaxEntries bounds the table; additions beyond this are dropped (spec 4.C).
const MaxEntries = 128

var log = houselog.For("redirect")

// Entry is one redirection row, matching spec section 3's data model.
type Entry struct {
	Path       string
	Service    string
	Target     string
	Hide       bool
	PID        int
	Start      int64
	Expiration int64 // 0 = permanent, 1 = tombstoned, else absolute expiry
}

// Permanent reports whether the entry never expires on its own.
func (e *Entry) Permanent() bool { return e.Expiration == 0 }

func (e *Entry) length() int { return len(e.Path) }

// Redirect is the outcome of Dispatch: the fully composed target URL and
// whether the HTTP response should be a 301 (permanent) or 302 (live).
type Redirect struct {
	URL       string
	Permanent bool
}

// Table is the process-owned redirection table. It is touched only from the
// single event-loop worker (spec section 5); no internal locking is used
// beyond what is needed to let HTTP handlers read it from their own
// goroutines without racing the loop's writes.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() int64
}

// New creates an empty table. now lets tests control the clock; pass nil in
// production to use the wall clock.
func New(now func() int64) *Table {
	if now == nil {
		now = func() int64 { return wallClock() }
	}
	return &Table{entries: make(map[string]*Entry), now: now}
}

// AddOrRenew upserts a redirection entry (spec 4.C). live selects whether
// the new/renewed entry carries a lease (true) or is permanent (false). A
// live upsert that targets an existing permanent entry of the same path is
// a no-op: permanent entries are never demoted.
func (t *Table) AddOrRenew(target string, hide bool, pid int, service, path string, live bool) error {
	if len(path) < 2 || path[0] != '/' {
		return houseerr.ErrMalformed
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	existing, ok := t.entries[path]
	if ok {
		if live && existing.Permanent() {
			return nil // invariant 3: never demote a permanent entry
		}
		restarted := existing.Target != target || existing.PID != pid
		if restarted {
			existing.Start = now
		}
		existing.Target = target
		existing.Hide = hide
		existing.Service = service
		if live {
			existing.Expiration = now + RedirectLifetime
		} else {
			existing.Expiration = 0
		}
		log.WithField("path", path).Event("ROUTE/UPDATED", map[string]interface{}{
			"target": target, "service": service, "restarted": restarted,
		})
		return nil
	}

	if len(t.entries) >= MaxEntries {
		log.Warnf("redirection table full (%d entries), dropping %s", MaxEntries, path)
		return houseerr.ErrTableFull
	}
	e := &Entry{
		Path:    path,
		Service: service,
		Target:  target,
		Hide:    hide,
		PID:     pid,
		Start:   now,
	}
	if live {
		e.Expiration = now + RedirectLifetime
	}
	t.entries[path] = e
	log.WithField("path", path).Event("ROUTE/ADDED", map[string]interface{}{
		"target": target, "service": service, "live": live,
	})
	return nil
}

// Resolve returns the entry with the longest path that is a prefix boundary
// match of uri (spec invariant 2), or nil if none matches.
func (t *Table) Resolve(uri string) *Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var best *Entry
	for _, e := range t.entries {
		if !isPrefixMatch(e.Path, uri) {
			continue
		}
		if best == nil || e.length() > best.length() {
			best = e
		}
	}
	return best
}

func isPrefixMatch(path, uri string) bool {
	if !strings.HasPrefix(uri, path) {
		return false
	}
	if len(uri) == len(path) {
		return true
	}
	return uri[len(path)] == '/'
}

// Dispatch composes the redirect target for an HTTP request matching uri, or
// returns houseerr.ErrUnresolvable if no entry matches.
func (t *Table) Dispatch(method, uri, query string) (Redirect, error) {
	e := t.Resolve(uri)
	if e == nil {
		return Redirect{}, houseerr.ErrUnresolvable
	}
	rest := uri
	if e.Hide {
		rest = strings.TrimPrefix(uri, e.Path)
		if rest == "" {
			rest = "/"
		}
	}
	url := fmt.Sprintf("http://%s%s", e.Target, rest)
	if query != "" {
		url += "?" + query
	}
	return Redirect{URL: url, Permanent: e.Permanent()}, nil
}

// Reap drops entries whose lease has passed now (0 < expiration < now),
// emitting ROUTE/REMOVED for each; a lease expiring exactly at now is still
// valid. Permanent entries are never touched.
// unregister is invoked for each removed path so the HTTP engine can drop
// its route.
func (t *Table) Reap(now int64, unregister func(path string)) {
	t.mu.Lock()
	var removed []string
	for path, e := range t.entries {
		if e.Expiration > 0 && e.Expiration < now {
			removed = append(removed, path)
			delete(t.entries, path)
		}
	}
	t.mu.Unlock()
	sort.Strings(removed)
	for _, path := range removed {
		log.WithField("path", path).Event("ROUTE/REMOVED", nil)
		if unregister != nil {
			unregister(path)
		}
	}
}

// DeprecateAll tombstones every permanent entry's expiration to 1 so the
// next Reap removes it; used on a config-file reload (spec 4.C).
func (t *Table) DeprecateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.Permanent() {
			e.Expiration = 1
		}
	}
}

// Snapshot returns a stable-ordered copy of every entry (live, permanent or
// tombstoned), for /portal/list.
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ByService returns the absolute target URLs of every entry (live or
// permanent) whose Service matches name, for /portal/service?name=X.
func (t *Table) ByService(name string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var urls []string
	for _, e := range t.entries {
		if e.Service == name {
			urls = append(urls, fmt.Sprintf("http://%s%s", e.Target, e.Path))
		}
	}
	sort.Strings(urls)
	return urls
}

// Len reports the current number of entries, live or permanent.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
