// Package eventlog implements the log/trace forwarder (spec section 4.H):
// events and traces are buffered in fixed-depth ring arrays and flushed as
// JSON envelopes to every currently discovered history service.
package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"houseportal/houselog"
)

const (
	// EventDepth is the ring size for ordinary events.
	EventDepth = 256
	// TraceDepth is the ring size for traces.
	TraceDepth = 16
	// EventFlushInterval is the minimum period between event flushes.
	EventFlushInterval = 2 * time.Second
	// TraceFlushInterval is shorter: traces flush more eagerly.
	TraceFlushInterval = 500 * time.Millisecond
	// RequestTimeout bounds each history-service POST.
	RequestTimeout = 10 * time.Second
)

// state is a record's position in the fresh -> forwarding -> delivered |
// failed(retried as fresh) lifecycle.
type state int

const (
	stateDelivered  state = 0
	stateFresh      state = 1
	stateForwarding state = 2
)

type record struct {
	ts     int64
	fields []interface{}
	state  state
	local  bool
}

// ring is a fixed-depth circular buffer that overwrites its oldest entry
// once full, per spec 4.H's "double-buffered ring arrays".
type ring struct {
	depth int
	buf   []*record
	next  int
	count int
}

func newRing(depth int) *ring {
	return &ring{depth: depth, buf: make([]*record, depth)}
}

func (r *ring) push(rec *record) {
	r.buf[r.next] = rec
	r.next = (r.next + 1) % r.depth
	if r.count < r.depth {
		r.count++
	}
}

// fresh returns every record currently in stateFresh, in ring order,
// skipping local-only records (those are never forwarded).
func (r *ring) fresh() []*record {
	var out []*record
	for _, rec := range r.buf {
		if rec != nil && !rec.local && rec.state == stateFresh {
			out = append(out, rec)
		}
	}
	return out
}

// HistorySource supplies the currently discovered history-service base URLs
// (e.g. discover.Catalog.Discovered("history", ...) collected into a slice).
type HistorySource func() []string

// Log is the process-owned event/trace forwarder.
type Log struct {
	mu      sync.Mutex
	host    string
	app     string
	events  *ring
	traces  *ring
	client  *http.Client
	history HistorySource
	ledger  *Ledger // nil unless local storage is enabled
	now     func() int64
}

var log = houselog.For("eventlog")

// New creates a Log for app running on host. history supplies the current
// set of discovered history-service base URLs at flush time.
func New(host, app string, history HistorySource) *Log {
	return &Log{
		host:    host,
		app:     app,
		events:  newRing(EventDepth),
		traces:  newRing(TraceDepth),
		client:  &http.Client{Timeout: RequestTimeout},
		history: history,
		now:     func() int64 { return time.Now().Unix() },
	}
}

// EnableLocalStorage mirrors delivered events into a LevelDB-backed ledger
// at path (spec.md's `-use-local-storage` flag, see SPEC_FULL.md section C.1).
func (l *Log) EnableLocalStorage(path string) error {
	ledger, err := OpenLedger(path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.ledger = ledger
	l.mu.Unlock()
	return nil
}

// Event records one event row for forwarding: [timestamp, severity, name, detail].
func (l *Log) Event(severity, name, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events.push(&record{ts: l.now(), fields: []interface{}{l.now(), severity, name, detail}, state: stateFresh})
}

// EventLocal records an event that is kept in the ring for local inspection
// but is never marked for forwarding (spec 4.H).
func (l *Log) EventLocal(severity, name, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events.push(&record{ts: l.now(), fields: []interface{}{l.now(), severity, name, detail}, state: stateFresh, local: true})
}

// Trace records one trace row: [timestamp, component, text].
func (l *Log) Trace(component, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.traces.push(&record{ts: l.now(), fields: []interface{}{l.now(), component, text}, state: stateFresh})
}

// Run drives the event and trace flush loops until ctx is cancelled.
func (l *Log) Run(ctx context.Context) {
	eventTicker := time.NewTicker(EventFlushInterval)
	defer eventTicker.Stop()
	traceTicker := time.NewTicker(TraceFlushInterval)
	defer traceTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-eventTicker.C:
			l.flush(ctx, l.events, "events", "event")
		case <-traceTicker.C:
			l.flush(ctx, l.traces, "traces", "trace")
		}
	}
}

type series struct {
	Latest int64
	Rows   [][]interface{}
}

type envelope struct {
	Host      string
	Apps      []string
	Timestamp int64
	Series    *series
	seriesKey string
}

// MarshalJSON produces `{host, apps, timestamp, <type>:{latest, <type>:[...]}}`
// per spec 4.H's envelope shape.
func (e *envelope) MarshalJSON() ([]byte, error) {
	inner := map[string]interface{}{
		"latest":    e.Series.Latest,
		e.seriesKey: e.Series.Rows,
	}
	return json.Marshal(map[string]interface{}{
		"host":      e.Host,
		"apps":      e.Apps,
		"timestamp": e.Timestamp,
		e.seriesKey + "s": inner,
	})
}

// flush collects every fresh record in r, POSTs it to every discovered
// history service, and marks the batch delivered or failed (reverted to
// fresh for retry) per the outcome.
func (l *Log) flush(ctx context.Context, r *ring, category, rowKey string) {
	l.mu.Lock()
	fresh := r.fresh()
	if len(fresh) == 0 {
		l.mu.Unlock()
		return
	}
	for _, rec := range fresh {
		rec.state = stateForwarding
	}
	host, app := l.host, l.app
	l.mu.Unlock()

	rows := make([][]interface{}, 0, len(fresh))
	latest := int64(0)
	for _, rec := range fresh {
		rows = append(rows, rec.fields)
		if rec.ts > latest {
			latest = rec.ts
		}
	}
	env := &envelope{
		Host:      host,
		Apps:      []string{app},
		Timestamp: time.Now().Unix(),
		Series:    &series{Latest: latest, Rows: rows},
		seriesKey: rowKey,
	}
	body, err := json.Marshal(env)
	if err != nil {
		log.Warnf("envelope marshal failed: %v", err)
		l.revert(fresh)
		return
	}

	targets := l.history()
	if len(targets) == 0 {
		l.revert(fresh)
		return
	}

	delivered := false
	for _, base := range targets {
		if l.post(ctx, base, category, body) {
			delivered = true
		}
	}

	l.mu.Lock()
	for _, rec := range fresh {
		if delivered {
			rec.state = stateDelivered
		} else {
			rec.state = stateFresh
		}
	}
	ledger := l.ledger
	l.mu.Unlock()

	if delivered && ledger != nil {
		if err := ledger.Append(rowKey, env.Timestamp, rows); err != nil {
			log.Warnf("local ledger append failed: %v", err)
		}
	}
}

func (l *Log) revert(recs []*record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range recs {
		rec.state = stateFresh
	}
}

func (l *Log) post(ctx context.Context, base, category string, body []byte) bool {
	url := fmt.Sprintf("%s/log/%s", base, category)
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		log.Warnf("post to %s failed: %v", url, err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
