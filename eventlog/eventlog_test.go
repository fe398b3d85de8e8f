package eventlog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFlushDeliversToHistoryService(t *testing.T) {
	var mu sync.Mutex
	var gotBody map[string]interface{}
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := New("host1", "web", func() []string { return []string{srv.URL} })
	l.Event("INFO", "ROUTE/UPDATED", "/shop")
	l.flush(context.Background(), l.events, "events", "event")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/log/events", gotPath)
	require.NotNil(t, gotBody)
	assert.Equal(t, "host1", gotBody["host"])
	events, ok := gotBody["events"].(map[string]interface{})
	require.True(t, ok)
	rows, ok := events["event"].([]interface{})
	require.True(t, ok)
	assert.Len(t, rows, 1)
}

func TestTraceFlushPostsToTracesEndpoint(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := New("host1", "web", func() []string { return []string{srv.URL} })
	l.Trace("redirect", "sent to peer1")
	l.flush(context.Background(), l.traces, "traces", "trace")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/log/traces", gotPath, "trace batches must not be posted to the events endpoint")
}

func TestEventFlushSkipsWhenNoHistoryService(t *testing.T) {
	l := New("host1", "web", func() []string { return nil })
	l.Event("INFO", "ROUTE/UPDATED", "/shop")
	l.flush(context.Background(), l.events, "events", "event")

	fresh := l.events.fresh()
	assert.Len(t, fresh, 1, "record must revert to fresh for retry when nothing to deliver to")
}

func TestEventLocalNeverForwarded(t *testing.T) {
	called := false
	l := New("host1", "web", func() []string {
		called = true
		return []string{"http://unused"}
	})
	l.EventLocal("DEBUG", "LOCAL/ONLY", "diagnostic")
	l.flush(context.Background(), l.events, "events", "event")
	assert.False(t, called, "local-only events must never trigger a forward")
}

func TestFlushMarksFailedBatchFreshAgain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := New("host1", "web", func() []string { return []string{srv.URL} })
	l.Event("ERROR", "SOMETHING", "failed")
	l.flush(context.Background(), l.events, "events", "event")

	fresh := l.events.fresh()
	assert.Len(t, fresh, 1, "a failed delivery must be retried, not dropped")
}

func TestRingOverwritesOldestOnceFull(t *testing.T) {
	r := newRing(2)
	r.push(&record{ts: 1, state: stateDelivered})
	r.push(&record{ts: 2, state: stateFresh})
	r.push(&record{ts: 3, state: stateFresh})

	var seen []int64
	for _, rec := range r.buf {
		if rec != nil {
			seen = append(seen, rec.ts)
		}
	}
	assert.ElementsMatch(t, []int64{2, 3}, seen)
}
