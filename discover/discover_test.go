package discover

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerThenServicePhaseRegistersService(t *testing.T) {
	var peerHost string
	svcSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/portal/list":
			w.Write([]byte(`{"host":"` + peerHost + `","portal":{"redirect":[{"service":"web","path":"/shop"}]}}`))
		}
	}))
	defer svcSrv.Close()
	peerHost = strings.TrimPrefix(svcSrv.URL, "http://")

	localSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/portal/peers" {
			w.Write([]byte(`{"host":"local","portal":{"peers":["` + peerHost + `"]}}`))
		}
	}))
	defer localSrv.Close()
	localHost := strings.TrimPrefix(localSrv.URL, "http://")

	cat := New(localHost)
	ctx := context.Background()
	newPortal := cat.peerPhase(ctx)
	require.True(t, newPortal)
	cat.servicePhase(ctx)

	var found []string
	cat.Discovered("web", func(u string) { found = append(found, u) })
	require.Len(t, found, 1)
	assert.Equal(t, "http://"+peerHost+"/shop", found[0])
}

func TestDiscoveredSkipsLapsedURLs(t *testing.T) {
	cat := New("local")
	fakeNow := time.Now()
	cat.now = func() time.Time { return fakeNow }
	cat.record("web", "http://a/shop")

	var found []string
	cat.Discovered("web", func(u string) { found = append(found, u) })
	assert.Len(t, found, 1)

	fakeNow = fakeNow.Add(ServiceInterval + time.Second)
	found = nil
	cat.Discovered("web", func(u string) { found = append(found, u) })
	assert.Empty(t, found, "lapsed URL must not be yielded")
}

func TestChangedDetectsNewRegistration(t *testing.T) {
	cat := New("local")
	before := cat.now()
	cat.record("web", "http://a/shop")
	assert.True(t, cat.Changed("web", before))
	assert.False(t, cat.Changed("web", cat.now().Add(time.Hour)))
}

func TestGetJSONRejectsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	cat := New("local")
	var out struct{}
	err := cat.getJSON(context.Background(), srv.URL, &out)
	assert.Error(t, err)
}
