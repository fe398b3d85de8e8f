package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseportal/peer"
	"houseportal/redirect"
)

func TestListHandlerReturnsRedirectEntries(t *testing.T) {
	now := func() int64 { return 1000 }
	redirects := redirect.New(now)
	require.NoError(t, redirects.AddOrRenew("127.0.0.1:9001", false, 0, "web", "/shop", false))
	peers := peer.New("portal.lan", now)

	srv := httptest.NewServer(newServer("portal.lan", now, redirects, peers))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/portal/list")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "portal.lan", body["host"])
}

func TestRedirectHandlerReturns500WhenUnresolvable(t *testing.T) {
	now := func() int64 { return 1000 }
	redirects := redirect.New(now)
	peers := peer.New("portal.lan", now)

	srv := httptest.NewServer(newServer("portal.lan", now, redirects, peers))
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(srv.URL + "/nowhere")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRedirectHandlerFollowsPermanentEntry(t *testing.T) {
	now := func() int64 { return 1000 }
	redirects := redirect.New(now)
	require.NoError(t, redirects.AddOrRenew("127.0.0.1:9001", false, 0, "web", "/shop", false))
	peers := peer.New("portal.lan", now)

	srv := httptest.NewServer(newServer("portal.lan", now, redirects, peers))
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(srv.URL + "/shop/item")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "http://127.0.0.1:9001/shop/item", resp.Header.Get("Location"))
}

func TestCrossOriginNonGETRejected(t *testing.T) {
	now := func() int64 { return 1000 }
	redirects := redirect.New(now)
	peers := peer.New("portal.lan", now)

	srv := httptest.NewServer(newServer("portal.lan", now, redirects, peers))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/portal/list", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
