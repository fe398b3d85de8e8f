package main

import (
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseportal/control"
	"houseportal/register"
	"houseportal/transport"
)

// TestHouseclientRegistersAndServes exercises the same register.Client wiring
// main.go's run() uses, against a fake Portal UDP listener, and checks the
// demonstration HTTP handler answers on its advertised path.
func TestHouseclientRegistersAndServes(t *testing.T) {
	portalTr := transport.Open(19082, true, false)
	defer portalTr.Close()
	clientTr := transport.Open(0, true, false)
	defer clientTr.Close()

	received := make(chan []byte, 1)
	go portalTr.Serve(func(p transport.Packet) { received <- p.Data })

	client := register.New(clientTr, "127.0.0.1:19082", "", 9200, control.KeySet{})
	client.Register(register.Path{Service: "demo", Path: "/demo"})
	require.NoError(t, client.SendOnce())

	select {
	case data := <-received:
		msg, err := control.ParseLive(data, control.KeySet{})
		require.NoError(t, err)
		assert.Equal(t, "9200", msg.Redirect.Target)
		assert.Equal(t, "demo", msg.Redirect.Paths[0].Service)
	case <-time.After(2 * time.Second):
		t.Fatal("portal never received a registration datagram")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/demo/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "hello from demo\n")
	})
	srv := &http.Server{Addr: ":19283", Handler: mux}
	go srv.ListenAndServe()
	defer srv.Close()
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:19283/demo/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello from demo\n", string(body))
}
