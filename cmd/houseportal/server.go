package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/cors"

	"houseportal/houseerr"
	"houseportal/houselog"
	"houseportal/peer"
	"houseportal/redirect"
)

var httpLog = houselog.For("houseportal.http")

// newServer builds the Portal's HTTP front door (spec section 6): the three
// JSON status endpoints plus the catch-all redirect dispatcher, wrapped in
// the Cross-Origin rules spec section 7 calls for.
func newServer(self string, now func() int64, redirects *redirect.Table, peers *peer.Table) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/portal/peers", peersHandler(self, now, peers))
	mux.HandleFunc("/portal/list", listHandler(self, now, redirects))
	mux.HandleFunc("/portal/service", serviceHandler(self, now, redirects))
	mux.HandleFunc("/", redirectHandler(redirects))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	})
	return crossOriginGuard(corsHandler.Handler(mux))
}

// crossOriginGuard enforces spec section 7's cross-origin rule ahead of the
// rs/cors middleware: a cross-origin request using any method other than
// GET or OPTIONS is rejected outright, since this federation's endpoints
// are all read-only from a browser's perspective.
func crossOriginGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		crossOrigin := origin != "" && !sameOrigin(origin, r.Host)
		if crossOrigin && r.Method != http.MethodGet && r.Method != http.MethodOptions {
			http.Error(w, "Forbidden Cross-Domain", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sameOrigin(origin, host string) bool {
	origin = strings.TrimPrefix(origin, "http://")
	origin = strings.TrimPrefix(origin, "https://")
	return origin == host
}

func peersHandler(self string, now func() int64, peers *peer.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := make([]string, 0)
		for _, p := range peers.Snapshot() {
			names = append(names, p.Name)
		}
		writeJSON(w, map[string]interface{}{
			"host":      self,
			"timestamp": now(),
			"portal":    map[string]interface{}{"peers": names},
		})
	}
}

func listHandler(self string, now func() int64, redirects *redirect.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := redirects.Snapshot()
		rows := make([]map[string]interface{}, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, map[string]interface{}{
				"path":    e.Path,
				"service": e.Service,
				"target":  e.Target,
				"hide":    e.Hide,
				"active":  e.Expiration != 1,
				"expire":  e.Expiration,
				"start":   e.Start,
			})
		}
		writeJSON(w, map[string]interface{}{
			"host":      self,
			"timestamp": now(),
			"portal":    map[string]interface{}{"redirect": rows},
		})
	}
}

func serviceHandler(self string, now func() int64, redirects *redirect.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		urls := redirects.ByService(name)
		if urls == nil {
			urls = []string{}
		}
		writeJSON(w, map[string]interface{}{
			"host":      self,
			"timestamp": now(),
			"portal": map[string]interface{}{
				"service": map[string]interface{}{"name": name, "url": urls},
			},
		})
	}
}

func redirectHandler(redirects *redirect.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/portal/peers", "/portal/list", "/portal/service":
			http.NotFound(w, r)
			return
		}
		result, err := redirects.Dispatch(r.Method, r.URL.Path, r.URL.RawQuery)
		if err != nil {
			if err == houseerr.ErrUnresolvable {
				http.Error(w, "Unresolvable redirection.", http.StatusInternalServerError)
				return
			}
			httpLog.Warnf("dispatch error for %s: %v", r.URL.Path, err)
			http.Error(w, "Unresolvable redirection.", http.StatusInternalServerError)
			return
		}
		status := http.StatusFound
		if result.Permanent {
			status = http.StatusMovedPermanently
		}
		http.Redirect(w, r, result.URL, status)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		httpLog.Warnf("response encode failed: %v", err)
	}
}
