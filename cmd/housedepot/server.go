package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"houseportal/houselog"
)

var log = houselog.For("housedepot")

// newServer builds the reference Depot's wire contract (spec.md section 6):
// a global /check, a per-repo/group file listing, and per-file GET/PUT.
func newServer(self string, st *store) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/check", checkHandler(self, st))
	mux.HandleFunc("/depot/", depotHandler(st))
	return mux
}

func checkHandler(self string, st *store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"host":    self,
			"updated": st.checkUpdated(),
		})
	}
}

// depotHandler dispatches "/depot/<repo>/<group>/all" and
// "/depot/<repo>/<group>/<name>" for both GET (fetch) and PUT (publish).
func depotHandler(st *store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/depot/"), "/", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			http.NotFound(w, r)
			return
		}
		repo, group, name := parts[0], parts[1], parts[2]

		if name == "all" && r.Method == http.MethodGet {
			listAll(w, st, repo, group)
			return
		}

		switch r.Method {
		case http.MethodGet:
			getFile(w, st, repo, group, name)
		case http.MethodPut:
			putFile(w, r, st, repo, group, name)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func getFile(w http.ResponseWriter, st *store, repo, group, name string) {
	rec, ok := st.get(repo, group, name)
	if !ok {
		http.Error(w, "404 page not found", http.StatusNotFound)
		return
	}
	w.Header().Set("X-Depot-Time", strconv.FormatInt(rec.time, 10))
	w.Write(rec.body)
}

func listAll(w http.ResponseWriter, st *store, repo, group string) {
	records := st.list(repo, group)
	files := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		files = append(files, map[string]interface{}{"name": rec.name, "time": rec.time})
	}
	writeJSON(w, map[string]interface{}{
		"host":  repo + "/" + group,
		"files": files,
	})
}

func putFile(w http.ResponseWriter, r *http.Request, st *store, repo, group, name string) {
	timeParam := r.URL.Query().Get("time")
	timestamp, err := strconv.ParseInt(timeParam, 10, 64)
	if err != nil {
		http.Error(w, "missing or malformed time parameter", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	st.put(repo, group, name, timestamp, body)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("response encode failed: %v", err)
	}
}
