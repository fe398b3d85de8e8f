package config

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"houseportal/control"
	"houseportal/houseerr"
	"houseportal/houselog"
)

// PollInterval is the mtime-poll fallback period when fsnotify cannot
// install a watch (spec.md section 5's 30s reload cadence).
const PollInterval = 30 * time.Second

var log = houselog.For("config")

// File is one parsed portal.config: static peers, permanent redirects, the
// LOCAL directive, and any SIGN key, per spec.md section 6's config grammar.
type File struct {
	Redirects []*control.RedirectMessage
	Peers     []control.PeerAddr
	Local     bool
	Keys      control.KeySet
}

// Load reads and parses path. A malformed line anywhere in the file makes
// the whole load fail — callers decide whether that is fatal (startup) or
// merely logged (reload), per spec.md section 6.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", houseerr.ErrConfig, err)
	}
	defer f.Close()

	file := &File{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		msg, err := control.ParseConfigLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", houseerr.ErrConfig, path, lineNo, err)
		}
		switch msg.Keyword {
		case control.KeywordRedirect:
			file.Redirects = append(file.Redirects, msg.Redirect)
		case control.KeywordPeer:
			file.Peers = append(file.Peers, msg.Peer.Peers...)
		case control.KeywordLocal:
			file.Local = true
		case control.KeywordSign:
			file.Keys = append(file.Keys, control.Key{Method: msg.Sign.Method, HexKey: msg.Sign.HexKey})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", houseerr.ErrConfig, path, err)
	}
	return file, nil
}

// Watcher reloads path on change, preferring fsnotify and falling back to
// an mtime poll when the watch cannot be installed (logged, not fatal).
type Watcher struct {
	path string

	mu      sync.RWMutex
	current *File
}

// NewWatcher loads path once (the startup load: callers should treat an
// error here as fatal) and returns a Watcher serving that snapshot.
func NewWatcher(path string) (*Watcher, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, current: f}, nil
}

// Current returns the most recently successfully loaded File.
func (w *Watcher) Current() *File {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run watches the config file until ctx is cancelled, invoking onReload
// with each successfully reparsed File. A reload that fails to parse keeps
// the previous File and only logs, matching spec.md section 6.
func (w *Watcher) Run(ctx context.Context, onReload func(*File)) {
	var lastMod time.Time
	if fi, err := os.Stat(w.path); err == nil {
		lastMod = fi.ModTime()
	}
	reload := func() {
		if fi, err := os.Stat(w.path); err == nil {
			lastMod = fi.ModTime()
		}
		f, err := Load(w.path)
		if err != nil {
			log.Warnf("config reload failed, keeping previous configuration: %v", err)
			return
		}
		w.mu.Lock()
		w.current = f
		w.mu.Unlock()
		if onReload != nil {
			onReload(f)
		}
	}

	// pollReload reloads only when the file's mtime differs from the last one seen.
	pollReload := func() {
		if fi, err := os.Stat(w.path); err == nil && fi.ModTime().Equal(lastMod) {
			return
		}
		reload()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnf("fsnotify unavailable, using %s poll fallback: %v", PollInterval, err)
		w.pollLoop(ctx, pollReload)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(w.path); err != nil {
		log.Warnf("fsnotify watch on %s failed, using %s poll fallback: %v", w.path, PollInterval, err)
		w.pollLoop(ctx, pollReload)
		return
	}

	poll := time.NewTicker(PollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("fsnotify error watching %s: %v", w.path, err)
		case <-poll.C:
			pollReload()
		}
	}
}

// pollLoop is the portable fallback when fsnotify cannot install a watch.
func (w *Watcher) pollLoop(ctx context.Context, reload func()) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reload()
		}
	}
}
