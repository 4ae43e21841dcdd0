// Package watcher implements FileWatcher (§4.2): observes sentinel files in
// a run directory and emits typed events into the run's coordinated-event
// stream. Wires github.com/fsnotify/fsnotify, a dependency the teacher
// declares (symphony/go.mod) but has no retrievable source exercising; this
// package is the first concrete use of it in this lineage (see DESIGN.md).
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
)

// Config holds the watcher's timing parameters per §4.2.
type Config struct {
	DebounceWindow   time.Duration // default 100ms
	ParseRetryWindow time.Duration // default 500ms
}

// DefaultConfig matches §4.2's named defaults.
func DefaultConfig() Config {
	return Config{DebounceWindow: 100 * time.Millisecond, ParseRetryWindow: 500 * time.Millisecond}
}

// Watcher watches one run directory for sentinel files and JSON artefacts.
type Watcher struct {
	dir    *runstate.Dir
	cfg    Config
	stream *events.Stream

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	lastSeen map[string]time.Time // debounce bookkeeping keyed by path
}

// New creates a Watcher for dir, bound to stream.
func New(dir *runstate.Dir, cfg Config, stream *events.Stream) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{dir: dir, cfg: cfg, stream: stream, fsw: fsw, lastSeen: make(map[string]time.Time)}
	return w, nil
}

// watchedDirs returns every directory whose files matter to FileWatcher.
func (w *Watcher) watchedDirs() []string {
	dirs := []string{w.dir.CRPDir(), w.dir.VCRDir()}
	for _, role := range protocol.Roles {
		dirs = append(dirs, w.dir.AgentDir(role))
	}
	return dirs
}

// Start begins watching and returns once the watches are registered; events
// are delivered asynchronously until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	for _, d := range w.watchedDirs() {
		if err := w.fsw.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}
	go w.loop(ctx)
	return nil
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case <-w.fsw.Errors:
			// Errors are not fatal to the watch loop; the next real event
			// still gets processed. A production deployment would log this
			// through the component's slog logger (see SPEC_FULL.md A.1).
		}
	}
}

// handle debounces duplicate events within DebounceWindow (coalescing rapid
// write+rename pairs for the same path into one emission) and dispatches by
// filename pattern.
func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	if w.debounced(ev.Name) {
		return
	}

	base := filepath.Base(ev.Name)
	dir := filepath.Dir(ev.Name)
	agent := protocol.AgentRole(filepath.Base(dir))

	switch {
	case base == "done.flag":
		if dir == w.dir.AgentDir(agent) {
			// Two-phase verifier mode: tests-ready.flag is not "done", it is
			// the handshake to an external test runner.
			w.stream.Emit(ctx, events.NewDoneEvent(agent))
		}
	case base == "error.flag":
		flag, err := w.parseJSONWithRetry(ev.Name)
		if err != nil {
			return
		}
		var ef protocol.ErrorFlag
		if err := json.Unmarshal(flag, &ef); err != nil {
			return
		}
		w.stream.Emit(ctx, events.NewErrorEvent(agent, ef))
	case base == "tests-ready.flag":
		w.stream.Emit(ctx, events.NewTestsReadyEvent(agent))
	case base == "test-output.json":
		w.stream.Emit(ctx, events.NewTestOutputEvent(agent))
	case dir == w.dir.CRPDir() && strings.HasPrefix(base, "crp-") && strings.HasSuffix(base, ".json"):
		data, err := w.parseJSONWithRetry(ev.Name)
		if err != nil {
			return
		}
		var crp protocol.CRP
		if err := json.Unmarshal(data, &crp); err != nil {
			return
		}
		id := strings.TrimSuffix(base, ".json")
		w.stream.Emit(ctx, events.NewCRPCreatedEvent(id, crp.CreatedBy))
	case dir == w.dir.VCRDir() && strings.HasPrefix(base, "vcr-") && strings.HasSuffix(base, ".json"):
		data, err := w.parseJSONWithRetry(ev.Name)
		if err != nil {
			return
		}
		var vcr protocol.VCR
		if err := json.Unmarshal(data, &vcr); err != nil {
			return
		}
		id := strings.TrimSuffix(base, ".json")
		w.stream.Emit(ctx, events.NewVCRCreatedEvent(id, vcr.CRPID))
	}
}

func (w *Watcher) debounced(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if last, ok := w.lastSeen[path]; ok && now.Sub(last) < w.cfg.DebounceWindow {
		w.lastSeen[path] = now
		return true
	}
	w.lastSeen[path] = now
	return false
}

// parseJSONWithRetry reads path and retries on a parse/read failure within
// ParseRetryWindow, tolerating the partial-write race where the sentinel was
// renamed into place before its content finished flushing to the
// filesystem's directory entry.
func (w *Watcher) parseJSONWithRetry(path string) ([]byte, error) {
	deadline := time.Now().Add(w.cfg.ParseRetryWindow)
	var lastErr error
	for {
		data, err := os.ReadFile(path)
		if err == nil {
			var probe any
			if json.Unmarshal(data, &probe) == nil {
				return data, nil
			}
			lastErr = fmt.Errorf("invalid json in %s", path)
		} else {
			lastErr = err
		}
		if time.Now().After(deadline) {
			return nil, lastErr
		}
		time.Sleep(25 * time.Millisecond)
	}
}
