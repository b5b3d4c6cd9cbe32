// Package watcher implements the Filesystem Watcher (C5): it watches the
// functions directory tree for changes and debounces them into reload or
// unload requests, so a deploy that writes many files in quick succession
// triggers exactly one registry reload.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/reaatech/funcdock/internal/logger"
)

// Event is what the Watcher delivers once a package's debounce window
// elapses. Deleted is true when the package's directory no longer exists,
// signalling that the registry should unload it rather than reload it.
type Event struct {
	PackageName string
	Deleted     bool
}

// Watcher recursively watches functionsDir (fsnotify itself only watches
// one directory level, so every subdirectory discovered is added
// individually) and emits one debounced Event per affected package.
type Watcher struct {
	functionsDir string
	debounce     time.Duration
	events       chan Event

	fsw *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a Watcher. debounce is the quiet period after the last
// observed change to a package before an Event fires (DEBOUNCE_WINDOW_MS).
func New(functionsDir string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w := &Watcher{
		functionsDir: functionsDir,
		debounce:     debounce,
		events:       make(chan Event, 64),
		fsw:          fsw,
		timers:       make(map[string]*time.Timer),
	}
	if err := w.addTree(functionsDir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Events returns the channel Events are delivered on. The Watcher never
// closes it; callers should range over it in a dedicated goroutine until
// Close is called.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops the underlying fsnotify watcher. Pending debounce timers are
// left to fire (they are harmless no-ops once the channel has no reader).
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run processes fsnotify events until the watcher is closed. It is meant to
// run in its own goroutine for the life of the process.
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Watcher().Warn().Err(err).Msg("fsnotify reported an error")
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				logger.Watcher().Warn().Err(err).Str("path", ev.Name).Msg("failed to watch new subdirectory")
			}
		}
	}

	pkgName, ok := w.packageNameFor(ev.Name)
	if !ok {
		return
	}
	w.scheduleDebounced(pkgName)
}

// packageNameFor maps an absolute path under functionsDir to the top-level
// package directory name it belongs to, or ok=false if it's outside the
// tree entirely (can happen for the functionsDir root itself).
func (w *Watcher) packageNameFor(path string) (string, bool) {
	rel, err := filepath.Rel(w.functionsDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) == 0 || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}

func (w *Watcher) scheduleDebounced(pkgName string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[pkgName]; ok {
		t.Stop()
	}
	w.timers[pkgName] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, pkgName)
		w.mu.Unlock()
		w.emit(pkgName)
	})
}

func (w *Watcher) emit(pkgName string) {
	info, err := os.Stat(filepath.Join(w.functionsDir, pkgName))
	deleted := err != nil || !info.IsDir()
	select {
	case w.events <- Event{PackageName: pkgName, Deleted: deleted}:
	default:
		logger.Watcher().Warn().Str("package", pkgName).Msg("watcher event channel full, dropping event")
	}
}

// addTree adds root and every directory beneath it to the fsnotify watch
// set, since fsnotify does not recurse on its own.
func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
		}
		return nil
	})
}
