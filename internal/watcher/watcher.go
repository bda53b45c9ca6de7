// Package watcher expands log path patterns and turns filesystem
// notifications into early wake-ups for the pollers tailing those paths.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Expand resolves patterns to absolute file paths. Patterns without glob
// syntax are returned even when the file does not exist yet, so the tailer
// can wait for it. Duplicates are dropped.
func Expand(patterns []string, logger *zap.Logger) []string {
	if logger == nil {
		logger = zap.NewNop()
	}
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = filepath.Clean(p)
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}

	for _, pattern := range patterns {
		if !hasMeta(pattern) {
			add(pattern)
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			logger.Warn("cannot expand path pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if len(matches) == 0 {
			logger.Warn("path pattern matched no files", zap.String("pattern", pattern))
		}
		for _, m := range matches {
			add(m)
		}
	}
	return out
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

// Watcher watches the parent directory of every registered file, which keeps
// working across rename- and create-style rotations.
type Watcher struct {
	fsw *fsnotify.Watcher
	log *zap.Logger

	mu    sync.Mutex
	wakes map[string]chan struct{}
	dirs  map[string]bool
}

// New creates a Watcher.
func New(logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		fsw:   fsw,
		log:   logger.Named("watcher"),
		wakes: make(map[string]chan struct{}),
		dirs:  make(map[string]bool),
	}, nil
}

// Add registers path and returns a channel that receives a value whenever
// the file (or a file replacing it) changes. Wake-ups coalesce.
func (w *Watcher) Add(path string) <-chan struct{} {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.wakes[path]
	if !ok {
		ch = make(chan struct{}, 1)
		w.wakes[path] = ch
	}
	if !w.dirs[dir] {
		if err := w.fsw.Add(dir); err != nil {
			// The poller still runs; only early wake-ups are lost.
			w.log.Warn("cannot watch directory", zap.String("dir", dir), zap.Error(err))
		} else {
			w.dirs[dir] = true
		}
	}
	return ch
}

// Start forwards events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Start(ctx context.Context) {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.wake(filepath.Clean(ev.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) wake(path string) {
	w.mu.Lock()
	ch, ok := w.wakes[path]
	w.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
