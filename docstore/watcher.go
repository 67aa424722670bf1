package docstore

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type watchOp int

const (
	opIndex watchOp = iota
	opRemove
)

// Watcher keeps the store in sync with a design document directory.
// Filesystem events are debounced so editor save storms collapse into
// one re-index; the indexer's content hash check makes redundant
// flushes cheap.
type Watcher struct {
	indexer   *Indexer
	projectID string
	root      string
	debounce  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]watchOp
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long events accumulate before a flush.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher creates a Watcher that re-indexes projectID's documents
// under root as they change.
func NewWatcher(indexer *Indexer, projectID, root string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		indexer:   indexer,
		projectID: projectID,
		root:      root,
		debounce:  2 * time.Second,
		logger:    slog.Default(),
		pending:   make(map[string]watchOp),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. The initial directory scan runs
// first so the store starts current.
func (w *Watcher) Run(ctx context.Context) error {
	stats, err := w.indexer.IndexDirectory(ctx, w.projectID, w.root)
	if err != nil {
		return fmt.Errorf("initial index of %s: %w", w.root, err)
	}
	w.logger.Info("initial index complete",
		"root", w.root,
		"indexed", stats.Indexed,
		"unchanged", stats.Unchanged,
		"failed", stats.Failed)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	defer fsw.Close()

	if err := watchRecursive(fsw, w.root); err != nil {
		return err
	}

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			w.handleEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			w.logger.Warn("filesystem watcher error", "error", err)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func watchRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); path != root && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// handleEvent records the pending operation for a path. New
// directories are added to the watch and scanned, since fsnotify does
// not watch recursively on its own.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
			if err := watchRecursive(fsw, event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			w.enqueueDir(event.Name)
			return
		}
	}

	if !isMarkdownFile(filepath.Base(event.Name)) {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.enqueue(rel, opIndex)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.enqueue(rel, opRemove)
	}
}

func (w *Watcher) enqueue(rel string, op watchOp) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[rel] = op
}

// enqueueDir queues every markdown file already inside a newly created
// directory, which arrives as a single Create event for the directory.
func (w *Watcher) enqueueDir(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isMarkdownFile(d.Name()) {
			return nil
		}
		if rel, rerr := filepath.Rel(w.root, path); rerr == nil {
			w.enqueue(rel, opIndex)
		}
		return nil
	})
}

// flush applies the accumulated operations.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]watchOp)
	w.mu.Unlock()

	for rel, op := range batch {
		switch op {
		case opIndex:
			_, changed, err := w.indexer.IndexFile(ctx, w.projectID, w.root, rel)
			if err != nil {
				w.logger.Warn("re-index failed", "path", rel, "error", err)
			} else if changed {
				w.logger.Info("re-indexed document", "path", rel)
			}
		case opRemove:
			deleted, err := w.indexer.RemoveFile(ctx, w.projectID, rel)
			if err != nil {
				w.logger.Warn("remove failed", "path", rel, "error", err)
			} else if deleted {
				w.logger.Info("removed document", "path", rel)
			}
		}
	}
}
