package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/driftd/internal/sourcefs"
)

// defaultDebounce is how long the watcher waits after the last change before
// draining the pending set.
const defaultDebounce = 1000 * time.Millisecond

// Watcher feeds file-system change events into the indexer. Changed paths
// accumulate in a pending set and are drained after a debounce interval, one
// IndexFile call per path. Deletions bypass the debounce since there is
// nothing to re-chunk.
//
// Two invariants hold regardless of event timing: no two drains ever run
// concurrently, and no path is lost. Events arriving mid-drain are parked in
// the pending set and picked up by a fresh debounce cycle after the drain.
type Watcher struct {
	indexer  *Indexer
	debounce time.Duration
	logger   *zap.Logger

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	pending  map[string]struct{}
	timer    *time.Timer
	draining bool
	closed   bool
}

// NewWatcher creates a Watcher over the indexer's file-system root.
func NewWatcher(ix *Indexer, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	return &Watcher{
		indexer:  ix,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		pending:  map[string]struct{}{},
	}, nil
}

// Start registers every directory under the root and runs the event loop
// until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	root := w.indexer.fs.Root()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && sourcefs.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
	if err != nil {
		return fmt.Errorf("registering watches under %s: %w", root, err)
	}

	w.logger.Info("watching for changes",
		zap.String("root", root),
		zap.Duration("debounce", w.debounce),
	)

	for {
		select {
		case <-ctx.Done():
			return w.Close()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// Close stops the watcher and its timer. Pending paths are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	rel, err := filepath.Rel(w.indexer.fs.Root(), event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	// New directories need their own watch; their files arrive as
	// separate create events.
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if event.Op.Has(fsnotify.Create) && !sourcefs.SkipDir(filepath.Base(event.Name)) {
			if err := w.fsw.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", zap.String("path", rel), zap.Error(err))
			}
		}
		return
	}

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		// Immediate: nothing to debounce for a deletion.
		if err := w.indexer.RemoveFile(ctx, rel); err != nil {
			w.logger.Warn("remove failed", zap.String("path", rel), zap.Error(err))
		}
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		w.enqueue(ctx, rel)
	}
}

// enqueue adds a path to the pending set and (re)arms the debounce timer,
// unless a drain is in progress; the drain re-arms on completion.
func (w *Watcher) enqueue(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	w.pending[path] = struct{}{}
	if w.draining {
		return
	}
	w.armLocked(ctx)
}

// armLocked starts or resets the debounce timer. Callers hold w.mu.
func (w *Watcher) armLocked(ctx context.Context) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.drain(ctx) })
}

// drain indexes every pending path exactly once. Paths enqueued while the
// drain runs stay pending and get their own debounce cycle afterwards.
func (w *Watcher) drain(ctx context.Context) {
	w.mu.Lock()
	if w.closed || w.draining {
		w.mu.Unlock()
		return
	}
	w.draining = true
	batch := w.pending
	w.pending = map[string]struct{}{}
	w.mu.Unlock()

	for path := range batch {
		if err := w.indexer.IndexFile(ctx, path); err != nil {
			w.logger.Warn("reindex failed", zap.String("path", path), zap.Error(err))
		}
	}

	w.mu.Lock()
	w.draining = false
	if len(w.pending) > 0 && !w.closed {
		w.armLocked(ctx)
	}
	w.mu.Unlock()
}
