// Package indexer orchestrates chunking, embedding, and storage over a file
// tree. It owns the only long-running mutable state in the system: the run
// status and the per-path modification-time table.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
	"github.com/fyrsmithlabs/driftd/internal/chunker"
	"github.com/fyrsmithlabs/driftd/internal/embeddings"
	"github.com/fyrsmithlabs/driftd/internal/gitsource"
	"github.com/fyrsmithlabs/driftd/internal/sourcefs"
	"github.com/fyrsmithlabs/driftd/internal/vectorstore"
)

var tracer = otel.Tracer("driftd.indexer")

// Config holds indexer configuration.
type Config struct {
	// BatchSize is the number of files processed per embed-insert batch.
	// Default 50. Cancellation is observed at batch boundaries only.
	BatchSize int

	// Include and Exclude are glob patterns passed to the file system.
	Include []string
	Exclude []string

	// MaxFileSize skips files larger than this many bytes. Default 1MB.
	MaxFileSize int64

	// GitHistory enables indexing of commit history.
	GitHistory bool

	// MaxCommits bounds git history indexing. Default 50.
	MaxCommits int

	// StatePath is the JSON file recording per-path modification times.
	// Default: ~/.config/driftd/index-state.json
	StatePath string
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 1 << 20
	}
	if c.MaxCommits == 0 {
		c.MaxCommits = 50
	}
	if c.StatePath == "" {
		c.StatePath = "~/.config/driftd/index-state.json"
	}
}

// Indexer drives chunking, embedding, and storage. One IndexAll run at a
// time; invoking it while running is an error, not a queue.
type Indexer struct {
	config   Config
	fs       sourcefs.FileSystem
	git      gitsource.Source
	chunker  chunker.Chunker
	embedder embeddings.Embedder
	store    vectorstore.Store
	logger   *zap.Logger
	metrics  *Metrics

	mu             sync.Mutex
	status         Status
	mtimes         map[string]time.Time
	pauseRequested bool
	lastProgress   embeddings.ProgressFunc
	statePath      string
}

// New creates an Indexer and loads the persisted modification-time table.
// The git source may be nil when history indexing is disabled.
func New(config Config, fs sourcefs.FileSystem, git gitsource.Source, ch chunker.Chunker, embedder embeddings.Embedder, store vectorstore.Store, logger *zap.Logger) (*Indexer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	statePath, err := expandHome(config.StatePath)
	if err != nil {
		return nil, fmt.Errorf("expanding state path: %w", err)
	}

	ix := &Indexer{
		config:    config,
		fs:        fs,
		git:       git,
		chunker:   ch,
		embedder:  embedder,
		store:     store,
		logger:    logger,
		metrics:   NewMetrics(logger),
		status:    Status{State: StateIdle},
		mtimes:    map[string]time.Time{},
		statePath: statePath,
	}
	if err := ix.loadState(); err != nil {
		// A corrupt state file means a full reindex, not a startup failure.
		logger.Warn("failed to load index state, starting fresh", zap.Error(err))
		ix.mtimes = map[string]time.Time{}
	}
	return ix, nil
}

// Status returns a snapshot of the indexer's progress.
func (ix *Indexer) Status() Status {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.status
}

// IndexAll indexes every matching file, then optionally git history. Only
// one run may be active; a second call returns ErrAlreadyRunning.
//
// Staleness is mtime-based: a file whose recorded modification time is
// current is skipped without reading it. Content hashing is deliberately not
// used here; the file system's clock is trusted.
func (ix *Indexer) IndexAll(ctx context.Context, progress embeddings.ProgressFunc) error {
	ctx, span := tracer.Start(ctx, "Indexer.IndexAll")
	defer span.End()

	ix.mu.Lock()
	if ix.status.State == StateRunning {
		ix.mu.Unlock()
		return ErrAlreadyRunning
	}
	ix.status = Status{
		State:   StateRunning,
		RunID:   uuid.NewString(),
		Started: time.Now(),
	}
	ix.pauseRequested = false
	ix.lastProgress = progress
	runID := ix.status.RunID
	ix.mu.Unlock()

	span.SetAttributes(attribute.String("run_id", runID))
	ix.logger.Info("index run started", zap.String("run_id", runID))

	paused, err := ix.run(ctx, progress)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	switch {
	case err != nil:
		ix.status.State = StateError
		ix.status.LastError = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ix.logger.Error("index run failed", zap.String("run_id", runID), zap.Error(err))
		return err
	case paused:
		ix.status.State = StatePaused
		ix.logger.Info("index run paused", zap.String("run_id", runID), zap.Int("done", ix.status.Done))
		return nil
	default:
		ix.status.State = StateIdle
		ix.status.ETA = 0
		if err := ix.saveStateLocked(); err != nil {
			ix.logger.Warn("failed to persist index state", zap.Error(err))
		}
		span.SetStatus(codes.Ok, "success")
		ix.logger.Info("index run completed",
			zap.String("run_id", runID),
			zap.Int("files", ix.status.Done),
			zap.Int("chunks", ix.status.Chunks),
			zap.Int("errors", ix.status.Errors),
		)
		return nil
	}
}

// run executes the batch loop. It returns paused=true when cancellation was
// observed at a batch boundary.
func (ix *Indexer) run(ctx context.Context, progress embeddings.ProgressFunc) (bool, error) {
	if err := ix.embedder.Load(ctx, progress); err != nil {
		return false, fmt.Errorf("loading embedder: %w", err)
	}

	files, err := ix.fs.Glob(ctx, sourcefs.GlobOptions{
		Include:     ix.config.Include,
		Exclude:     ix.config.Exclude,
		MaxFileSize: ix.config.MaxFileSize,
	})
	if err != nil {
		return false, fmt.Errorf("enumerating files: %w", err)
	}

	ix.mu.Lock()
	ix.status.Total = len(files)
	ix.mu.Unlock()

	for start := 0; start < len(files); start += ix.config.BatchSize {
		if ix.aborted(ctx) {
			return true, nil
		}
		end := start + ix.config.BatchSize
		if end > len(files) {
			end = len(files)
		}
		ix.runBatch(ctx, files[start:end], progress)
	}

	if ix.config.GitHistory && ix.git != nil && ix.git.IsRepo() {
		paused, err := ix.runGitHistory(ctx)
		if paused || err != nil {
			return paused, err
		}
	}
	return false, nil
}

// runBatch processes one slice of files: per-file read/chunk/delete, then one
// embed call and one insert for everything the batch accumulated. Per-item
// and per-batch failures are counted and skipped, never fatal.
func (ix *Indexer) runBatch(ctx context.Context, files []string, progress embeddings.ProgressFunc) {
	batchStart := time.Now()
	defer func() { ix.metrics.RecordBatch(ctx, time.Since(batchStart)) }()

	var pending []chunk.Chunk
	batchMtimes := map[string]time.Time{}

	for _, path := range files {
		if !ix.needsReindex(path) {
			ix.fileDone()
			continue
		}

		content, err := ix.fs.Read(path)
		if err != nil {
			ix.recordError(ctx, "read", path, err)
			ix.fileDone()
			continue
		}

		chunks := ix.chunker.File(path, content, ix.fs.Lang(path))

		// Old chunks go first so a rename of a symbol does not leave its
		// previous chunk behind.
		if err := ix.store.DeleteByPath(ctx, path); err != nil {
			ix.recordError(ctx, "delete", path, err)
		}

		pending = append(pending, chunks...)
		if mt, err := ix.fs.Mtime(path); err == nil {
			batchMtimes[path] = mt
		}
		ix.metrics.RecordFile(ctx, "index_all")
		ix.fileDone()
	}

	if len(pending) > 0 {
		embeddedChunks, err := ix.embedder.EmbedChunks(ctx, pending, progress)
		if err != nil {
			ix.recordError(ctx, "embed", "", err)
			return
		}
		if err := ix.store.Insert(ctx, embeddedChunks); err != nil {
			ix.recordError(ctx, "insert", "", err)
			return
		}
		ix.addChunks(len(embeddedChunks))
		ix.metrics.RecordChunks(ctx, len(embeddedChunks))
	}

	// Mtimes are recorded only after the batch landed, so a failed batch is
	// retried on the next run.
	ix.mu.Lock()
	for path, mt := range batchMtimes {
		ix.mtimes[path] = mt
	}
	ix.mu.Unlock()
}

// runGitHistory embeds up to MaxCommits commits, one at a time. Diffs are
// large and already token-bounded by the chunker, so there is no batching;
// each commit is its own cancellation checkpoint.
func (ix *Indexer) runGitHistory(ctx context.Context) (bool, error) {
	commits, err := ix.git.Commits(ctx, ix.config.MaxCommits)
	if err != nil {
		ix.recordError(ctx, "git", "", err)
		return false, nil
	}

	for _, c := range commits {
		if ix.aborted(ctx) {
			return true, nil
		}
		chunks := ix.chunker.Commit(c)
		if len(chunks) == 0 {
			continue
		}
		embeddedChunks, err := ix.embedder.EmbedChunks(ctx, chunks, nil)
		if err != nil {
			ix.recordError(ctx, "embed", c.SHA, err)
			continue
		}
		if err := ix.store.Upsert(ctx, embeddedChunks); err != nil {
			ix.recordError(ctx, "insert", c.SHA, err)
			continue
		}
		ix.addChunks(len(embeddedChunks))
		ix.metrics.RecordChunks(ctx, len(embeddedChunks))
	}
	return false, nil
}

// IndexFile chunks, embeds, and stores one file, replacing its previous
// chunks. Used by the watcher. A file that no longer exists is removed.
func (ix *Indexer) IndexFile(ctx context.Context, path string) error {
	ctx, span := tracer.Start(ctx, "Indexer.IndexFile")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	if !ix.fs.Exists(path) {
		return ix.RemoveFile(ctx, path)
	}

	content, err := ix.fs.Read(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	chunks := ix.chunker.File(path, content, ix.fs.Lang(path))

	if err := ix.store.DeleteByPath(ctx, path); err != nil {
		ix.logger.Warn("deleting old chunks failed", zap.String("path", path), zap.Error(err))
	}
	if len(chunks) > 0 {
		embeddedChunks, err := ix.embedder.EmbedChunks(ctx, chunks, nil)
		if err != nil {
			return fmt.Errorf("embedding %s: %w", path, err)
		}
		if err := ix.store.Insert(ctx, embeddedChunks); err != nil {
			return fmt.Errorf("storing %s: %w", path, err)
		}
		ix.metrics.RecordChunks(ctx, len(embeddedChunks))
	}
	ix.metrics.RecordFile(ctx, "watch")

	ix.mu.Lock()
	if mt, err := ix.fs.Mtime(path); err == nil {
		ix.mtimes[path] = mt
	}
	err = ix.saveStateLocked()
	ix.mu.Unlock()
	if err != nil {
		ix.logger.Warn("failed to persist index state", zap.Error(err))
	}

	ix.logger.Debug("file indexed", zap.String("path", path), zap.Int("chunks", len(chunks)))
	return nil
}

// RemoveFile deletes a path's chunks and forgets its modification time.
func (ix *Indexer) RemoveFile(ctx context.Context, path string) error {
	if err := ix.store.DeleteByPath(ctx, path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	ix.mu.Lock()
	delete(ix.mtimes, path)
	err := ix.saveStateLocked()
	ix.mu.Unlock()
	if err != nil {
		ix.logger.Warn("failed to persist index state", zap.Error(err))
	}
	ix.logger.Debug("file removed from index", zap.String("path", path))
	return nil
}

// Pause requests cooperative cancellation. The in-flight batch completes;
// the state becomes paused at the next batch boundary. A no-op unless
// running.
func (ix *Indexer) Pause() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.status.State == StateRunning {
		ix.pauseRequested = true
	}
}

// Resume re-invokes IndexAll with the same progress callback as the paused
// run. Already-indexed files are skipped by the mtime check, so the run
// continues roughly where it stopped.
func (ix *Indexer) Resume(ctx context.Context) error {
	ix.mu.Lock()
	if ix.status.State != StatePaused {
		ix.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrNotPaused, ix.status.State)
	}
	progress := ix.lastProgress
	ix.status.State = StateIdle
	ix.mu.Unlock()

	return ix.IndexAll(ctx, progress)
}

// ClearIndex drops every collection and forgets all tracked modification
// times. Not allowed while a run is active.
func (ix *Indexer) ClearIndex(ctx context.Context) error {
	ix.mu.Lock()
	if ix.status.State == StateRunning {
		ix.mu.Unlock()
		return ErrAlreadyRunning
	}
	ix.mu.Unlock()

	if err := ix.store.DropAll(ctx); err != nil {
		return fmt.Errorf("dropping collections: %w", err)
	}

	ix.mu.Lock()
	ix.mtimes = map[string]time.Time{}
	ix.status = Status{State: StateIdle}
	err := ix.saveStateLocked()
	ix.mu.Unlock()
	if err != nil {
		ix.logger.Warn("failed to persist index state", zap.Error(err))
	}
	ix.logger.Info("index cleared")
	return nil
}

// needsReindex reports whether a path was never indexed or has a newer
// modification time than last recorded.
func (ix *Indexer) needsReindex(path string) bool {
	current, err := ix.fs.Mtime(path)
	if err != nil {
		return true
	}
	ix.mu.Lock()
	last, ok := ix.mtimes[path]
	ix.mu.Unlock()
	return !ok || current.After(last)
}

// aborted reports whether a pause was requested or the context cancelled.
// Checked once per batch; both map to the paused state, never to error.
func (ix *Indexer) aborted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.pauseRequested
}

func (ix *Indexer) fileDone() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.status.Done++
	if ix.status.Done > 0 && ix.status.Done < ix.status.Total {
		elapsed := time.Since(ix.status.Started)
		perFile := elapsed / time.Duration(ix.status.Done)
		ix.status.ETA = perFile * time.Duration(ix.status.Total-ix.status.Done)
	} else {
		ix.status.ETA = 0
	}
}

func (ix *Indexer) addChunks(n int) {
	ix.mu.Lock()
	ix.status.Chunks += n
	ix.mu.Unlock()
}

func (ix *Indexer) recordError(ctx context.Context, stage, path string, err error) {
	ix.metrics.RecordError(ctx, stage)
	ix.mu.Lock()
	ix.status.Errors++
	ix.status.LastError = err.Error()
	ix.mu.Unlock()
	ix.logger.Warn("indexing failure skipped",
		zap.String("stage", stage),
		zap.String("path", path),
		zap.Error(err),
	)
}

// indexState is the persisted modification-time table.
type indexState struct {
	Mtimes map[string]time.Time `json:"mtimes"`
}

func (ix *Indexer) loadState() error {
	data, err := os.ReadFile(ix.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var state indexState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.Mtimes != nil {
		ix.mtimes = state.Mtimes
	}
	return nil
}

// saveStateLocked persists the mtime table. Callers hold ix.mu.
func (ix *Indexer) saveStateLocked() error {
	data, err := json.MarshalIndent(indexState{Mtimes: ix.mtimes}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(ix.statePath), 0o755); err != nil {
		return err
	}
	tmp := ix.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, ix.statePath)
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
