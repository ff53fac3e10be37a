// Package embeddings provides embedding generation via multiple providers.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// ProgressFunc reports progress of long-running embedding work. Model loading
// reports indeterminate progress (total 0); batch embedding reports chunk
// counts. A nil ProgressFunc is always safe to pass.
type ProgressFunc func(message string, completed, total int)

// Embedder is the contract the indexer, search engine, and coherence detector
// depend on. Implementations hold exactly one loaded model; Dimension is fixed
// per model, and switching models requires a drop+reindex of the store.
type Embedder interface {
	// Load makes the model ready. It is safe to call concurrently: callers
	// arriving while a load is in flight wait for that load instead of
	// starting a second one. Calling Load on a loaded embedder is a no-op.
	Load(ctx context.Context, progress ProgressFunc) error

	// EmbedChunks embeds a batch of chunks, preserving input order. The
	// model is loaded on first use if Load was never called.
	EmbedChunks(ctx context.Context, chunks []chunk.Chunk, progress ProgressFunc) ([]chunk.Embedded, error)

	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the model's output vector length.
	Dimension() int

	// ModelName returns the configured model identifier.
	ModelName() string

	// Close releases model resources.
	Close() error
}

// report invokes progress if non-nil.
func report(progress ProgressFunc, message string, completed, total int) {
	if progress != nil {
		progress(message, completed, total)
	}
}

// embedded pairs a batch of chunks with their vectors, preserving order.
func embedded(chunks []chunk.Chunk, vectors [][]float32, model string) ([]chunk.Embedded, error) {
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks",
			ErrEmbeddingFailed, len(vectors), len(chunks))
	}
	out := make([]chunk.Embedded, len(chunks))
	for i, c := range chunks {
		out[i] = chunk.Embedded{
			Chunk:  c,
			Vector: vectors[i],
			Model:  model,
			Dim:    len(vectors[i]),
		}
	}
	return out, nil
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
