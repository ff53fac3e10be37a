// Package vectorstore provides durable, collection-sharded storage for
// embedded chunks.
//
// Records are partitioned into one physical collection per (type, level) key
// (see the collections package). Two backends are available: chromem-go
// (embedded, default) and Qdrant (external server, gRPC).
package vectorstore

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrNotFound is returned when a chunk id has no record.
	ErrNotFound = errors.New("chunk not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyChunks indicates an empty or nil chunk batch.
	ErrEmptyChunks = errors.New("empty or nil chunks")

	// ErrDimensionMismatch indicates a vector whose length does not match
	// the store's declared dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")
)

// Query selects and bounds a nearest-neighbor search across collections.
type Query struct {
	// K is the number of hits to return after merging all collections.
	K int

	// Min discards hits scoring below this similarity. Zero keeps all.
	Min float32

	// Types and Levels restrict the candidate collections. Empty means all.
	Types  []chunk.Type
	Levels []chunk.Level

	// Path restricts hits to chunks from one source path (exact match).
	Path string

	// Lang restricts hits to chunks of one language (exact match).
	Lang string
}

// Scored is a chunk returned from a similarity search, together with its
// similarity score and stored vector.
type Scored struct {
	Chunk  chunk.Chunk
	Score  float32
	Vector []float32
}

// CollectionInfo describes one collection shard.
type CollectionInfo struct {
	Name       string `json:"name"`
	PointCount int    `json:"point_count"`
	VectorSize int    `json:"vector_size"`
}

// Store is the interface for chunk storage and similarity search.
//
// Failure policy: a missing or failing single collection never aborts a
// multi-collection operation (Search, DeleteByIDs, DeleteByPath, Collections).
// Such failures are logged and the collection's results are excluded. Only
// connection-level and per-call validation errors surface to the caller.
type Store interface {
	// Insert stores embedded chunks, grouping them by (type, level) and
	// creating collections on first write.
	Insert(ctx context.Context, chunks []chunk.Embedded) error

	// Upsert is delete-by-id followed by insert. Delete failures are
	// best-effort and never block the insert, so a partially failed delete
	// can leave stale duplicates but never loses the new data.
	Upsert(ctx context.Context, chunks []chunk.Embedded) error

	// DeleteByIDs removes chunks by id across every collection. Unknown
	// ids and missing collections are not errors.
	DeleteByIDs(ctx context.Context, ids []string) error

	// DeleteByPath removes every chunk recorded for a source path, across
	// every collection.
	DeleteByPath(ctx context.Context, path string) error

	// Search runs a nearest-neighbor search per candidate collection and
	// merges the results into a global top-K by score. Given an unchanged
	// store and vector, repeated calls return the same ordering; ties
	// break by chunk id.
	Search(ctx context.Context, vector []float32, q Query) ([]Scored, error)

	// GetByID returns one chunk with its stored vector. No query vector is
	// required. Returns ErrNotFound for unknown ids.
	GetByID(ctx context.Context, id string) (*chunk.Embedded, error)

	// GetByPath returns every chunk stored for a source path.
	GetByPath(ctx context.Context, path string) ([]chunk.Embedded, error)

	// Collections lists the driftd collection shards that currently exist.
	Collections(ctx context.Context) ([]CollectionInfo, error)

	// DropAll deletes every driftd collection. Used by the indexer's
	// clear-index operation.
	DropAll(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
