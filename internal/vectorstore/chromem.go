package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
	"github.com/fyrsmithlabs/driftd/internal/collections"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

var chromemTracer = otel.Tracer("driftd.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/driftd/vectorstore"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is the expected embedding dimension. Must match the
	// embedder's output dimension. Default: 384 (bge-small-en-v1.5).
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/driftd/vectorstore"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store on top of chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, automatic persistence to gob
// files. All vectors are supplied precomputed; chromem's own embedding hook
// is never exercised.
type ChromemStore struct {
	db       *chromem.DB
	config   ChromemConfig
	logger   *zap.Logger
	manifest *manifest
}

// NewChromemStore opens (or creates) the embedded database at config.Path.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	expandedPath, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expandedPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	man, err := loadManifest(expandedPath)
	if err != nil {
		return nil, err
	}

	store := &ChromemStore{
		db:       db,
		config:   config,
		logger:   logger,
		manifest: man,
	}

	logger.Info("chromem store opened",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
	)

	return store, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc satisfies chromem's collection constructor. driftd always
// supplies precomputed vectors, so this must never be reached. Passing nil
// instead would make chromem fall back to its OpenAI default.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem store requires precomputed embeddings")
	}
}

func (s *ChromemStore) getCollection(name string) *chromem.Collection {
	return s.db.GetCollection(name, s.embeddingFunc())
}

// Insert stores embedded chunks, creating collections on first write.
func (s *ChromemStore) Insert(ctx context.Context, chunks []chunk.Embedded) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Insert")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	if len(chunks) == 0 {
		return ErrEmptyChunks
	}

	// Group by (type, level) collection.
	grouped := make(map[string][]chunk.Embedded)
	for _, e := range chunks {
		if len(e.Vector) != s.config.VectorSize || e.Dim != len(e.Vector) {
			err := fmt.Errorf("%w: chunk %s has dim %d, store expects %d",
				ErrDimensionMismatch, e.ID, len(e.Vector), s.config.VectorSize)
			span.RecordError(err)
			return err
		}
		name, err := collections.Name(e.Type, e.Level)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("resolving collection for chunk %s: %w", e.ID, err)
		}
		grouped[name] = append(grouped[name], e)
	}

	now := timeNow()
	refs := make(map[string]docRef, len(chunks))

	for name, batch := range grouped {
		col, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("getting/creating collection %s: %w", name, err)
		}

		docs := make([]chromem.Document, len(batch))
		for i, e := range batch {
			docs[i] = chromem.Document{
				ID:        e.ID,
				Content:   e.Content,
				Metadata:  encodeMetadata(e, now),
				Embedding: e.Vector,
			}
			refs[e.ID] = docRef{Collection: name, Path: e.Path, Lang: e.Lang}
		}

		// Concurrency 1: embeddings are precomputed, nothing to parallelize.
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("adding documents to %s: %w", name, err)
		}
	}

	if err := s.manifest.add(refs); err != nil {
		span.RecordError(err)
		return err
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("inserted chunks",
		zap.Int("count", len(chunks)),
		zap.Int("collections", len(grouped)),
	)
	return nil
}

// Upsert deletes by id (best-effort) then inserts. A delete failure is
// logged and skipped so the fresh data always lands; the documented risk is
// a stale duplicate, never data loss.
func (s *ChromemStore) Upsert(ctx context.Context, chunks []chunk.Embedded) error {
	if len(chunks) == 0 {
		return ErrEmptyChunks
	}

	ids := make([]string, len(chunks))
	for i, e := range chunks {
		ids[i] = e.ID
	}
	if err := s.DeleteByIDs(ctx, ids); err != nil {
		s.logger.Warn("upsert pre-delete failed, continuing with insert",
			zap.Error(err), zap.Int("ids", len(ids)))
	}
	return s.Insert(ctx, chunks)
}

// DeleteByIDs removes chunks by id. Unknown ids are ignored.
func (s *ChromemStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	byCollection, err := s.manifest.remove(ids)
	if err != nil {
		return err
	}

	for name, colIDs := range byCollection {
		col := s.getCollection(name)
		if col == nil {
			continue
		}
		if err := col.Delete(ctx, nil, nil, colIDs...); err != nil {
			// Per-collection failure policy: log and keep going.
			s.logger.Warn("delete failed for collection",
				zap.String("collection", name),
				zap.Int("ids", len(colIDs)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// DeleteByPath removes every chunk stored for one source path.
func (s *ChromemStore) DeleteByPath(ctx context.Context, path string) error {
	return s.DeleteByIDs(ctx, s.manifest.idsForPath(path))
}

// Search runs a nearest-neighbor query per candidate collection and merges
// the results into a global top-K.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, q Query) ([]Scored, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", q.K))

	if q.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, q.K)
	}
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query vector has dim %d, store expects %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	var merged []Scored
	for _, name := range collections.Filter(q.Types, q.Levels) {
		hits, err := s.searchCollection(ctx, name, vector, q)
		if err != nil {
			// A corrupt or failing shard is excluded, never fatal.
			s.logger.Warn("collection search failed, excluding from results",
				zap.String("collection", name), zap.Error(err))
			continue
		}
		merged = append(merged, hits...)
	}

	sortScored(merged)
	if len(merged) > q.K {
		merged = merged[:q.K]
	}

	span.SetAttributes(attribute.Int("results", len(merged)))
	span.SetStatus(codes.Ok, "success")
	return merged, nil
}

// searchCollection queries one collection. Without path/lang predicates it
// uses chromem's own query; with predicates it brute-forces cosine over the
// manifest-matched ids, the same exact-search fallback pattern small result
// sets need anyway.
func (s *ChromemStore) searchCollection(ctx context.Context, name string, vector []float32, q Query) ([]Scored, error) {
	col := s.getCollection(name)
	if col == nil {
		return nil, nil
	}

	if q.Path == "" && q.Lang == "" {
		count := col.Count()
		if count == 0 {
			return nil, nil
		}
		n := q.K
		if n > count {
			n = count
		}
		results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("querying collection %s: %w", name, err)
		}
		hits := make([]Scored, 0, len(results))
		for _, r := range results {
			if r.Similarity < q.Min {
				continue
			}
			hits = append(hits, Scored{
				Chunk:  decodeMetadata(r.ID, r.Content, r.Metadata),
				Score:  r.Similarity,
				Vector: r.Embedding,
			})
		}
		return hits, nil
	}

	var hits []Scored
	for _, id := range s.manifest.match(name, q.Path, q.Lang) {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue
		}
		score := chunk.Cosine(vector, doc.Embedding)
		if score < q.Min {
			continue
		}
		hits = append(hits, Scored{
			Chunk:  decodeMetadata(doc.ID, doc.Content, doc.Metadata),
			Score:  score,
			Vector: doc.Embedding,
		})
	}
	sortScored(hits)
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

// GetByID returns one stored chunk with its vector.
func (s *ChromemStore) GetByID(ctx context.Context, id string) (*chunk.Embedded, error) {
	ref, ok := s.manifest.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	col := s.getCollection(ref.Collection)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, ref.Collection)
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e := &chunk.Embedded{
		Chunk:  decodeMetadata(doc.ID, doc.Content, doc.Metadata),
		Vector: doc.Embedding,
		Model:  doc.Metadata[metaKeyModel],
		Dim:    len(doc.Embedding),
	}
	return e, nil
}

// GetByPath returns every chunk stored for one source path, in id order.
func (s *ChromemStore) GetByPath(ctx context.Context, path string) ([]chunk.Embedded, error) {
	var out []chunk.Embedded
	for _, id := range s.manifest.idsForPath(path) {
		e, err := s.GetByID(ctx, id)
		if err != nil {
			// Manifest can be momentarily ahead of a failed delete;
			// skip the phantom entry.
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

// Collections lists the driftd collection shards that exist.
func (s *ChromemStore) Collections(ctx context.Context) ([]CollectionInfo, error) {
	var infos []CollectionInfo
	for name := range s.db.ListCollections() {
		if _, err := collections.Parse(name); err != nil {
			continue
		}
		col := s.getCollection(name)
		if col == nil {
			continue
		}
		infos = append(infos, CollectionInfo{
			Name:       name,
			PointCount: col.Count(),
			VectorSize: s.config.VectorSize,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// DropAll deletes every driftd collection and clears the manifest.
func (s *ChromemStore) DropAll(ctx context.Context) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.DropAll")
	defer span.End()

	for _, name := range collections.All() {
		if s.getCollection(name) == nil {
			continue
		}
		if err := s.db.DeleteCollection(name); err != nil {
			s.logger.Warn("failed to drop collection",
				zap.String("collection", name), zap.Error(err))
		}
	}
	if err := s.manifest.clear(); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetStatus(codes.Ok, "success")
	s.logger.Info("dropped all collections")
	return nil
}

// Close releases resources. chromem persists automatically, nothing to flush.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

// sortScored orders hits by score descending, ties broken by chunk id so
// repeated searches over an unchanged store return a stable ordering.
func sortScored(hits []Scored) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
