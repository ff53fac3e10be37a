package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
	"github.com/fyrsmithlabs/driftd/internal/collections"
)

var qdrantTracer = otel.Tracer("driftd.vectorstore.qdrant")

// pointIDNamespace derives deterministic Qdrant point UUIDs from chunk ids,
// so re-upserting the same chunk overwrites its point instead of duplicating.
var pointIDNamespace = uuid.MustParse("b6b49cdc-3b29-4f78-9c9d-8a7f52a1de01")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP. Default: "localhost".
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port (6333).
	Port int

	// VectorSize is the embedding dimensionality. Must match the embedder.
	VectorSize int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the retry budget for transient failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry. Default: 1s.
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message size limit. Default: 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// isTransient reports whether a gRPC error is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store using Qdrant's native gRPC client.
//
// The gRPC transport avoids Qdrant's HTTP payload limits during bulk
// indexing and gives exact distance semantics (cosine similarity as the
// score, highest first).
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantStore connects to Qdrant and verifies the connection.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{client: client, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant store connected",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Int("vector_size", config.VectorSize),
	)
	return store, nil
}

// retry runs op with exponential backoff on transient gRPC failures.
func (s *QdrantStore) retry(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// ensureCollection creates the collection if it does not exist yet.
func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// stringValue wraps a string as a Qdrant payload value.
func stringValue(v string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
}

// keywordCondition matches a payload field against one keyword.
func keywordCondition(key, keyword string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: keyword},
				},
			},
		},
	}
}

// keywordsCondition matches a payload field against any of several keywords.
func keywordsCondition(key string, keywords []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{
						Keywords: &qdrant.RepeatedStrings{Strings: keywords},
					},
				},
			},
		},
	}
}

// payloadFromChunk builds the Qdrant payload carrying the full chunk fields.
func payloadFromChunk(e chunk.Embedded, now time.Time) map[string]*qdrant.Value {
	md := encodeMetadata(e, now)
	payload := make(map[string]*qdrant.Value, len(md)+2)
	payload["id"] = stringValue(e.ID)
	payload["content"] = stringValue(e.Content)
	for k, v := range md {
		payload[k] = stringValue(v)
	}
	return payload
}

// chunkFromPayload rebuilds a chunk from a point payload.
func chunkFromPayload(payload map[string]*qdrant.Value) chunk.Chunk {
	md := make(map[string]string, len(payload))
	for k, v := range payload {
		md[k] = v.GetStringValue()
	}
	return decodeMetadata(md["id"], md["content"], md)
}

// vectorFromPoint extracts the dense vector from a point, if present.
func vectorFromPoint(v *qdrant.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	if vec := v.GetVector(); vec != nil {
		return vec.GetData()
	}
	return nil
}

// idFilter matches points whose payload id is one of ids.
func idFilter(ids []string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			keywordsCondition("id", ids),
		},
	}
}

// Insert stores embedded chunks, creating collections on first write.
func (s *QdrantStore) Insert(ctx context.Context, chunks []chunk.Embedded) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Insert")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	if len(chunks) == 0 {
		return ErrEmptyChunks
	}

	grouped := make(map[string][]chunk.Embedded)
	for _, e := range chunks {
		if len(e.Vector) != s.config.VectorSize || e.Dim != len(e.Vector) {
			return fmt.Errorf("%w: chunk %s has dim %d, store expects %d",
				ErrDimensionMismatch, e.ID, len(e.Vector), s.config.VectorSize)
		}
		name, err := collections.Name(e.Type, e.Level)
		if err != nil {
			return fmt.Errorf("resolving collection for chunk %s: %w", e.ID, err)
		}
		grouped[name] = append(grouped[name], e)
	}

	now := timeNow()
	for name, batch := range grouped {
		if err := s.ensureCollection(ctx, name); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		points := make([]*qdrant.PointStruct, len(batch))
		for i, e := range batch {
			points[i] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(uuid.NewSHA1(pointIDNamespace, []byte(e.ID)).String()),
				Vectors: qdrant.NewVectors(e.Vector...),
				Payload: payloadFromChunk(e, now),
			}
		}

		err := s.retry(ctx, "upsert", func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: name,
				Points:         points,
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("upserting points to %s: %w", name, err)
		}
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert deletes by id (best-effort) then inserts. Point ids are derived
// deterministically from chunk ids, so the insert alone already replaces
// matching points; the delete pass clears ids whose chunks moved shards.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []chunk.Embedded) error {
	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	ids := make([]string, len(chunks))
	for i, e := range chunks {
		ids[i] = e.ID
	}
	if err := s.DeleteByIDs(ctx, ids); err != nil {
		s.logger.Warn("upsert pre-delete failed, continuing with insert", zap.Error(err))
	}
	return s.Insert(ctx, chunks)
}

// deleteByFilter removes matching points from every existing collection.
func (s *QdrantStore) deleteByFilter(ctx context.Context, filter *qdrant.Filter) error {
	for _, name := range collections.All() {
		exists, err := s.client.CollectionExists(ctx, name)
		if err != nil || !exists {
			continue
		}
		err = s.retry(ctx, "delete", func() error {
			_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
				CollectionName: name,
				Points: &qdrant.PointsSelector{
					PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
				},
			})
			return err
		})
		if err != nil {
			// Per-collection failure policy: log and keep going.
			s.logger.Warn("delete failed for collection",
				zap.String("collection", name), zap.Error(err))
		}
	}
	return nil
}

// DeleteByIDs removes chunks by id across every collection.
func (s *QdrantStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.deleteByFilter(ctx, idFilter(ids))
}

// DeleteByPath removes every chunk stored for one source path.
func (s *QdrantStore) DeleteByPath(ctx context.Context, path string) error {
	return s.deleteByFilter(ctx, &qdrant.Filter{
		Must: []*qdrant.Condition{keywordCondition(metaKeyPath, path)},
	})
}

// Search runs a nearest-neighbor query per candidate collection and merges
// the results into a global top-K.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, q Query) ([]Scored, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", q.K))

	if q.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, q.K)
	}
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query vector has dim %d, store expects %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	var conditions []*qdrant.Condition
	if q.Path != "" {
		conditions = append(conditions, keywordCondition(metaKeyPath, q.Path))
	}
	if q.Lang != "" {
		conditions = append(conditions, keywordCondition(metaKeyLang, q.Lang))
	}
	var filter *qdrant.Filter
	if len(conditions) > 0 {
		filter = &qdrant.Filter{Must: conditions}
	}

	var merged []Scored
	for _, name := range collections.Filter(q.Types, q.Levels) {
		var results []*qdrant.ScoredPoint
		err := s.retry(ctx, "query", func() error {
			res, err := s.client.Query(ctx, &qdrant.QueryPoints{
				CollectionName: name,
				Query:          qdrant.NewQuery(vector...),
				Limit:          qdrant.PtrOf(uint64(q.K)),
				Filter:         filter,
				WithPayload:    qdrant.NewWithPayload(true),
				WithVectors:    qdrant.NewWithVectors(true),
			})
			if err != nil {
				return err
			}
			results = res
			return nil
		})
		if err != nil {
			// Missing or failing shards are excluded, never fatal.
			s.logger.Warn("collection search failed, excluding from results",
				zap.String("collection", name), zap.Error(err))
			continue
		}
		for _, p := range results {
			if p.Score < q.Min {
				continue
			}
			merged = append(merged, Scored{
				Chunk:  chunkFromPayload(p.Payload),
				Score:  p.Score,
				Vector: vectorFromPoint(p.Vectors),
			})
		}
	}

	sortScored(merged)
	if len(merged) > q.K {
		merged = merged[:q.K]
	}
	span.SetAttributes(attribute.Int("results", len(merged)))
	span.SetStatus(codes.Ok, "success")
	return merged, nil
}

// scroll fetches matching points with payloads and vectors from one
// collection, without a query vector.
func (s *QdrantStore) scroll(ctx context.Context, name string, filter *qdrant.Filter, limit uint32) ([]*qdrant.RetrievedPoint, error) {
	var points []*qdrant.RetrievedPoint
	err := s.retry(ctx, "scroll", func() error {
		res, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: name,
			Filter:         filter,
			Limit:          qdrant.PtrOf(limit),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	return points, err
}

const scrollPageSize = 1024

// GetByID returns one stored chunk with its vector.
func (s *QdrantStore) GetByID(ctx context.Context, id string) (*chunk.Embedded, error) {
	for _, name := range collections.All() {
		exists, err := s.client.CollectionExists(ctx, name)
		if err != nil || !exists {
			continue
		}
		points, err := s.scroll(ctx, name, idFilter([]string{id}), 1)
		if err != nil || len(points) == 0 {
			continue
		}
		p := points[0]
		c := chunkFromPayload(p.Payload)
		vec := vectorFromPoint(p.Vectors)
		return &chunk.Embedded{
			Chunk:  c,
			Vector: vec,
			Model:  p.Payload[metaKeyModel].GetStringValue(),
			Dim:    len(vec),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// GetByPath returns every chunk stored for one source path, in id order.
func (s *QdrantStore) GetByPath(ctx context.Context, path string) ([]chunk.Embedded, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{keywordCondition(metaKeyPath, path)},
	}

	var out []chunk.Embedded
	for _, name := range collections.All() {
		exists, err := s.client.CollectionExists(ctx, name)
		if err != nil || !exists {
			continue
		}
		points, err := s.scroll(ctx, name, filter, scrollPageSize)
		if err != nil {
			s.logger.Warn("scroll failed for collection",
				zap.String("collection", name), zap.Error(err))
			continue
		}
		for _, p := range points {
			c := chunkFromPayload(p.Payload)
			vec := vectorFromPoint(p.Vectors)
			out = append(out, chunk.Embedded{
				Chunk:  c,
				Vector: vec,
				Model:  p.Payload[metaKeyModel].GetStringValue(),
				Dim:    len(vec),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Collections lists the driftd collection shards that exist.
func (s *QdrantStore) Collections(ctx context.Context) ([]CollectionInfo, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}

	var infos []CollectionInfo
	for _, name := range names {
		if _, err := collections.Parse(name); err != nil {
			continue
		}
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			s.logger.Warn("failed to get collection info",
				zap.String("collection", name), zap.Error(err))
			continue
		}
		count := 0
		if info.PointsCount != nil {
			count = int(*info.PointsCount)
		}
		infos = append(infos, CollectionInfo{
			Name:       name,
			PointCount: count,
			VectorSize: s.config.VectorSize,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// DropAll deletes every driftd collection.
func (s *QdrantStore) DropAll(ctx context.Context) error {
	for _, name := range collections.All() {
		exists, err := s.client.CollectionExists(ctx, name)
		if err != nil || !exists {
			continue
		}
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			s.logger.Warn("failed to drop collection",
				zap.String("collection", name), zap.Error(err))
		}
	}
	s.logger.Info("dropped all collections")
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
