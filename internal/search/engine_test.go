package search

import (
	"context"
	"crypto/sha256"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
	"github.com/fyrsmithlabs/driftd/internal/embeddings"
	"github.com/fyrsmithlabs/driftd/internal/vectorstore"
)

const testDim = 4

// fakeEmbedder returns pinned vectors for known texts and a deterministic
// hash vector otherwise.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, testDim)
	var norm float64
	for i := range v {
		v[i] = float32(sum[i]) + 1
		norm += float64(v[i]) * float64(v[i])
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedChunks(ctx context.Context, chunks []chunk.Chunk, progress embeddings.ProgressFunc) ([]chunk.Embedded, error) {
	out := make([]chunk.Embedded, len(chunks))
	for i, c := range chunks {
		vec, _ := f.EmbedQuery(ctx, c.Content)
		out[i] = chunk.Embedded{Chunk: c, Vector: vec, Model: "fake", Dim: testDim}
	}
	return out, nil
}

func (f *fakeEmbedder) Load(ctx context.Context, progress embeddings.ProgressFunc) error { return nil }
func (f *fakeEmbedder) Dimension() int                                                   { return testDim }
func (f *fakeEmbedder) ModelName() string                                                { return "fake" }
func (f *fakeEmbedder) Close() error                                                     { return nil }

var _ embeddings.Embedder = (*fakeEmbedder)(nil)

func unit(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis] = 1
	return v
}

func insert(t *testing.T, store vectorstore.Store, id, content string, vec []float32) {
	t.Helper()
	e := chunk.Embedded{
		Chunk: chunk.Chunk{
			ID:      id,
			Content: content,
			Type:    chunk.TypeCode,
			Level:   chunk.LevelSymbol,
			Path:    "pkg/" + id + ".go",
			Symbol:  "Sym" + id,
			Lang:    "go",
		},
		Vector: vec,
		Model:  "fake",
		Dim:    testDim,
	}
	require.NoError(t, store.Insert(context.Background(), []chunk.Embedded{e}))
}

func newEngine(t *testing.T, embed *fakeEmbedder) (*Engine, vectorstore.Store) {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		VectorSize: testDim,
	}, zap.NewNop())
	require.NoError(t, err)
	return New(store, embed, zap.NewNop()), store
}

func TestSearch_EmptyStore(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{"query": unit(0)}}
	engine, _ := newEngine(t, embed)

	hits, err := engine.Search(context.Background(), Query{Text: "query", K: 5})
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestSearch_EmptyText(t *testing.T) {
	embed := &fakeEmbedder{}
	engine, _ := newEngine(t, embed)

	_, err := engine.Search(context.Background(), Query{Text: "  "})
	assert.Error(t, err)
}

func TestSearch_HybridAlphaOneIsPureVector(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{"indexer batch": unit(0)}}
	engine, store := newEngine(t, embed)

	// Vector ranking says a > b; BM25 says b > a.
	insert(t, store, "a1", "nothing lexical here", unit(0))
	insert(t, store, "b1", "indexer batch indexer batch", []float32{0.6, 0.8, 0, 0})

	pure, err := engine.Search(context.Background(), Query{Text: "indexer batch", K: 2})
	require.NoError(t, err)

	alphaOne, err := engine.Search(context.Background(), Query{Text: "indexer batch", K: 2, Hybrid: true, Alpha: 1})
	require.NoError(t, err)

	require.Len(t, alphaOne, 2)
	for i := range pure {
		assert.Equal(t, pure[i].Chunk.ID, alphaOne[i].Chunk.ID)
		assert.Equal(t, pure[i].Score, alphaOne[i].Score)
	}
	assert.Equal(t, "a1", alphaOne[0].Chunk.ID)
}

func TestSearch_HybridAlphaZeroIsPureBM25(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{"indexer batch": unit(0)}}
	engine, store := newEngine(t, embed)

	insert(t, store, "a1", "nothing lexical here", unit(0))
	insert(t, store, "b1", "indexer batch indexer batch", []float32{0.6, 0.8, 0, 0})

	hits, err := engine.Search(context.Background(), Query{Text: "indexer batch", K: 2, Hybrid: true, Alpha: 0})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// BM25 dominates completely: the lexical match ranks first with the
	// normalized maximum score, the other gets exactly zero.
	assert.Equal(t, "b1", hits[0].Chunk.ID)
	assert.Equal(t, float32(1), hits[0].Score)
	assert.Equal(t, float32(0), hits[1].Score)
	assert.Equal(t, float32(1), hits[0].BM25Score)
}

func TestSearch_HybridBlend(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{"indexer": unit(0)}}
	engine, store := newEngine(t, embed)

	insert(t, store, "a1", "indexer indexer", unit(0))
	insert(t, store, "b1", "unrelated", []float32{0.6, 0.8, 0, 0})

	hits, err := engine.Search(context.Background(), Query{Text: "indexer", K: 2, Hybrid: true, Alpha: 0.7})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// score = 0.7·vec + 0.3·bm25
	assert.Equal(t, "a1", hits[0].Chunk.ID)
	assert.InDelta(t, 0.7*1.0+0.3*1.0, float64(hits[0].Score), 1e-5)
	assert.InDelta(t, 0.7*0.6+0.3*0.0, float64(hits[1].Score), 1e-5)
}

func TestSearch_MinScoreFilter(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{"indexer": unit(0)}}
	engine, store := newEngine(t, embed)

	insert(t, store, "a1", "indexer", unit(0))
	insert(t, store, "b1", "other", []float32{0.3, 0.954, 0, 0})

	hits, err := engine.Search(context.Background(), Query{Text: "indexer", K: 10, Min: 0.5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, float32(0.5))
	}
}

func TestSearch_Rerank(t *testing.T) {
	queryVec := unit(0)
	embed := &fakeEmbedder{vectors: map[string][]float32{
		"findme":                          queryVec,
		"Query: findme\nDocument: alpha":  unit(1), // cosine 0 vs query
		"Query: findme\nDocument: beta":   unit(0), // cosine 1 vs query
		"Query: findme\nDocument: gamma":  unit(2),
	}}
	engine, store := newEngine(t, embed)

	// Vector retrieval favors alpha; the reranker flips it to beta.
	insert(t, store, "a1", "alpha", unit(0))
	insert(t, store, "b1", "beta", []float32{0.8, 0.6, 0, 0})
	insert(t, store, "c1", "gamma", []float32{0.6, 0.8, 0, 0})

	hits, err := engine.Search(context.Background(), Query{Text: "findme", K: 1, Rerank: true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b1", hits[0].Chunk.ID)
	assert.InDelta(t, 1.0, float64(hits[0].RerankScore), 1e-5)
	assert.Equal(t, hits[0].RerankScore, hits[0].Score)
}

func TestSearch_Highlights(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{"indexer": unit(0)}}
	engine, store := newEngine(t, embed)

	content := "the Indexer starts\nno match\nindexer stops\nindexer pauses\nindexer resumes"
	insert(t, store, "a1", content, unit(0))

	hits, err := engine.Search(context.Background(), Query{Text: "indexer", K: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// At most three lines, terms wrapped, case-insensitive match.
	require.Len(t, hits[0].Highlights, 3)
	assert.Equal(t, "the **Indexer** starts", hits[0].Highlights[0])
	assert.Equal(t, "**indexer** stops", hits[0].Highlights[1])
}

func TestSearchWithContext_Boosts(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{"indexer": unit(0)}}
	engine, store := newEngine(t, embed)

	insert(t, store, "a1", "indexer first", unit(0))
	insert(t, store, "b1", "indexer second", []float32{0.9, 0.4359, 0, 0})

	graph := GraphContext{
		Dependents:   []string{"Symb1"},
		Dependencies: []string{"Symb1"},
		Siblings:     []string{"Symb1"},
	}
	hits, err := engine.SearchWithContext(context.Background(), Query{Text: "indexer", K: 2}, graph)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// b1 gets +0.10+0.15+0.20 = +0.45, capped at 1.0, overtaking a1 on the
	// id tie-break at the cap.
	boosted := hits[0]
	if boosted.Chunk.ID != "b1" {
		boosted = hits[1]
	}
	assert.InDelta(t, 0.45, float64(boosted.BoostScore), 1e-6)
	assert.Equal(t, float32(1), boosted.Score)
	assert.Equal(t, "a1", hits[0].Chunk.ID, "tie at 1.0 breaks by id")
}
