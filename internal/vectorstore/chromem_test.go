package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
)

const testDim = 4

// unit returns a unit basis vector, so cosine scores in tests are exact.
func unit(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis] = 1
	return v
}

func testChunk(id, path string, typ chunk.Type, level chunk.Level, vec []float32) chunk.Embedded {
	return chunk.Embedded{
		Chunk: chunk.Chunk{
			ID:        id,
			Content:   "content of " + id,
			Type:      typ,
			Level:     level,
			Path:      path,
			Lang:      "go",
			StartLine: 1,
			EndLine:   10,
		},
		Vector: vec,
		Model:  "test-model",
		Dim:    len(vec),
	}
}

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{
		Path:       t.TempDir(),
		VectorSize: testDim,
	}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestChromemConfig_ApplyDefaults(t *testing.T) {
	var cfg ChromemConfig
	cfg.ApplyDefaults()
	assert.Equal(t, "~/.config/driftd/vectorstore", cfg.Path)
	assert.Equal(t, 384, cfg.VectorSize)
}

func TestChromemConfig_Validate(t *testing.T) {
	cfg := ChromemConfig{Path: "/tmp/x", VectorSize: -1}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestChromemStore_InsertAndGetByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := testChunk("aaaa000000000001", "pkg/a.go", chunk.TypeCode, chunk.LevelSymbol, unit(0))
	e.Symbol = "Foo"
	require.NoError(t, store.Insert(ctx, []chunk.Embedded{e}))

	got, err := store.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Content, got.Content)
	assert.Equal(t, chunk.TypeCode, got.Type)
	assert.Equal(t, chunk.LevelSymbol, got.Level)
	assert.Equal(t, "pkg/a.go", got.Path)
	assert.Equal(t, "Foo", got.Symbol)
	assert.Equal(t, "go", got.Lang)
	assert.Equal(t, 1, got.StartLine)
	assert.Equal(t, 10, got.EndLine)
	assert.Equal(t, unit(0), got.Vector)
	assert.Equal(t, testDim, got.Dim)
}

func TestChromemStore_GetByID_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChromemStore_Insert_EmptyChunks(t *testing.T) {
	store := newTestStore(t)

	err := store.Insert(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyChunks)
}

func TestChromemStore_Insert_DimensionMismatch(t *testing.T) {
	store := newTestStore(t)

	e := testChunk("aaaa000000000001", "pkg/a.go", chunk.TypeCode, chunk.LevelFile, []float32{1, 0})
	err := store.Insert(context.Background(), []chunk.Embedded{e})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChromemStore_Upsert_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := testChunk("aaaa000000000001", "pkg/a.go", chunk.TypeCode, chunk.LevelFile, unit(0))
	require.NoError(t, store.Upsert(ctx, []chunk.Embedded{e}))

	// Same id again with new content must replace, not duplicate.
	e.Content = "updated content"
	require.NoError(t, store.Upsert(ctx, []chunk.Embedded{e}))

	got, err := store.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated content", got.Content)

	infos, err := store.Collections(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "driftd_code_file", infos[0].Name)
	assert.Equal(t, 1, infos[0].PointCount)
}

func TestChromemStore_DeleteByPath_AcrossCollections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Two chunks for the same path land in different (type, level) shards.
	chunks := []chunk.Embedded{
		testChunk("aaaa000000000001", "pkg/a.go", chunk.TypeCode, chunk.LevelFile, unit(0)),
		testChunk("aaaa000000000002", "pkg/a.go", chunk.TypeComments, chunk.LevelSymbol, unit(1)),
		testChunk("aaaa000000000003", "pkg/b.go", chunk.TypeCode, chunk.LevelFile, unit(2)),
	}
	require.NoError(t, store.Insert(ctx, chunks))

	require.NoError(t, store.DeleteByPath(ctx, "pkg/a.go"))

	got, err := store.GetByPath(ctx, "pkg/a.go")
	require.NoError(t, err)
	assert.Empty(t, got)

	// The other path is untouched.
	got, err = store.GetByPath(ctx, "pkg/b.go")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "aaaa000000000003", got[0].ID)
}

func TestChromemStore_Search_OrderingAndTieBreak(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunks := []chunk.Embedded{
		// Exact match, score 1.0. Two of them to exercise the id tie-break.
		testChunk("bbbb000000000001", "pkg/b.go", chunk.TypeCode, chunk.LevelFile, unit(0)),
		testChunk("aaaa000000000001", "pkg/a.go", chunk.TypeCode, chunk.LevelSymbol, unit(0)),
		// Partial match, score 0.6.
		testChunk("cccc000000000001", "pkg/c.go", chunk.TypeDocs, chunk.LevelFile, []float32{0.6, 0.8, 0, 0}),
		// Orthogonal, score 0.
		testChunk("dddd000000000001", "pkg/d.go", chunk.TypeCode, chunk.LevelFile, unit(1)),
	}
	require.NoError(t, store.Insert(ctx, chunks))

	for i := 0; i < 3; i++ {
		hits, err := store.Search(ctx, unit(0), Query{K: 3})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		// Ties at 1.0 break by id ascending; then the 0.6 hit.
		assert.Equal(t, "aaaa000000000001", hits[0].Chunk.ID)
		assert.Equal(t, "bbbb000000000001", hits[1].Chunk.ID)
		assert.Equal(t, "cccc000000000001", hits[2].Chunk.ID)
		assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
		assert.InDelta(t, 0.6, float64(hits[2].Score), 1e-5)
	}
}

func TestChromemStore_Search_MinScore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunks := []chunk.Embedded{
		testChunk("aaaa000000000001", "pkg/a.go", chunk.TypeCode, chunk.LevelFile, unit(0)),
		testChunk("bbbb000000000001", "pkg/b.go", chunk.TypeCode, chunk.LevelFile, []float32{0.6, 0.8, 0, 0}),
	}
	require.NoError(t, store.Insert(ctx, chunks))

	hits, err := store.Search(ctx, unit(0), Query{K: 10, Min: 0.9})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "aaaa000000000001", hits[0].Chunk.ID)
}

func TestChromemStore_Search_TypeLevelFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunks := []chunk.Embedded{
		testChunk("aaaa000000000001", "pkg/a.go", chunk.TypeCode, chunk.LevelFile, unit(0)),
		testChunk("bbbb000000000001", "docs/a.md", chunk.TypeDocs, chunk.LevelFile, unit(0)),
	}
	require.NoError(t, store.Insert(ctx, chunks))

	hits, err := store.Search(ctx, unit(0), Query{K: 10, Types: []chunk.Type{chunk.TypeDocs}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "bbbb000000000001", hits[0].Chunk.ID)
}

func TestChromemStore_Search_PathFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunks := []chunk.Embedded{
		testChunk("aaaa000000000001", "pkg/a.go", chunk.TypeCode, chunk.LevelFile, unit(0)),
		testChunk("bbbb000000000001", "pkg/b.go", chunk.TypeCode, chunk.LevelFile, unit(0)),
	}
	require.NoError(t, store.Insert(ctx, chunks))

	hits, err := store.Search(ctx, unit(0), Query{K: 10, Path: "pkg/b.go"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "bbbb000000000001", hits[0].Chunk.ID)
}

func TestChromemStore_Search_InvalidK(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Search(context.Background(), unit(0), Query{K: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestChromemStore_DropAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunks := []chunk.Embedded{
		testChunk("aaaa000000000001", "pkg/a.go", chunk.TypeCode, chunk.LevelFile, unit(0)),
		testChunk("bbbb000000000001", "docs/a.md", chunk.TypeDocs, chunk.LevelFile, unit(1)),
	}
	require.NoError(t, store.Insert(ctx, chunks))

	require.NoError(t, store.DropAll(ctx))

	infos, err := store.Collections(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	_, err = store.GetByID(ctx, "aaaa000000000001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChromemStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewChromemStore(ChromemConfig{Path: dir, VectorSize: testDim}, zap.NewNop())
	require.NoError(t, err)

	e := testChunk("aaaa000000000001", "pkg/a.go", chunk.TypeCode, chunk.LevelFile, unit(0))
	require.NoError(t, store.Insert(ctx, []chunk.Embedded{e}))
	require.NoError(t, store.Close())

	// Reopen from the same directory; both documents and manifest survive.
	reopened, err := NewChromemStore(ChromemConfig{Path: dir, VectorSize: testDim}, zap.NewNop())
	require.NoError(t, err)

	got, err := reopened.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Content, got.Content)

	byPath, err := reopened.GetByPath(ctx, "pkg/a.go")
	require.NoError(t, err)
	require.Len(t, byPath, 1)
}

func TestNewStore_Factory(t *testing.T) {
	store, err := NewStore(Config{
		Provider: "chromem",
		Chromem:  ChromemConfig{Path: t.TempDir(), VectorSize: testDim},
	}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &ChromemStore{}, store)

	_, err = NewStore(Config{Provider: "bogus"}, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
