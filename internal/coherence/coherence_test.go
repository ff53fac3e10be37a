package coherence

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
	"github.com/fyrsmithlabs/driftd/internal/search"
	"github.com/fyrsmithlabs/driftd/internal/vectorstore"
)

const testDim = 4

// fakeEmbedder returns pinned vectors for known texts and a deterministic
// hash vector otherwise.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Load(ctx context.Context, progress embeddings.ProgressFunc) error {
	return nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, testDim)
	var norm float64
	for i := range vec {
		vec[i] = float32(sum[i])/255 + 0.01
		norm += float64(vec[i]) * float64(vec[i])
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (f *fakeEmbedder) EmbedChunks(ctx context.Context, chunks []chunk.Chunk, progress embeddings.ProgressFunc) ([]chunk.Embedded, error) {
	out := make([]chunk.Embedded, len(chunks))
	for i, c := range chunks {
		vec, err := f.EmbedQuery(ctx, c.Content)
		if err != nil {
			return nil, err
		}
		out[i] = chunk.Embedded{Chunk: c, Vector: vec, Model: "fake", Dim: len(vec)}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return testDim }
func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Close() error      { return nil }

var _ embeddings.Embedder = (*fakeEmbedder)(nil)

func unit(axis int) []float32 {
	vec := make([]float32, testDim)
	vec[axis] = 1
	return vec
}

type storedChunk struct {
	id      string
	path    string
	typ     chunk.Type
	level   chunk.Level
	symbol  string
	kind    string
	content string
	meta    map[string]any
	vec     []float32
}

func newDetector(t *testing.T, embed *fakeEmbedder, chunks []storedChunk) (*Detector, vectorstore.Store) {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		VectorSize: testDim,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var embedded []chunk.Embedded
	for _, sc := range chunks {
		embedded = append(embedded, chunk.Embedded{
			Chunk: chunk.Chunk{
				ID:      sc.id,
				Content: sc.content,
				Type:    sc.typ,
				Level:   sc.level,
				Path:    sc.path,
				Symbol:  sc.symbol,
				Kind:    sc.kind,
				Meta:    sc.meta,
			},
			Vector: sc.vec,
			Model:  "fake",
			Dim:    len(sc.vec),
		})
	}
	if len(embedded) > 0 {
		require.NoError(t, store.Insert(context.Background(), embedded))
	}

	engine := search.New(store, embed, zap.NewNop())
	return New(Config{}, store, engine, embed, zap.NewNop()), store
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.InDelta(t, 0.6, cfg.CoherenceThreshold, 1e-6)
	assert.InDelta(t, 0.3, cfg.DriftThreshold, 1e-6)
}

func TestCheckFile_UndocumentedExportedSymbol(t *testing.T) {
	detector, _ := newDetector(t, &fakeEmbedder{}, []storedChunk{
		{
			id: "c1", path: "pkg/handler.go",
			typ: chunk.TypeCode, level: chunk.LevelSymbol,
			symbol: "Handler", kind: "function",
			content: "func Handler() {\n\tserve()\n}",
			meta:    map[string]any{"exported": true},
			vec:     unit(0),
		},
	})

	report, err := detector.CheckFile(context.Background(), "pkg/handler.go")
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)

	issue := report.Issues[0]
	assert.Equal(t, IssueMissing, issue.Type)
	assert.Equal(t, "Handler", issue.Symbol)
	assert.Equal(t, "pkg/handler.go", issue.Path)
	assert.InDelta(t, 0.9, issue.Confidence, 1e-6)
	assert.InDelta(t, 0.6, issue.Severity, 1e-6)
	assert.Contains(t, issue.Fix, "Handler")
	assert.InDelta(t, 1-0.6*0.1, report.Score, 1e-5)
}

func TestCheckFile_DocumentedSymbolIsCoherent(t *testing.T) {
	detector, _ := newDetector(t, &fakeEmbedder{}, []storedChunk{
		{
			id: "c1", path: "pkg/handler.go",
			typ: chunk.TypeCode, level: chunk.LevelSymbol,
			symbol: "Handler", kind: "function",
			content: "func Handler() {\n\tserve()\n}",
			meta:    map[string]any{"exported": true},
			vec:     unit(0),
		},
		{
			id: "d1", path: "pkg/handler.go",
			typ: chunk.TypeComments, level: chunk.LevelSymbol,
			symbol: "Handler", kind: "comment",
			content: "Handler serves incoming requests.",
			vec:     unit(0),
		},
	})

	report, err := detector.CheckFile(context.Background(), "pkg/handler.go")
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
	assert.InDelta(t, 1.0, report.Score, 1e-6)
}

func TestCheckFile_NoCodeSymbolsScoresPerfect(t *testing.T) {
	detector, _ := newDetector(t, &fakeEmbedder{}, []storedChunk{
		{
			id: "d1", path: "README.md",
			typ: chunk.TypeDocs, level: chunk.LevelFile,
			content: "Project overview.",
			vec:     unit(0),
		},
	})

	report, err := detector.CheckFile(context.Background(), "README.md")
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
	assert.InDelta(t, 1.0, report.Score, 1e-6)
}

func TestCheckFile_Mismatch(t *testing.T) {
	detector, _ := newDetector(t, &fakeEmbedder{}, []storedChunk{
		{
			id: "c1", path: "pkg/parse.go",
			typ: chunk.TypeCode, level: chunk.LevelSymbol,
			symbol: "Parse", kind: "function",
			content: "func Parse() {\n\tscan()\n}",
			meta:    map[string]any{"exported": true},
			vec:     unit(0),
		},
		{
			id: "d1", path: "pkg/parse.go",
			typ: chunk.TypeComments, level: chunk.LevelSymbol,
			symbol: "Parse", kind: "comment",
			content: "Parse handles something else entirely.",
			vec:     unit(1),
		},
	})

	report, err := detector.CheckFile(context.Background(), "pkg/parse.go")
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)

	issue := report.Issues[0]
	assert.Equal(t, IssueMismatch, issue.Type)
	assert.Equal(t, "Parse", issue.Symbol)
	assert.InDelta(t, 1.0, issue.Severity, 1e-5)
	assert.InDelta(t, 0.8, issue.Confidence, 1e-6)
}

func TestCheckFile_Orphaned(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{"OldAPI": unit(3)}}
	detector, _ := newDetector(t, embed, []storedChunk{
		{
			id: "c1", path: "pkg/api.go",
			typ: chunk.TypeCode, level: chunk.LevelSymbol,
			symbol: "newAPI", kind: "function",
			content: "func newAPI() {\n}",
			meta:    map[string]any{"exported": false},
			vec:     unit(0),
		},
		{
			id: "d1", path: "pkg/api.go",
			typ: chunk.TypeComments, level: chunk.LevelSymbol,
			symbol: "OldAPI", kind: "comment",
			content: "OldAPI is the legacy entry point.",
			vec:     unit(1),
		},
	})

	report, err := detector.CheckFile(context.Background(), "pkg/api.go")
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)

	issue := report.Issues[0]
	assert.Equal(t, IssueOrphaned, issue.Type)
	assert.Equal(t, "OldAPI", issue.Symbol)
	assert.InDelta(t, 0.5, issue.Severity, 1e-6)
	assert.InDelta(t, 0.7, issue.Confidence, 1e-6)
	assert.Contains(t, issue.Fix, "no longer exists")
}

func TestCheckFile_IncompleteDoc(t *testing.T) {
	detector, _ := newDetector(t, &fakeEmbedder{}, []storedChunk{
		{
			id: "c1", path: "pkg/send.go",
			typ: chunk.TypeCode, level: chunk.LevelSymbol,
			symbol: "Send", kind: "function",
			content: "func Send(msg string) error {\n\tif msg == \"\" {\n\t\treturn errEmpty\n\t}\n\treturn nil\n}",
			meta:    map[string]any{"exported": true},
			vec:     unit(0),
		},
		{
			id: "d1", path: "pkg/send.go",
			typ: chunk.TypeComments, level: chunk.LevelSymbol,
			symbol: "Send", kind: "comment",
			content: "Send delivers a message.",
			vec:     unit(0),
		},
	})

	report, err := detector.CheckFile(context.Background(), "pkg/send.go")
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)

	issue := report.Issues[0]
	assert.Equal(t, IssueIncomplete, issue.Type)
	assert.Contains(t, issue.Message, "parameters")
	assert.Contains(t, issue.Message, "return value")
	assert.NotContains(t, issue.Message, "error path")
	assert.InDelta(t, 0.5, issue.Severity, 1e-6)
}

func TestCheckFile_UnknownPathIsEmpty(t *testing.T) {
	detector, _ := newDetector(t, &fakeEmbedder{}, nil)

	report, err := detector.CheckFile(context.Background(), "nope/missing.go")
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
	assert.InDelta(t, 1.0, report.Score, 1e-6)
}

func TestDrift(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{
		"the code": unit(0),
		"v1":       unit(0),
		"v2":       {0.9, 0.43589, 0, 0},
		"v3":       {0.4, 0.91652, 0, 0},
	}}
	detector, _ := newDetector(t, embed, nil)

	code := chunk.Chunk{ID: "c1", Content: "the code", Symbol: "Thing", Path: "pkg/thing.go"}
	issue, err := detector.Drift(context.Background(), code, []string{"v1", "v2", "v3"})
	require.NoError(t, err)
	require.NotNil(t, issue)

	// Similarities run 1.0, 0.9, 0.4; only the 0.5 drop clears the
	// threshold, normalized over three versions.
	assert.Equal(t, IssueDrift, issue.Type)
	assert.InDelta(t, 0.5/3, issue.Severity, 1e-3)
	assert.Greater(t, issue.Severity, float32(0))
	assert.LessOrEqual(t, issue.Severity, float32(1))
	assert.Equal(t, "Thing", issue.Symbol)
}

func TestDrift_StableHistoryHasNoIssue(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{
		"the code": unit(0),
		"v1":       unit(0),
		"v2":       {0.95, 0.31225, 0, 0},
	}}
	detector, _ := newDetector(t, embed, nil)

	code := chunk.Chunk{ID: "c1", Content: "the code", Symbol: "Thing"}
	issue, err := detector.Drift(context.Background(), code, []string{"v1", "v2"})
	require.NoError(t, err)
	assert.Nil(t, issue)
}

func TestDrift_ShortHistory(t *testing.T) {
	detector, _ := newDetector(t, &fakeEmbedder{}, nil)

	issue, err := detector.Drift(context.Background(), chunk.Chunk{Content: "x"}, []string{"only"})
	require.NoError(t, err)
	assert.Nil(t, issue)
}
