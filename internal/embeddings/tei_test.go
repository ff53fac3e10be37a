package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
)

// newTEITestServer serves /health and /embed the way a TEI instance does,
// returning one deterministic vector per input.
func newTEITestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/embed":
			var req teiRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			var n int
			switch inputs := req.Inputs.(type) {
			case string:
				n = 1
			case []interface{}:
				n = len(inputs)
			default:
				t.Fatalf("unexpected inputs type %T", req.Inputs)
			}

			vectors := make([][]float32, n)
			for i := range vectors {
				vectors[i] = []float32{float32(i), 1, 0}
			}
			require.NoError(t, json.NewEncoder(w).Encode(vectors))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestTEIProvider(t *testing.T, baseURL string) *TEIProvider {
	t.Helper()
	p, err := NewTEIProvider(TEIConfig{
		BaseURL:    baseURL,
		Model:      "test-model",
		VectorSize: 3,
	}, nil)
	require.NoError(t, err)
	return p
}

func TestTEIProvider_Load(t *testing.T) {
	srv := newTEITestServer(t)
	defer srv.Close()

	p := newTestTEIProvider(t, srv.URL)

	var messages []string
	err := p.Load(context.Background(), func(msg string, completed, total int) {
		messages = append(messages, msg)
	})
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestTEIProvider_Load_ServerDown(t *testing.T) {
	p := newTestTEIProvider(t, "http://127.0.0.1:1")

	err := p.Load(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestTEIProvider_EmbedChunks(t *testing.T) {
	srv := newTEITestServer(t)
	defer srv.Close()

	p := newTestTEIProvider(t, srv.URL)

	chunks := []chunk.Chunk{
		{ID: "aaaa000000000001", Content: "func Foo() {}", Type: chunk.TypeCode, Level: chunk.LevelSymbol},
		{ID: "bbbb000000000001", Content: "Foo does things", Type: chunk.TypeDocs, Level: chunk.LevelFile},
	}

	out, err := p.EmbedChunks(context.Background(), chunks, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)

	// Order preserved, model and dim stamped on every result.
	assert.Equal(t, "aaaa000000000001", out[0].ID)
	assert.Equal(t, "bbbb000000000001", out[1].ID)
	for _, e := range out {
		assert.Equal(t, "test-model", e.Model)
		assert.Equal(t, 3, e.Dim)
		assert.Len(t, e.Vector, 3)
	}
}

func TestTEIProvider_EmbedChunks_Empty(t *testing.T) {
	p := newTestTEIProvider(t, "http://localhost:8080")

	_, err := p.EmbedChunks(context.Background(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider_EmbedQuery(t *testing.T) {
	srv := newTEITestServer(t)
	defer srv.Close()

	p := newTestTEIProvider(t, srv.URL)

	vec, err := p.EmbedQuery(context.Background(), "how does indexing work")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
}

func TestTEIProvider_EmbedQuery_Empty(t *testing.T) {
	p := newTestTEIProvider(t, "http://localhost:8080")

	_, err := p.EmbedQuery(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider_EmbedQuery_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := newTestTEIProvider(t, srv.URL)

	_, err := p.EmbedQuery(context.Background(), "query")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestNewFastEmbedProvider_UnsupportedModel(t *testing.T) {
	_, err := NewFastEmbedProvider(FastEmbedConfig{Model: "not-a-model"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetectDimension(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"fast-all-MiniLM-L6-v2", 384},
		{"custom-base-model", 768},
		{"custom-large-model", 1024},
		{"unknown", 384},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDimension(tt.model))
		})
	}
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "bogus"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
