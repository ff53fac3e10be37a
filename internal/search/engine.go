// Package search turns a text query into ranked, explainable hits.
//
// Ranking runs in stages: vector retrieval from the store, optional hybrid
// blending with a candidate-local BM25, optional rerank over a widened pool,
// then threshold, truncation, and highlighting. Component scores are kept on
// every hit so a caller can see why it ranked where it did.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
	"github.com/fyrsmithlabs/driftd/internal/embeddings"
	"github.com/fyrsmithlabs/driftd/internal/vectorstore"
)

var tracer = otel.Tracer("driftd.search")

const (
	// defaultK is the result count when the query does not set one.
	defaultK = 10

	// defaultAlpha weights vector similarity against BM25 in hybrid mode.
	defaultAlpha = 0.7

	// rerankMultiplier widens the candidate pool fetched for reranking.
	rerankMultiplier = 3

	// rerankDocChars truncates the document text in the rerank string.
	rerankDocChars = 500

	// maxHighlights caps highlighted lines per hit.
	maxHighlights = 3
)

// Query is a search request.
type Query struct {
	// Text is the free-text query.
	Text string

	// K is the number of hits to return. Default 10.
	K int

	// Min discards hits whose final score is below this threshold.
	Min float32

	// Types, Levels, Path, and Lang narrow the store lookup.
	Types  []chunk.Type
	Levels []chunk.Level
	Path   string
	Lang   string

	// Hybrid blends vector similarity with BM25: score = α·vec + (1-α)·bm25.
	// Alpha 1 is exactly pure-vector ranking and Alpha 0 exactly pure-BM25.
	Hybrid bool
	Alpha  float32

	// Rerank re-scores a widened pool against a synthetic query-document
	// string before truncating to K.
	Rerank bool
}

// NewQuery returns a Query with the default K and Alpha.
func NewQuery(text string) Query {
	return Query{Text: text, K: defaultK, Hybrid: true, Alpha: defaultAlpha}
}

// Hit is one ranked result. Component scores are zero for stages that did
// not run.
type Hit struct {
	Chunk chunk.Chunk `json:"chunk"`

	// Score is the final composite score in [0,1].
	Score float32 `json:"score"`

	// Component scores, retained for explainability.
	VecScore    float32 `json:"vec_score,omitempty"`
	BM25Score   float32 `json:"bm25_score,omitempty"`
	RerankScore float32 `json:"rerank_score,omitempty"`
	BoostScore  float32 `json:"boost_score,omitempty"`

	// Highlights are up to three matching lines with query terms wrapped
	// in ** for emphasis.
	Highlights []string `json:"highlights,omitempty"`
}

// GraphContext names related identifiers for graph-aware boosting.
type GraphContext struct {
	// Dependents call or use the symbols being searched for.
	Dependents []string

	// Dependencies are used by the symbols being searched for.
	Dependencies []string

	// Siblings share a symbol name across files.
	Siblings []string
}

// Boost bonuses per relationship. Applied post-ranking, capped at 1.0.
const (
	boostDependent  = 0.10
	boostDependency = 0.15
	boostSibling    = 0.20
)

// Engine executes searches against a store and an embedder.
type Engine struct {
	store    vectorstore.Store
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// New creates a search Engine.
func New(store vectorstore.Store, embedder embeddings.Embedder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, embedder: embedder, logger: logger}
}

// Search runs the full ranking pipeline for q.
func (e *Engine) Search(ctx context.Context, q Query) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "Engine.Search")
	defer span.End()

	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	span.SetAttributes(
		attribute.Int("k", q.K),
		attribute.Bool("hybrid", q.Hybrid),
		attribute.Bool("rerank", q.Rerank),
	)

	queryVec, err := e.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	candidateK := q.K
	if q.Rerank {
		candidateK = q.K * rerankMultiplier
	}

	// Min is applied after the final scores exist, not at the store.
	scored, err := e.store.Search(ctx, queryVec, vectorstore.Query{
		K:      candidateK,
		Types:  q.Types,
		Levels: q.Levels,
		Path:   q.Path,
		Lang:   q.Lang,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching store: %w", err)
	}
	if len(scored) == 0 {
		span.SetStatus(codes.Ok, "empty")
		return nil, nil
	}

	hits := make([]Hit, len(scored))
	for i, s := range scored {
		hits[i] = Hit{Chunk: s.Chunk, Score: s.Score, VecScore: s.Score}
	}

	if q.Hybrid {
		e.applyHybrid(hits, q)
	}
	if q.Rerank && len(hits) > q.K {
		hits, err = e.applyRerank(ctx, hits, q, queryVec)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	if q.Min > 0 {
		kept := hits[:0]
		for _, h := range hits {
			if h.Score >= q.Min {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	if len(hits) > q.K {
		hits = hits[:q.K]
	}

	terms := tokenize(q.Text)
	for i := range hits {
		hits[i].Highlights = highlight(hits[i].Chunk.Content, terms)
	}

	span.SetAttributes(attribute.Int("results", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// applyHybrid blends each hit's vector score with a BM25 score computed over
// exactly this candidate set, then re-sorts.
func (e *Engine) applyHybrid(hits []Hit, q Query) {
	alpha := q.Alpha
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Chunk.Content
	}
	bm25Scores := newBM25(docs).scoreAll(tokenize(q.Text))

	for i := range hits {
		hits[i].BM25Score = bm25Scores[i]
		hits[i].Score = alpha*hits[i].VecScore + (1-alpha)*bm25Scores[i]
	}
	sortHits(hits)
}

// applyRerank embeds a "Query: …\nDocument: …" string per candidate, scores
// it against the query embedding by cosine similarity, replaces each hit's
// score with the rerank score, and keeps the top K.
func (e *Engine) applyRerank(ctx context.Context, hits []Hit, q Query, queryVec []float32) ([]Hit, error) {
	for i := range hits {
		doc := hits[i].Chunk.Content
		if len(doc) > rerankDocChars {
			doc = doc[:rerankDocChars]
		}
		vec, err := e.embedder.EmbedQuery(ctx, fmt.Sprintf("Query: %s\nDocument: %s", q.Text, doc))
		if err != nil {
			return nil, fmt.Errorf("reranking candidate %s: %w", hits[i].Chunk.ID, err)
		}
		hits[i].RerankScore = chunk.Cosine(queryVec, vec)
		hits[i].Score = hits[i].RerankScore
	}
	sortHits(hits)
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

// SearchWithContext runs Search and then boosts hits whose symbol appears in
// the caller's dependency graph. Boosting is a distinct post-processing pass;
// it never feeds back into the hybrid formula.
func (e *Engine) SearchWithContext(ctx context.Context, q Query, graph GraphContext) ([]Hit, error) {
	hits, err := e.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	dependents := toSet(graph.Dependents)
	dependencies := toSet(graph.Dependencies)
	siblings := toSet(graph.Siblings)

	for i := range hits {
		symbol := hits[i].Chunk.Symbol
		if symbol == "" {
			continue
		}
		var boost float32
		if dependents[symbol] {
			boost += boostDependent
		}
		if dependencies[symbol] {
			boost += boostDependency
		}
		if siblings[symbol] {
			boost += boostSibling
		}
		if boost == 0 {
			continue
		}
		hits[i].BoostScore = boost
		hits[i].Score += boost
		if hits[i].Score > 1 {
			hits[i].Score = 1
		}
	}
	sortHits(hits)
	return hits, nil
}

// sortHits orders by score descending with chunk id as the deterministic
// tie-break.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
}

// highlight returns up to maxHighlights lines containing any query term,
// case-insensitive, with matched terms wrapped in ** for emphasis.
func highlight(content string, terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	var out []string
	for _, line := range strings.Split(content, "\n") {
		matched := false
		highlighted := line
		for _, term := range terms {
			idx := strings.Index(strings.ToLower(highlighted), term)
			if idx < 0 {
				continue
			}
			matched = true
			orig := highlighted[idx : idx+len(term)]
			highlighted = highlighted[:idx] + "**" + orig + "**" + highlighted[idx+len(term):]
		}
		if matched {
			out = append(out, strings.TrimSpace(highlighted))
			if len(out) == maxHighlights {
				break
			}
		}
	}
	return out
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
