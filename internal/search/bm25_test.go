package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tokens := tokenize("How does the Indexer handle file_changes?")
	assert.Equal(t, []string{"indexer", "handle", "file_changes"}, tokens)
}

func TestTokenize_Empty(t *testing.T) {
	assert.Empty(t, tokenize("the a an of"))
	assert.Empty(t, tokenize(""))
}

func TestBM25_Monotonicity(t *testing.T) {
	// Increasing a query term's frequency in one document, holding the
	// other documents fixed, never decreases that document's score.
	query := tokenize("indexer batch")
	base := []string{
		"indexer runs batch jobs",
		"unrelated content about parsing",
	}

	prev := -1.0
	for repeat := 1; repeat <= 6; repeat++ {
		docs := append([]string{}, base...)
		docs[0] = strings.Repeat("indexer ", repeat) + "runs batch jobs"
		idx := newBM25(docs)
		score := idx.score(0, query)
		assert.GreaterOrEqual(t, score, prev, "repeat=%d", repeat)
		prev = score
	}
}

func TestBM25_ScoreAllNormalized(t *testing.T) {
	idx := newBM25([]string{
		"indexer indexer indexer batch",
		"indexer once",
		"nothing relevant here",
	})
	scores := idx.scoreAll(tokenize("indexer"))
	require.Len(t, scores, 3)

	// Best document normalizes to 1; the irrelevant one to 0.
	assert.InDelta(t, 1.0, float64(scores[0]), 1e-6)
	assert.Greater(t, scores[1], float32(0))
	assert.Less(t, scores[1], float32(1))
	assert.Equal(t, float32(0), scores[2])
}

func TestBM25_NoMatchesStaysZero(t *testing.T) {
	idx := newBM25([]string{"alpha beta", "gamma delta"})
	scores := idx.scoreAll(tokenize("missing term"))
	for _, s := range scores {
		assert.Equal(t, float32(0), s)
	}
}
