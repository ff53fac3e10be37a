package search

import (
	"math"
	"strings"
)

// BM25 parameters. Standard Robertson defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// bm25Index scores a small candidate set lexically. It is built per search
// over exactly the candidates' content, never the whole corpus, so its score
// scale stays comparable to the vector scores within one result set.
type bm25Index struct {
	docs   [][]string
	freqs  []map[string]int
	df     map[string]int
	avgLen float64
}

// newBM25 builds an index over the candidate documents.
func newBM25(docs []string) *bm25Index {
	idx := &bm25Index{
		docs:  make([][]string, len(docs)),
		freqs: make([]map[string]int, len(docs)),
		df:    map[string]int{},
	}
	var total int
	for i, doc := range docs {
		tokens := tokenize(doc)
		idx.docs[i] = tokens
		total += len(tokens)

		freq := map[string]int{}
		for _, tok := range tokens {
			freq[tok]++
		}
		idx.freqs[i] = freq
		for tok := range freq {
			idx.df[tok]++
		}
	}
	if len(docs) > 0 {
		idx.avgLen = float64(total) / float64(len(docs))
	}
	return idx
}

// score computes the BM25 score of document i for the query tokens.
func (idx *bm25Index) score(i int, queryTokens []string) float64 {
	if idx.avgLen == 0 {
		return 0
	}
	n := float64(len(idx.docs))
	docLen := float64(len(idx.docs[i]))

	var score float64
	seen := map[string]bool{}
	for _, term := range queryTokens {
		if seen[term] {
			continue
		}
		seen[term] = true

		df := float64(idx.df[term])
		if df == 0 {
			continue
		}
		tf := float64(idx.freqs[i][term])
		if tf == 0 {
			continue
		}

		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		score += idf * tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*docLen/idx.avgLen))
	}
	return score
}

// scoreAll returns every document's BM25 score normalized by the maximum in
// the set, so values land in [0,1] alongside vector similarities. An all-zero
// set stays all-zero.
func (idx *bm25Index) scoreAll(queryTokens []string) []float32 {
	raw := make([]float64, len(idx.docs))
	var max float64
	for i := range idx.docs {
		raw[i] = idx.score(i, queryTokens)
		if raw[i] > max {
			max = raw[i]
		}
	}
	out := make([]float32, len(raw))
	if max == 0 {
		return out
	}
	for i, s := range raw {
		out[i] = float32(s / max)
	}
	return out
}

// tokenize splits text into lowercase terms, filtering out common stopwords
// and short tokens.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !isAlphanumeric(r)
	})

	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if !isStopword(token) && len(token) > 2 {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

// isAlphanumeric returns true if the rune is alphanumeric or underscore.
func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_'
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true, "this": true,
	"that": true, "these": true, "those": true, "i": true, "you": true, "he": true,
	"she": true, "it": true, "we": true, "they": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "why": true, "how": true,
}

// isStopword returns true if the token is a common English stopword.
func isStopword(token string) bool {
	return stopwords[token]
}
