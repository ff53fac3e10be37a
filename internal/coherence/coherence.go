// Package coherence detects where documentation and code disagree.
//
// Checks run per file over the chunks already stored for that path. Issues
// are produced fresh per analysis run and never persisted; callers decide
// what to do with them.
package coherence

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
	"github.com/fyrsmithlabs/driftd/internal/embeddings"
	"github.com/fyrsmithlabs/driftd/internal/search"
	"github.com/fyrsmithlabs/driftd/internal/vectorstore"
)

var tracer = otel.Tracer("driftd.coherence")

// IssueType classifies a detected incoherence.
type IssueType string

const (
	// IssueMissing: an exported symbol with no documentation anywhere.
	IssueMissing IssueType = "missing"

	// IssueOutdated: documentation older than the code it describes.
	// Reserved for history-aware checks; the per-file pass does not emit it.
	IssueOutdated IssueType = "outdated"

	// IssueMismatch: a code/doc pair whose embeddings disagree.
	IssueMismatch IssueType = "mismatch"

	// IssueIncomplete: documentation missing parameter/return/error notes.
	IssueIncomplete IssueType = "incomplete"

	// IssueOrphaned: documentation for a symbol that no longer exists.
	IssueOrphaned IssueType = "orphaned"

	// IssueDrift: doc-code similarity degrading across doc versions.
	IssueDrift IssueType = "drift"
)

// Issue is one detected incoherence. Immutable after creation.
type Issue struct {
	Type       IssueType `json:"type"`
	Severity   float32   `json:"severity"`
	Confidence float32   `json:"confidence"`
	Message    string    `json:"message"`
	Fix        string    `json:"fix,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	Path       string    `json:"path,omitempty"`
}

// Report is the per-file analysis result.
type Report struct {
	Path string `json:"path"`

	// Score is the file coherence score in [0,1]. A file with no code
	// symbols scores 1.0 (vacuously coherent).
	Score float32 `json:"score"`

	Issues []Issue `json:"issues"`
}

// Config holds detector thresholds.
type Config struct {
	// CoherenceThreshold is the minimum code/doc cosine similarity before
	// a pair counts as a mismatch, and the minimum search score for a doc
	// to count as covering a symbol. Default 0.6.
	CoherenceThreshold float32

	// DriftThreshold is the minimum drop between consecutive doc versions
	// that counts toward drift. Default 0.3.
	DriftThreshold float32
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.CoherenceThreshold == 0 {
		c.CoherenceThreshold = 0.6
	}
	if c.DriftThreshold == 0 {
		c.DriftThreshold = 0.3
	}
}

// Detector runs the incoherence checks.
type Detector struct {
	config   Config
	store    vectorstore.Store
	engine   *search.Engine
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// New creates a Detector.
func New(config Config, store vectorstore.Store, engine *search.Engine, embedder embeddings.Embedder, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	return &Detector{
		config:   config,
		store:    store,
		engine:   engine,
		embedder: embedder,
		logger:   logger,
	}
}

// CheckFile analyzes one path's stored chunks and reports every detected
// incoherence plus the file's coherence score.
func (d *Detector) CheckFile(ctx context.Context, path string) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Detector.CheckFile")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	stored, err := d.store.GetByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("loading chunks for %s: %w", path, err)
	}

	var code, docs []chunk.Embedded
	for _, e := range stored {
		switch {
		case e.Type == chunk.TypeCode && e.Level == chunk.LevelSymbol:
			code = append(code, e)
		case e.Type == chunk.TypeDocs || e.Type == chunk.TypeComments:
			docs = append(docs, e)
		}
	}

	var issues []Issue
	issues = append(issues, d.checkMissing(ctx, code, docs)...)
	issues = append(issues, d.checkOrphaned(ctx, code, docs)...)
	issues = append(issues, d.checkMismatch(code, docs)...)
	issues = append(issues, d.checkIncomplete(code, docs)...)

	for i := range issues {
		issues[i].Path = path
		issues[i].Fix = suggestFix(issues[i])
	}

	report := &Report{
		Path:   path,
		Score:  fileScore(code, docs, issues),
		Issues: issues,
	}
	span.SetAttributes(attribute.Int("issues", len(issues)))
	return report, nil
}

// fileScore is 1 minus a weighted issue penalty, bonus-adjusted by the
// doc-to-code ratio and clamped to [0,1]. Zero code symbols is defined as
// perfectly coherent.
func fileScore(code, docs []chunk.Embedded, issues []Issue) float32 {
	if len(code) == 0 {
		return 1.0
	}
	var penalty float32
	for _, issue := range issues {
		penalty += issue.Severity * 0.1
	}
	ratio := float32(len(docs)) / float32(len(code))
	score := 1 - penalty + ratio*0.1
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// checkMissing flags exported code symbols with no doc chunk naming or
// mentioning them and no doc/comment search hit above the threshold.
func (d *Detector) checkMissing(ctx context.Context, code, docs []chunk.Embedded) []Issue {
	var issues []Issue
	for _, c := range code {
		if c.Symbol == "" || !c.Exported() {
			continue
		}
		if covered(c.Symbol, docs) {
			continue
		}
		if d.searchHit(ctx, c.Symbol, []chunk.Type{chunk.TypeDocs, chunk.TypeComments}) {
			continue
		}
		issues = append(issues, Issue{
			Type:       IssueMissing,
			Severity:   missingSeverity(c),
			Confidence: 0.9,
			Symbol:     c.Symbol,
			Message:    fmt.Sprintf("exported symbol %q has no documentation", c.Symbol),
		})
	}
	return issues
}

// missingSeverity starts at 0.5 and raises it for exported-ness, public
// visibility, complexity, and type-like kinds, capped at 1.0.
func missingSeverity(c chunk.Embedded) float32 {
	severity := float32(0.5)
	if c.Exported() {
		severity += 0.1
	}
	if vis, ok := c.Meta["visibility"].(string); ok && vis == "public" {
		severity += 0.1
	}
	if c.Complexity() > 10 {
		severity += 0.2
	}
	switch c.Kind {
	case "class", "interface", "type", "trait":
		severity += 0.1
	}
	if severity > 1 {
		severity = 1
	}
	return severity
}

// checkOrphaned flags named doc chunks whose symbol no longer exists in the
// code and has no code-collection search hit above the threshold.
func (d *Detector) checkOrphaned(ctx context.Context, code, docs []chunk.Embedded) []Issue {
	symbols := map[string]bool{}
	for _, c := range code {
		symbols[c.Symbol] = true
	}

	var issues []Issue
	for _, doc := range docs {
		if doc.Symbol == "" || symbols[doc.Symbol] {
			continue
		}
		if d.searchHit(ctx, doc.Symbol, []chunk.Type{chunk.TypeCode}) {
			continue
		}
		issues = append(issues, Issue{
			Type:       IssueOrphaned,
			Severity:   0.5,
			Confidence: 0.7,
			Symbol:     doc.Symbol,
			Message:    fmt.Sprintf("documentation for %q describes a symbol that no longer exists", doc.Symbol),
		})
	}
	return issues
}

// checkMismatch flags code/doc pairs sharing a symbol whose embeddings fall
// below the coherence threshold. Severity is the cosine distance.
func (d *Detector) checkMismatch(code, docs []chunk.Embedded) []Issue {
	var issues []Issue
	for _, c := range code {
		if c.Symbol == "" {
			continue
		}
		for _, doc := range docs {
			if doc.Symbol != c.Symbol {
				continue
			}
			sim := chunk.Cosine(c.Vector, doc.Vector)
			if sim >= d.config.CoherenceThreshold {
				continue
			}
			issues = append(issues, Issue{
				Type:       IssueMismatch,
				Severity:   1 - sim,
				Confidence: 0.8,
				Symbol:     c.Symbol,
				Message:    fmt.Sprintf("documentation for %q no longer matches its code (similarity %.2f)", c.Symbol, sim),
			})
		}
	}
	return issues
}

var (
	returnValue = regexp.MustCompile(`\breturn\s+\S`)
	throwMarker = regexp.MustCompile(`\bpanic\(|\bthrow\b|\braise\b`)
)

// checkIncomplete flags documented functions whose signature implies
// parameters, a return value, or an error path the doc text never mentions.
// Each missing element adds 0.25 severity.
func (d *Detector) checkIncomplete(code, docs []chunk.Embedded) []Issue {
	var issues []Issue
	for _, c := range code {
		if c.Symbol == "" || (c.Kind != "function" && c.Kind != "method") {
			continue
		}
		var doc *chunk.Embedded
		for i := range docs {
			if docs[i].Symbol == c.Symbol {
				doc = &docs[i]
				break
			}
		}
		if doc == nil {
			continue
		}

		docText := strings.ToLower(doc.Content)
		var missing []string
		if hasParams(c.Content) && !mentionsAny(docText, "@param", "param", "argument", "takes") {
			missing = append(missing, "parameters")
		}
		if returnValue.MatchString(c.Content) && !mentionsAny(docText, "@return", "return", "yields", "produces") {
			missing = append(missing, "return value")
		}
		if throwMarker.MatchString(c.Content) && !mentionsAny(docText, "@throws", "panic", "raise", "error") {
			missing = append(missing, "error path")
		}
		if len(missing) == 0 {
			continue
		}
		issues = append(issues, Issue{
			Type:       IssueIncomplete,
			Severity:   0.25 * float32(len(missing)),
			Confidence: 0.6,
			Symbol:     c.Symbol,
			Message:    fmt.Sprintf("documentation for %q does not mention: %s", c.Symbol, strings.Join(missing, ", ")),
		})
	}
	return issues
}

// Drift measures doc-code similarity degradation across an ordered history
// of doc versions for one code chunk. The code is embedded once and every
// version once; drops between consecutive versions exceeding the drift
// threshold are summed and normalized by history length. Zero total drift
// yields no issue.
func (d *Detector) Drift(ctx context.Context, code chunk.Chunk, history []string) (*Issue, error) {
	if len(history) < 2 {
		return nil, nil
	}

	codeVec, err := d.embedder.EmbedQuery(ctx, code.Content)
	if err != nil {
		return nil, fmt.Errorf("embedding code: %w", err)
	}

	sims := make([]float32, len(history))
	for i, version := range history {
		vec, err := d.embedder.EmbedQuery(ctx, version)
		if err != nil {
			return nil, fmt.Errorf("embedding doc version %d: %w", i, err)
		}
		sims[i] = chunk.Cosine(codeVec, vec)
	}

	var total float32
	for i := 1; i < len(sims); i++ {
		drop := sims[i-1] - sims[i]
		if drop > d.config.DriftThreshold {
			total += drop
		}
	}
	if total == 0 {
		return nil, nil
	}

	severity := total / float32(len(history))
	if severity > 1 {
		severity = 1
	}
	issue := &Issue{
		Type:       IssueDrift,
		Severity:   severity,
		Confidence: 0.8,
		Symbol:     code.Symbol,
		Path:       code.Path,
		Message:    fmt.Sprintf("documentation for %q has drifted from its code across %d versions", code.Symbol, len(history)),
	}
	issue.Fix = suggestFix(*issue)
	return issue, nil
}

// searchHit reports whether a semantic search for text over the given chunk
// types returns any hit at or above the coherence threshold. Search failures
// count as no coverage.
func (d *Detector) searchHit(ctx context.Context, text string, types []chunk.Type) bool {
	hits, err := d.engine.Search(ctx, search.Query{
		Text:  text,
		K:     1,
		Min:   d.config.CoherenceThreshold,
		Types: types,
	})
	if err != nil {
		d.logger.Debug("coverage search failed", zap.String("text", text), zap.Error(err))
		return false
	}
	return len(hits) > 0
}

// covered reports whether any doc chunk names the symbol or mentions it.
func covered(symbol string, docs []chunk.Embedded) bool {
	for _, doc := range docs {
		if doc.Symbol == symbol || strings.Contains(doc.Content, symbol) {
			return true
		}
	}
	return false
}

// suggestFix maps an issue to a templated remediation string. Presentation
// only; nothing else consumes it.
func suggestFix(issue Issue) string {
	switch issue.Type {
	case IssueMissing:
		return fmt.Sprintf("Add documentation for `%s` describing what it does and when to use it.", issue.Symbol)
	case IssueOrphaned:
		return fmt.Sprintf("Remove or update the documentation for `%s`; the symbol no longer exists.", issue.Symbol)
	case IssueMismatch:
		return fmt.Sprintf("Review the documentation for `%s`; the code appears to have changed since it was written.", issue.Symbol)
	case IssueIncomplete:
		return fmt.Sprintf("Extend the documentation for `%s` to cover its parameters, return value, and error behavior.", issue.Symbol)
	case IssueDrift:
		return fmt.Sprintf("Reconcile the documentation history for `%s` with the current code.", issue.Symbol)
	case IssueOutdated:
		return fmt.Sprintf("Refresh the documentation for `%s`; the code changed more recently.", issue.Symbol)
	default:
		return ""
	}
}

// hasParams reports whether the declaration's first line takes arguments.
// For Go methods the receiver list does not count.
func hasParams(code string) bool {
	line := code
	if i := strings.IndexByte(code, '\n'); i >= 0 {
		line = code[:i]
	}

	open := strings.IndexByte(line, '(')
	if open < 0 {
		return false
	}
	closeIdx := strings.IndexByte(line[open:], ')')
	if closeIdx < 0 {
		return false
	}
	inner := line[open+1 : open+closeIdx]

	// A Go method's first parenthesized group is the receiver.
	if strings.HasPrefix(strings.TrimSpace(line), "func (") {
		rest := line[open+closeIdx+1:]
		open2 := strings.IndexByte(rest, '(')
		if open2 < 0 {
			return false
		}
		close2 := strings.IndexByte(rest[open2:], ')')
		if close2 < 0 {
			return false
		}
		inner = rest[open2+1 : open2+close2]
	}
	return strings.TrimSpace(inner) != ""
}

// mentionsAny reports whether the lowercased doc text contains any marker.
func mentionsAny(docText string, markers ...string) bool {
	for _, marker := range markers {
		if strings.Contains(docText, marker) {
			return true
		}
	}
	return false
}
