// Package chunk defines the shared unit of indexable content.
//
// A Chunk is a semantic unit extracted from a repository: a code symbol, a
// documentation block, a comment, a commit, or a pull request. Chunks carry a
// deterministic, content-derived ID so that re-indexing unchanged content
// produces the same ID and upserts stay idempotent.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Type classifies the content of a chunk.
type Type string

const (
	TypeCode     Type = "code"
	TypeDocs     Type = "docs"
	TypeComments Type = "comments"
	TypeCommits  Type = "commits"
	TypePRs      Type = "prs"
)

// Types lists every valid chunk type.
var Types = []Type{TypeCode, TypeDocs, TypeComments, TypeCommits, TypePRs}

// IsValid reports whether t is a known chunk type.
func (t Type) IsValid() bool {
	switch t {
	case TypeCode, TypeDocs, TypeComments, TypeCommits, TypePRs:
		return true
	}
	return false
}

// Level is the granularity of a chunk within the repository hierarchy.
type Level string

const (
	LevelProject Level = "project"
	LevelModule  Level = "module"
	LevelFile    Level = "file"
	LevelSymbol  Level = "symbol"
)

// Levels lists every valid hierarchy level.
var Levels = []Level{LevelProject, LevelModule, LevelFile, LevelSymbol}

// IsValid reports whether l is a known hierarchy level.
func (l Level) IsValid() bool {
	switch l {
	case LevelProject, LevelModule, LevelFile, LevelSymbol:
		return true
	}
	return false
}

// Chunk is a unit of indexable content.
type Chunk struct {
	// ID is a stable, content-derived identifier. See NewID.
	ID string `json:"id"`

	// Content is the raw text of the unit.
	Content string `json:"content"`

	// Type classifies the content (code, docs, comments, commits, prs).
	Type Type `json:"type"`

	// Level is the granularity of the unit (project, module, file, symbol).
	Level Level `json:"level"`

	// Path is the source file or logical location the chunk came from.
	Path string `json:"path"`

	// Symbol is the symbol name for symbol-level chunks, if any.
	Symbol string `json:"symbol,omitempty"`

	// Kind is the symbol kind (function, method, class, interface, ...).
	Kind string `json:"kind,omitempty"`

	// Parent is the enclosing symbol, if any.
	Parent string `json:"parent,omitempty"`

	// StartLine and EndLine delimit the chunk in its source file (1-based,
	// inclusive). Zero means unknown.
	StartLine int `json:"start_line,omitempty"`
	EndLine   int `json:"end_line,omitempty"`

	// Lang is the language identifier of the source file, if known.
	Lang string `json:"lang,omitempty"`

	// Meta carries free-form attributes: visibility, exported flag,
	// complexity score, commit SHA, author, and similar.
	Meta map[string]any `json:"meta,omitempty"`
}

// Embedded is a Chunk together with its embedding vector.
type Embedded struct {
	Chunk

	// Vector is the embedding of Content.
	Vector []float32 `json:"vector"`

	// Model identifies the embedding model that produced Vector.
	Model string `json:"model"`

	// Dim is the vector length. It must match the target collection's
	// declared dimensionality.
	Dim int `json:"dim"`
}

// NewID derives the deterministic chunk ID from a path, a discriminator, and
// the chunk content. The discriminator is the symbol name when one exists,
// otherwise the line range (see LineRange). Identical inputs always yield the
// same ID, which is what makes re-indexing unchanged content idempotent.
func NewID(path, discriminator, content string) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(discriminator))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// LineRange formats a start/end line pair as an ID discriminator for chunks
// that have no symbol name.
func LineRange(start, end int) string {
	return fmt.Sprintf("L%d-%d", start, end)
}

// DeriveID fills in c.ID from the chunk's own fields.
func (c *Chunk) DeriveID() {
	disc := c.Symbol
	if disc == "" {
		disc = LineRange(c.StartLine, c.EndLine)
	}
	c.ID = NewID(c.Path, disc, c.Content)
}

// Exported reports whether the chunk's metadata marks it as an exported,
// non-private symbol. Missing metadata counts as not exported.
func (c *Chunk) Exported() bool {
	if c.Meta == nil {
		return false
	}
	if v, ok := c.Meta["exported"].(bool); ok && v {
		if vis, ok := c.Meta["visibility"].(string); ok && vis == "private" {
			return false
		}
		return true
	}
	return false
}

// Complexity returns the complexity score recorded by the extractor, or 0.
func (c *Chunk) Complexity() float64 {
	if c.Meta == nil {
		return 0
	}
	switch v := c.Meta["complexity"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
