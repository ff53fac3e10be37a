package chunker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
	"github.com/fyrsmithlabs/driftd/internal/gitsource"
)

const goSource = `package calc

import "fmt"

// Add returns the sum of a and b.
// It never overflows in practice.
func Add(a, b int) int {
	return a + b
}

func internalHelper(x int) int {
	if x > 0 {
		return x
	}
	return -x
}

// Calculator accumulates values.
type Calculator struct {
	total int
}
`

func TestFile_GoSymbols(t *testing.T) {
	c := New(Config{})
	chunks := c.File("calc/calc.go", goSource, "go")

	byType := map[chunk.Type][]chunk.Chunk{}
	for _, ch := range chunks {
		byType[ch.Type] = append(byType[ch.Type], ch)
	}

	// Preamble + three symbols.
	code := byType[chunk.TypeCode]
	require.Len(t, code, 4)
	assert.Equal(t, chunk.LevelFile, code[0].Level)
	assert.Contains(t, code[0].Content, "package calc")

	symbols := map[string]chunk.Chunk{}
	for _, ch := range code[1:] {
		assert.Equal(t, chunk.LevelSymbol, ch.Level)
		symbols[ch.Symbol] = ch
	}
	require.Contains(t, symbols, "Add")
	require.Contains(t, symbols, "internalHelper")
	require.Contains(t, symbols, "Calculator")

	assert.Equal(t, "function", symbols["Add"].Kind)
	assert.Equal(t, "type", symbols["Calculator"].Kind)
	assert.True(t, symbols["Add"].Exported())
	assert.False(t, symbols["internalHelper"].Exported())
	assert.Greater(t, symbols["internalHelper"].Complexity(), symbols["Add"].Complexity())

	// Doc comments become comments chunks bound to their symbol.
	comments := byType[chunk.TypeComments]
	require.Len(t, comments, 2)
	names := []string{comments[0].Symbol, comments[1].Symbol}
	assert.Contains(t, names, "Add")
	assert.Contains(t, names, "Calculator")
	for _, cm := range comments {
		assert.Equal(t, chunk.LevelSymbol, cm.Level)
	}
}

func TestFile_DeterministicIDs(t *testing.T) {
	c := New(Config{})
	first := c.File("calc/calc.go", goSource, "go")
	second := c.File("calc/calc.go", goSource, "go")
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestFile_UnknownLangWindows(t *testing.T) {
	c := New(Config{MaxChunkLines: 2})
	content := "line1\nline2\nline3\nline4\nline5"
	chunks := c.File("data/notes.cfg", content, "")
	require.Len(t, chunks, 3)
	for _, ch := range chunks {
		assert.Equal(t, chunk.TypeCode, ch.Type)
		assert.Equal(t, chunk.LevelFile, ch.Level)
	}
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 2, chunks[0].EndLine)
	assert.Equal(t, 5, chunks[2].StartLine)
}

func TestFile_Empty(t *testing.T) {
	c := New(Config{})
	assert.Nil(t, c.File("empty.go", "   \n\n", "go"))
}

func TestMarkdown_Sections(t *testing.T) {
	c := New(Config{})
	content := "intro text\n\n# Install\n\nrun make\n\n## Usage\n\nrun driftd\n"
	chunks := c.Markdown("README.md", content)
	require.Len(t, chunks, 3)

	assert.Equal(t, "", chunks[0].Symbol)
	assert.Equal(t, "Install", chunks[1].Symbol)
	assert.Equal(t, "Usage", chunks[2].Symbol)
	for _, ch := range chunks {
		assert.Equal(t, chunk.TypeDocs, ch.Type)
		assert.Equal(t, chunk.LevelFile, ch.Level)
		assert.Equal(t, "markdown", ch.Lang)
	}
}

func TestMarkdown_NoHeadings(t *testing.T) {
	c := New(Config{})
	chunks := c.Markdown("NOTES.md", "just one paragraph")
	require.Len(t, chunks, 1)
	assert.Equal(t, "just one paragraph", chunks[0].Content)
}

func TestFile_MarkdownRouted(t *testing.T) {
	c := New(Config{})
	chunks := c.File("README.md", "# Title\n\nbody", "markdown")
	require.Len(t, chunks, 1)
	assert.Equal(t, chunk.TypeDocs, chunks[0].Type)
}

func TestCommit(t *testing.T) {
	c := New(Config{MaxCommitChars: 20})
	commit := gitsource.Commit{
		SHA:     "abc123",
		Message: "fix the bug",
		Author:  "Dev One",
		Time:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Diff:    "a very long diff that exceeds the cap",
	}

	chunks := c.Commit(commit)
	require.Len(t, chunks, 1)
	ch := chunks[0]
	assert.Equal(t, chunk.TypeCommits, ch.Type)
	assert.Equal(t, chunk.LevelProject, ch.Level)
	assert.Equal(t, "commit:abc123", ch.Path)
	assert.Equal(t, "abc123", ch.Symbol)
	assert.Contains(t, ch.Content, "fix the bug")
	assert.Contains(t, ch.Content, "a very long")
	assert.NotContains(t, ch.Content, "exceeds the cap")
	assert.Equal(t, "abc123", ch.Meta["sha"])
}
