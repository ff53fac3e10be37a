// Package chunker splits source files, markdown, and commits into chunks.
//
// The default implementation is heuristic: symbol boundaries are detected by
// per-language line patterns rather than a full parser. That keeps chunking
// dependency-free and fast, at the cost of occasionally merging adjacent
// declarations; the line-window fallback bounds the damage.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
	"github.com/fyrsmithlabs/driftd/internal/gitsource"
)

// Chunker produces chunks from raw file content, markdown, or a commit.
type Chunker interface {
	File(path, content, lang string) []chunk.Chunk
	Markdown(path, content string) []chunk.Chunk
	Commit(c gitsource.Commit) []chunk.Chunk
}

// Config bounds the chunks the default chunker produces.
type Config struct {
	// MaxChunkLines caps a single code chunk. Default 200.
	MaxChunkLines int

	// MaxCommitChars caps the diff text included in a commit chunk.
	// Default 4000.
	MaxCommitChars int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxChunkLines == 0 {
		c.MaxChunkLines = 200
	}
	if c.MaxCommitChars == 0 {
		c.MaxCommitChars = 4000
	}
}

// symbolPattern matches the first line of a declaration and captures the
// symbol name and kind.
type symbolPattern struct {
	re   *regexp.Regexp
	kind string
}

var langPatterns = map[string][]symbolPattern{
	"go": {
		{regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?(\w+)`), "function"},
		{regexp.MustCompile(`^type\s+(\w+)\s+(?:struct|interface)`), "type"},
	},
	"python": {
		{regexp.MustCompile(`^class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^(?:async\s+)?def\s+(\w+)`), "function"},
	},
	"javascript": {
		{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)`), "function"},
		{regexp.MustCompile(`^(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s+)?(?:\([^)]*\)|\w+)\s*=>`), "function"},
	},
	"rust": {
		{regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?fn\s+(\w+)`), "function"},
		{regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:struct|enum|trait)\s+(\w+)`), "type"},
		{regexp.MustCompile(`^impl(?:<[^>]*>)?\s+(\w+)`), "impl"},
	},
}

func init() {
	langPatterns["typescript"] = langPatterns["javascript"]
}

// commentPrefixes per language family, used to attach the doc comment block
// sitting immediately above a symbol.
var commentPrefixes = []string{"//", "#", "///", "/*", "*", "\"\"\"", "--"}

// DefaultChunker is the built-in heuristic chunker.
type DefaultChunker struct {
	config Config
}

// New creates a DefaultChunker.
func New(config Config) *DefaultChunker {
	config.ApplyDefaults()
	return &DefaultChunker{config: config}
}

// File splits source content into symbol-level code chunks plus one comments
// chunk per documented symbol. Markdown files are routed to Markdown. Files
// in languages without symbol patterns fall back to line windows.
func (d *DefaultChunker) File(path, content, lang string) []chunk.Chunk {
	if lang == "markdown" {
		return d.Markdown(path, content)
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	patterns := langPatterns[lang]
	if len(patterns) == 0 {
		return d.windows(path, lines, lang)
	}

	type boundary struct {
		line   int // 0-based
		symbol string
		kind   string
	}
	var bounds []boundary
	for i, line := range lines {
		for _, p := range patterns {
			if m := p.re.FindStringSubmatch(line); m != nil {
				bounds = append(bounds, boundary{line: i, symbol: m[1], kind: p.kind})
				break
			}
		}
	}
	if len(bounds) == 0 {
		return d.windows(path, lines, lang)
	}

	var chunks []chunk.Chunk

	// Preamble before the first symbol (imports, package docs), ending
	// before the first symbol's own doc comment.
	preEnd := bounds[0].line
	for preEnd > 0 && isComment(lines[preEnd-1]) {
		preEnd--
	}
	if pre := strings.TrimSpace(strings.Join(lines[:preEnd], "\n")); pre != "" {
		c := chunk.Chunk{
			Content:   pre,
			Type:      chunk.TypeCode,
			Level:     chunk.LevelFile,
			Path:      path,
			Lang:      lang,
			StartLine: 1,
			EndLine:   preEnd,
		}
		c.DeriveID()
		chunks = append(chunks, c)
	}

	for i, b := range bounds {
		end := len(lines)
		if i+1 < len(bounds) {
			end = bounds[i+1].line
		}
		if end-b.line > d.config.MaxChunkLines {
			end = b.line + d.config.MaxChunkLines
		}

		// Doc comment block sitting directly above the declaration.
		docStart := b.line
		for docStart > 0 && isComment(lines[docStart-1]) {
			docStart--
		}
		if docStart < b.line {
			doc := strings.TrimSpace(strings.Join(lines[docStart:b.line], "\n"))
			if doc != "" {
				c := chunk.Chunk{
					Content:   doc,
					Type:      chunk.TypeComments,
					Level:     chunk.LevelSymbol,
					Path:      path,
					Symbol:    b.symbol,
					Lang:      lang,
					StartLine: docStart + 1,
					EndLine:   b.line,
					Meta:      map[string]any{"doc": true},
				}
				c.DeriveID()
				chunks = append(chunks, c)
			}
		}

		body := strings.TrimRight(strings.Join(lines[b.line:end], "\n"), "\n")
		c := chunk.Chunk{
			Content:   body,
			Type:      chunk.TypeCode,
			Level:     chunk.LevelSymbol,
			Path:      path,
			Symbol:    b.symbol,
			Kind:      b.kind,
			Lang:      lang,
			StartLine: b.line + 1,
			EndLine:   end,
			Meta: map[string]any{
				"exported":   isExported(b.symbol, lines[b.line], lang),
				"complexity": complexity(body),
			},
		}
		c.DeriveID()
		chunks = append(chunks, c)
	}
	return chunks
}

// windows splits lines into fixed-size file-level chunks.
func (d *DefaultChunker) windows(path string, lines []string, lang string) []chunk.Chunk {
	var chunks []chunk.Chunk
	for start := 0; start < len(lines); start += d.config.MaxChunkLines {
		end := start + d.config.MaxChunkLines
		if end > len(lines) {
			end = len(lines)
		}
		content := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if content == "" {
			continue
		}
		c := chunk.Chunk{
			Content:   content,
			Type:      chunk.TypeCode,
			Level:     chunk.LevelFile,
			Path:      path,
			Lang:      lang,
			StartLine: start + 1,
			EndLine:   end,
		}
		c.DeriveID()
		chunks = append(chunks, c)
	}
	return chunks
}

// Markdown splits content into one docs chunk per heading section. Content
// before the first heading becomes its own section; a file with no headings
// yields a single file-level chunk.
func (d *DefaultChunker) Markdown(path, content string) []chunk.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	heading := regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

	type section struct {
		line  int
		title string
	}
	var sections []section
	for i, line := range lines {
		if m := heading.FindStringSubmatch(line); m != nil {
			sections = append(sections, section{line: i, title: strings.TrimSpace(m[2])})
		}
	}

	var chunks []chunk.Chunk
	emit := func(start, end int, title string) {
		body := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if body == "" {
			return
		}
		c := chunk.Chunk{
			Content:   body,
			Type:      chunk.TypeDocs,
			Level:     chunk.LevelFile,
			Path:      path,
			Symbol:    title,
			Lang:      "markdown",
			StartLine: start + 1,
			EndLine:   end,
		}
		c.DeriveID()
		chunks = append(chunks, c)
	}

	if len(sections) == 0 {
		emit(0, len(lines), "")
		return chunks
	}
	if sections[0].line > 0 {
		emit(0, sections[0].line, "")
	}
	for i, s := range sections {
		end := len(lines)
		if i+1 < len(sections) {
			end = sections[i+1].line
		}
		emit(s.line, end, s.title)
	}
	return chunks
}

// Commit renders one commit into a single project-level chunk with the diff
// truncated to the configured bound.
func (d *DefaultChunker) Commit(c gitsource.Commit) []chunk.Chunk {
	diff := c.Diff
	if len(diff) > d.config.MaxCommitChars {
		diff = diff[:d.config.MaxCommitChars]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "commit %s\nAuthor: %s\n\n%s", c.SHA, c.Author, c.Message)
	if diff != "" {
		sb.WriteString("\n\n")
		sb.WriteString(diff)
	}

	out := chunk.Chunk{
		Content: sb.String(),
		Type:    chunk.TypeCommits,
		Level:   chunk.LevelProject,
		Path:    "commit:" + c.SHA,
		Symbol:  c.SHA,
		Meta: map[string]any{
			"sha":    c.SHA,
			"author": c.Author,
			"time":   c.Time.UTC().Format("2006-01-02T15:04:05Z"),
		},
	}
	out.DeriveID()
	return []chunk.Chunk{out}
}

// isComment reports whether a line is a comment in any supported language.
func isComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, prefix := range commentPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// isExported applies per-language visibility conventions to a symbol name.
func isExported(symbol, declLine, lang string) bool {
	switch lang {
	case "go":
		r := []rune(symbol)
		return len(r) > 0 && unicode.IsUpper(r[0])
	case "python":
		return !strings.HasPrefix(symbol, "_")
	case "javascript", "typescript":
		return strings.Contains(declLine, "export ")
	case "rust":
		return strings.Contains(declLine, "pub ") || strings.HasPrefix(declLine, "pub(")
	default:
		return !strings.HasPrefix(symbol, "_")
	}
}

// complexity is a rough branch count over the chunk body.
var branchTokens = regexp.MustCompile(`\b(if|for|while|case|catch|match|elif|else if)\b|&&|\|\|`)

func complexity(body string) int {
	return len(branchTokens.FindAllStringIndex(body, -1)) + 1
}

// Ensure DefaultChunker implements Chunker.
var _ Chunker = (*DefaultChunker)(nil)
