package vectorstore

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
)

// Metadata keys shared by both backends. Every record stores the full chunk
// fields plus a serialized meta blob, the embedding model name, and
// insert/update timestamps.
const (
	metaKeyType      = "type"
	metaKeyLevel     = "level"
	metaKeyPath      = "path"
	metaKeySymbol    = "symbol"
	metaKeyKind      = "kind"
	metaKeyParent    = "parent"
	metaKeyStartLine = "start_line"
	metaKeyEndLine   = "end_line"
	metaKeyLang      = "lang"
	metaKeyMeta      = "meta"
	metaKeyModel     = "model"
	metaKeyCreatedAt = "created_at"
	metaKeyUpdatedAt = "updated_at"
)

// encodeMetadata flattens an embedded chunk into a string metadata map.
func encodeMetadata(e chunk.Embedded, now time.Time) map[string]string {
	md := map[string]string{
		metaKeyType:      string(e.Type),
		metaKeyLevel:     string(e.Level),
		metaKeyPath:      e.Path,
		metaKeyModel:     e.Model,
		metaKeyCreatedAt: now.UTC().Format(time.RFC3339),
		metaKeyUpdatedAt: now.UTC().Format(time.RFC3339),
	}
	if e.Symbol != "" {
		md[metaKeySymbol] = e.Symbol
	}
	if e.Kind != "" {
		md[metaKeyKind] = e.Kind
	}
	if e.Parent != "" {
		md[metaKeyParent] = e.Parent
	}
	if e.StartLine != 0 {
		md[metaKeyStartLine] = strconv.Itoa(e.StartLine)
	}
	if e.EndLine != 0 {
		md[metaKeyEndLine] = strconv.Itoa(e.EndLine)
	}
	if e.Lang != "" {
		md[metaKeyLang] = e.Lang
	}
	if len(e.Meta) > 0 {
		// Meta is free-form; a JSON blob survives the string-only
		// metadata maps of both backends.
		if blob, err := json.Marshal(e.Meta); err == nil {
			md[metaKeyMeta] = string(blob)
		}
	}
	return md
}

// decodeMetadata rebuilds a chunk from its id, content, and metadata map.
func decodeMetadata(id, content string, md map[string]string) chunk.Chunk {
	c := chunk.Chunk{
		ID:      id,
		Content: content,
		Type:    chunk.Type(md[metaKeyType]),
		Level:   chunk.Level(md[metaKeyLevel]),
		Path:    md[metaKeyPath],
		Symbol:  md[metaKeySymbol],
		Kind:    md[metaKeyKind],
		Parent:  md[metaKeyParent],
		Lang:    md[metaKeyLang],
	}
	if v := md[metaKeyStartLine]; v != "" {
		c.StartLine, _ = strconv.Atoi(v)
	}
	if v := md[metaKeyEndLine]; v != "" {
		c.EndLine, _ = strconv.Atoi(v)
	}
	if blob := md[metaKeyMeta]; blob != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(blob), &meta); err == nil {
			c.Meta = meta
		}
	}
	return c
}
