// Package collections maps chunk (type, level) keys to physical collection
// names and back.
//
// The store shards records into one collection per (type, level) pair. A
// collection name is an injective function of the key and parsing a name
// recovers the exact key, so the mapping round-trips:
//
//	name, _ := collections.Name(chunk.TypeCode, chunk.LevelSymbol)
//	// name == "driftd_code_symbol"
//	key, _ := collections.Parse(name)
//	// key == Key{Type: "code", Level: "symbol"}
package collections

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
)

// prefix namespaces driftd collections inside a shared vector database.
const prefix = "driftd"

var (
	// ErrInvalidType indicates an unknown chunk type.
	ErrInvalidType = errors.New("invalid chunk type")

	// ErrInvalidLevel indicates an unknown hierarchy level.
	ErrInvalidLevel = errors.New("invalid hierarchy level")

	// ErrInvalidName indicates a malformed collection name.
	ErrInvalidName = errors.New("invalid collection name format")
)

// Key identifies one physical collection shard.
type Key struct {
	Type  chunk.Type
	Level chunk.Level
}

// KeyFor returns the collection key for a chunk.
func KeyFor(c chunk.Chunk) Key {
	return Key{Type: c.Type, Level: c.Level}
}

// Name generates the collection name for a (type, level) key.
func Name(t chunk.Type, l chunk.Level) (string, error) {
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	if !l.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, l)
	}
	return fmt.Sprintf("%s_%s_%s", prefix, t, l), nil
}

// Parse recovers the (type, level) key from a collection name.
func Parse(name string) (Key, error) {
	parts := strings.Split(name, "_")
	if len(parts) != 3 || parts[0] != prefix {
		return Key{}, fmt.Errorf("%w: expected %s_<type>_<level>, got %q", ErrInvalidName, prefix, name)
	}

	t := chunk.Type(parts[1])
	if !t.IsValid() {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidType, parts[1])
	}
	l := chunk.Level(parts[2])
	if !l.IsValid() {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidLevel, parts[2])
	}

	return Key{Type: t, Level: l}, nil
}

// All returns the names of every possible driftd collection, in a fixed
// deterministic order (types outer, levels inner).
func All() []string {
	names := make([]string, 0, len(chunk.Types)*len(chunk.Levels))
	for _, t := range chunk.Types {
		for _, l := range chunk.Levels {
			name, _ := Name(t, l)
			names = append(names, name)
		}
	}
	return names
}

// Filter returns the collection names matching the requested types and
// levels. Empty slices mean "all".
func Filter(types []chunk.Type, levels []chunk.Level) []string {
	if len(types) == 0 {
		types = chunk.Types
	}
	if len(levels) == 0 {
		levels = chunk.Levels
	}
	names := make([]string, 0, len(types)*len(levels))
	for _, t := range types {
		for _, l := range levels {
			name, err := Name(t, l)
			if err != nil {
				continue
			}
			names = append(names, name)
		}
	}
	return names
}
