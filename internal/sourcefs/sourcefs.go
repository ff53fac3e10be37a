// Package sourcefs enumerates and reads source files for indexing.
package sourcefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrNotDirectory indicates the root path is not a directory.
	ErrNotDirectory = errors.New("root path is not a directory")

	// ErrInvalidPattern indicates a malformed glob pattern.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// defaultSkipDirs are directories that should always be skipped during indexing.
// These typically contain generated code, dependencies, or version control data.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true, // Rust/Java build output
}

// langByExtension maps file extensions to language identifiers.
var langByExtension = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".md":    "markdown",
	".rst":   "markdown",
	".txt":   "text",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
	".sql":   "sql",
	".proto": "protobuf",
	".tf":    "terraform",
}

// Lang returns the language identifier for a path based on its extension,
// or "" when the extension is unknown.
func Lang(path string) string {
	return langByExtension[strings.ToLower(filepath.Ext(path))]
}

// SkipDir reports whether a directory name is never indexed (generated code,
// dependencies, version control, hidden directories).
func SkipDir(name string) bool {
	return defaultSkipDirs[name] || strings.HasPrefix(name, ".")
}

// GlobOptions filter the files returned by Glob.
type GlobOptions struct {
	// Include restricts results to files matching at least one pattern
	// (against basename or root-relative path). Empty includes everything.
	Include []string

	// Exclude drops files matching any pattern. Takes precedence over
	// Include. A pattern also excludes everything under a matched directory.
	Exclude []string

	// MaxFileSize skips files larger than this many bytes. Default 1MB.
	MaxFileSize int64
}

// FileSystem is the file-enumeration collaborator the indexer and the
// coherence detector depend on.
type FileSystem interface {
	// Glob walks the tree and returns root-relative, slash-separated paths
	// in deterministic (lexical) order.
	Glob(ctx context.Context, opts GlobOptions) ([]string, error)

	// Read returns the file's content as text.
	Read(path string) (string, error)

	// Exists reports whether the path exists.
	Exists(path string) bool

	// Mtime returns the file's last modification time.
	Mtime(path string) (time.Time, error)

	// Lang returns the language identifier for the path, or "".
	Lang(path string) string

	// Root returns the absolute root directory.
	Root() string
}

// OSFileSystem implements FileSystem over a root directory on disk.
type OSFileSystem struct {
	root string
}

// New creates a FileSystem rooted at dir. The directory must exist.
func New(dir string) (*OSFileSystem, error) {
	if dir == "" {
		return nil, fmt.Errorf("root path cannot be empty")
	}
	clean := filepath.Clean(dir)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, clean)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	return &OSFileSystem{root: abs}, nil
}

// Root returns the absolute root directory.
func (f *OSFileSystem) Root() string {
	return f.root
}

// Glob walks the tree rooted at Root, skipping well-known generated and
// dependency directories, and returns matching root-relative paths in
// lexical order.
func (f *OSFileSystem) Glob(ctx context.Context, opts GlobOptions) ([]string, error) {
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = 1 << 20
	}
	if err := validatePatterns(opts.Include); err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	if err := validatePatterns(opts.Exclude); err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}

	var paths []string
	err := filepath.Walk(f.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if path != f.root && SkipDir(filepath.Base(path)) {
				return filepath.SkipDir
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if shouldInclude(rel, info, opts) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", f.root, err)
	}
	return paths, nil
}

// Read returns the file content. Binary files (invalid UTF-8) yield an error
// so they are counted and skipped rather than indexed as garbage.
func (f *OSFileSystem) Read(path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(path)))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("reading %s: not valid UTF-8 text", path)
	}
	return string(data), nil
}

// Exists reports whether the path exists under the root.
func (f *OSFileSystem) Exists(path string) bool {
	_, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(path)))
	return err == nil
}

// Mtime returns the file's last modification time.
func (f *OSFileSystem) Mtime(path string) (time.Time, error) {
	info, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(path)))
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.ModTime(), nil
}

// Lang returns the language identifier for the path, or "".
func (f *OSFileSystem) Lang(path string) string {
	return Lang(path)
}

// validatePatterns validates glob patterns.
func validatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
		}
	}
	return nil
}

// shouldInclude determines if a file passes the size and pattern filters.
// Exclude takes precedence over include.
func shouldInclude(relPath string, info os.FileInfo, opts GlobOptions) bool {
	basename := filepath.Base(relPath)

	if info.Size() > opts.MaxFileSize {
		return false
	}

	for _, pattern := range opts.Exclude {
		if matched, _ := filepath.Match(pattern, basename); matched {
			return false
		}
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return false
		}
		// A directory pattern excludes everything beneath it.
		prefix := strings.TrimSuffix(pattern, "/")
		if strings.HasPrefix(relPath, prefix+"/") {
			return false
		}
	}

	if len(opts.Include) == 0 {
		return true
	}
	for _, pattern := range opts.Include {
		if matched, _ := filepath.Match(pattern, basename); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
	}
	return false
}

// Ensure OSFileSystem implements FileSystem.
var _ FileSystem = (*OSFileSystem)(nil)
