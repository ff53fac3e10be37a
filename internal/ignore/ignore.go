// Package ignore reads gitignore-style files into exclude patterns for the
// indexer.
//
// Patterns are translated into the dialect the sourcefs matcher understands:
// plain glob patterns matched against the basename and the root-relative
// path, and bare directory names that exclude everything beneath them.
// Negation patterns are not supported and are skipped.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFiles are the ignore files consulted, in order.
var DefaultFiles = []string{".driftdignore", ".gitignore"}

// Patterns reads every ignore file present under root and returns the
// combined, deduplicated exclude patterns. Missing files are skipped; a
// root with no ignore files yields nil.
func Patterns(root string, files []string) ([]string, error) {
	if len(files) == 0 {
		files = DefaultFiles
	}

	var patterns []string
	for _, name := range files {
		filePatterns, err := parseFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		patterns = append(patterns, filePatterns...)
	}
	return deduplicate(patterns), nil
}

func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine parses one gitignore line into an exclude pattern. Comments,
// blank lines, and negations yield "".
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}

	// A leading slash anchors to the root, which is already how relative
	// patterns are matched.
	line = strings.TrimPrefix(line, "/")

	// A trailing slash marks a directory; the matcher treats a bare
	// pattern as a directory prefix, so just drop it.
	return strings.TrimSuffix(line, "/")
}

func deduplicate(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	var out []string
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
