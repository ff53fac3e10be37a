package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatterns(t *testing.T) {
	root := t.TempDir()
	gitignore := `# build output
/dist/
*.log

!keep.log
vendor
`
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte(gitignore), 0644))

	patterns, err := Patterns(root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dist", "*.log", "vendor"}, patterns)
}

func TestPatterns_DriftdignoreCombines(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".driftdignore"), []byte("generated\n*.log\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\ndist/\n"), 0644))

	patterns, err := Patterns(root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"generated", "*.log", "dist"}, patterns)
}

func TestPatterns_NoIgnoreFiles(t *testing.T) {
	patterns, err := Patterns(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Nil(t, patterns)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"   ", ""},
		{"# comment", ""},
		{"!negated", ""},
		{"*.tmp", "*.tmp"},
		{"/build/", "build"},
		{"docs/generated", "docs/generated"},
		{"node_modules/", "node_modules"},
		{"trailing.txt  ", "trailing.txt"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLine(tt.in), "%q", tt.in)
	}
}
