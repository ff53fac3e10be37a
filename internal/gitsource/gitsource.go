// Package gitsource reads commit history for indexing.
//
// Branch detection reads .git/HEAD directly, which is cheap enough to call
// on every status request. Commit enumeration opens the repository with
// go-git and materializes one diff per commit.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

var (
	// ErrNotGitRepo indicates the directory is not a Git repository
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrHeadNotFound indicates the .git/HEAD file is missing
	ErrHeadNotFound = errors.New("HEAD file not found")
)

// maxDiffBytes caps the diff text carried per commit. The chunker bounds
// chunks further; this only keeps pathological commits from ballooning memory.
const maxDiffBytes = 256 * 1024

// Commit is one commit with its unified diff against its first parent.
type Commit struct {
	SHA     string
	Message string
	Author  string
	Time    time.Time
	Diff    string
}

// Source is the git collaborator consumed by the indexer.
type Source interface {
	// Commits returns up to n commits, newest first.
	Commits(ctx context.Context, n int) ([]Commit, error)

	// Branch returns the current branch name, or "detached".
	Branch() (string, error)

	// IsRepo reports whether the directory is a git repository.
	IsRepo() bool
}

// Repo implements Source for a repository on disk.
type Repo struct {
	path   string
	logger *zap.Logger
}

// New creates a Source for the repository at path.
func New(path string, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{path: path, logger: logger}
}

// IsRepo reports whether path contains a .git directory.
func (r *Repo) IsRepo() bool {
	info, err := os.Stat(filepath.Join(r.path, ".git"))
	return err == nil && info.IsDir()
}

// Branch reads .git/HEAD and returns the branch name, or "detached" when
// HEAD does not point at a branch.
func (r *Repo) Branch() (string, error) {
	gitDir := filepath.Join(r.path, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotGitRepo, r.path)
	}

	content, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrHeadNotFound, gitDir)
		}
		return "", fmt.Errorf("reading HEAD file: %w", err)
	}

	head := strings.TrimSpace(string(content))
	if strings.HasPrefix(head, "ref: refs/heads/") {
		return strings.TrimPrefix(head, "ref: refs/heads/"), nil
	}
	return "detached", nil
}

// Commits returns up to n commits from HEAD, newest first, each with its
// diff against its first parent. A commit whose diff cannot be computed is
// returned with an empty diff rather than aborting the listing.
func (r *Repo) Commits(ctx context.Context, n int) ([]Commit, error) {
	if n <= 0 {
		return nil, nil
	}

	repo, err := git.PlainOpen(r.path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, r.path)
		}
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		// Fresh repository with no commits yet.
		return nil, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("listing commits: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	for len(commits) < n {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		c, err := iter.Next()
		if err != nil {
			// io.EOF ends the walk; anything else ends it early too,
			// with whatever was collected.
			break
		}

		commits = append(commits, Commit{
			SHA:     c.Hash.String(),
			Message: strings.TrimSpace(c.Message),
			Author:  c.Author.Name,
			Time:    c.Author.When,
			Diff:    r.diff(c),
		})
	}
	return commits, nil
}

// diff renders the commit's patch against its first parent. The initial
// commit, and commits whose patch fails to render, yield "".
func (r *Repo) diff(c *object.Commit) string {
	if c.NumParents() == 0 {
		return ""
	}
	parent, err := c.Parent(0)
	if err != nil {
		r.logger.Debug("resolving parent failed", zap.String("sha", c.Hash.String()), zap.Error(err))
		return ""
	}
	patch, err := parent.Patch(c)
	if err != nil {
		r.logger.Debug("computing patch failed", zap.String("sha", c.Hash.String()), zap.Error(err))
		return ""
	}
	text := patch.String()
	if len(text) > maxDiffBytes {
		text = text[:maxDiffBytes]
	}
	return text
}

// Ensure Repo implements Source.
var _ Source = (*Repo)(nil)
