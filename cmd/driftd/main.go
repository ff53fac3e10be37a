// Package main implements the driftd CLI: semantic code search and
// documentation drift detection over a local repository.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/driftd/internal/chunker"
	"github.com/fyrsmithlabs/driftd/internal/config"
	"github.com/fyrsmithlabs/driftd/internal/embeddings"
	"github.com/fyrsmithlabs/driftd/internal/gitsource"
	"github.com/fyrsmithlabs/driftd/internal/ignore"
	"github.com/fyrsmithlabs/driftd/internal/indexer"
	"github.com/fyrsmithlabs/driftd/internal/logging"
	"github.com/fyrsmithlabs/driftd/internal/search"
	"github.com/fyrsmithlabs/driftd/internal/sourcefs"
	"github.com/fyrsmithlabs/driftd/internal/telemetry"
	"github.com/fyrsmithlabs/driftd/internal/vectorstore"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	quiet      bool

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "driftd",
	Short: "Semantic code search and documentation drift detection",
	Long: `driftd indexes a repository into a local vector store and answers
semantic search queries over code, documentation, comments, and commit
history. It also detects places where documentation has drifted from the
code it describes.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/driftd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json or console")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
}

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	tel      *telemetry.Telemetry
	store    vectorstore.Store
	embedder embeddings.Embedder
	engine   *search.Engine
}

// newApp loads config and wires the store, embedder, and search engine.
func newApp() (*app, error) {
	if err := config.EnsureConfigDir(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	// The CLI reads better on a terminal unless told otherwise.
	if logFormat == "" && cfg.Logging.Format == "json" {
		cfg.Logging.Format = "console"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(context.Background(), cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	store, err := vectorstore.NewStore(cfg.VectorStore(), logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	embedder, err := embeddings.NewProvider(cfg.EmbeddingProvider(), logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		tel:      tel,
		store:    store,
		embedder: embedder,
		engine:   search.New(store, embedder, logger),
	}, nil
}

// Close releases the app's resources in reverse wiring order.
func (a *app) Close() {
	if err := a.embedder.Close(); err != nil {
		a.logger.Warn("closing embedder", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing vector store", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// newIndexer wires an indexer rooted at dir. Git history indexing is only
// enabled when dir is actually a git repository, and patterns from the
// repository's ignore files extend the configured excludes.
func (a *app) newIndexer(dir string, gitHistory bool) (*indexer.Indexer, error) {
	fs, err := sourcefs.New(dir)
	if err != nil {
		return nil, err
	}
	git := gitsource.New(dir, a.logger)

	icfg := a.cfg.IndexerConfig()
	icfg.GitHistory = gitHistory && git.IsRepo()

	ignored, err := ignore.Patterns(fs.Root(), nil)
	if err != nil {
		a.logger.Warn("reading ignore files", zap.Error(err))
	}
	icfg.Exclude = append(icfg.Exclude, ignored...)

	return indexer.New(icfg, fs, git, chunker.New(chunker.Config{}), a.embedder, a.store, a.logger)
}

// progressPrinter reports progress on stderr, in place.
func progressPrinter() embeddings.ProgressFunc {
	if quiet {
		return nil
	}
	return func(message string, completed, total int) {
		if total > 0 {
			fmt.Fprintf(os.Stderr, "\r\033[K%s (%d/%d)", message, completed, total)
		} else {
			fmt.Fprintf(os.Stderr, "\r\033[K%s", message)
		}
	}
}

// finishProgress terminates the in-place progress line.
func finishProgress() {
	if !quiet {
		fmt.Fprintln(os.Stderr)
	}
}

// rootArg returns the repository root argument, defaulting to the current
// directory.
func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
