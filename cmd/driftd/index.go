package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/driftd/internal/indexer"
)

var (
	indexGitHistory bool
	clearYes        bool
)

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)

	indexCmd.Flags().BoolVar(&indexGitHistory, "git-history", false, "index recent commit history as well")
	watchCmd.Flags().BoolVar(&indexGitHistory, "git-history", false, "index recent commit history as well")
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "skip the confirmation prompt")
}

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a repository into the vector store",
	Long: `Index every matching file under the given path (default: current
directory). Files whose modification time has not changed since the last
run are skipped.

Examples:
  # Index the current directory
  driftd index

  # Index another repository including its commit history
  driftd index --git-history ~/src/payments`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Index a repository and re-index on file changes",
	Long: `Run a full index pass, then watch the repository and incrementally
re-index files as they change. Runs until interrupted.

Examples:
  driftd watch
  driftd watch ~/src/payments`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vector store collections and chunk counts",
	RunE:  runStatus,
}

var clearCmd = &cobra.Command{
	Use:   "clear [path]",
	Short: "Delete the index and reset incremental state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClear,
}

func runIndex(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ix, err := app.newIndexer(rootArg(args), indexGitHistory)
	if err != nil {
		return err
	}

	started := time.Now()
	err = ix.IndexAll(cmd.Context(), progressPrinter())
	finishProgress()
	if err != nil {
		return err
	}

	st := ix.Status()
	fmt.Printf("Indexed %d files (%d chunks, %d errors) in %s\n",
		st.Done, st.Chunks, st.Errors, time.Since(started).Round(time.Millisecond))
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ix, err := app.newIndexer(rootArg(args), indexGitHistory)
	if err != nil {
		return err
	}

	if err := ix.IndexAll(ctx, progressPrinter()); err != nil {
		finishProgress()
		return err
	}
	finishProgress()

	st := ix.Status()
	fmt.Printf("Indexed %d files (%d chunks). Watching for changes...\n", st.Done, st.Chunks)

	watcher, err := indexer.NewWatcher(ix, app.cfg.Indexer.Debounce, app.logger)
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	infos, err := app.store.Collections(cmd.Context())
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No collections. Run 'driftd index' first.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tCHUNKS\tDIM")
	total := 0
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%d\t%d\n", info.Name, info.PointCount, info.VectorSize)
		total += info.PointCount
	}
	fmt.Fprintf(w, "total\t%d\t\n", total)
	return w.Flush()
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return fmt.Errorf("clearing deletes every collection; re-run with --yes to confirm")
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ix, err := app.newIndexer(rootArg(args), false)
	if err != nil {
		return err
	}
	if err := ix.ClearIndex(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Index cleared.")
	return nil
}
