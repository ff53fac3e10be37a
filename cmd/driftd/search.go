package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/driftd/internal/chunk"
)

var (
	searchK      int
	searchMin    float32
	searchTypes  []string
	searchLevels []string
	searchPath   string
	searchLang   string
	searchHybrid bool
	searchAlpha  float32
	searchRerank bool
	searchJSON   bool
)

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVar(&searchK, "k", 0, "number of results (default from config)")
	searchCmd.Flags().Float32Var(&searchMin, "min", 0, "minimum score threshold")
	searchCmd.Flags().StringSliceVar(&searchTypes, "type", nil, "restrict to chunk types: code, docs, comments, commits, prs")
	searchCmd.Flags().StringSliceVar(&searchLevels, "level", nil, "restrict to levels: project, module, file, symbol")
	searchCmd.Flags().StringVar(&searchPath, "path", "", "restrict to one source path")
	searchCmd.Flags().StringVar(&searchLang, "lang", "", "restrict to one language")
	searchCmd.Flags().BoolVar(&searchHybrid, "hybrid", true, "blend vector and keyword scores")
	searchCmd.Flags().Float32Var(&searchAlpha, "alpha", 0, "hybrid vector weight in [0,1] (default from config)")
	searchCmd.Flags().BoolVar(&searchRerank, "rerank", false, "rerank the candidate pool against the query")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed repository",
	Long: `Run a semantic search over the indexed chunks.

Examples:
  # Plain search
  driftd search "retry with exponential backoff"

  # Only documentation, top 5
  driftd search --k 5 --type docs "authentication flow"

  # Pure keyword matching
  driftd search --alpha 0 "ErrConnectionFailed"

  # Rerank for precision
  driftd search --rerank "where are collection names derived"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	q := app.cfg.Query(strings.Join(args, " "))
	if cmd.Flags().Changed("k") {
		q.K = searchK
	}
	if cmd.Flags().Changed("min") {
		q.Min = searchMin
	}
	if cmd.Flags().Changed("hybrid") {
		q.Hybrid = searchHybrid
	}
	if cmd.Flags().Changed("alpha") {
		q.Alpha = searchAlpha
		q.Hybrid = true
	}
	if cmd.Flags().Changed("rerank") {
		q.Rerank = searchRerank
	}
	q.Path = searchPath
	q.Lang = searchLang
	for _, t := range searchTypes {
		q.Types = append(q.Types, chunk.Type(t))
	}
	for _, l := range searchLevels {
		q.Levels = append(q.Levels, chunk.Level(l))
	}

	hits, err := app.engine.Search(cmd.Context(), q)
	if err != nil {
		return err
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	if len(hits) == 0 {
		fmt.Println("No results.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tTYPE\tPATH\tSYMBOL")
	for _, hit := range hits {
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n",
			hit.Score, hit.Chunk.Type, hit.Chunk.Path, hit.Chunk.Symbol)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, hit := range hits {
		if len(hit.Highlights) == 0 {
			continue
		}
		fmt.Printf("\n%s:\n", hit.Chunk.Path)
		for _, line := range hit.Highlights {
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}
