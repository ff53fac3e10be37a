package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/driftd/internal/coherence"
)

var (
	checkJSON   bool
	checkStrict bool
)

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "output reports as JSON")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "exit non-zero when any issue is found")
}

var checkCmd = &cobra.Command{
	Use:   "check <path> [path...]",
	Short: "Check indexed files for documentation drift",
	Long: `Analyze one or more indexed source paths and report where their
documentation is missing, orphaned, incomplete, or no longer matches the
code. Paths are repository-relative, as stored by 'driftd index'.

Examples:
  driftd check internal/indexer/indexer.go

  # Gate a CI job on coherence
  driftd check --strict internal/search/engine.go`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	detector := coherence.New(app.cfg.CoherenceConfig(), app.store, app.engine, app.embedder, app.logger)

	var reports []*coherence.Report
	for _, path := range args {
		report, err := detector.CheckFile(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("checking %s: %w", path, err)
		}
		reports = append(reports, report)
	}

	if checkJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		printReports(reports)
	}

	if checkStrict {
		for _, report := range reports {
			if len(report.Issues) > 0 {
				return fmt.Errorf("found documentation drift in %s", report.Path)
			}
		}
	}
	return nil
}

func printReports(reports []*coherence.Report) {
	for i, report := range reports {
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("%s  (coherence %.2f)\n", report.Path, report.Score)
		if len(report.Issues) == 0 {
			fmt.Println("  no issues")
			continue
		}
		for _, issue := range report.Issues {
			fmt.Printf("  [%s] severity %.2f: %s\n", issue.Type, issue.Severity, issue.Message)
			if issue.Fix != "" {
				fmt.Printf("      fix: %s\n", issue.Fix)
			}
		}
	}
}
