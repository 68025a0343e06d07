package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/app"
)

var (
	runJSON         bool
	runFailOnReport bool
)

// errReportMismatch makes the process exit non-zero after a clean run.
var errReportMismatch = errors.New("output tree does not match the preset manifest")

// runCmd executes the full pass pipeline
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every filter pass over the target tree",
	Long: `Runs the pass pipeline over paths.target in order:

  prune_files, manual_filters, remap_columns, anonymize, filter_columns,
  filter_rows, tokens, manifest, prune_contentless, finalize

then validates paths.output against the preset manifest and writes the
validation report. Files are rewritten in place.`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run summary as JSON")
	runCmd.Flags().BoolVar(&runFailOnReport, "fail-on-report", false, "Exit non-zero when validation finds missing or unknown paths")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, log)
	defer a.Close()

	result, err := a.Run(ctx, app.RunOptions{})
	if err != nil {
		log.Error("Run failed", zap.Error(err))
		return err
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printSummary(result)
	}

	if runFailOnReport && result.Report != nil && !result.Report.OK() {
		return errReportMismatch
	}
	return nil
}

func printSummary(result *app.Result) {
	s := result.Summary
	fmt.Printf("Run %s (%s) finished in %s\n", s.RunID, s.Variant, s.Duration.Round(time.Millisecond))
	fmt.Printf("  files:   %d pruned, %d deleted, %d rewritten, %d renamed, %d skipped, %d locked\n",
		s.Stats.FilesPruned, s.Stats.FilesDeleted, s.Stats.FilesRewritten,
		s.Stats.FilesRenamed, s.Stats.FilesSkipped, s.Stats.FilesLocked)
	fmt.Printf("  rows:    %d removed, %d cloned, %d anonymized\n",
		s.Stats.RowsRemoved, s.Stats.RowsCloned, s.Stats.RowsAnonymized)
	fmt.Printf("  columns: %d removed, %d cells remapped\n", s.Stats.ColumnsRemoved, s.Stats.CellsRemapped)
	fmt.Printf("  tokens:  %d discovered, %d resolved, %d unresolved, %d overrides filled\n",
		s.Stats.TokensDiscovered, s.Stats.TokensResolved, s.Stats.TokensUnresolved, s.Stats.OverridesFilled)

	if r := result.Report; r != nil {
		fmt.Printf("  report:  %d not found, %d unknown (%s)\n", len(r.NotFound), len(r.Unknown), cfg.Paths.Report)
	}
}
