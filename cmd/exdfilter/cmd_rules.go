package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raaihank/exdfilter/internal/app"
	"github.com/raaihank/exdfilter/internal/rules"
)

// rulesCmd groups rule document commands
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage filter rule documents",
	Long: `Manage the rule documents in paths.config_dir.

Subcommands:
  sync   - Regenerate managed_filter.tmp.json from the remote rule table
  show   - Print the merged rule set the pipeline would use`,
}

var rulesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Regenerate the base rule document from the rule table",
	Long: `Fetches the rule table from rules.source (csv: a published sheet export,
sql: a PostgreSQL table) and replaces managed_filter.tmp.json. The
hand-authored filter.json is never touched. On failure the previous base
document is kept.`,
	Args: cobra.NoArgs,
	RunE: runRulesSync,
}

var rulesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged rule set as JSON",
	Args:  cobra.NoArgs,
	RunE:  runRulesShow,
}

func runRulesSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, log)
	doc, err := a.SyncRules(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Synced %d delete_rows, %d remap_keys, %d remap_columns entries into %s\n",
		len(doc.DeleteRows), len(doc.RemapKeys), len(doc.RemapColumns), a.Loader().BasePath())
	return nil
}

func runRulesShow(cmd *cobra.Command, args []string) error {
	rs := app.New(cfg, log).Loader().Load()

	data, err := rules.EncodeDocument(rs.Document())
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
