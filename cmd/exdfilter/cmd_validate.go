package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raaihank/exdfilter/internal/app"
)

var validateStrict bool

// validateCmd checks the output tree against the preset manifest
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare the output tree with the preset manifest",
	Long: `Lists manifest files and directories missing from paths.output and files
present in paths.output that no preset expects, and writes the result to
paths.report. rawexd.zip, version.txt and data.json are never reported.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Exit non-zero when anything is missing or unknown")
}

func runValidate(cmd *cobra.Command, args []string) error {
	report, err := app.New(cfg, log).Validate()
	if err != nil {
		return err
	}

	for _, e := range report.NotFound {
		fmt.Printf("missing  %-9s %s\n", e.Type, e.Path)
	}
	for _, e := range report.Unknown {
		fmt.Printf("unknown  %-9s %s\n", e.Type, e.Path)
	}
	fmt.Printf("%d not found, %d unknown (report: %s)\n", len(report.NotFound), len(report.Unknown), cfg.Paths.Report)

	if validateStrict && !report.OK() {
		return errReportMismatch
	}
	return nil
}
