package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/config"
	"github.com/raaihank/exdfilter/internal/logger"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

var (
	// Global flags
	configPath string
	envFile    string
	variant    string
	target     string
	logLevel   string

	cfg *config.Config
	log *logger.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "exdfilter",
	Short: "Filter exported game sheet tables for a localization variant",
	Long: `exdfilter rewrites an exported CSV sheet tree in place so that only the
rows and columns carrying target-language text survive.

Rules come from a hand-authored filter.json merged over the document
generated from the remote rule table; unresolved placeholder tokens are
tracked in a persistent token store and filled from override feeds.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("exdfilter %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().StringVar(&variant, "variant", "", "Pipeline variant: localized or global (overrides config)")
	rootCmd.PersistentFlags().StringVar(&target, "target", "", "Table tree to process (overrides paths.target)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides logging.level)")

	rulesCmd.AddCommand(rulesSyncCmd)
	rulesCmd.AddCommand(rulesShowCmd)
	tokensCmd.AddCommand(tokensSyncCmd)
	tokensCmd.AddCommand(tokensListCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and builds the logger shared by every command.
func setup() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	if variant != "" {
		// Variant-dependent defaults are derived after the override.
		if err := os.Setenv(config.EnvPrefix+"_PIPELINE_VARIANT", variant); err != nil {
			return err
		}
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if target != "" {
		cfg.Paths.Target = target
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err = newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Debug("Configuration loaded",
		zap.String("variant", string(cfg.Pipeline.Variant)),
		zap.String("target", cfg.Paths.Target),
		zap.String("config_dir", cfg.Paths.ConfigDir),
	)
	return nil
}

func newLogger(c *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
	}
	if c.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		}
	}
	return logger.New(loggerConfig)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
