// Package app wires the loaded configuration into a pipeline run and the
// maintenance jobs around it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/anonymizer"
	"github.com/raaihank/exdfilter/internal/config"
	"github.com/raaihank/exdfilter/internal/logger"
	"github.com/raaihank/exdfilter/internal/pipeline"
	"github.com/raaihank/exdfilter/internal/preset"
	"github.com/raaihank/exdfilter/internal/rsv"
	"github.com/raaihank/exdfilter/internal/rules"
	"github.com/raaihank/exdfilter/internal/table"
)

// ErrNoRuleSource is returned by SyncRules when rules.source is unset.
var ErrNoRuleSource = errors.New("no rule table source configured")

// Result is the outcome of one full run.
type Result struct {
	Summary *pipeline.Summary `json:"summary"`
	Report  *preset.Report    `json:"report,omitempty"`
}

// App owns the long-lived collaborators shared by runs.
type App struct {
	config   *config.Config
	logger   *logger.Logger
	replacer *table.Replacer
	loader   *rules.Loader
	tokens   *rsv.Store

	feedMu  sync.Mutex
	feed    rsv.Feed
	closers []io.Closer
}

// New creates an App for cfg.
func New(cfg *config.Config, log *logger.Logger) *App {
	replacer := table.NewReplacer(cfg.Pipeline.RetryAttempts, cfg.Pipeline.RetryBackoff)
	return &App{
		config:   cfg,
		logger:   log.WithComponent("app"),
		replacer: replacer,
		loader:   rules.NewLoader(cfg.Paths.ConfigDir, log.WithComponent("rules").Logger),
		tokens:   rsv.NewStore(cfg.Paths.TokenStore, replacer, log.WithComponent("rsv").Logger),
	}
}

// Config returns the configuration the App was built with.
func (a *App) Config() *config.Config { return a.config }

// Loader returns the rule document loader.
func (a *App) Loader() *rules.Loader { return a.loader }

// Tokens returns the shared token store.
func (a *App) Tokens() *rsv.Store { return a.tokens }

// RunOptions customizes a single run. Every field is optional.
type RunOptions struct {
	RunID string
	Rules *rules.RuleSet // loaded from the config directory when nil
	Sink  pipeline.EventSink
}

// Run executes the pipeline over paths.target, then validates paths.output
// against the preset manifest and saves the report.
func (a *App) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	rs := opts.Rules
	if rs == nil {
		rs = a.loader.Load()
	}

	var tokens *rsv.Store
	var feed rsv.Feed
	if a.config.Tokens.Enabled && a.config.Pipeline.Variant != pipeline.Global {
		if err := a.tokens.Load(); err != nil {
			a.logger.Warn("Token store unreadable, starting empty", zap.Error(err))
		}
		tokens = a.tokens

		var err error
		if feed, err = a.Feed(); err != nil {
			a.logger.Warn("Override feeds unavailable, skipping sync", zap.Error(err))
		}
	}

	manifest, err := preset.LoadManifest(a.config.Paths.Presets)
	if err != nil {
		a.logger.Warn("Preset manifest unavailable", zap.Error(err))
	}
	dataPath := filepath.Join(a.config.Paths.Output, preset.DataFile)

	p := pipeline.New(pipeline.Options{
		RunID:      opts.RunID,
		Root:       a.config.Paths.Target,
		Config:     a.config.Pipeline,
		Rules:      rs,
		Anonymizer: anonymizer.New(a.config.Anonymizer, a.logger.WithComponent("anonymizer").Logger),
		Tokens:     tokens,
		Feed:       feed,
		Manifest:   preset.NewDataWriter(dataPath, manifest, a.replacer, a.logger.WithComponent("preset").Logger),
		Sink:       opts.Sink,
		Logger:     a.logger.WithComponent("pipeline").Logger,
	})

	summary, err := p.Run(ctx)
	result := &Result{Summary: summary}
	if err != nil {
		return result, fmt.Errorf("pipeline failed: %w", err)
	}

	report, err := a.validate(manifest)
	if err != nil {
		return result, err
	}
	result.Report = &report
	return result, nil
}

// Validate checks paths.output against the preset manifest and saves the
// report to paths.report.
func (a *App) Validate() (preset.Report, error) {
	manifest, err := preset.LoadManifest(a.config.Paths.Presets)
	if err != nil {
		a.logger.Warn("Preset manifest unavailable", zap.Error(err))
	}
	return a.validate(manifest)
}

func (a *App) validate(manifest *preset.Manifest) (preset.Report, error) {
	validator := preset.NewValidator(manifest, a.logger.WithComponent("validator").Logger)
	if rel, err := filepath.Rel(a.config.Paths.Output, a.config.Paths.Report); err == nil && !strings.HasPrefix(rel, "..") {
		validator.Ignore(rel)
	}
	report, err := validator.Validate(a.config.Paths.Output)
	if err != nil {
		return preset.Report{}, fmt.Errorf("failed to validate %s: %w", a.config.Paths.Output, err)
	}
	if err := preset.SaveReport(report, a.config.Paths.Report, a.replacer); err != nil {
		return report, fmt.Errorf("failed to save validation report: %w", err)
	}

	a.logger.Info("Validation finished",
		zap.Int("not_found", len(report.NotFound)),
		zap.Int("unknown", len(report.Unknown)),
		zap.String("report", a.config.Paths.Report),
	)
	return report, nil
}

// SyncRules regenerates the machine-generated rule document from the
// configured rule table.
func (a *App) SyncRules(ctx context.Context) (rules.Document, error) {
	source, err := a.ruleSource()
	if err != nil {
		return rules.Document{}, err
	}
	if c, ok := source.(io.Closer); ok {
		defer c.Close()
	}

	syncer := rules.NewSyncer(source, a.loader, a.replacer, a.logger.WithComponent("rules").Logger)
	return syncer.Sync(ctx)
}

func (a *App) ruleSource() (rules.Source, error) {
	cfg := a.config.Rules
	switch cfg.Source {
	case "csv":
		return rules.NewCSVSource(cfg.SheetURL, cfg.Timeout), nil
	case "sql":
		return rules.NewSQLSource(&rules.SQLConfig{
			DatabaseURL:     cfg.DatabaseURL,
			Table:           cfg.Table,
			MaxOpenConns:    cfg.MaxOpenConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, a.logger.WithComponent("rules").Logger)
	case "":
		return nil, ErrNoRuleSource
	default:
		return nil, fmt.Errorf("unknown rule source %q", cfg.Source)
	}
}

// SyncTokens loads the token store and fills empty fallbacks from the
// configured override feeds. It returns the number of filled tokens.
func (a *App) SyncTokens(ctx context.Context) (int, error) {
	if err := a.tokens.Load(); err != nil {
		return 0, err
	}
	feed, err := a.Feed()
	if err != nil {
		return 0, err
	}
	if feed == nil {
		a.logger.Info("No override feeds configured")
		return 0, nil
	}
	return a.tokens.SyncExternalOverrides(ctx, feed)
}

// Feed builds the override feed chain once: local files first, then the
// remote listing, served through the Redis mirror when both are enabled. It
// returns a nil Feed when nothing is configured.
func (a *App) Feed() (rsv.Feed, error) {
	a.feedMu.Lock()
	defer a.feedMu.Unlock()
	if a.feed != nil {
		return a.feed, nil
	}

	cfg := a.config.Tokens
	log := a.logger.WithComponent("rsv").Logger
	var feeds []rsv.Feed

	if len(cfg.Files) > 0 {
		feeds = append(feeds, rsv.NewFileFeed(cfg.Files, log))
	}

	var remote rsv.Feed
	if cfg.HTTP.Enabled {
		remote = rsv.NewHTTPFeed(rsv.HTTPFeedConfig{
			ListURL:           cfg.HTTP.ListURL,
			RawBaseURL:        cfg.HTTP.RawBaseURL,
			Prefix:            cfg.HTTP.Prefix,
			Timeout:           cfg.HTTP.Timeout,
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			Burst:             cfg.HTTP.Burst,
		}, log)
	}

	if cfg.Redis.Enabled {
		mirror, err := rsv.NewRedisFeed(&rsv.RedisConfig{
			RedisURL:       cfg.Redis.URL,
			Key:            cfg.Redis.Key,
			MaxConnections: cfg.Redis.MaxConnections,
			TTL:            cfg.Redis.TTL,
		}, log)
		switch {
		case err != nil && remote == nil && len(feeds) == 0:
			return nil, fmt.Errorf("failed to initialize override mirror: %w", err)
		case err != nil:
			a.logger.Warn("Override mirror unavailable, skipping", zap.Error(err))
		case remote != nil:
			a.closers = append(a.closers, mirror)
			remote = rsv.NewCachedFeed(mirror, remote, cfg.Redis.TTL, log)
		default:
			a.closers = append(a.closers, mirror)
			remote = mirror
		}
	}

	if remote != nil {
		feeds = append(feeds, remote)
	}

	switch len(feeds) {
	case 0:
		return nil, nil
	case 1:
		a.feed = feeds[0]
	default:
		a.feed = rsv.NewMultiFeed(log, feeds...)
	}

	a.logger.Info("Override feeds configured", zap.String("feed", a.feed.Name()))
	return a.feed, nil
}

// Close releases feed connections.
func (a *App) Close() error {
	a.feedMu.Lock()
	defer a.feedMu.Unlock()

	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.feed = nil
	return errors.Join(errs...)
}
