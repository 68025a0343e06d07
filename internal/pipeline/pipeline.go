// Package pipeline runs the ordered table filter passes over an exported
// sheet tree.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/anonymizer"
	"github.com/raaihank/exdfilter/internal/rsv"
	"github.com/raaihank/exdfilter/internal/rules"
	"github.com/raaihank/exdfilter/internal/script"
	"github.com/raaihank/exdfilter/internal/table"
)

// Options wires the collaborators of a Pipeline. RunID, Tokens, Feed,
// Manifest and Sink are optional. Tokens and Feed are ignored by global runs.
type Options struct {
	RunID      string
	Root       string
	Config     Config
	Rules      *rules.RuleSet
	Anonymizer *anonymizer.Anonymizer
	Tokens     *rsv.Store
	Feed       rsv.Feed
	Manifest   ManifestWriter
	Sink       EventSink
	Logger     *zap.Logger
}

// Pipeline handles the pass sequence for one table tree
type Pipeline struct {
	runID      string
	root       string
	config     Config
	rules      *rules.RuleSet
	detector   script.Detector
	anonymizer *anonymizer.Anonymizer
	tokens     *rsv.Store
	feed       rsv.Feed
	manifest   ManifestWriter
	sink       EventSink
	replacer   *table.Replacer
	logger     *zap.Logger
}

// New creates a new pipeline
func New(opts Options) *Pipeline {
	rs := opts.Rules
	if rs == nil {
		rs = rules.Empty()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tokens, feed := opts.Tokens, opts.Feed
	if opts.Config.Variant == Global {
		tokens, feed = nil, nil
	}
	anon := opts.Anonymizer
	if anon == nil {
		cfg := anonymizer.DefaultConfig()
		cfg.Enabled = false
		anon = anonymizer.New(cfg, log)
	}

	return &Pipeline{
		runID:      opts.RunID,
		root:       opts.Root,
		config:     opts.Config,
		rules:      rs,
		detector:   script.New(string(opts.Config.Variant)),
		anonymizer: anon,
		tokens:     tokens,
		feed:       feed,
		manifest:   opts.Manifest,
		sink:       opts.Sink,
		replacer:   table.NewReplacer(opts.Config.RetryAttempts, opts.Config.RetryBackoff),
		logger:     log,
	}
}

type pass struct {
	name string
	run  func(context.Context, *State) error
}

func (p *Pipeline) passes() []pass {
	return []pass{
		{"prune_files", p.PruneFiles},
		{"manual_filters", p.ApplyManualFilters},
		{"remap_columns", p.RemapColumns},
		{"anonymize", p.Anonymize},
		{"filter_columns", p.FilterColumns},
		{"filter_rows", p.FilterRows},
		{"tokens", p.ProcessTokens},
		{"manifest", p.WriteManifest},
		{"prune_contentless", p.PruneContentless},
		{"finalize", p.Finalize},
	}
}

// Run executes every pass in order over the whole tree. A pass error aborts
// the run; there is no partial resume.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	runID := p.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	state := NewState(runID)
	log := p.logger.With(zap.String("run_id", state.RunID))

	summary := &Summary{
		RunID:     state.RunID,
		Variant:   p.config.Variant,
		Root:      p.root,
		StartedAt: time.Now(),
	}

	log.Info("Starting table pipeline",
		zap.String("root", p.root),
		zap.String("variant", string(p.config.Variant)),
		zap.String("detector", p.detector.Name()),
		zap.String("empty_file_policy", string(p.config.EmptyFilePolicy)),
	)

	for _, ps := range p.passes() {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("pipeline cancelled before %s: %w", ps.name, err)
		}

		p.publish(state, ps.name, PhaseStarted, 0, nil)
		start := time.Now()

		if err := ps.run(ctx, state); err != nil {
			p.publish(state, ps.name, PhaseFailed, time.Since(start), err)
			log.Error("Pass failed", zap.String("pass", ps.name), zap.Error(err))
			summary.Stats = *state.Stats
			return summary, fmt.Errorf("pass %s failed: %w", ps.name, err)
		}

		elapsed := time.Since(start)
		summary.Passes = append(summary.Passes, PassResult{Name: ps.name, Duration: elapsed})
		p.publish(state, ps.name, PhaseFinished, elapsed, nil)
		log.Debug("Pass finished", zap.String("pass", ps.name), zap.Duration("duration", elapsed))
	}

	summary.Duration = time.Since(summary.StartedAt)
	summary.Stats = *state.Stats
	if p.tokens != nil {
		summary.References = p.tokens.References()
	}

	log.Info("Table pipeline completed",
		zap.Int("files_deleted", state.Stats.FilesDeleted+state.Stats.FilesPruned),
		zap.Int("files_rewritten", state.Stats.FilesRewritten),
		zap.Int("files_skipped", state.Stats.FilesSkipped),
		zap.Int("files_locked", state.Stats.FilesLocked),
		zap.Int("rows_removed", state.Stats.RowsRemoved),
		zap.Int("columns_removed", state.Stats.ColumnsRemoved),
		zap.Duration("total_duration", summary.Duration),
	)
	return summary, nil
}

func (p *Pipeline) publish(state *State, name string, phase Phase, elapsed time.Duration, err error) {
	if p.sink == nil {
		return
	}
	ev := Event{
		RunID:     state.RunID,
		Pass:      name,
		Phase:     phase,
		Stats:     *state.Stats,
		Duration:  elapsed,
		Timestamp: time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	p.sink.Publish(ev)
}

// action is what a per-table visitor wants done with the file.
type action int

const (
	leave action = iota
	rewrite
	remove
)

// visitor inspects one table and may mutate it in place.
type visitor func(relPath string, t *table.Table) (action, error)

// eachTable applies fn to every table under the root. Malformed tables are
// skipped; locked files are logged and left alone.
func (p *Pipeline) eachTable(ctx context.Context, state *State, passName string, fn visitor) error {
	files, err := table.Files(p.root)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", p.root, err)
	}

	for _, rel := range files {
		if !strings.HasSuffix(rel, table.Extension) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		abs := p.abs(rel)
		t, err := table.Read(abs)
		if err != nil {
			switch {
			case errors.Is(err, table.ErrMalformed):
				state.Stats.FilesSkipped++
				p.logger.Debug("Skipping malformed table", zap.String("pass", passName), zap.String("file", rel))
				continue
			case errors.Is(err, table.ErrNotFound):
				continue
			default:
				return fmt.Errorf("failed to read %s: %w", rel, err)
			}
		}

		act, err := fn(rel, t)
		if err != nil {
			return fmt.Errorf("failed to process %s: %w", rel, err)
		}

		switch act {
		case rewrite:
			if err := p.write(state, rel, t); err != nil {
				return err
			}
		case remove:
			removed, err := p.remove(state, rel)
			if err != nil {
				return err
			}
			if removed {
				state.Stats.FilesDeleted++
			}
		}
	}
	return nil
}

// write swaps t into place. Lock contention is tolerated.
func (p *Pipeline) write(state *State, rel string, t *table.Table) error {
	err := p.replacer.WriteTable(p.abs(rel), t)
	switch {
	case err == nil:
		state.Stats.FilesRewritten++
		return nil
	case errors.Is(err, table.ErrLocked):
		state.Stats.FilesLocked++
		p.logger.Warn("File locked, leaving unchanged", zap.String("file", rel), zap.Error(err))
		return nil
	default:
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
}

// remove deletes a file and reports whether it is gone. Missing and locked
// files are tolerated.
func (p *Pipeline) remove(state *State, rel string) (bool, error) {
	err := table.Remove(p.abs(rel))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, table.ErrNotFound):
		return false, nil
	case errors.Is(err, table.ErrLocked):
		state.Stats.FilesLocked++
		p.logger.Warn("File locked, not deleted", zap.String("file", rel), zap.Error(err))
		return false, nil
	default:
		return false, fmt.Errorf("failed to delete %s: %w", rel, err)
	}
}

func (p *Pipeline) abs(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

// localeSuffix is the file suffix of the retained locale, e.g. ".ko.csv".
func (p *Pipeline) localeSuffix() string {
	return "." + p.config.Locale + table.Extension
}
