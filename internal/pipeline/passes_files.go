package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/table"
)

// PruneFiles removes every file that is not the retained language form.
// Localized runs keep only *.<locale>.csv. Global runs keep, per base name,
// <base>.<locale>.csv when present and <base>.csv otherwise.
func (p *Pipeline) PruneFiles(ctx context.Context, state *State) error {
	files, err := table.Files(p.root)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", p.root, err)
	}

	var doomed []string
	if p.config.Variant == Global {
		doomed = p.globalPrunes(files)
	} else {
		suffix := p.localeSuffix()
		for _, rel := range files {
			if !strings.HasSuffix(rel, suffix) {
				doomed = append(doomed, rel)
			}
		}
	}

	for _, rel := range doomed {
		if err := ctx.Err(); err != nil {
			return err
		}
		removed, err := p.remove(state, rel)
		if err != nil {
			return err
		}
		if removed {
			state.Stats.FilesPruned++
			p.logger.Debug("Pruned file", zap.String("file", rel))
		}
	}

	p.logger.Info("File prune completed",
		zap.Int("files_seen", len(files)),
		zap.Int("files_pruned", state.Stats.FilesPruned),
	)
	return nil
}

// globalPrunes groups sheet files by canonical name and returns the ones to
// drop. Files other than sheets are left alone.
func (p *Pipeline) globalPrunes(files []string) []string {
	groups := make(map[string][]string)
	var order []string
	for _, rel := range files {
		if !strings.HasSuffix(rel, table.Extension) {
			continue
		}
		canon := table.CanonicalName(rel)
		if _, ok := groups[canon]; !ok {
			order = append(order, canon)
		}
		groups[canon] = append(groups[canon], rel)
	}

	var doomed []string
	for _, canon := range order {
		members := groups[canon]
		preferred := strings.TrimSuffix(canon, table.Extension) + p.localeSuffix()
		keep := canon
		for _, rel := range members {
			if rel == preferred {
				keep = preferred
				break
			}
		}
		for _, rel := range members {
			if rel != keep {
				doomed = append(doomed, rel)
			}
		}
	}
	return doomed
}

// PruneContentless deletes tables without a single data row carrying target
// language text. Files that referenced a token this run are kept.
func (p *Pipeline) PruneContentless(ctx context.Context, state *State) error {
	before := state.Stats.FilesDeleted
	err := p.eachTable(ctx, state, "prune_contentless", func(rel string, t *table.Table) (action, error) {
		if p.tokens != nil && p.tokens.IsReferenced(rel) {
			return leave, nil
		}
		for _, row := range t.Data() {
			for _, cell := range row {
				if p.detector.HasTarget(cell) {
					return leave, nil
				}
			}
		}
		p.logger.Debug("Removing table without target text", zap.String("file", rel))
		return remove, nil
	})
	if err != nil {
		return err
	}

	p.logger.Info("Content prune completed", zap.Int("files_removed", state.Stats.FilesDeleted-before))
	return nil
}

// Finalize renames <base>.<locale>.csv to <base>.csv and removes directories
// left empty. The root itself is never removed.
func (p *Pipeline) Finalize(ctx context.Context, state *State) error {
	files, err := table.Files(p.root)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", p.root, err)
	}

	suffix := p.localeSuffix()
	for _, rel := range files {
		if !strings.HasSuffix(rel, suffix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		dst := strings.TrimSuffix(rel, suffix) + table.Extension
		err := p.replacer.Replace(p.abs(rel), p.abs(dst))
		switch {
		case err == nil:
			state.Stats.FilesRenamed++
		case errors.Is(err, table.ErrLocked):
			state.Stats.FilesLocked++
			p.logger.Warn("File locked, not renamed", zap.String("file", rel), zap.Error(err))
		default:
			return fmt.Errorf("failed to rename %s: %w", rel, err)
		}
	}

	dirs, err := table.Dirs(p.root)
	if err != nil {
		return fmt.Errorf("failed to list directories of %s: %w", p.root, err)
	}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			p.logger.Warn("Failed to remove empty directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		state.Stats.DirsRemoved++
	}

	p.logger.Info("Finalize completed",
		zap.Int("files_renamed", state.Stats.FilesRenamed),
		zap.Int("dirs_removed", state.Stats.DirsRemoved),
	)
	return nil
}
