package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/script"
	"github.com/raaihank/exdfilter/internal/table"
)

// ProcessTokens discovers placeholder tokens, persists the store when new
// ones appeared, fills fallbacks from the override feed and finally resolves
// every token cell. Global runs and runs without a token store skip the
// pass.
func (p *Pipeline) ProcessTokens(ctx context.Context, state *State) error {
	if p.tokens == nil {
		p.logger.Debug("Token store not configured, skipping token pass")
		return nil
	}

	if err := p.ScanTokens(ctx, state); err != nil {
		return err
	}

	if p.tokens.NewTokensFound() {
		if err := p.tokens.Save(); err != nil {
			p.logger.Warn("Failed to persist discovered tokens", zap.Error(err))
		}
	}

	if p.feed != nil {
		filled, err := p.tokens.SyncExternalOverrides(ctx, p.feed)
		if err != nil {
			p.logger.Warn("Token override sync failed, continuing with stored values",
				zap.String("feed", p.feed.Name()),
				zap.Error(err),
			)
		}
		state.Stats.OverridesFilled += filled
	}

	return p.ResolveTokens(ctx, state)
}

// ScanTokens records every token cell in the store without rewriting files.
func (p *Pipeline) ScanTokens(ctx context.Context, state *State) error {
	discovered := 0
	err := p.eachTable(ctx, state, "scan_tokens", func(rel string, t *table.Table) (action, error) {
		for _, row := range t.Data() {
			for _, cell := range row {
				if strings.HasPrefix(cell, script.TokenPrefix) && p.tokens.Discover(cell) {
					discovered++
				}
			}
		}
		return leave, nil
	})
	if err != nil {
		return err
	}

	state.Stats.TokensDiscovered += discovered
	p.logger.Info("Token scan completed",
		zap.Int("tokens_discovered", discovered),
		zap.Int("tokens_known", p.tokens.Len()),
	)
	return nil
}

// ResolveTokens substitutes every token cell with its resolved value and
// records which files referenced tokens. Files are rewritten only when a
// cell changed.
func (p *Pipeline) ResolveTokens(ctx context.Context, state *State) error {
	p.tokens.ResetReferences()

	err := p.eachTable(ctx, state, "resolve_tokens", func(rel string, t *table.Table) (action, error) {
		changed := false
		for _, row := range t.Data() {
			for i, cell := range row {
				if !strings.HasPrefix(cell, script.TokenPrefix) {
					continue
				}
				value := p.tokens.Resolve(cell)
				unresolved := p.tokens.IsUnresolved(cell)
				p.tokens.RecordReference(rel, unresolved)
				if unresolved {
					state.Stats.TokensUnresolved++
				} else {
					state.Stats.TokensResolved++
				}
				if value != cell {
					row[i] = value
					changed = true
				}
			}
		}
		if !changed {
			return leave, nil
		}
		return rewrite, nil
	})
	if err != nil {
		return err
	}

	if p.tokens.NewTokensFound() {
		if err := p.tokens.Save(); err != nil {
			p.logger.Warn("Failed to persist token store", zap.Error(err))
		}
	}

	p.logger.Info("Token resolution completed",
		zap.Int("tokens_resolved", state.Stats.TokensResolved),
		zap.Int("tokens_unresolved", state.Stats.TokensUnresolved),
		zap.Int("referencing_files", len(p.tokens.References())),
	)
	return nil
}

// WriteManifest hands the per-file unresolved counts to the manifest writer.
// Failures are logged; the tree is still usable without a manifest.
func (p *Pipeline) WriteManifest(ctx context.Context, state *State) error {
	if p.manifest == nil {
		return nil
	}
	refs := map[string]int{}
	if p.tokens != nil {
		refs = p.tokens.References()
	}
	if err := p.manifest.WriteManifest(refs); err != nil {
		p.logger.Warn("Failed to write manifest", zap.Error(err))
	}
	return nil
}
