package pipeline

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/rules"
	"github.com/raaihank/exdfilter/internal/table"
)

// ApplyManualFilters deletes files named by delete_files, then applies the
// per-file row deletes and row-key remaps.
func (p *Pipeline) ApplyManualFilters(ctx context.Context, state *State) error {
	files, err := table.Files(p.root)
	if err != nil {
		return err
	}
	deleted := 0
	for _, rel := range files {
		if !p.rules.FileDeleted(rel) {
			continue
		}
		removed, err := p.remove(state, rel)
		if err != nil {
			return err
		}
		if removed {
			deleted++
			state.Stats.FilesDeleted++
			p.logger.Debug("Deleted file by rule", zap.String("file", rel))
		}
	}

	var ops rowOpStats
	err = p.eachTable(ctx, state, "manual_filters", func(rel string, t *table.Table) (action, error) {
		remap := p.keyRemap(rel)
		deletes := toSet(p.rules.DeleteRows(rel))
		if len(remap) == 0 && len(deletes) == 0 {
			return leave, nil
		}

		data, st := applyRowOperations(t.Data(), remap, deletes)
		if st.changed() == 0 {
			return leave, nil
		}
		ops.add(st)
		t.SetData(data)
		return rewrite, nil
	})
	if err != nil {
		return err
	}

	state.Stats.RowsRemoved += ops.removed
	state.Stats.RowsCloned += ops.cloned
	p.logger.Info("Manual filters applied",
		zap.Int("files_deleted", deleted),
		zap.Int("rows_removed", ops.removed),
		zap.Int("rows_cloned", ops.cloned),
	)
	return nil
}

// keyRemap returns the target -> source key map for rel, ignoring legacy
// shaped rules.
func (p *Pipeline) keyRemap(rel string) map[string]string {
	remap, matched, ok := p.rules.RemapKeys(rel)
	if !ok {
		return nil
	}
	if remap.IsLegacy() {
		p.logger.Warn("Ignoring legacy remap_keys rule", zap.String("file", rel), zap.String("rule", matched))
		return nil
	}
	return remap.Keys
}

type rowOpStats struct {
	removed int
	cloned  int
	dropped int
}

func (s rowOpStats) changed() int { return s.removed + s.cloned + s.dropped }

func (s *rowOpStats) add(o rowOpStats) {
	s.removed += o.removed
	s.cloned += o.cloned
	s.dropped += o.dropped
}

// applyRowOperations applies the row-key remap (target -> source) and the
// delete set to data rows. A source row is replaced by one clone per target
// at its own position; rows keyed by a target are dropped; deleted keys are
// dropped. Remap is checked before delete.
func applyRowOperations(data [][]string, remap map[string]string, deletes map[string]struct{}) ([][]string, rowOpStats) {
	reverse := make(map[string][]string)
	for target, source := range remap {
		reverse[source] = append(reverse[source], target)
	}
	for _, targets := range reverse {
		sortKeys(targets)
	}

	var st rowOpStats
	out := make([][]string, 0, len(data))
	for _, row := range data {
		key := table.Key(row)
		if targets, ok := reverse[key]; ok && len(row) > 0 {
			for _, target := range targets {
				clone := append([]string(nil), row...)
				clone[0] = target
				out = append(out, clone)
				st.cloned++
			}
			st.dropped++
			continue
		}
		if _, ok := remap[key]; ok {
			st.dropped++
			continue
		}
		if _, ok := deletes[key]; ok {
			st.removed++
			continue
		}
		out = append(out, row)
	}
	return out, st
}

// sortKeys orders row keys numerically when both are integers.
func sortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[strings.TrimSpace(item)] = struct{}{}
	}
	return set
}

// FilterRows drops data rows without target language content unless a rule,
// the anonymized index or a preserved column keeps them. Header-only results
// follow the empty file policy.
func (p *Pipeline) FilterRows(ctx context.Context, state *State) error {
	removedBefore := state.Stats.RowsRemoved
	err := p.eachTable(ctx, state, "filter_rows", func(rel string, t *table.Table) (action, error) {
		keep := p.rules.KeepRows(rel)
		for _, k := range keep {
			if k == rules.All {
				return leave, nil
			}
		}
		keepSet := toSet(keep)
		preserved := p.preservedColumns(rel, t)

		data := t.Data()
		kept := make([][]string, 0, len(data))
		for _, row := range data {
			if p.rowRetained(rel, row, keepSet, preserved, state) {
				kept = append(kept, row)
			}
		}

		if len(kept) == 0 && p.config.EmptyFilePolicy == DeleteEmpty {
			state.Stats.RowsRemoved += len(data)
			p.logger.Debug("Removing header-only table", zap.String("file", rel))
			return remove, nil
		}
		if len(kept) == len(data) {
			return leave, nil
		}

		state.Stats.RowsRemoved += len(data) - len(kept)
		t.SetData(kept)
		return rewrite, nil
	})
	if err != nil {
		return err
	}

	p.logger.Info("Row filter completed", zap.Int("rows_removed", state.Stats.RowsRemoved-removedBefore))
	return nil
}

func (p *Pipeline) rowRetained(rel string, row []string, keepSet map[string]struct{}, preserved []int, state *State) bool {
	for _, cell := range row[min(1, len(row)):] {
		if p.detector.HasTarget(cell) {
			return true
		}
	}
	key := table.Key(row)
	if _, ok := keepSet[key]; ok {
		return true
	}
	if state.Index.Contains(rel, key) {
		return true
	}
	for _, col := range preserved {
		if strings.TrimSpace(table.Cell(row, col)) != "" {
			return true
		}
	}
	return false
}

// preservedColumns returns the columns named by explicit keep_columns rules;
// rows with content there are retained.
func (p *Pipeline) preservedColumns(rel string, t *table.Table) []int {
	ids := p.rules.KeepColumns(rel)
	if len(ids) == 0 {
		return nil
	}
	set := toSet(ids)
	if _, all := set[rules.All]; all {
		return nil
	}
	var cols []int
	for col := 1; col < t.Width(); col++ {
		if matchesAny(t.ColumnIDs(col), set) {
			cols = append(cols, col)
		}
	}
	return cols
}

func matchesAny(ids []string, set map[string]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
