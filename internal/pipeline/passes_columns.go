package pipeline

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/rules"
	"github.com/raaihank/exdfilter/internal/table"
)

var placeholder = regexp.MustCompile(`\{(\d+)\}`)

// RemapColumns rewrites cells from remap_columns rules. The wildcard rule
// applies to every row and the row-specific rule overlays it. Values are
// computed from a snapshot of the row taken before any write.
func (p *Pipeline) RemapColumns(ctx context.Context, state *State) error {
	before := state.Stats.CellsRemapped
	err := p.eachTable(ctx, state, "remap_columns", func(rel string, t *table.Table) (action, error) {
		remap, matched, ok := p.rules.RemapColumns(rel)
		if !ok {
			return leave, nil
		}
		if remap.IsLegacy() {
			p.logger.Warn("Ignoring legacy remap_columns rule", zap.String("file", rel), zap.String("rule", matched))
			return leave, nil
		}

		offsets := t.Offsets()
		wildcard := remap.Rows[rules.Wildcard]
		changed := 0
		for _, row := range t.Data() {
			effective := effectiveRemap(wildcard, remap.Rows[table.Key(row)])
			if len(effective) == 0 {
				continue
			}
			changed += remapRow(row, effective, offsets)
		}

		if changed == 0 {
			return leave, nil
		}
		state.Stats.CellsRemapped += changed
		return rewrite, nil
	})
	if err != nil {
		return err
	}

	p.logger.Info("Column remap completed", zap.Int("cells_remapped", state.Stats.CellsRemapped-before))
	return nil
}

func effectiveRemap(wildcard, specific map[string]rules.RemapValue) map[string]rules.RemapValue {
	if len(wildcard) == 0 {
		return specific
	}
	out := make(map[string]rules.RemapValue, len(wildcard)+len(specific))
	for k, v := range wildcard {
		out[k] = v
	}
	for k, v := range specific {
		out[k] = v
	}
	return out
}

// remapRow writes every resolvable target of effective into row and returns
// the number of cells that changed. Unknown offsets are skipped.
func remapRow(row []string, effective map[string]rules.RemapValue, offsets map[string]int) int {
	snapshot := append([]string(nil), row...)

	targets := make([]string, 0, len(effective))
	for target := range effective {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	changed := 0
	for _, target := range targets {
		col, ok := offsets[strings.TrimSpace(target)]
		if !ok || col >= len(row) {
			continue
		}

		var value string
		switch v := effective[target]; v.Kind {
		case rules.SourceOffset:
			src, ok := offsets[strconv.Itoa(v.Offset)]
			if !ok {
				continue
			}
			value = table.Cell(snapshot, src)
		default:
			value = substitute(v.Literal, snapshot, offsets)
		}

		if row[col] != value {
			row[col] = value
			changed++
		}
	}
	return changed
}

// substitute replaces {offset} placeholders with the row's value at that
// offset. Placeholders naming an unknown offset are left as written.
func substitute(literal string, row []string, offsets map[string]int) string {
	if !strings.Contains(literal, "{") {
		return literal
	}
	return placeholder.ReplaceAllStringFunc(literal, func(m string) string {
		off := strings.TrimSuffix(strings.TrimPrefix(m, "{"), "}")
		col, ok := offsets[off]
		if !ok {
			return m
		}
		return table.Cell(row, col)
	})
}

// Anonymize scrubs instruction/dialogue pairs in the anonymizer subtree and
// records every touched row in the run index.
func (p *Pipeline) Anonymize(ctx context.Context, state *State) error {
	before := state.Stats.RowsAnonymized
	err := p.eachTable(ctx, state, "anonymize", func(rel string, t *table.Table) (action, error) {
		if !p.anonymizer.InScope(rel) {
			return leave, nil
		}
		result := p.anonymizer.ProcessTable(rel, t, state.Index)
		if !result.Modified {
			return leave, nil
		}
		for _, f := range result.Findings {
			state.Stats.RowsAnonymized += 1 + len(f.Targets)
		}
		return rewrite, nil
	})
	if err != nil {
		return err
	}

	p.logger.Info("Anonymization completed",
		zap.Int("rows_anonymized", state.Stats.RowsAnonymized-before),
		zap.Int("indexed_files", state.Index.Files()),
	)
	return nil
}

// FilterColumns keeps column 0, explicitly kept columns, and columns whose
// header or data carries target language text. Explicit deletes suppress
// detection. The result is a positional projection of every row.
func (p *Pipeline) FilterColumns(ctx context.Context, state *State) error {
	before := state.Stats.ColumnsRemoved
	err := p.eachTable(ctx, state, "filter_columns", func(rel string, t *table.Table) (action, error) {
		cols, ok := p.retainedColumns(rel, t)
		if !ok {
			return leave, nil
		}
		width := t.Width()
		if len(cols) >= width {
			return leave, nil
		}

		state.Stats.ColumnsRemoved += width - len(cols)
		t.Rows = t.Project(cols).Rows
		p.logger.Debug("Columns filtered",
			zap.String("file", rel),
			zap.Int("columns_before", width),
			zap.Int("columns_after", len(cols)),
		)
		return rewrite, nil
	})
	if err != nil {
		return err
	}

	p.logger.Info("Column filter completed", zap.Int("columns_removed", state.Stats.ColumnsRemoved-before))
	return nil
}

// retainedColumns returns the sorted columns to keep, or false when every
// column is explicitly kept.
func (p *Pipeline) retainedColumns(rel string, t *table.Table) ([]int, bool) {
	keep := toSet(p.rules.KeepColumns(rel))
	if _, all := keep[rules.All]; all {
		return nil, false
	}
	del := toSet(p.rules.DeleteColumns(rel))
	_, deleteAll := del[rules.All]

	width := t.Width()
	retained := map[int]bool{0: true}
	decided := map[int]bool{0: true}

	for col := 1; col < width; col++ {
		ids := t.ColumnIDs(col)
		switch {
		case matchesAny(ids, keep):
			retained[col] = true
			decided[col] = true
		case deleteAll || matchesAny(ids, del):
			decided[col] = true
		case p.headerRetains(t, col):
			retained[col] = true
			decided[col] = true
		}
	}

	for _, row := range t.Data() {
		for col := 1; col < len(row) && col < width; col++ {
			if decided[col] {
				continue
			}
			if p.detector.HasTarget(row[col]) {
				retained[col] = true
				decided[col] = true
			}
		}
	}

	cols := make([]int, 0, len(retained))
	for col := range retained {
		cols = append(cols, col)
	}
	sort.Ints(cols)
	return cols, true
}

// headerRetains reports whether either header label row marks col as text.
// Global runs only trust keywords on str-typed columns and skip script
// detection, since every global header is Latin.
func (p *Pipeline) headerRetains(t *table.Table, col int) bool {
	global := p.config.Variant == Global
	if global && strings.TrimSpace(t.HeaderCell(table.RowTypes, col)) != "str" {
		return false
	}
	for _, r := range []int{table.RowNames, table.RowLabels} {
		cell := t.HeaderCell(r, col)
		if cell == "" {
			continue
		}
		if !global && p.detector.HasTarget(cell) {
			return true
		}
		for _, kw := range p.config.HeaderKeywords {
			if strings.Contains(cell, kw) {
				return true
			}
		}
	}
	return false
}
