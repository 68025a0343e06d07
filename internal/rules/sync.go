package rules

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/table"
)

// SheetRow is one row of the remote rule table.
type SheetRow struct {
	File       string `db:"file"`
	Key        string `db:"key"`
	Offset     string `db:"offset"`
	Global     string `db:"global"`
	Exclude    string `db:"exclude"`
	SwapKey    string `db:"swap_key"`
	SwapOffset string `db:"swap_offset"`
}

// Source fetches the rows of the remote rule table.
type Source interface {
	Rows(ctx context.Context) ([]SheetRow, error)
	Name() string
}

// BuildDocument turns rule-table rows into a base rule document.
//
//   - Exclude=TRUE adds the row key to delete_rows (integer keys only).
//   - Swap_Key adds remap_keys[file][key] = swap key.
//   - Swap_Offset with Offset adds remap_columns[file][key][offset]: "g"
//     copies the Global column as a literal, an integer becomes a source
//     offset, anything else is a literal.
func BuildDocument(rows []SheetRow) Document {
	doc := NewDocument()
	deletes := make(map[string]map[int]struct{})

	for _, row := range rows {
		file := strings.TrimSpace(row.File)
		key := strings.TrimSpace(row.Key)
		if file == "" || key == "" {
			continue
		}
		file = NormalizeFilename(file)

		if strings.EqualFold(strings.TrimSpace(row.Exclude), "TRUE") {
			if n, err := strconv.Atoi(key); err == nil {
				if deletes[file] == nil {
					deletes[file] = make(map[int]struct{})
				}
				deletes[file][n] = struct{}{}
			}
		}

		if target := strings.TrimSpace(row.SwapKey); target != "" {
			remap := doc.RemapKeys[file]
			if remap.Keys == nil {
				remap.Keys = make(map[string]string)
			}
			remap.Keys[key] = target
			doc.RemapKeys[file] = remap
		}

		swap := strings.TrimSpace(row.SwapOffset)
		offset := strings.TrimSpace(row.Offset)
		if swap == "" || offset == "" {
			continue
		}
		remap := doc.RemapColumns[file]
		if remap.Rows == nil {
			remap.Rows = make(map[string]map[string]RemapValue)
		}
		if remap.Rows[key] == nil {
			remap.Rows[key] = make(map[string]RemapValue)
		}
		switch n, err := strconv.Atoi(swap); {
		case strings.EqualFold(swap, "g"):
			remap.Rows[key][offset] = LiteralValue(row.Global)
		case err == nil:
			remap.Rows[key][offset] = OffsetValue(n)
		default:
			remap.Rows[key][offset] = LiteralValue(swap)
		}
		doc.RemapColumns[file] = remap
	}

	for file, keys := range deletes {
		ids := make([]int, 0, len(keys))
		for id := range keys {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		list := make(StringList, len(ids))
		for i, id := range ids {
			list[i] = strconv.Itoa(id)
		}
		doc.DeleteRows[file] = list
	}
	return doc
}

// Syncer regenerates the base rule document from a Source.
type Syncer struct {
	source   Source
	loader   *Loader
	replacer *table.Replacer
	logger   *zap.Logger
}

// NewSyncer creates a Syncer writing through loader.
func NewSyncer(source Source, loader *Loader, replacer *table.Replacer, logger *zap.Logger) *Syncer {
	return &Syncer{
		source:   source,
		loader:   loader,
		replacer: replacer,
		logger:   logger,
	}
}

// Sync fetches the rule table and replaces the base document. On failure the
// previous base document is left untouched.
func (s *Syncer) Sync(ctx context.Context) (Document, error) {
	rows, err := s.source.Rows(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("failed to fetch rule table from %s: %w", s.source.Name(), err)
	}

	doc := BuildDocument(rows)
	if err := s.loader.SaveBase(doc, s.replacer); err != nil {
		return Document{}, fmt.Errorf("failed to save base rules: %w", err)
	}

	s.logger.Info("Rule table synced",
		zap.String("source", s.source.Name()),
		zap.Int("rows", len(rows)),
		zap.Int("delete_rows", len(doc.DeleteRows)),
		zap.Int("remap_keys", len(doc.RemapKeys)),
		zap.Int("remap_columns", len(doc.RemapColumns)),
		zap.String("path", s.loader.BasePath()),
	)
	return doc, nil
}
