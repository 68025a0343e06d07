// Package rules loads, merges and resolves the per-file transformation rules
// applied by the pipeline.
package rules

import (
	"sort"

	"github.com/samber/lo"
)

// RuleSet is the effective, merged rule set for one run. It is immutable:
// every accessor returns copies.
type RuleSet struct {
	doc         Document
	deleteFiles map[string]struct{}
}

// Merge combines a machine-generated base document with a hand-authored
// override document. Neither input is modified.
//
//   - delete_files: set union.
//   - delete_rows, keep_rows, delete_columns, keep_columns: base lists are
//     kept in order; override items not already present are appended.
//   - remap_keys, remap_columns: when both sides hold a map at a path the
//     override's inner keys win; otherwise the override value replaces the
//     base value wholesale.
func Merge(base, override Document) *RuleSet {
	merged := Document{
		DeleteFiles:   mergeSet(base.DeleteFiles, override.DeleteFiles),
		DeleteRows:    mergeLists(base.DeleteRows, override.DeleteRows),
		KeepRows:      mergeLists(base.KeepRows, override.KeepRows),
		DeleteColumns: mergeLists(base.DeleteColumns, override.DeleteColumns),
		KeepColumns:   mergeLists(base.KeepColumns, override.KeepColumns),
		RemapKeys:     mergeKeyRemaps(base.RemapKeys, override.RemapKeys),
		RemapColumns:  mergeColumnRemaps(base.RemapColumns, override.RemapColumns),
	}
	return newRuleSet(merged)
}

// Empty returns a rule set with no rules.
func Empty() *RuleSet {
	return newRuleSet(NewDocument())
}

func newRuleSet(doc Document) *RuleSet {
	rs := &RuleSet{doc: doc, deleteFiles: make(map[string]struct{}, len(doc.DeleteFiles))}
	for _, p := range doc.DeleteFiles {
		rs.deleteFiles[p] = struct{}{}
	}
	return rs
}

func mergeSet(base, override StringList) StringList {
	union := lo.Uniq(append(append(StringList{}, base...), override...))
	sort.Strings(union)
	return union
}

func mergeLists(base, override map[string]StringList) map[string]StringList {
	merged := make(map[string]StringList, len(base)+len(override))
	for path, items := range base {
		merged[path] = append(StringList{}, items...)
	}
	for path, items := range override {
		current := merged[path]
		if current == nil {
			current = StringList{}
		}
		seen := lo.Associate(current, func(s string) (string, struct{}) { return s, struct{}{} })
		for _, item := range items {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			current = append(current, item)
		}
		merged[path] = current
	}
	return merged
}

func mergeKeyRemaps(base, override map[string]KeyRemap) map[string]KeyRemap {
	merged := make(map[string]KeyRemap, len(base)+len(override))
	for path, remap := range base {
		merged[path] = cloneKeyRemap(remap)
	}
	for path, remap := range override {
		current, ok := merged[path]
		if !ok || current.IsLegacy() || remap.IsLegacy() {
			merged[path] = cloneKeyRemap(remap)
			continue
		}
		if current.Keys == nil {
			current.Keys = make(map[string]string, len(remap.Keys))
		}
		for target, source := range remap.Keys {
			current.Keys[target] = source
		}
		merged[path] = current
	}
	return merged
}

func mergeColumnRemaps(base, override map[string]ColumnRemap) map[string]ColumnRemap {
	merged := make(map[string]ColumnRemap, len(base)+len(override))
	for path, remap := range base {
		merged[path] = cloneColumnRemap(remap)
	}
	for path, remap := range override {
		current, ok := merged[path]
		if !ok || current.IsLegacy() || remap.IsLegacy() {
			merged[path] = cloneColumnRemap(remap)
			continue
		}
		if current.Rows == nil {
			current.Rows = make(map[string]map[string]RemapValue, len(remap.Rows))
		}
		for row, cols := range remap.Rows {
			current.Rows[row] = cloneColumns(cols)
		}
		merged[path] = current
	}
	return merged
}

func cloneKeyRemap(r KeyRemap) KeyRemap {
	out := KeyRemap{}
	if r.Legacy != nil {
		out.Legacy = append([]byte(nil), r.Legacy...)
	}
	if r.Keys != nil {
		out.Keys = make(map[string]string, len(r.Keys))
		for k, v := range r.Keys {
			out.Keys[k] = v
		}
	}
	return out
}

func cloneColumnRemap(r ColumnRemap) ColumnRemap {
	out := ColumnRemap{}
	if r.Legacy != nil {
		out.Legacy = append([]byte(nil), r.Legacy...)
	}
	if r.Rows != nil {
		out.Rows = make(map[string]map[string]RemapValue, len(r.Rows))
		for row, cols := range r.Rows {
			out.Rows[row] = cloneColumns(cols)
		}
	}
	return out
}

func cloneColumns(cols map[string]RemapValue) map[string]RemapValue {
	if cols == nil {
		return nil
	}
	out := make(map[string]RemapValue, len(cols))
	for k, v := range cols {
		out[k] = v
	}
	return out
}

func cloneLists(m map[string]StringList) map[string]StringList {
	out := make(map[string]StringList, len(m))
	for k, v := range m {
		out[k] = append(StringList{}, v...)
	}
	return out
}

// Document returns a deep copy of the merged rules in document form.
func (rs *RuleSet) Document() Document {
	doc := Document{
		DeleteFiles:   append(StringList{}, rs.doc.DeleteFiles...),
		DeleteRows:    cloneLists(rs.doc.DeleteRows),
		KeepRows:      cloneLists(rs.doc.KeepRows),
		DeleteColumns: cloneLists(rs.doc.DeleteColumns),
		KeepColumns:   cloneLists(rs.doc.KeepColumns),
		RemapKeys:     make(map[string]KeyRemap, len(rs.doc.RemapKeys)),
		RemapColumns:  make(map[string]ColumnRemap, len(rs.doc.RemapColumns)),
	}
	for k, v := range rs.doc.RemapKeys {
		doc.RemapKeys[k] = cloneKeyRemap(v)
	}
	for k, v := range rs.doc.RemapColumns {
		doc.RemapColumns[k] = cloneColumnRemap(v)
	}
	return doc
}

// FileDeleted reports whether relPath is named by delete_files, either by one
// of its path aliases or by a directory prefix rule.
func (rs *RuleSet) FileDeleted(relPath string) bool {
	_, _, ok := Resolve(rs.deleteFiles, relPath)
	return ok
}

// DeleteRows returns the row keys to delete from relPath.
func (rs *RuleSet) DeleteRows(relPath string) []string {
	return rs.list(rs.doc.DeleteRows, relPath)
}

// KeepRows returns the row keys always retained in relPath; it may contain All.
func (rs *RuleSet) KeepRows(relPath string) []string {
	return rs.list(rs.doc.KeepRows, relPath)
}

// DeleteColumns returns the column offsets or names to drop from relPath.
func (rs *RuleSet) DeleteColumns(relPath string) []string {
	return rs.list(rs.doc.DeleteColumns, relPath)
}

// KeepColumns returns the column offsets or names always retained in relPath;
// it may contain All.
func (rs *RuleSet) KeepColumns(relPath string) []string {
	return rs.list(rs.doc.KeepColumns, relPath)
}

func (rs *RuleSet) list(m map[string]StringList, relPath string) []string {
	items, _, ok := Resolve(m, relPath)
	if !ok {
		return nil
	}
	return append([]string(nil), items...)
}

// RemapKeys returns the target -> source row-key map for relPath and the rule
// path it matched.
func (rs *RuleSet) RemapKeys(relPath string) (KeyRemap, string, bool) {
	remap, matched, ok := Resolve(rs.doc.RemapKeys, relPath)
	if !ok {
		return KeyRemap{}, "", false
	}
	return cloneKeyRemap(remap), matched, true
}

// RemapColumns returns the column remap rules for relPath and the rule path
// it matched.
func (rs *RuleSet) RemapColumns(relPath string) (ColumnRemap, string, bool) {
	remap, matched, ok := Resolve(rs.doc.RemapColumns, relPath)
	if !ok {
		return ColumnRemap{}, "", false
	}
	return cloneColumnRemap(remap), matched, true
}

// Counts summarizes the number of rule paths per field.
func (rs *RuleSet) Counts() map[string]int {
	return map[string]int{
		"delete_files":   len(rs.doc.DeleteFiles),
		"delete_rows":    len(rs.doc.DeleteRows),
		"keep_rows":      len(rs.doc.KeepRows),
		"delete_columns": len(rs.doc.DeleteColumns),
		"keep_columns":   len(rs.doc.KeepColumns),
		"remap_keys":     len(rs.doc.RemapKeys),
		"remap_columns":  len(rs.doc.RemapColumns),
	}
}
