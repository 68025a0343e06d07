// Package anonymizer scrubs quest dialogue that a narrator instruction tells
// the player to say, so the exported text does not spoil the answer.
package anonymizer

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/script"
	"github.com/raaihank/exdfilter/internal/table"
)

const trimSet = " \t\r\n\"'“”‘’「」『』.,!?。、…~"

var quoted = regexp.MustCompile(`"([^"]+)"|“([^”]+)”`)

// quotePairs are tried in order when replacing a hint inside the suffix.
var quotePairs = [][2]string{{`"`, `"`}, {"“", "”"}}

// Anonymizer handles instruction/dialogue scrubbing
type Anonymizer struct {
	config       Config
	anchors      []string
	quotedMarker []string
	logger       *zap.Logger
}

// New creates a new anonymizer instance
func New(cfg Config, log *zap.Logger) *Anonymizer {
	w := cfg.MarkerWord
	anchors := []string{
		"'" + w + "'를 선택하고",
		`"` + w + `"를 선택하고`,
		"'" + w + "'를 선택해",
		`"` + w + `"를 선택해`,
		"'" + w + "'",
		`"` + w + `"`,
	}
	a := &Anonymizer{
		config:       cfg,
		anchors:      anchors,
		quotedMarker: []string{"'" + w + "'", `"` + w + `"`},
		logger:       log,
	}

	log.Info("Phrase anonymizer initialized",
		zap.Bool("enabled", cfg.Enabled),
		zap.String("subtree", cfg.Subtree),
		zap.String("marker_word", cfg.MarkerWord),
	)
	return a
}

// InScope reports whether relPath lies in the anonymized subtree.
func (a *Anonymizer) InScope(relPath string) bool {
	return a.config.Enabled && strings.HasPrefix(relPath, a.config.Subtree)
}

// CleanText strips hex tags and surrounding quotes, punctuation and spaces.
func CleanText(text string) string {
	return strings.Trim(script.StripHexTags(text), trimSet)
}

// ProcessTable anonymizes t in place. Only rows that receive a substitution
// are changed; every changed row key is added to idx under relPath.
func (a *Anonymizer) ProcessTable(relPath string, t *table.Table, idx *Index) Result {
	result := Result{Findings: []Finding{}}
	if !t.Valid() {
		return result
	}

	col, ok := t.Offsets()[a.config.TextOffset]
	if !ok {
		a.logger.Debug("Text column not present, skipping",
			zap.String("file", relPath),
			zap.String("offset", a.config.TextOffset),
		)
		return result
	}

	// Phase 1: collect candidate dialogue lines
	candidates := make(map[string][]int)
	for i := table.HeaderRows; i < len(t.Rows); i++ {
		clean := CleanText(table.Cell(t.Rows[i], col))
		if utf8.RuneCountInString(clean) <= 1 || clean == a.config.MarkerWord {
			continue
		}
		candidates[clean] = append(candidates[clean], i)
	}
	if len(candidates) == 0 {
		return result
	}

	// Phase 2: scrub instructions and the dialogue they reference
	for i := table.HeaderRows; i < len(t.Rows); i++ {
		row := t.Rows[i]
		text := table.Cell(row, col)
		if !a.isInstruction(text) {
			continue
		}

		end := a.anchorEnd(text)
		if end < 0 {
			continue
		}
		prefix, suffix := text[:end], text[end:]

		var substituted []string
		for _, hint := range extractHints(suffix) {
			if hint == a.config.MarkerWord {
				continue
			}
			clean := CleanText(hint)
			targets, ok := candidates[clean]
			if !ok {
				continue
			}

			suffix = a.replaceHint(suffix, hint)

			finding := Finding{RowKey: table.Key(row), Hint: hint}
			for _, target := range targets {
				if target == i {
					continue
				}
				setCell(t.Rows[target], col, a.config.Placeholder)
				key := table.Key(t.Rows[target])
				idx.Add(relPath, key)
				finding.Targets = append(finding.Targets, key)
			}
			result.Findings = append(result.Findings, finding)
			substituted = append(substituted, hint)
		}

		if len(substituted) == 0 {
			continue
		}

		var b strings.Builder
		b.WriteString(prefix)
		b.WriteString(suffix)
		for _, hint := range substituted {
			b.WriteString("(")
			b.WriteString(hint)
			b.WriteString(")")
		}
		setCell(row, col, b.String())
		idx.Add(relPath, table.Key(row))
		result.Modified = true

		a.logger.Debug("Instruction anonymized",
			zap.String("file", relPath),
			zap.String("row_key", table.Key(row)),
			zap.Strings("hints", substituted),
		)
	}

	return result
}

// isInstruction reports whether text asks the player to say something: it
// carries a dialogue UI marker and the quoted marker word.
func (a *Anonymizer) isInstruction(text string) bool {
	marker := false
	for _, m := range a.config.Markers {
		if strings.Contains(text, m) {
			marker = true
			break
		}
	}
	if !marker {
		return false
	}
	for _, q := range a.quotedMarker {
		if strings.Contains(text, q) {
			return true
		}
	}
	return false
}

// anchorEnd returns the byte offset just past the earliest anchor in text,
// or -1. At equal positions the earlier (longer) anchor wins.
func (a *Anonymizer) anchorEnd(text string) int {
	bestPos, bestEnd := -1, -1
	for _, anchor := range a.anchors {
		pos := strings.Index(text, anchor)
		if pos < 0 {
			continue
		}
		if bestPos < 0 || pos < bestPos {
			bestPos, bestEnd = pos, pos+len(anchor)
		}
	}
	return bestEnd
}

func (a *Anonymizer) replaceHint(suffix, hint string) string {
	for _, q := range quotePairs {
		quotedHint := q[0] + hint + q[1]
		if strings.Contains(suffix, quotedHint) {
			return strings.ReplaceAll(suffix, quotedHint, q[0]+a.config.Placeholder+q[1])
		}
	}
	return strings.ReplaceAll(suffix, hint, a.config.Placeholder)
}

// extractHints returns the distinct quoted substrings of s in order.
func extractHints(s string) []string {
	var hints []string
	seen := make(map[string]bool)
	for _, m := range quoted.FindAllStringSubmatch(s, -1) {
		hint := m[1]
		if hint == "" {
			hint = m[2]
		}
		if hint == "" || seen[hint] {
			continue
		}
		seen[hint] = true
		hints = append(hints, hint)
	}
	return hints
}

func setCell(row []string, col int, value string) {
	if col < len(row) {
		row[col] = value
	}
}
