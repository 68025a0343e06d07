package rules

import (
	"path"
	"strings"

	"github.com/raaihank/exdfilter/internal/table"
)

// NormalizeFilename strips locale suffixes from a file name or path.
func NormalizeFilename(name string) string {
	return table.CanonicalName(name)
}

// Candidates returns the exact-match aliases of relPath in lookup order: the
// path itself, its locale-stripped form, then the bare file name and its
// locale-stripped form. Duplicates are removed.
func Candidates(relPath string) []string {
	relPath = strings.TrimPrefix(strings.ReplaceAll(relPath, "\\", "/"), "./")
	base := path.Base(relPath)

	out := make([]string, 0, 4)
	for _, c := range []string{relPath, NormalizeFilename(relPath), base, NormalizeFilename(base)} {
		dup := false
		for _, seen := range out {
			if seen == c {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// Resolve finds the rule for relPath in m. Exact aliases (see Candidates) are
// tried first; otherwise the longest directory-prefix key (ending in "/")
// that contains the path wins. It returns the value and the matched key.
func Resolve[V any](m map[string]V, relPath string) (V, string, bool) {
	var zero V
	if len(m) == 0 {
		return zero, "", false
	}

	candidates := Candidates(relPath)
	for _, c := range candidates {
		if v, ok := m[c]; ok {
			return v, c, true
		}
	}

	best := ""
	for key := range m {
		if !strings.HasSuffix(key, "/") || len(key) <= len(best) {
			continue
		}
		if strings.HasPrefix(candidates[0], key) || strings.HasPrefix(NormalizeFilename(candidates[0]), key) {
			best = key
		}
	}
	if best == "" {
		return zero, "", false
	}
	return m[best], best, true
}
