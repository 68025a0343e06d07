package anonymizer

import (
	"sort"

	"github.com/raaihank/exdfilter/internal/table"
)

// Index is the per-file set of anonymized row keys for one run. Keys are
// stored under both the file's current path and its locale-stripped form.
type Index struct {
	files map[string]map[string]struct{}
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{files: make(map[string]map[string]struct{})}
}

// Add records key as anonymized in relPath.
func (x *Index) Add(relPath, key string) {
	for _, p := range []string{relPath, table.CanonicalName(relPath)} {
		keys, ok := x.files[p]
		if !ok {
			keys = make(map[string]struct{})
			x.files[p] = keys
		}
		keys[key] = struct{}{}
	}
}

// Contains reports whether key was anonymized in relPath.
func (x *Index) Contains(relPath, key string) bool {
	if keys, ok := x.files[relPath]; ok {
		if _, ok := keys[key]; ok {
			return true
		}
	}
	if keys, ok := x.files[table.CanonicalName(relPath)]; ok {
		_, ok := keys[key]
		return ok
	}
	return false
}

// Keys returns the sorted anonymized keys of relPath.
func (x *Index) Keys(relPath string) []string {
	keys := x.files[relPath]
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Files returns the number of distinct path entries.
func (x *Index) Files() int {
	return len(x.files)
}
