package table

import (
	"io/fs"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Extension of every sheet export.
const Extension = ".csv"

var localeSuffix = regexp.MustCompile(`\.(ja|ko|en|de|fr)?(\.(ja|ko|en|de|fr))?\.csv$`)

// CanonicalName strips locale suffixes: "Item.ko.csv" and "Item.ja.ko.csv"
// both become "Item.csv". Works on bare names and slash paths.
func CanonicalName(name string) string {
	return localeSuffix.ReplaceAllString(name, Extension)
}

// LocaleOf returns the trailing locale of a file name ("ko" for
// "Item.ko.csv") and the base name without locale and extension.
func LocaleOf(name string) (base, locale string) {
	name = path.Base(filepath.ToSlash(name))
	parts := strings.Split(name, ".")
	if len(parts) >= 3 {
		return strings.Join(parts[:len(parts)-2], "."), parts[len(parts)-2]
	}
	return parts[0], ""
}

// Files returns every regular file under root as a sorted slash-separated
// relative path. Staging files are skipped.
func Files(root string) ([]string, error) {
	all, err := AllFiles(root)
	if err != nil {
		return nil, err
	}
	files := all[:0]
	for _, rel := range all {
		if !strings.HasSuffix(rel, TempSuffix) {
			files = append(files, rel)
		}
	}
	return files, nil
}

// AllFiles is Files including staging files left by an interrupted swap.
func AllFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Dirs returns every directory under root, root excluded, deepest first.
func Dirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && p != root {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(dirs, func(i, j int) bool {
		di := strings.Count(filepath.ToSlash(dirs[i]), "/")
		dj := strings.Count(filepath.ToSlash(dirs[j]), "/")
		if di != dj {
			return di > dj
		}
		return dirs[i] > dirs[j]
	})
	return dirs, nil
}
