// Package preset loads the preset manifest that describes the expected
// output tree, validates a tree against it and writes the run manifest.
package preset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/segmentio/encoding/json"
)

// SkippedPreset is never validated; fonts ship outside the table tree.
const SkippedPreset = "폰트"

// EntryType is the kind of a manifest entry.
type EntryType string

const (
	FileEntry      EntryType = "File"
	DirectoryEntry EntryType = "Directory"
)

// Entry is one expected path.
type Entry struct {
	Path string    `json:"path"`
	Type EntryType `json:"type"`
}

// Preset is a named group of entries.
type Preset struct {
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
}

// Manifest is the parsed preset document.
type Manifest struct {
	Presets []Preset

	raw   json.RawMessage
	files map[string]struct{}
	dirs  []string
}

// LoadManifest reads the preset document at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return emptyManifest(), fmt.Errorf("preset manifest not found at %s: %w", path, err)
		}
		return emptyManifest(), fmt.Errorf("failed to read preset manifest: %w", err)
	}
	m, err := DecodeManifest(data)
	if err != nil {
		return emptyManifest(), err
	}
	return m, nil
}

func emptyManifest() *Manifest {
	return &Manifest{raw: json.RawMessage("[]"), files: map[string]struct{}{}}
}

// DecodeManifest parses a preset document. Both "Presets" and "presets" are
// accepted, as are capitalized and lower-case entry fields.
func DecodeManifest(data []byte) (*Manifest, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse preset manifest: %w", err)
	}

	m := emptyManifest()
	raw, ok := pick(doc, "Presets", "presets")
	if !ok {
		return m, nil
	}
	m.raw = raw

	var groups []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}

	for _, g := range groups {
		preset := Preset{Name: pickString(g, "Name", "name")}

		var entries []map[string]json.RawMessage
		if rawEntries, ok := pick(g, "Entries", "entries"); ok {
			if err := json.Unmarshal(rawEntries, &entries); err != nil {
				return nil, fmt.Errorf("failed to parse entries of preset %q: %w", preset.Name, err)
			}
		}
		for _, e := range entries {
			path := strings.ReplaceAll(pickString(e, "Path", "path"), "\\", "/")
			if path == "" {
				continue
			}
			preset.Entries = append(preset.Entries, Entry{
				Path: path,
				Type: EntryType(pickString(e, "Type", "type")),
			})
		}
		m.Presets = append(m.Presets, preset)

		if preset.Name == SkippedPreset {
			continue
		}
		for _, e := range preset.Entries {
			switch e.Type {
			case FileEntry:
				m.files[e.Path] = struct{}{}
			case DirectoryEntry:
				m.dirs = append(m.dirs, e.Path)
			}
		}
	}
	m.dirs = lo.Uniq(m.dirs)
	return m, nil
}

// pick returns the first key present with a non-empty, non-null value.
func pick(m map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		s := strings.TrimSpace(string(v))
		if s == "" || s == "null" || s == "[]" || s == `""` {
			continue
		}
		return v, true
	}
	return nil, false
}

func pickString(m map[string]json.RawMessage, keys ...string) string {
	raw, ok := pick(m, keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Raw returns the presets exactly as they appeared in the document.
func (m *Manifest) Raw() json.RawMessage {
	return m.raw
}

// ExpectedFiles returns the sorted expected file paths.
func (m *Manifest) ExpectedFiles() []string {
	files := lo.Keys(m.files)
	sort.Strings(files)
	return files
}

// ExpectedDirs returns the expected directory paths in document order.
func (m *Manifest) ExpectedDirs() []string {
	return append([]string(nil), m.dirs...)
}

// Expects reports whether relPath is a listed file or lies under a listed
// directory.
func (m *Manifest) Expects(relPath string) bool {
	if _, ok := m.files[relPath]; ok {
		return true
	}
	return lo.ContainsBy(m.dirs, func(d string) bool {
		return relPath == d || strings.HasPrefix(relPath, d+"/")
	})
}
