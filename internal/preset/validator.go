package preset

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/table"
)

// IgnoredArtifacts are packaging outputs that live next to the tree and are
// never reported.
var IgnoredArtifacts = []string{"rawexd.zip", "version.txt", "data.json"}

// Report lists missing and unexpected paths.
type Report struct {
	NotFound []Entry `json:"not_found"`
	Unknown  []Entry `json:"unknown"`
}

// OK reports whether the tree matched the manifest exactly.
func (r Report) OK() bool {
	return len(r.NotFound) == 0 && len(r.Unknown) == 0
}

// Validator compares a tree with a manifest
type Validator struct {
	manifest *Manifest
	ignored  []string
	logger   *zap.Logger
}

// NewValidator creates a new validator
func NewValidator(m *Manifest, log *zap.Logger) *Validator {
	if m == nil {
		m = emptyManifest()
	}
	log.Info("Preset validator initialized",
		zap.Int("expected_files", len(m.files)),
		zap.Int("expected_dirs", len(m.dirs)),
	)
	ignored := append([]string(nil), IgnoredArtifacts...)
	return &Validator{manifest: m, ignored: ignored, logger: log}
}

// Ignore adds relative paths that are never reported.
func (v *Validator) Ignore(relPaths ...string) {
	for _, p := range relPaths {
		v.ignored = append(v.ignored, filepath.ToSlash(p))
	}
}

func (v *Validator) isIgnored(relPath string) bool {
	for _, p := range v.ignored {
		if relPath == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
	}
	return false
}

// Validate checks root against the manifest. Staging files from an
// interrupted swap are always reported as unknown. Entries are sorted by path.
func (v *Validator) Validate(root string) (Report, error) {
	report := Report{NotFound: []Entry{}, Unknown: []Entry{}}

	for _, f := range v.manifest.ExpectedFiles() {
		if v.isIgnored(f) {
			continue
		}
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(f)))
		if err != nil || info.IsDir() {
			report.NotFound = append(report.NotFound, Entry{Path: f, Type: FileEntry})
		}
	}
	for _, d := range v.manifest.ExpectedDirs() {
		if v.isIgnored(d) {
			continue
		}
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(d)))
		if err != nil || !info.IsDir() {
			report.NotFound = append(report.NotFound, Entry{Path: d, Type: DirectoryEntry})
		}
	}

	files, err := table.AllFiles(root)
	if err != nil {
		return report, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	for _, rel := range files {
		staging := strings.HasSuffix(rel, table.TempSuffix)
		if v.isIgnored(rel) || (!staging && v.manifest.Expects(rel)) {
			continue
		}
		report.Unknown = append(report.Unknown, Entry{Path: rel, Type: FileEntry})
	}

	sort.SliceStable(report.NotFound, func(i, j int) bool {
		return report.NotFound[i].Path < report.NotFound[j].Path
	})

	v.logger.Info("Validation completed",
		zap.String("root", root),
		zap.Int("not_found", len(report.NotFound)),
		zap.Int("unknown", len(report.Unknown)),
	)
	return report, nil
}

// SaveReport writes report as indented JSON.
func SaveReport(report Report, path string, replacer *table.Replacer) error {
	data, err := encode(report)
	if err != nil {
		return fmt.Errorf("failed to encode validation report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := replacer.WriteFile(path, data); err != nil {
		return fmt.Errorf("failed to save validation report: %w", err)
	}
	return nil
}

// LoadReport reads a report written by SaveReport.
func LoadReport(path string) (Report, error) {
	var report Report
	data, err := os.ReadFile(path)
	if err != nil {
		return report, err
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("failed to parse validation report: %w", err)
	}
	return report, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
