package rules

import (
	"errors"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/table"
)

// Default document names inside the rules directory.
const (
	OverrideFile = "filter.json"
	BaseFile     = "managed_filter.tmp.json"
)

// Loader reads the base and override documents from a rules directory.
type Loader struct {
	Dir          string
	OverrideName string
	BaseName     string
	logger       *zap.Logger
}

// NewLoader creates a loader for dir with the default document names.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	return &Loader{
		Dir:          dir,
		OverrideName: OverrideFile,
		BaseName:     BaseFile,
		logger:       logger,
	}
}

// OverridePath is the hand-authored document path.
func (l *Loader) OverridePath() string {
	return filepath.Join(l.Dir, l.OverrideName)
}

// BasePath is the machine-generated document path.
func (l *Loader) BasePath() string {
	return filepath.Join(l.Dir, l.BaseName)
}

// Load merges the override document on top of the base document. A missing
// or unreadable document counts as empty.
func (l *Loader) Load() *RuleSet {
	base := l.read(l.BasePath())
	override := l.read(l.OverridePath())
	rs := Merge(base, override)

	l.logger.Info("Rules loaded",
		zap.String("dir", l.Dir),
		zap.Any("counts", rs.Counts()),
	)
	return rs
}

func (l *Loader) read(path string) Document {
	doc, err := LoadDocument(path)
	switch {
	case err == nil:
		return doc
	case errors.Is(err, fs.ErrNotExist):
		l.logger.Debug("Rule document not found", zap.String("path", path))
	default:
		l.logger.Warn("Failed to load rule document, treating as empty",
			zap.String("path", path),
			zap.Error(err),
		)
	}
	return Document{}
}

// SaveBase replaces the machine-generated document.
func (l *Loader) SaveBase(doc Document, replacer *table.Replacer) error {
	data, err := EncodeDocument(doc)
	if err != nil {
		return err
	}
	return replacer.WriteFile(l.BasePath(), data)
}
