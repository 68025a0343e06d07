package preset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/table"
)

// DataFile is the run manifest written next to the tree.
const DataFile = "data.json"

// Data is the run manifest: the active presets and, per referencing file,
// the number of tokens still unresolved.
type Data struct {
	Presets json.RawMessage `json:"presets"`
	RSV     map[string]int  `json:"rsv"`
}

// DataWriter writes the run manifest.
type DataWriter struct {
	path     string
	manifest *Manifest
	replacer *table.Replacer
	logger   *zap.Logger
}

// NewDataWriter creates a writer for path.
func NewDataWriter(path string, m *Manifest, replacer *table.Replacer, logger *zap.Logger) *DataWriter {
	if m == nil {
		m = emptyManifest()
	}
	return &DataWriter{path: path, manifest: m, replacer: replacer, logger: logger}
}

// WriteManifest writes the presets and refs to the data file.
func (w *DataWriter) WriteManifest(refs map[string]int) error {
	if refs == nil {
		refs = map[string]int{}
	}
	data, err := encode(Data{Presets: w.manifest.Raw(), RSV: refs})
	if err != nil {
		return fmt.Errorf("failed to encode run manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	if err := w.replacer.WriteFile(w.path, data); err != nil {
		return fmt.Errorf("failed to write run manifest: %w", err)
	}

	w.logger.Info("Run manifest saved",
		zap.String("path", w.path),
		zap.Int("rsv_files", len(refs)),
	)
	return nil
}
