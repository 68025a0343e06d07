package preset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/table"
)

const manifestDoc = `{
	"Presets": [
		{
			"Name": "기본",
			"Entries": [
				{"Type": "File", "Path": "rawexd\\Item.csv"},
				{"Type": "File", "Path": "rawexd/Missing.csv"},
				{"Type": "Directory", "Path": "rawexd/quest"},
				{"Type": "Directory", "Path": "rawexd/gone"},
				{"Type": "File", "Path": "version.txt"}
			]
		},
		{
			"name": "폰트",
			"entries": [{"type": "File", "path": "font/Font.ttf"}]
		}
	]
}`

func touch(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestDecodeManifest(t *testing.T) {
	m, err := DecodeManifest([]byte(manifestDoc))
	require.NoError(t, err)

	require.Len(t, m.Presets, 2)
	assert.Equal(t, "폰트", m.Presets[1].Name)
	assert.Equal(t, []string{"rawexd/Item.csv", "rawexd/Missing.csv", "version.txt"}, m.ExpectedFiles())
	assert.Equal(t, []string{"rawexd/quest", "rawexd/gone"}, m.ExpectedDirs())

	assert.True(t, m.Expects("rawexd/quest/000/Q.csv"))
	assert.False(t, m.Expects("rawexd/questline.csv"))
	assert.False(t, m.Expects("font/Font.ttf"), "font preset is not validated")

	t.Run("lower-case presets key", func(t *testing.T) {
		m, err := DecodeManifest([]byte(`{"presets": [{"name": "a", "entries": [{"type": "File", "path": "x.csv"}]}]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"x.csv"}, m.ExpectedFiles())
	})

	t.Run("no presets", func(t *testing.T) {
		m, err := DecodeManifest([]byte(`{}`))
		require.NoError(t, err)
		assert.Empty(t, m.ExpectedFiles())
		assert.JSONEq(t, `[]`, string(m.Raw()))
	})

	t.Run("invalid document", func(t *testing.T) {
		_, err := DecodeManifest([]byte(`[`))
		assert.Error(t, err)
	})
}

func TestLoadManifestMissing(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "preset.json"))
	assert.Error(t, err)
	require.NotNil(t, m)
	assert.Empty(t, m.ExpectedFiles())
}

func TestValidate(t *testing.T) {
	m, err := DecodeManifest([]byte(manifestDoc))
	require.NoError(t, err)

	root := t.TempDir()
	touch(t, root, "rawexd/Item.csv")
	touch(t, root, "rawexd/quest/000/Q.csv")
	touch(t, root, "rawexd/Extra.csv")
	touch(t, root, "data.json")
	touch(t, root, "rawexd.zip")
	touch(t, root, "font/Font.ttf")
	touch(t, root, "reports/validation.json")

	validator := NewValidator(m, zap.NewNop())
	validator.Ignore("reports/validation.json")
	report, err := validator.Validate(root)
	require.NoError(t, err)

	assert.Equal(t, []Entry{
		{Path: "rawexd/Missing.csv", Type: FileEntry},
		{Path: "rawexd/gone", Type: DirectoryEntry},
	}, report.NotFound)
	assert.Equal(t, []Entry{
		{Path: "font/Font.ttf", Type: FileEntry},
		{Path: "rawexd/Extra.csv", Type: FileEntry},
	}, report.Unknown)
	assert.False(t, report.OK())
}

func TestValidateReportsStagingFiles(t *testing.T) {
	m, err := DecodeManifest([]byte(manifestDoc))
	require.NoError(t, err)

	root := t.TempDir()
	touch(t, root, "rawexd/Item.csv")
	touch(t, root, "rawexd/Missing.csv")
	touch(t, root, "rawexd/Item.csv.tmp")
	touch(t, root, "rawexd/quest/000/Q.csv")
	touch(t, root, "rawexd/quest/000/Q.csv.tmp")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "rawexd", "gone"), 0o755))

	report, err := NewValidator(m, zap.NewNop()).Validate(root)
	require.NoError(t, err)

	assert.Empty(t, report.NotFound)
	assert.Equal(t, []Entry{
		{Path: "rawexd/Item.csv.tmp", Type: FileEntry},
		{Path: "rawexd/quest/000/Q.csv.tmp", Type: FileEntry},
	}, report.Unknown)
}

func TestValidateEmptyManifest(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "rawexd/A.csv")

	report, err := NewValidator(nil, zap.NewNop()).Validate(root)
	require.NoError(t, err)
	assert.Empty(t, report.NotFound)
	assert.Equal(t, []Entry{{Path: "rawexd/A.csv", Type: FileEntry}}, report.Unknown)
}

func TestSaveReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "validation.json")
	report := Report{NotFound: []Entry{}, Unknown: []Entry{{Path: "rawexd/한.csv", Type: FileEntry}}}

	require.NoError(t, SaveReport(report, path, table.NewReplacer(1, 0)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"not_found": []`)
	assert.Contains(t, string(data), "rawexd/한.csv")

	loaded, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, report, loaded)
}

func TestDataWriter(t *testing.T) {
	m, err := DecodeManifest([]byte(manifestDoc))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), DataFile)
	w := NewDataWriter(path, m, table.NewReplacer(1, 0), zap.NewNop())
	require.NoError(t, w.WriteManifest(map[string]int{"rawexd/Token.csv": 2}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var got struct {
		Presets []map[string]any `json:"presets"`
		RSV     map[string]int   `json:"rsv"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Len(t, got.Presets, 2)
	assert.Equal(t, map[string]int{"rawexd/Token.csv": 2}, got.RSV)
}
