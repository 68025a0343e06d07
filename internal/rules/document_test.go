package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/table"
)

func TestDecodeDocument(t *testing.T) {
	doc := mustDecode(t, `{
		"delete_files": ["Action.csv"],
		"keep_rows": {"Quest.csv": "ALL", "Nulls.csv": [null, 1]},
		"remap_columns": {
			"Item.csv": {"*": {"4": 0, "5": "lit", "6": "{4}+{5}", "7": 1.5}},
			"Flat.csv": {"4": 0}
		}
	}`)

	assert.Equal(t, StringList{"Action.csv"}, doc.DeleteFiles)
	assert.Equal(t, StringList{All}, doc.KeepRows["Quest.csv"])
	assert.Equal(t, StringList{"1"}, doc.KeepRows["Nulls.csv"])

	cols := doc.RemapColumns["Item.csv"].Rows[Wildcard]
	assert.Equal(t, OffsetValue(0), cols["4"])
	assert.Equal(t, LiteralValue("lit"), cols["5"])
	assert.Equal(t, LiteralValue("{4}+{5}"), cols["6"])
	assert.Equal(t, LiteralValue("1.5"), cols["7"])

	assert.True(t, doc.RemapColumns["Flat.csv"].IsLegacy())
}

func TestDecodeEmptyDocument(t *testing.T) {
	doc, err := DecodeDocument([]byte("  "))
	require.NoError(t, err)
	assert.Nil(t, doc.DeleteRows)

	_, err = DecodeDocument([]byte("{not json"))
	assert.Error(t, err)
}

func TestEncodeDocument(t *testing.T) {
	doc := NewDocument()
	doc.RemapColumns["Item.csv"] = ColumnRemap{Rows: map[string]map[string]RemapValue{
		"1": {"4": OffsetValue(0), "5": LiteralValue("<b>")},
	}}
	doc.RemapKeys["Legacy.csv"] = KeyRemap{Legacy: []byte(`"Other.csv"`)}

	data, err := EncodeDocument(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"4": 0`)
	assert.Contains(t, string(data), `"5": "<b>"`)
	assert.Contains(t, string(data), `"Legacy.csv": "Other.csv"`)
	assert.Contains(t, string(data), `"delete_files": []`)

	back, err := DecodeDocument(data)
	require.NoError(t, err)
	assert.Equal(t, OffsetValue(0), back.RemapColumns["Item.csv"].Rows["1"]["4"])
	assert.True(t, back.RemapKeys["Legacy.csv"].IsLegacy())
}

func TestLoader(t *testing.T) {
	t.Run("merges override on top of base", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, BaseFile),
			[]byte(`{"delete_rows": {"Item.csv": [1]}}`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, OverrideFile),
			[]byte(`{"delete_rows": {"Item.csv": [2]}, "delete_files": ["Action.csv"]}`), 0o644))

		rs := NewLoader(dir, zap.NewNop()).Load()
		assert.Equal(t, []string{"1", "2"}, rs.DeleteRows("Item.csv"))
		assert.True(t, rs.FileDeleted("Action.csv"))
	})

	t.Run("missing and broken documents are empty", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, OverrideFile), []byte(`{broken`), 0o644))

		rs := NewLoader(dir, zap.NewNop()).Load()
		assert.Equal(t, 0, rs.Counts()["delete_rows"])
	})

	t.Run("save base round trips", func(t *testing.T) {
		dir := t.TempDir()
		loader := NewLoader(dir, zap.NewNop())

		doc := NewDocument()
		doc.DeleteRows["Item.csv"] = StringList{"7"}
		require.NoError(t, loader.SaveBase(doc, table.NewReplacer(3, 0)))

		assert.Equal(t, []string{"7"}, loader.Load().DeleteRows("Item.csv"))
	})
}
