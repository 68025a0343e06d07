package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, s string) Document {
	t.Helper()
	doc, err := DecodeDocument([]byte(s))
	require.NoError(t, err)
	return doc
}

func TestMergeLists(t *testing.T) {
	base := mustDecode(t, `{
		"delete_rows": {"Item.csv": [1, 2, 3], "Only.csv": ["a"]},
		"keep_columns": {"Quest.csv": "ALL"}
	}`)
	override := mustDecode(t, `{
		"delete_rows": {"Item.csv": ["3", 4, "1", 5], "New.csv": [9]},
		"keep_columns": {"Quest.csv": ["ALL", "7"]}
	}`)

	rs := Merge(base, override)

	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, rs.DeleteRows("Item.csv"))
	assert.Equal(t, []string{"a"}, rs.DeleteRows("Only.csv"))
	assert.Equal(t, []string{"9"}, rs.DeleteRows("New.csv"))
	assert.Equal(t, []string{"ALL", "7"}, rs.KeepColumns("Quest.csv"))
}

func TestMergeDeleteFilesUnion(t *testing.T) {
	base := Document{DeleteFiles: StringList{"b.csv", "a.csv"}}
	override := Document{DeleteFiles: StringList{"a.csv", "dir/"}}

	rs := Merge(base, override)
	assert.Equal(t, StringList{"a.csv", "b.csv", "dir/"}, rs.Document().DeleteFiles)
}

func TestMergeRemaps(t *testing.T) {
	base := mustDecode(t, `{
		"remap_keys": {
			"Item.csv": {"10": "1", "11": "2"},
			"Legacy.csv": "Other.csv"
		},
		"remap_columns": {
			"Item.csv": {"10": {"4": 0}, "*": {"8": "x"}}
		}
	}`)
	override := mustDecode(t, `{
		"remap_keys": {
			"Item.csv": {"11": "3", "12": 4},
			"Legacy.csv": {"1": "2"}
		},
		"remap_columns": {
			"Item.csv": {"10": {"5": "{0} HQ"}}
		}
	}`)

	rs := Merge(base, override)

	keys, matched, ok := rs.RemapKeys("Item.csv")
	require.True(t, ok)
	assert.Equal(t, "Item.csv", matched)
	assert.Equal(t, map[string]string{"10": "1", "11": "3", "12": "4"}, keys.Keys)

	legacy, _, ok := rs.RemapKeys("Legacy.csv")
	require.True(t, ok)
	assert.False(t, legacy.IsLegacy(), "override map replaces legacy value")
	assert.Equal(t, map[string]string{"1": "2"}, legacy.Keys)

	cols, _, ok := rs.RemapColumns("Item.csv")
	require.True(t, ok)
	want := map[string]map[string]RemapValue{
		"10": {"5": LiteralValue("{0} HQ")},
		"*":  {"8": LiteralValue("x")},
	}
	if diff := cmp.Diff(want, cols.Rows); diff != "" {
		t.Errorf("remap_columns mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeLegacyOverrideReplacesMap(t *testing.T) {
	base := mustDecode(t, `{"remap_keys": {"Item.csv": {"1": "2"}}}`)
	override := mustDecode(t, `{"remap_keys": {"Item.csv": "Item2.csv"}}`)

	keys, _, ok := Merge(base, override).RemapKeys("Item.csv")
	require.True(t, ok)
	assert.True(t, keys.IsLegacy())
	assert.Equal(t, `"Item2.csv"`, string(keys.Legacy))
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	base := mustDecode(t, `{
		"delete_rows": {"Item.csv": [1]},
		"remap_keys": {"Item.csv": {"10": "1"}}
	}`)
	override := mustDecode(t, `{
		"delete_rows": {"Item.csv": [2]},
		"remap_keys": {"Item.csv": {"11": "2"}}
	}`)

	rs := Merge(base, override)

	assert.Equal(t, StringList{"1"}, base.DeleteRows["Item.csv"])
	assert.Equal(t, map[string]string{"10": "1"}, base.RemapKeys["Item.csv"].Keys)
	assert.Equal(t, StringList{"2"}, override.DeleteRows["Item.csv"])

	doc := rs.Document()
	doc.DeleteRows["Item.csv"][0] = "changed"
	assert.Equal(t, []string{"1", "2"}, rs.DeleteRows("Item.csv"))
}

func TestMergeProperties(t *testing.T) {
	base := mustDecode(t, `{
		"delete_rows": {"A.csv": [1, 2], "B.csv": [3]},
		"keep_rows": {"C.csv": "ALL"},
		"remap_keys": {"D.csv": {"5": "6"}}
	}`)
	override := mustDecode(t, `{
		"delete_rows": {"A.csv": [2, 3, 4, 4]},
		"remap_keys": {"E.csv": {"7": "8"}}
	}`)

	merged := Merge(base, override).Document()

	t.Run("base-only paths survive unchanged", func(t *testing.T) {
		assert.Equal(t, base.DeleteRows["B.csv"], merged.DeleteRows["B.csv"])
		assert.Equal(t, base.KeepRows["C.csv"], merged.KeepRows["C.csv"])
		assert.Equal(t, base.RemapKeys["D.csv"], merged.RemapKeys["D.csv"])
	})

	t.Run("lists are at least as long as either side and unique", func(t *testing.T) {
		list := merged.DeleteRows["A.csv"]
		assert.GreaterOrEqual(t, len(list), len(base.DeleteRows["A.csv"]))
		assert.Equal(t, StringList{"1", "2", "3", "4"}, list)
	})
}

func TestEmptyRuleSet(t *testing.T) {
	rs := Empty()
	assert.False(t, rs.FileDeleted("Item.csv"))
	assert.Nil(t, rs.DeleteRows("Item.csv"))
	_, _, ok := rs.RemapKeys("Item.csv")
	assert.False(t, ok)
}
