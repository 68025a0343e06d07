package rsv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/table"
)

func newTestStore(t *testing.T, content string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rsv.json")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	s := NewStore(path, table.NewReplacer(3, time.Millisecond), zap.NewNop())
	require.NoError(t, s.Load())
	return s
}

func TestResolve(t *testing.T) {
	t.Run("fallback when primary empty", func(t *testing.T) {
		s := newTestStore(t, `{"_rsv_x": ["", "hi"]}`)
		assert.Equal(t, "hi", s.Resolve("_rsv_x"))
		assert.True(t, s.IsUnresolved("_rsv_x"))
		assert.False(t, s.NewTokensFound())
	})

	t.Run("primary wins", func(t *testing.T) {
		s := newTestStore(t, `{"_rsv_x": ["yo", "hi"]}`)
		assert.Equal(t, "yo", s.Resolve("_rsv_x"))
		assert.False(t, s.IsUnresolved("_rsv_x"))
	})

	t.Run("unknown token is recorded empty", func(t *testing.T) {
		s := newTestStore(t, `{}`)
		assert.True(t, s.IsUnresolved("_rsv_new"))
		assert.Equal(t, "", s.Resolve("_rsv_new"))
		assert.True(t, s.NewTokensFound())

		pair, ok := s.Lookup("_rsv_new")
		require.True(t, ok)
		assert.Equal(t, Pair{"", ""}, pair)
	})
}

func TestLoad(t *testing.T) {
	t.Run("legacy string values migrate", func(t *testing.T) {
		s := newTestStore(t, `{"_rsv_a": "포션", "_rsv_b": ["에테르", "Ether"], "_rsv_c": ["only"]}`)
		assert.Equal(t, map[string]Pair{
			"_rsv_a": {"포션", ""},
			"_rsv_b": {"에테르", "Ether"},
			"_rsv_c": {"only", ""},
		}, s.Tokens())
	})

	t.Run("missing file is empty", func(t *testing.T) {
		s := newTestStore(t, "")
		assert.Equal(t, 0, s.Len())
	})

	t.Run("corrupt file degrades to empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rsv.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"_rsv_a": [`), 0o644))
		s := NewStore(path, table.NewReplacer(3, time.Millisecond), zap.NewNop())

		assert.Error(t, s.Load())
		assert.Equal(t, 0, s.Len())
	})
}

func TestSaveRoundTrip(t *testing.T) {
	s := newTestStore(t, `{"_rsv_a": "<b>값</b>"}`)
	s.Resolve("_rsv_b")
	require.True(t, s.NewTokensFound())

	require.NoError(t, s.Save())
	assert.False(t, s.NewTokensFound())

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"<b>값</b>"`)
	assert.Contains(t, string(data), "    \"_rsv_b\": [")

	reloaded := NewStore(s.Path(), table.NewReplacer(3, time.Millisecond), zap.NewNop())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, s.Tokens(), reloaded.Tokens())
}

func TestRecordReference(t *testing.T) {
	s := newTestStore(t, "")

	s.RecordReference("exd/Item.ko.csv", false)
	s.RecordReference(`exd\Item.ko.csv`, true)
	s.RecordReference("rawexd/quest/Q.csv", true)
	s.RecordReference("Addon.ko.csv", false)

	assert.Equal(t, map[string]int{
		"rawexd/exd/Item.csv": 1,
		"rawexd/quest/Q.csv":  1,
		"rawexd/Addon.csv":    0,
	}, s.References())

	assert.True(t, s.IsReferenced("exd/Item.ko.csv"))
	assert.True(t, s.IsReferenced("exd/Item.csv"))
	assert.True(t, s.IsReferenced("Addon.ko.csv"))
	assert.False(t, s.IsReferenced("Other.ko.csv"))

	s.ResetReferences()
	assert.Empty(t, s.References())
}

func TestTransformKey(t *testing.T) {
	assert.Equal(t, "_rsv_1_2_1_9", TransformKey("_rsv_1_2_6_9"))
	assert.Equal(t, "_rsv_1_2_5_9", TransformKey("_rsv_1_2_5_9"))
	assert.Equal(t, "_rsv_1", TransformKey("_rsv_1"))
}

type mapFeed struct {
	lookup map[string]string
	err    error
	calls  int
}

func (f *mapFeed) Fetch(context.Context) (map[string]string, error) {
	f.calls++
	return f.lookup, f.err
}

func (f *mapFeed) Name() string { return "map" }

func TestSyncExternalOverrides(t *testing.T) {
	t.Run("fills empty fallbacks only", func(t *testing.T) {
		s := newTestStore(t, `{
			"_rsv_1_2_6_9": ["", ""],
			"_rsv_a": ["primary", ""],
			"_rsv_b": ["", "kept"],
			"_rsv_c": ["", ""]
		}`)
		feed := &mapFeed{lookup: map[string]string{
			"_rsv_1_2_1_9": "Transformed",
			"_rsv_a":       "fallback-a",
			"_rsv_b":       "replaced",
		}}

		filled, err := s.SyncExternalOverrides(context.Background(), feed)
		require.NoError(t, err)
		assert.Equal(t, 2, filled)

		tokens := s.Tokens()
		assert.Equal(t, Pair{"", "Transformed"}, tokens["_rsv_1_2_6_9"])
		assert.Equal(t, Pair{"primary", "fallback-a"}, tokens["_rsv_a"])
		assert.Equal(t, Pair{"", "kept"}, tokens["_rsv_b"])
		assert.Equal(t, Pair{"", ""}, tokens["_rsv_c"])

		_, err = os.Stat(s.Path())
		assert.NoError(t, err, "store is persisted after filling")
	})

	t.Run("nothing filled leaves file untouched", func(t *testing.T) {
		s := newTestStore(t, "")
		s.Resolve("_rsv_z")

		filled, err := s.SyncExternalOverrides(context.Background(), &mapFeed{lookup: map[string]string{"other": "x"}})
		require.NoError(t, err)
		assert.Equal(t, 0, filled)
		_, err = os.Stat(s.Path())
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("feed failure is returned and store unchanged", func(t *testing.T) {
		s := newTestStore(t, `{"_rsv_a": ["", ""]}`)
		_, err := s.SyncExternalOverrides(context.Background(), &mapFeed{err: errors.New("offline")})
		assert.Error(t, err)
		assert.Equal(t, Pair{"", ""}, s.Tokens()["_rsv_a"])
	})
}
