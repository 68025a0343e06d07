package rules

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/exdfilter/internal/table"
)

func TestBuildDocument(t *testing.T) {
	rows := []SheetRow{
		{File: "Item.ko.csv", Key: "12", Exclude: "TRUE"},
		{File: "Item.ko.csv", Key: "3", Exclude: "true"},
		{File: "Item.ko.csv", Key: "3", Exclude: "TRUE"},
		{File: "Item.ko.csv", Key: "abc", Exclude: "TRUE"},
		{File: "Item.ja.ko.csv", Key: "20", SwapKey: "21"},
		{File: "Item.csv", Key: "30", Offset: "4", SwapOffset: "g", Global: "Hi-Potion"},
		{File: "Item.csv", Key: "30", Offset: "5", SwapOffset: "0"},
		{File: "Item.csv", Key: "31", Offset: "5", SwapOffset: "text"},
		{File: "", Key: "1", Exclude: "TRUE"},
		{File: "Item.csv", Key: " ", Exclude: "TRUE"},
	}

	doc := BuildDocument(rows)

	assert.Equal(t, StringList{"3", "12"}, doc.DeleteRows["Item.csv"])
	assert.Equal(t, map[string]string{"20": "21"}, doc.RemapKeys["Item.csv"].Keys)

	cols := doc.RemapColumns["Item.csv"].Rows
	assert.Equal(t, LiteralValue("Hi-Potion"), cols["30"]["4"])
	assert.Equal(t, OffsetValue(0), cols["30"]["5"])
	assert.Equal(t, LiteralValue("text"), cols["31"]["5"])

	assert.Empty(t, doc.DeleteFiles)
	assert.NotNil(t, doc.KeepRows)
}

func TestParseSheetCSV(t *testing.T) {
	input := "idx,File,Key,Offset,Type,Global,KR,Exclude,Swap_Key,Swap_Offset\n" +
		"0,Item.ko.csv,1,4,str,Potion,포션,TRUE,,\n" +
		"1,Item.ko.csv,2,4,str,Ether,에테르,FALSE,5,g\n"

	rows, err := ParseSheetCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, SheetRow{File: "Item.ko.csv", Key: "1", Offset: "4", Global: "Potion", Exclude: "TRUE"}, rows[0])
	assert.Equal(t, "5", rows[1].SwapKey)
	assert.Equal(t, "g", rows[1].SwapOffset)
}

func TestCSVSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/export" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("File,Key,Exclude\nItem.csv,9,TRUE\n"))
	}))
	defer srv.Close()

	rows, err := NewCSVSource(srv.URL+"/export", time.Second).Rows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []SheetRow{{File: "Item.csv", Key: "9", Exclude: "TRUE"}}, rows)

	_, err = NewCSVSource(srv.URL+"/missing", time.Second).Rows(context.Background())
	assert.Error(t, err)
}

type stubSource struct {
	rows []SheetRow
	err  error
}

func (s stubSource) Rows(context.Context) ([]SheetRow, error) { return s.rows, s.err }
func (s stubSource) Name() string                             { return "stub" }

func TestSyncer(t *testing.T) {
	t.Run("writes base document", func(t *testing.T) {
		dir := t.TempDir()
		loader := NewLoader(dir, zap.NewNop())
		syncer := NewSyncer(stubSource{rows: []SheetRow{{File: "Item.ko.csv", Key: "4", Exclude: "TRUE"}}},
			loader, table.NewReplacer(3, 0), zap.NewNop())

		_, err := syncer.Sync(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"4"}, loader.Load().DeleteRows("Item.csv"))
	})

	t.Run("failure keeps previous base", func(t *testing.T) {
		dir := t.TempDir()
		loader := NewLoader(dir, zap.NewNop())
		require.NoError(t, os.WriteFile(loader.BasePath(), []byte(`{"delete_rows": {"Item.csv": [1]}}`), 0o644))

		syncer := NewSyncer(stubSource{err: errors.New("offline")}, loader, table.NewReplacer(3, 0), zap.NewNop())
		_, err := syncer.Sync(context.Background())
		assert.Error(t, err)
		assert.Equal(t, []string{"1"}, loader.Load().DeleteRows("Item.csv"))
	})
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://user:***@db:5432/rules", maskDatabaseURL("postgres://user:secret@db:5432/rules"))
	assert.Equal(t, "postgres://db/rules", maskDatabaseURL("postgres://db/rules"))
	assert.Equal(t, "postgres://user@db/rules", maskDatabaseURL("postgres://user@db/rules"))
}
