// Package table reads and writes the 4-row-header sheet exports and owns the
// file mutation discipline (temp write, atomic swap, bounded retry) every
// pipeline pass goes through.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// Header layout of every sheet export.
const (
	HeaderRows = 4
	RowNames   = 0 // field display names
	RowLabels  = 1 // field labels
	RowOffsets = 2 // stable column offsets
	RowTypes   = 3 // column value types
)

// Table is an ordered sequence of rows; rows[0:4] are the header block.
type Table struct {
	Rows [][]string
}

// New creates a table from rows without copying them.
func New(rows [][]string) *Table {
	return &Table{Rows: rows}
}

// Valid reports whether the table carries the full header block.
func (t *Table) Valid() bool {
	return len(t.Rows) >= HeaderRows
}

// Header returns the header rows.
func (t *Table) Header() [][]string {
	if len(t.Rows) < HeaderRows {
		return t.Rows
	}
	return t.Rows[:HeaderRows]
}

// Data returns the data rows.
func (t *Table) Data() [][]string {
	if len(t.Rows) < HeaderRows {
		return nil
	}
	return t.Rows[HeaderRows:]
}

// SetData replaces the data rows, keeping the header block.
func (t *Table) SetData(data [][]string) {
	rows := make([][]string, 0, HeaderRows+len(data))
	rows = append(rows, t.Header()...)
	t.Rows = append(rows, data...)
}

// Width returns the length of the longest row.
func (t *Table) Width() int {
	width := 0
	for _, row := range t.Rows {
		if len(row) > width {
			width = len(row)
		}
	}
	return width
}

// Offsets maps each column offset in the offset header row to its physical
// column index. The first occurrence of a duplicated offset wins.
func (t *Table) Offsets() map[string]int {
	offsets := make(map[string]int)
	if len(t.Rows) <= RowOffsets {
		return offsets
	}
	for i, cell := range t.Rows[RowOffsets] {
		off := strings.TrimSpace(cell)
		if off == "" {
			continue
		}
		if _, exists := offsets[off]; !exists {
			offsets[off] = i
		}
	}
	return offsets
}

// HeaderCell returns the header cell at (row, col), or "" when absent.
func (t *Table) HeaderCell(row, col int) string {
	if row >= len(t.Rows) || row >= HeaderRows {
		return ""
	}
	return Cell(t.Rows[row], col)
}

// ColumnIDs returns the identifiers a column rule may use for column col:
// its offset, display name and label.
func (t *Table) ColumnIDs(col int) []string {
	ids := make([]string, 0, 3)
	for _, r := range []int{RowOffsets, RowNames, RowLabels} {
		if id := strings.TrimSpace(t.HeaderCell(r, col)); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		rows[i] = append([]string(nil), row...)
	}
	return &Table{Rows: rows}
}

// Equal reports whether both tables hold identical cells.
func (t *Table) Equal(other *Table) bool {
	if len(t.Rows) != len(other.Rows) {
		return false
	}
	for i := range t.Rows {
		if len(t.Rows[i]) != len(other.Rows[i]) {
			return false
		}
		for j := range t.Rows[i] {
			if t.Rows[i][j] != other.Rows[i][j] {
				return false
			}
		}
	}
	return true
}

// Project keeps only the given column indices, in the given order, on every
// row. Indices beyond a short row are skipped for that row.
func (t *Table) Project(cols []int) *Table {
	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		projected := make([]string, 0, len(cols))
		for _, c := range cols {
			if c < len(row) {
				projected = append(projected, row[c])
			}
		}
		rows[i] = projected
	}
	return &Table{Rows: rows}
}

// Cell returns row[col], or "" when the row is too short.
func Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// Key returns the row key (column 0).
func Key(row []string) string {
	return Cell(row, 0)
}

// Read parses the file at path. A table with fewer than 4 header rows is
// returned together with ErrMalformed.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open table %s: %w", path, err)
	}
	defer f.Close()

	t, err := Decode(f)
	if err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Decode parses comma-delimited rows from r.
func Decode(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	t := &Table{Rows: rows}
	if !t.Valid() {
		return t, fmt.Errorf("%w: %d header rows", ErrMalformed, len(rows))
	}
	return t, nil
}

// Encode writes the table as comma-delimited rows.
func Encode(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to encode table: %w", err)
	}
	return nil
}
