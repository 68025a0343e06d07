package rules

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CSVSource reads the rule table from a published spreadsheet CSV export.
type CSVSource struct {
	URL    string
	client *http.Client
}

// NewCSVSource creates a CSVSource for url.
func NewCSVSource(url string, timeout time.Duration) *CSVSource {
	return &CSVSource{
		URL:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Name implements Source.
func (s *CSVSource) Name() string { return "csv" }

// Rows implements Source.
func (s *CSVSource) Rows(ctx context.Context) ([]SheetRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return ParseSheetCSV(resp.Body)
}

// ParseSheetCSV reads rule-table rows from a CSV export whose first row names
// the columns. Unknown columns are ignored; column names match
// case-insensitively.
func ParseSheetCSV(r io.Reader) ([]SheetRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	field := func(record []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var rows []SheetRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		rows = append(rows, SheetRow{
			File:       field(record, "file"),
			Key:        field(record, "key"),
			Offset:     field(record, "offset"),
			Global:     field(record, "global"),
			Exclude:    field(record, "exclude"),
			SwapKey:    field(record, "swap_key"),
			SwapOffset: field(record, "swap_offset"),
		})
	}
	return rows, nil
}
