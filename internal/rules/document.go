package rules

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
)

// All is the keep_rows / keep_columns sentinel meaning "everything".
const All = "ALL"

// Document is the on-disk shape of a rule file. Every field is optional.
type Document struct {
	DeleteFiles   StringList             `json:"delete_files"`
	DeleteRows    map[string]StringList  `json:"delete_rows"`
	KeepRows      map[string]StringList  `json:"keep_rows"`
	DeleteColumns map[string]StringList  `json:"delete_columns"`
	KeepColumns   map[string]StringList  `json:"keep_columns"`
	RemapKeys     map[string]KeyRemap    `json:"remap_keys"`
	RemapColumns  map[string]ColumnRemap `json:"remap_columns"`
}

// NewDocument returns a document with every collection allocated, so it
// encodes as empty collections instead of nulls.
func NewDocument() Document {
	return Document{
		DeleteFiles:   StringList{},
		DeleteRows:    map[string]StringList{},
		KeepRows:      map[string]StringList{},
		DeleteColumns: map[string]StringList{},
		KeepColumns:   map[string]StringList{},
		RemapKeys:     map[string]KeyRemap{},
		RemapColumns:  map[string]ColumnRemap{},
	}
}

// StringList is a list of row keys, offsets or names. It decodes from a JSON
// array or a single scalar; numbers are kept as their literal text.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}

	if data[0] != '[' {
		s, ok, err := scalarText(data)
		if err != nil {
			return err
		}
		if ok {
			*l = StringList{s}
		} else {
			*l = nil
		}
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	list := make(StringList, 0, len(raw))
	for _, item := range raw {
		s, ok, err := scalarText(item)
		if err != nil {
			return err
		}
		if ok {
			list = append(list, s)
		}
	}
	*l = list
	return nil
}

// Contains reports whether s is in the list.
func (l StringList) Contains(s string) bool {
	for _, item := range l {
		if item == s {
			return true
		}
	}
	return false
}

// KeyRemap maps target row keys to source row keys for one path. A path whose
// value is not an object is kept verbatim in Legacy.
type KeyRemap struct {
	Keys   map[string]string
	Legacy json.RawMessage
}

// IsLegacy reports whether the value was not an object.
func (r KeyRemap) IsLegacy() bool { return r.Legacy != nil }

// UnmarshalJSON implements json.Unmarshaler.
func (r *KeyRemap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		r.Keys = nil
		r.Legacy = append(json.RawMessage(nil), data...)
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Keys = make(map[string]string, len(raw))
	r.Legacy = nil
	for target, value := range raw {
		source, ok, err := scalarText(value)
		if err != nil {
			return fmt.Errorf("remap key %q: %w", target, err)
		}
		if ok {
			r.Keys[target] = source
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r KeyRemap) MarshalJSON() ([]byte, error) {
	if r.IsLegacy() {
		return r.Legacy, nil
	}
	if r.Keys == nil {
		return []byte("{}"), nil
	}
	return marshalRaw(r.Keys)
}

// ColumnRemap holds per-row column rewrites for one path:
// row key (or "*") -> target offset -> value.
type ColumnRemap struct {
	Rows   map[string]map[string]RemapValue
	Legacy json.RawMessage
}

// Wildcard is the row key applying a column remap to every row.
const Wildcard = "*"

// IsLegacy reports whether the value was not a row-keyed object.
func (r ColumnRemap) IsLegacy() bool { return r.Legacy != nil }

// UnmarshalJSON implements json.Unmarshaler.
func (r *ColumnRemap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		r.Rows = nil
		r.Legacy = append(json.RawMessage(nil), data...)
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rows := make(map[string]map[string]RemapValue, len(raw))
	for key, value := range raw {
		value = bytes.TrimSpace(value)
		if len(value) == 0 || value[0] != '{' {
			// Flat offset maps predate row keys.
			r.Rows = nil
			r.Legacy = append(json.RawMessage(nil), data...)
			return nil
		}
		var cols map[string]RemapValue
		if err := json.Unmarshal(value, &cols); err != nil {
			return fmt.Errorf("remap row %q: %w", key, err)
		}
		rows[key] = cols
	}
	r.Rows = rows
	r.Legacy = nil
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r ColumnRemap) MarshalJSON() ([]byte, error) {
	if r.IsLegacy() {
		return r.Legacy, nil
	}
	if r.Rows == nil {
		return []byte("{}"), nil
	}
	return marshalRaw(r.Rows)
}

// ValueKind tags a RemapValue.
type ValueKind int

const (
	// Literal writes a string, substituting {offset} placeholders.
	Literal ValueKind = iota
	// SourceOffset copies the row's value at another column offset.
	SourceOffset
)

// RemapValue is a column remap target: a literal or a source column offset.
// JSON strings decode as literals, JSON integers as source offsets.
type RemapValue struct {
	Kind    ValueKind
	Literal string
	Offset  int
}

// LiteralValue returns a literal RemapValue.
func LiteralValue(s string) RemapValue {
	return RemapValue{Kind: Literal, Literal: s}
}

// OffsetValue returns a source-offset RemapValue.
func OffsetValue(offset int) RemapValue {
	return RemapValue{Kind: SourceOffset, Offset: offset}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *RemapValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '"' {
		if n, err := strconv.Atoi(string(data)); err == nil {
			*v = OffsetValue(n)
			return nil
		}
	}
	s, _, err := scalarText(data)
	if err != nil {
		return err
	}
	*v = LiteralValue(s)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v RemapValue) MarshalJSON() ([]byte, error) {
	if v.Kind == SourceOffset {
		return []byte(strconv.Itoa(v.Offset)), nil
	}
	return marshalRaw(v.Literal)
}

// String renders the value for logs.
func (v RemapValue) String() string {
	if v.Kind == SourceOffset {
		return "@" + strconv.Itoa(v.Offset)
	}
	return strconv.Quote(v.Literal)
}

// scalarText converts a JSON scalar to its string form. Strings are unquoted,
// numbers and booleans keep their literal text, null reports ok=false.
func scalarText(data []byte) (string, bool, error) {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, string(data) == "null":
		return "", false, nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case data[0] == '{', data[0] == '[':
		return "", false, fmt.Errorf("expected scalar, got %s", truncate(string(data), 32))
	default:
		return string(data), true, nil
	}
}

// marshalRaw encodes v without HTML escaping so nested values render the
// same way as the enclosing document.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// LoadDocument reads a rule document from path.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return DecodeDocument(data)
}

// DecodeDocument parses a rule document.
func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to parse rule document: %w", err)
	}
	return doc, nil
}

// EncodeDocument renders doc with four-space indentation and unescaped HTML.
func EncodeDocument(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode rule document: %w", err)
	}
	return buf.Bytes(), nil
}
