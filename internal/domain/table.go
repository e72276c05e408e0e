package domain

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies the type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
)

// Value is a nullable scalar cell. The zero value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
}

// Null returns the null value.
func Null() Value { return Value{} }

// String wraps raw text.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a parsed float.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Kind reports which payload the value carries.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is an empty cell.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Float returns the numeric payload and whether the value is a number.
func (v Value) Float() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Text renders the value the way it is written to CSV. Null renders as "".
// Integral numbers keep a trailing ".0" so float columns stay recognizable.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return formatFloat(v.num)
	default:
		return ""
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num || (math.IsNaN(v.num) && math.IsNaN(o.num))
	default:
		return true
	}
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "<null>"
	}
	return v.Text()
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) || strings.Contains(s, ".") {
		return s
	}
	return s + ".0"
}

// Record is one keyed row. Cells holds only non-null values; a missing
// column reads as null.
type Record struct {
	Key   string
	Cells map[string]Value
}

// Get returns the cell for column, or null when absent.
func (r Record) Get(column string) Value {
	return r.Cells[column]
}

// Table is a keyed collection of records ordered by CompareKeys.
// Columns lists the non-key columns in output order.
type Table struct {
	KeyColumn string
	Columns   []string
	Rows      []Record
}

// NewTable validates keys, drops null cells and orders rows by key.
// Unknown cell columns are appended to the column list in first-seen order.
func NewTable(keyColumn string, columns []string, rows []Record) (*Table, error) {
	cols := slices.Clone(columns)
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c] = true
	}

	seen := make(map[string]bool, len(rows))
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		if keyColumn != "" && r.Key == "" {
			return nil, fmt.Errorf("%w: empty %q value", ErrMissingPrimaryKey, keyColumn)
		}
		if seen[r.Key] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, r.Key)
		}
		seen[r.Key] = true

		cells := make(map[string]Value, len(r.Cells))
		for _, c := range sortedCellColumns(r.Cells) {
			v := r.Cells[c]
			if v.IsNull() {
				continue
			}
			if !known[c] {
				known[c] = true
				cols = append(cols, c)
			}
			cells[c] = v
		}
		out = append(out, Record{Key: r.Key, Cells: cells})
	}

	order := keyOrder(keysOf(out))
	slices.SortStableFunc(out, func(a, b Record) int { return order(a.Key, b.Key) })

	return &Table{KeyColumn: keyColumn, Columns: cols, Rows: out}, nil
}

// Keys returns the table keys in row order.
func (t *Table) Keys() []string {
	return keysOf(t.Rows)
}

// Lookup returns the record for key. It scans the rows linearly and suits
// one-off access; merging builds a key index instead.
func (t *Table) Lookup(key string) (Record, bool) {
	for _, r := range t.Rows {
		if r.Key == key {
			return r, true
		}
	}
	return Record{}, false
}

// HasColumn reports whether column is a non-key column of the table.
func (t *Table) HasColumn(column string) bool {
	return slices.Contains(t.Columns, column)
}

// Header returns the key column followed by the data columns.
func (t *Table) Header() []string {
	if t.KeyColumn == "" {
		return slices.Clone(t.Columns)
	}
	return append([]string{t.KeyColumn}, t.Columns...)
}

func (t *Table) index() map[string]Record {
	idx := make(map[string]Record, len(t.Rows))
	for _, r := range t.Rows {
		idx[r.Key] = r
	}
	return idx
}

func keysOf(rows []Record) []string {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	return keys
}

func sortedCellColumns(cells map[string]Value) []string {
	cols := make([]string, 0, len(cells))
	for c := range cells {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

// SortKeys orders keys in place using CompareKeys semantics for the whole set.
func SortKeys(keys []string) {
	slices.SortStableFunc(keys, keyOrder(keys))
}

// CompareKeys compares two keys within a key set. When numeric is true both
// keys are compared as numbers, falling back to byte order on ties.
func CompareKeys(a, b string, numeric bool) int {
	if numeric {
		fa, _ := strconv.ParseFloat(strings.TrimSpace(a), 64)
		fb, _ := strconv.ParseFloat(strings.TrimSpace(b), 64)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	}
	return strings.Compare(a, b)
}

// keyOrder picks numeric ordering when every key is a finite number.
func keyOrder(keys []string) func(a, b string) int {
	numeric := len(keys) > 0
	for _, k := range keys {
		f, err := strconv.ParseFloat(strings.TrimSpace(k), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			numeric = false
			break
		}
	}
	return func(a, b string) int { return CompareKeys(a, b, numeric) }
}
