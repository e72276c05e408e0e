package filestore

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/couchcryptid/snapshot-reconciler/internal/domain"
)

const utf8BOM = "\ufeff"

// ReadTable parses delimited text with a header row into a table keyed by
// keyColumn. Every field is kept as raw text; empty fields are null. Rows
// shorter than the header are padded with nulls.
func ReadTable(r io.Reader, keyColumn string, delimiter rune) (*domain.Table, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w %q: empty file", domain.ErrMissingPrimaryKey, keyColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	keyIdx := -1
	seen := make(map[string]bool, len(header))
	columns := make([]string, 0, len(header))
	for i, h := range header {
		if seen[h] {
			return nil, fmt.Errorf("duplicate column %q in header", h)
		}
		seen[h] = true
		if h == keyColumn {
			keyIdx = i
			continue
		}
		columns = append(columns, h)
	}
	if keyIdx < 0 {
		return nil, fmt.Errorf("%w %q", domain.ErrMissingPrimaryKey, keyColumn)
	}

	var records []domain.Record
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(fields) > len(header) {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %d fields, header has %d", line, len(fields), len(header))
		}

		rec := domain.Record{Cells: make(map[string]domain.Value, len(fields))}
		for i, f := range fields {
			if i == keyIdx {
				rec.Key = f
				continue
			}
			if f != "" {
				rec.Cells[header[i]] = domain.String(f)
			}
		}
		records = append(records, rec)
	}

	return domain.NewTable(keyColumn, columns, records)
}

// WriteTable writes the key column followed by the table columns. Null cells
// are written as empty fields.
func WriteTable(w io.Writer, t *domain.Table, delimiter rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter

	if err := cw.Write(t.Header()); err != nil {
		return err
	}

	fields := make([]string, 0, len(t.Columns)+1)
	for _, r := range t.Rows {
		fields = fields[:0]
		if t.KeyColumn != "" {
			fields = append(fields, r.Key)
		}
		for _, c := range t.Columns {
			fields = append(fields, r.Get(c).Text())
		}
		if err := cw.Write(fields); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func readRows(r io.Reader, delimiter rune) ([][]string, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], utf8BOM)
	}
	return rows, nil
}

func writeRows(w io.Writer, rows [][]string, delimiter rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}
