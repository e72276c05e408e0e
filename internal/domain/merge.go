package domain

import (
	"fmt"
	"slices"
)

// MergeStats counts how the merged cells were resolved.
type MergeStats struct {
	RowsMerged       int // size of the key union
	CellsOverwritten int // newer value replaced a different non-null older value
	CellsFilled      int // newer row existed but the cell came from the older table
	RowsAdded        int // keys only present in the newer table
	RowsRetained     int // keys only present in the older table
}

// Merge combines older and newer into one table keyed by the union of both
// key sets. Each cell takes the newer non-null value, falling back to the
// older one. The result is a new table; the inputs are not modified.
func Merge(older, newer *Table) (*Table, MergeStats, error) {
	var stats MergeStats

	switch {
	case older.KeyColumn == "" && newer.KeyColumn == "":
		return nil, stats, ErrNoPrimaryKey
	case older.KeyColumn == "":
		return nil, stats, fmt.Errorf("older table: %w %q", ErrMissingPrimaryKey, newer.KeyColumn)
	case newer.KeyColumn == "":
		return nil, stats, fmt.Errorf("newer table: %w %q", ErrMissingPrimaryKey, older.KeyColumn)
	case older.KeyColumn != newer.KeyColumn:
		return nil, stats, fmt.Errorf("%w: key columns %q and %q differ", ErrMissingPrimaryKey, older.KeyColumn, newer.KeyColumn)
	}

	columns := unionColumns(older.Columns, newer.Columns)
	keys := unionKeys(older.Keys(), newer.Keys())

	olderIdx := older.index()
	newerIdx := newer.index()

	rows := make([]Record, 0, len(keys))
	for _, key := range keys {
		o, inOlder := olderIdx[key]
		n, inNewer := newerIdx[key]
		switch {
		case inOlder && !inNewer:
			stats.RowsRetained++
		case inNewer && !inOlder:
			stats.RowsAdded++
		}

		cells := make(map[string]Value, len(columns))
		for _, col := range columns {
			nv := n.Get(col)
			ov := o.Get(col)
			switch {
			case !nv.IsNull():
				cells[col] = nv
				if !ov.IsNull() && !ov.Equal(nv) {
					stats.CellsOverwritten++
				}
			case !ov.IsNull():
				cells[col] = ov
				if inNewer {
					stats.CellsFilled++
				}
			}
		}
		rows = append(rows, Record{Key: key, Cells: cells})
	}
	stats.RowsMerged = len(rows)

	// Keys are already unique and ordered, so the table is assembled directly.
	return &Table{KeyColumn: older.KeyColumn, Columns: columns, Rows: rows}, stats, nil
}

func unionColumns(older, newer []string) []string {
	out := slices.Clone(older)
	seen := make(map[string]bool, len(older)+len(newer))
	for _, c := range older {
		seen[c] = true
	}
	for _, c := range newer {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func unionKeys(older, newer []string) []string {
	seen := make(map[string]bool, len(older)+len(newer))
	out := make([]string, 0, len(older)+len(newer))
	for _, set := range [][]string{older, newer} {
		for _, k := range set {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	SortKeys(out)
	return out
}
