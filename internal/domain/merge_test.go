package domain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

type row map[string]string

// mustTable builds a table from string rows; an empty string is a null cell.
func mustTable(t *testing.T, columns []string, rows ...row) *Table {
	t.Helper()
	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		cells := make(map[string]Value, len(r))
		for c, v := range r {
			if c == "ID" || v == "" {
				continue
			}
			cells[c] = String(v)
		}
		records = append(records, Record{Key: r["ID"], Cells: cells})
	}
	tbl, err := NewTable("ID", columns, records)
	require.NoError(t, err)
	return tbl
}

func diffTables(want, got *Table) string {
	return cmp.Diff(want, got, cmpopts.EquateEmpty())
}

// --- tests ---

func TestMerge_Scenario(t *testing.T) {
	older := mustTable(t, []string{"Name", "latitude"},
		row{"ID": "1", "Name": "A", "latitude": "40,5"},
		row{"ID": "2", "Name": "B"},
	)
	newer := mustTable(t, []string{"Name", "longitude"},
		row{"ID": "2", "Name": "B2", "longitude": "-70"},
		row{"ID": "3", "Name": "C"},
	)

	merged, stats, err := Merge(older, newer)
	require.NoError(t, err)

	master, diag := Normalize(merged)

	assert.Equal(t, []string{"Name", "latitude", "longitude"}, master.Columns)
	assert.Equal(t, []string{"1", "2", "3"}, master.Keys())

	r1, _ := master.Lookup("1")
	assert.Equal(t, String("A"), r1.Get("Name"))
	assert.Equal(t, Number(40.5), r1.Get("latitude"))
	assert.True(t, r1.Get("longitude").IsNull())

	r2, _ := master.Lookup("2")
	assert.Equal(t, String("B2"), r2.Get("Name"))
	assert.True(t, r2.Get("latitude").IsNull())
	assert.Equal(t, Number(-70.0), r2.Get("longitude"))

	r3, _ := master.Lookup("3")
	assert.Equal(t, String("C"), r3.Get("Name"))
	assert.True(t, r3.Get("latitude").IsNull())
	assert.True(t, r3.Get("longitude").IsNull())

	assert.Equal(t, 3, stats.RowsMerged)
	assert.Equal(t, 1, stats.CellsOverwritten)
	assert.Equal(t, 1, stats.RowsAdded)
	assert.Equal(t, 1, stats.RowsRetained)
	assert.Zero(t, diag.Unparseable(ColumnLatitude))
	assert.Zero(t, diag.OutOfRange(ColumnLongitude))
}

func TestMerge_UnionCompleteness(t *testing.T) {
	a := mustTable(t, []string{"x", "y"},
		row{"ID": "10", "x": "1"},
		row{"ID": "2", "y": "2"},
	)
	b := mustTable(t, []string{"z", "x"},
		row{"ID": "7", "z": "3"},
		row{"ID": "2", "x": "4"},
	)

	merged, _, err := Merge(a, b)
	require.NoError(t, err)

	assert.Equal(t, []string{"2", "7", "10"}, merged.Keys(), "numeric key order")
	assert.Equal(t, []string{"x", "y", "z"}, merged.Columns, "older order then newer-only")
}

func TestMerge_NewestWinsPerCell(t *testing.T) {
	older := mustTable(t, []string{"Name", "City", "Phone"},
		row{"ID": "1", "Name": "Old", "City": "Utrecht", "Phone": "111"},
	)
	newer := mustTable(t, []string{"Name", "City", "Phone"},
		row{"ID": "1", "Name": "New", "City": ""},
	)

	merged, stats, err := Merge(older, newer)
	require.NoError(t, err)

	r, ok := merged.Lookup("1")
	require.True(t, ok)
	assert.Equal(t, String("New"), r.Get("Name"), "newer non-null wins")
	assert.Equal(t, String("Utrecht"), r.Get("City"), "falls back to older")
	assert.Equal(t, String("111"), r.Get("Phone"), "falls back to older")
	assert.Equal(t, 1, stats.CellsOverwritten)
	assert.Equal(t, 2, stats.CellsFilled)
}

func TestMerge_BothNullStaysNull(t *testing.T) {
	older := mustTable(t, []string{"Name", "Fax"}, row{"ID": "1", "Name": "A"})
	newer := mustTable(t, []string{"Name", "Fax"}, row{"ID": "1", "Name": "A"})

	merged, _, err := Merge(older, newer)
	require.NoError(t, err)

	r, _ := merged.Lookup("1")
	assert.True(t, r.Get("Fax").IsNull())
	assert.True(t, merged.HasColumn("Fax"))
}

func TestMerge_SelfIdempotent(t *testing.T) {
	a := mustTable(t, []string{"Name", "lat", "Note"},
		row{"ID": "b", "Name": "Beta", "lat": "1,5"},
		row{"ID": "a", "Name": "Alpha", "Note": "x"},
		row{"ID": "c"},
	)

	merged, stats, err := Merge(a, a)
	require.NoError(t, err)

	if diff := diffTables(a, merged); diff != "" {
		t.Fatalf("merge(A, A) != A (-want +got):\n%s", diff)
	}
	assert.Zero(t, stats.CellsOverwritten)
}

func TestMerge_StringKeysSortLexicographically(t *testing.T) {
	older := mustTable(t, nil, row{"ID": "10"}, row{"ID": "B"})
	newer := mustTable(t, nil, row{"ID": "9"}, row{"ID": "A"})

	merged, _, err := Merge(older, newer)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "9", "A", "B"}, merged.Keys())
}

func TestMerge_DoesNotCoerceKeys(t *testing.T) {
	older := mustTable(t, []string{"v"}, row{"ID": "1", "v": "old"})
	newer := mustTable(t, []string{"v"}, row{"ID": "1.0", "v": "new"})

	merged, _, err := Merge(older, newer)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "1.0"}, merged.Keys(), "distinct raw keys stay distinct")
}

func TestMerge_KeyColumnErrors(t *testing.T) {
	keyed := mustTable(t, []string{"v"}, row{"ID": "1", "v": "x"})
	unkeyed, err := NewTable("", []string{"v"}, nil)
	require.NoError(t, err)

	_, _, err = Merge(unkeyed, unkeyed)
	require.ErrorIs(t, err, ErrNoPrimaryKey)

	_, _, err = Merge(unkeyed, keyed)
	require.ErrorIs(t, err, ErrMissingPrimaryKey)

	_, _, err = Merge(keyed, unkeyed)
	require.ErrorIs(t, err, ErrMissingPrimaryKey)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	older := mustTable(t, []string{"v"}, row{"ID": "1", "v": "a"})
	newer := mustTable(t, []string{"v"}, row{"ID": "1", "v": "b"})
	before := mustTable(t, []string{"v"}, row{"ID": "1", "v": "a"})

	_, _, err := Merge(older, newer)
	require.NoError(t, err)
	if diff := diffTables(before, older); diff != "" {
		t.Fatalf("older table changed (-want +got):\n%s", diff)
	}
}

func TestNewTable_DuplicateKey(t *testing.T) {
	_, err := NewTable("ID", nil, []Record{{Key: "1"}, {Key: "1"}})
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestNewTable_EmptyKey(t *testing.T) {
	_, err := NewTable("ID", nil, []Record{{Key: ""}})
	require.ErrorIs(t, err, ErrMissingPrimaryKey)
}

func TestNewTable_DropsNullCells(t *testing.T) {
	tbl, err := NewTable("ID", []string{"a"}, []Record{
		{Key: "1", Cells: map[string]Value{"a": Null(), "b": String("x")}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)
	assert.Len(t, tbl.Rows[0].Cells, 1)
}

func TestValue_Text(t *testing.T) {
	tests := []struct {
		value Value
		want  string
	}{
		{Null(), ""},
		{String(" raw "), " raw "},
		{Number(40.5), "40.5"},
		{Number(-70), "-70.0"},
		{Number(0), "0.0"},
		{Number(1e21), "1000000000000000000000.0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.value.Text())
	}
}
