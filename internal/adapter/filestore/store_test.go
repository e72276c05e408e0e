package filestore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/snapshot-reconciler/internal/config"
	"github.com/couchcryptid/snapshot-reconciler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.Config{
		DataDir:        t.TempDir(),
		KeyColumn:      "ID",
		Delimiter:      ',',
		MasterFilename: "_Pharmacies_MASTERFILE.csv",
		ReportFilename: "report.csv",
		LockFilename:   ".pharmacies.lock",
		LockTimeout:    300 * time.Millisecond,
	}
	return NewStore(cfg, discardLogger())
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestReadTable_KeepsRawText(t *testing.T) {
	src := "\ufeffID,Name,lat,Zip\n007,\" A \",\"40,5\",01234\n2,B,,\n"

	tbl, err := ReadTable(strings.NewReader(src), "ID", ',')
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "lat", "Zip"}, tbl.Columns)
	assert.Equal(t, []string{"2", "007"}, tbl.Keys())

	r, ok := tbl.Lookup("007")
	require.True(t, ok)
	assert.Equal(t, domain.String(" A "), r.Get("Name"))
	assert.Equal(t, domain.String("40,5"), r.Get("lat"))
	assert.Equal(t, domain.String("01234"), r.Get("Zip"), "no numeric coercion")

	r2, _ := tbl.Lookup("2")
	assert.True(t, r2.Get("lat").IsNull())
}

func TestReadTable_ShortRowsPadWithNull(t *testing.T) {
	tbl, err := ReadTable(strings.NewReader("ID,a,b\n1,x\n"), "ID", ',')
	require.NoError(t, err)
	r, _ := tbl.Lookup("1")
	assert.True(t, r.Get("b").IsNull())
}

func TestReadTable_Errors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		target error
	}{
		{name: "missing key column", src: "Name,lat\nA,1\n", target: domain.ErrMissingPrimaryKey},
		{name: "empty file", src: "", target: domain.ErrMissingPrimaryKey},
		{name: "empty key value", src: "ID,Name\n,A\n", target: domain.ErrMissingPrimaryKey},
		{name: "duplicate key", src: "ID,Name\n1,A\n1,B\n", target: domain.ErrDuplicateKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadTable(strings.NewReader(tt.src), "ID", ',')
			require.ErrorIs(t, err, tt.target)
		})
	}
}

func TestReadTable_TooManyFields(t *testing.T) {
	_, err := ReadTable(strings.NewReader("ID,a\n1,x,y\n"), "ID", ',')
	require.Error(t, err)
}

func TestReadTable_DuplicateHeader(t *testing.T) {
	_, err := ReadTable(strings.NewReader("ID,a,a\n1,x,y\n"), "ID", ',')
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate column")
}

func TestReadTable_Semicolon(t *testing.T) {
	tbl, err := ReadTable(strings.NewReader("ID;lat\n1;52,1\n"), "ID", ';')
	require.NoError(t, err)
	r, _ := tbl.Lookup("1")
	assert.Equal(t, domain.String("52,1"), r.Get("lat"))
}

func TestWriteTable_RoundTrip(t *testing.T) {
	tbl, err := domain.NewTable("ID", []string{"Name", "latitude"}, []domain.Record{
		{Key: "1", Cells: map[string]domain.Value{"Name": domain.String("A, B"), "latitude": domain.Number(40.5)}},
		{Key: "2", Cells: map[string]domain.Value{"latitude": domain.Number(-70)}},
	})
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, WriteTable(&sb, tbl, ','))
	assert.Equal(t, "ID,Name,latitude\n1,\"A, B\",40.5\n2,,-70.0\n", sb.String())

	back, err := ReadTable(strings.NewReader(sb.String()), "ID", ',')
	require.NoError(t, err)
	r, _ := back.Lookup("2")
	assert.Equal(t, domain.String("-70.0"), r.Get("latitude"))
}

func TestStore_ListSnapshots(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s.Dir(), "Pharmacies_20240101.csv", "ID\n")
	writeFile(t, s.Dir(), "notes.txt", "")
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "Pharmacies_20240102.csv"), 0o755))

	names, err := s.ListSnapshots(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Pharmacies_20240101.csv", "notes.txt"}, names)
}

func TestStore_ListSnapshots_MissingDir(t *testing.T) {
	s := newTestStore(t)
	s.dir = filepath.Join(s.dir, "missing")

	names, err := s.ListSnapshots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStore_LoadSnapshot_MissingKey(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s.Dir(), "Pharmacies_20240101.csv", "Name\nA\n")

	_, err := s.LoadSnapshot(context.Background(), "Pharmacies_20240101.csv")
	require.ErrorIs(t, err, domain.ErrMissingPrimaryKey)
	assert.Contains(t, err.Error(), "Pharmacies_20240101.csv")
}

func TestStore_WriteMaster_ReplacesAtomically(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s.Dir(), "_Pharmacies_MASTERFILE.csv", "old content\n")

	tbl, err := domain.NewTable("ID", []string{"Name"}, []domain.Record{
		{Key: "1", Cells: map[string]domain.Value{"Name": domain.String("A")}},
	})
	require.NoError(t, err)

	path, err := s.WriteMaster(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, s.MasterPath(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ID,Name\n1,A\n", string(data))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestWriteAtomic_FailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.csv")
	writeFile(t, dir, "master.csv", "previous\n")

	err := writeAtomic(path, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_RowsAndRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.WriteRows(ctx, "Pharmacies_20240101.csv", [][]string{{"ID", "latitude"}, {"1", "2,5"}})
	require.NoError(t, err)

	rows, err := s.ReadRows(ctx, "Pharmacies_20240101.csv")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"ID", "latitude"}, {"1", "2,5"}}, rows)

	exists, err := s.Exists(ctx, "Pharmacies_20240101.csv")
	require.NoError(t, err)
	assert.True(t, exists)

	removed, err := s.Remove(ctx, "Pharmacies_20240101.csv")
	require.NoError(t, err)
	assert.True(t, removed)

	exists, err = s.Exists(ctx, "Pharmacies_20240101.csv")
	require.NoError(t, err)
	assert.False(t, exists)

	removed, err = s.Remove(ctx, "Pharmacies_20240101.csv")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestStore_Lock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unlock, err := s.Lock(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Lock(ctx)
	require.ErrorIs(t, err, domain.ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)

	require.NoError(t, unlock())

	unlock2, err := s.Lock(ctx)
	require.NoError(t, err)
	require.NoError(t, unlock2())
}

func TestStore_Lock_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	unlock, err := s.Lock(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = unlock() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Lock(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStore_WriteReport(t *testing.T) {
	s := newTestStore(t)
	older := domain.Snapshot{Name: "Pharmacies_20240101.csv"}
	report := domain.Report{
		StartedAt: time.Date(2024, time.April, 26, 6, 0, 0, 0, time.UTC),
		Selection: domain.Selection{Older: &older, Newer: domain.Snapshot{Name: "Pharmacies_20240102.csv"}},
		Merge:     domain.MergeStats{RowsMerged: 3, CellsOverwritten: 1},
		Diagnostics: domain.Diagnostics{
			Renames: []domain.Rename{{From: "lng", To: "longitude"}},
			Coordinates: []domain.CoordinateStats{
				{Column: "latitude", Parsed: 2, Unparseable: 1},
				{Column: "longitude", Parsed: 1, OutOfRange: 1},
			},
		},
	}

	require.NoError(t, s.WriteReport(context.Background(), report))

	data, err := os.ReadFile(filepath.Join(s.Dir(), "report.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "run_at,older_snapshot,newer_snapshot,rows_merged,cells_overwritten,cells_filled,column,renamed_from,parsed,nulls,unparseable,out_of_range", lines[0])
	assert.Equal(t, "2024-04-26T06:00:00Z,Pharmacies_20240101.csv,Pharmacies_20240102.csv,3,1,0,latitude,,2,0,1,0", lines[1])
	assert.Equal(t, "2024-04-26T06:00:00Z,Pharmacies_20240101.csv,Pharmacies_20240102.csv,3,1,0,longitude,lng,1,0,0,1", lines[2])
}

func TestStore_WriteReport_Disabled(t *testing.T) {
	s := newTestStore(t)
	s.report = ""
	require.NoError(t, s.WriteReport(context.Background(), domain.Report{}))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_Watch(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake, err := s.Watch(ctx, domain.NewSnapshotPattern("Pharmacies", "csv"))
	require.NoError(t, err)

	writeFile(t, s.Dir(), "notes.txt", "ignored")
	select {
	case <-wake:
		t.Fatal("unexpected signal for a non-snapshot file")
	case <-time.After(200 * time.Millisecond):
	}

	writeFile(t, s.Dir(), "Pharmacies_20240426.csv", "ID\n1\n")
	select {
	case <-wake:
	case <-time.After(5 * time.Second):
		t.Fatal("no signal after a snapshot was written")
	}
}
