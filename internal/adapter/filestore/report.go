package filestore

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/couchcryptid/snapshot-reconciler/internal/domain"
	"github.com/jszwec/csvutil"
)

// reportRow is one line of the diagnostics report, one per coordinate column.
type reportRow struct {
	RunAt            string `csv:"run_at"`
	OlderSnapshot    string `csv:"older_snapshot"`
	NewerSnapshot    string `csv:"newer_snapshot"`
	RowsMerged       int    `csv:"rows_merged"`
	CellsOverwritten int    `csv:"cells_overwritten"`
	CellsFilled      int    `csv:"cells_filled"`
	Column           string `csv:"column"`
	Renamed          string `csv:"renamed_from"`
	Parsed           int    `csv:"parsed"`
	Nulls            int    `csv:"nulls"`
	Unparseable      int    `csv:"unparseable"`
	OutOfRange       int    `csv:"out_of_range"`
}

// WriteReport replaces the diagnostics report file. It is a no-op when no
// report file is configured.
func (s *Store) WriteReport(_ context.Context, report domain.Report) error {
	if s.report == "" {
		return nil
	}
	data, err := marshalReport(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	err = writeAtomic(filepath.Join(s.dir, s.report), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func marshalReport(report domain.Report) ([]byte, error) {
	base := reportRow{
		RunAt:            report.StartedAt.UTC().Format(time.RFC3339),
		NewerSnapshot:    report.Selection.Newer.Name,
		RowsMerged:       report.Merge.RowsMerged,
		CellsOverwritten: report.Merge.CellsOverwritten,
		CellsFilled:      report.Merge.CellsFilled,
	}
	if report.Selection.Older != nil {
		base.OlderSnapshot = report.Selection.Older.Name
	}

	renamedFrom := make(map[string]string, len(report.Diagnostics.Renames))
	for _, r := range report.Diagnostics.Renames {
		renamedFrom[r.To] = r.From
	}

	rows := make([]reportRow, 0, len(report.Diagnostics.Coordinates))
	for _, c := range report.Diagnostics.Coordinates {
		row := base
		row.Column = c.Column
		row.Renamed = renamedFrom[c.Column]
		row.Parsed = c.Parsed
		row.Nulls = c.Nulls
		row.Unparseable = c.Unparseable
		row.OutOfRange = c.OutOfRange
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		rows = append(rows, base)
	}
	return csvutil.Marshal(rows)
}
