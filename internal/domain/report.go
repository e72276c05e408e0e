package domain

import "time"

// Report is the externally observable result of one reconciliation run.
type Report struct {
	StartedAt   time.Time
	Duration    time.Duration
	Selection   Selection
	Merge       MergeStats
	Diagnostics Diagnostics
	MasterRows  int
	MasterPath  string
}

// LogAttrs flattens the report into slog key/value pairs.
func (r Report) LogAttrs() []any {
	attrs := []any{
		"newer", r.Selection.Newer.Name,
		"single_snapshot", r.Selection.Single(),
		"rows_merged", r.Merge.RowsMerged,
		"cells_overwritten", r.Merge.CellsOverwritten,
		"cells_filled", r.Merge.CellsFilled,
		"master_rows", r.MasterRows,
		"duration", r.Duration,
	}
	if r.Selection.Older != nil {
		attrs = append(attrs, "older", r.Selection.Older.Name)
	}
	for _, c := range r.Diagnostics.Coordinates {
		attrs = append(attrs,
			c.Column+"_unparseable", c.Unparseable,
			c.Column+"_out_of_range", c.OutOfRange,
		)
	}
	return attrs
}
