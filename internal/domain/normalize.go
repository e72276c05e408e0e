package domain

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

const (
	ColumnLatitude  = "latitude"
	ColumnLongitude = "longitude"
)

// coordinateAxis describes one canonical coordinate column, its recognized
// aliases in lookup order, and its valid range.
type coordinateAxis struct {
	canonical string
	aliases   []string
	min, max  float64
}

var coordinateAxes = []coordinateAxis{
	{canonical: ColumnLatitude, aliases: []string{"latitude", "lat"}, min: -90, max: 90},
	{canonical: ColumnLongitude, aliases: []string{"longitude", "lon", "lng", "long"}, min: -180, max: 180},
}

// nullMarkers are treated as missing coordinates without a warning.
var nullMarkers = map[string]bool{"": true, "nan": true, "None": true}

// Rename records a column canonicalization.
type Rename struct {
	From string
	To   string
}

// CoordinateStats summarizes parsing of one coordinate column.
type CoordinateStats struct {
	Column      string
	Parsed      int
	Nulls       int
	Unparseable int
	OutOfRange  int
}

// Diagnostics holds the non-fatal findings of Normalize.
type Diagnostics struct {
	Renames     []Rename
	Coordinates []CoordinateStats
}

// Unparseable returns the unparseable count for column (0 if absent).
func (d Diagnostics) Unparseable(column string) int {
	if s, ok := d.stats(column); ok {
		return s.Unparseable
	}
	return 0
}

// OutOfRange returns the out-of-range count for column (0 if absent).
func (d Diagnostics) OutOfRange(column string) int {
	if s, ok := d.stats(column); ok {
		return s.OutOfRange
	}
	return 0
}

func (d Diagnostics) stats(column string) (CoordinateStats, bool) {
	for _, s := range d.Coordinates {
		if s.Column == column {
			return s, true
		}
	}
	return CoordinateStats{}, false
}

// CanonicalizeColumns renames the first alias of each coordinate axis to its
// canonical name, unless the canonical name is already present. Matching is
// case-insensitive and follows column order.
func CanonicalizeColumns(columns []string) ([]string, []Rename) {
	out := slices.Clone(columns)
	var renames []Rename
	for _, axis := range coordinateAxes {
		if slices.Contains(out, axis.canonical) {
			continue
		}
		for i, c := range out {
			if axis.matches(c) {
				renames = append(renames, Rename{From: c, To: axis.canonical})
				out[i] = axis.canonical
				break
			}
		}
	}
	return out, renames
}

func (a coordinateAxis) matches(column string) bool {
	folded := cases.Fold().String(column)
	return slices.Contains(a.aliases, folded)
}

// Normalize canonicalizes coordinate column names, parses coordinate values
// to numbers and counts unparseable and out-of-range values. Other columns
// are copied unchanged. The input table is not modified.
func Normalize(t *Table) (*Table, Diagnostics) {
	var diag Diagnostics

	columns, renames := CanonicalizeColumns(t.Columns)
	diag.Renames = renames
	renamed := make(map[string]string, len(renames))
	for _, r := range renames {
		renamed[r.From] = r.To
	}

	rows := make([]Record, len(t.Rows))
	for i, r := range t.Rows {
		cells := make(map[string]Value, len(r.Cells))
		for c, v := range r.Cells {
			if to, ok := renamed[c]; ok {
				c = to
			}
			cells[c] = v
		}
		rows[i] = Record{Key: r.Key, Cells: cells}
	}

	for _, axis := range coordinateAxes {
		if !slices.Contains(columns, axis.canonical) {
			continue
		}
		diag.Coordinates = append(diag.Coordinates, normalizeAxis(rows, axis))
	}

	return &Table{KeyColumn: t.KeyColumn, Columns: columns, Rows: rows}, diag
}

func normalizeAxis(rows []Record, axis coordinateAxis) CoordinateStats {
	stats := CoordinateStats{Column: axis.canonical}
	for _, r := range rows {
		v, ok := r.Cells[axis.canonical]
		if !ok {
			stats.Nulls++
			continue
		}

		f, outcome := parseCoordinate(v)
		switch outcome {
		case coordinateNull:
			delete(r.Cells, axis.canonical)
			stats.Nulls++
			continue
		case coordinateInvalid:
			delete(r.Cells, axis.canonical)
			stats.Unparseable++
			continue
		}

		r.Cells[axis.canonical] = Number(f)
		stats.Parsed++
		if f < axis.min || f > axis.max {
			stats.OutOfRange++
		}
	}
	return stats
}

type coordinateOutcome int

const (
	coordinateParsed coordinateOutcome = iota
	coordinateNull
	coordinateInvalid
)

// ParseCoordinate parses a coordinate cell. ok is false for null markers and
// for values that cannot be parsed or are not finite; invalid distinguishes
// the latter.
func ParseCoordinate(raw string) (f float64, ok, invalid bool) {
	f, outcome := parseCoordinate(String(raw))
	return f, outcome == coordinateParsed, outcome == coordinateInvalid
}

func parseCoordinate(v Value) (float64, coordinateOutcome) {
	if f, isNum := v.Float(); isNum {
		switch {
		case math.IsNaN(f):
			return 0, coordinateNull
		case math.IsInf(f, 0):
			return 0, coordinateInvalid
		}
		return f, coordinateParsed
	}

	s := strings.TrimSpace(v.Text())
	if nullMarkers[s] {
		return 0, coordinateNull
	}
	s = strings.ReplaceAll(s, ",", ".")

	// ParseFloat also accepts hex floats and digit separators, which never
	// appear in decimal coordinate exports.
	if strings.ContainsAny(s, "xX_") {
		return 0, coordinateInvalid
	}
	// Infinities are rejected like overflowing literals so every stored
	// coordinate is finite.
	f, err := strconv.ParseFloat(s, 64)
	switch {
	case err != nil, math.IsInf(f, 0):
		return 0, coordinateInvalid
	case math.IsNaN(f):
		return 0, coordinateNull
	}
	return f, coordinateParsed
}
