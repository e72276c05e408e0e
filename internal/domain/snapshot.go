package domain

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

const snapshotDateLayout = "20060102"

// Snapshot identifies one dated snapshot file.
type Snapshot struct {
	Name string
	Date time.Time
}

// SnapshotPattern matches "<prefix>_<YYYYMMDD>.<ext>" file names.
type SnapshotPattern struct {
	prefix string
	ext    string
	re     *regexp.Regexp
}

// NewSnapshotPattern builds the pattern for the given prefix and extension
// (without the leading dot).
func NewSnapshotPattern(prefix, ext string) SnapshotPattern {
	ext = strings.TrimPrefix(ext, ".")
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `_(\d{8})\.` + regexp.QuoteMeta(ext) + `$`)
	return SnapshotPattern{prefix: prefix, ext: ext, re: re}
}

// Match parses the embedded date from name. Names that do not match the
// pattern, or whose digits are not a valid date, report false.
func (p SnapshotPattern) Match(name string) (Snapshot, bool) {
	m := p.re.FindStringSubmatch(name)
	if m == nil {
		return Snapshot{}, false
	}
	date, err := time.Parse(snapshotDateLayout, m[1])
	if err != nil {
		return Snapshot{}, false
	}
	return Snapshot{Name: name, Date: date}, true
}

// SnapshotDate returns the calendar date of now, as midnight UTC, so it
// formats as a snapshot date regardless of now's location.
func SnapshotDate(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// FileName returns the snapshot file name for date.
func (p SnapshotPattern) FileName(date time.Time) string {
	return fmt.Sprintf("%s_%s.%s", p.prefix, date.Format(snapshotDateLayout), p.ext)
}

// Selection is the outcome of SelectSnapshots. Older is nil in
// single-snapshot mode.
type Selection struct {
	Older      *Snapshot
	Newer      Snapshot
	Candidates []Snapshot
}

// Single reports whether only one snapshot was available.
func (s Selection) Single() bool { return s.Older == nil }

// Files returns the selected snapshots, older first.
func (s Selection) Files() []Snapshot {
	if s.Older == nil {
		return []Snapshot{s.Newer}
	}
	return []Snapshot{*s.Older, s.Newer}
}

// MatchSnapshots returns the names matching p in ascending date order.
func MatchSnapshots(names []string, p SnapshotPattern) []Snapshot {
	var out []Snapshot
	for _, name := range names {
		if s, ok := p.Match(name); ok {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// SelectSnapshots picks the two most recent snapshots from names, older
// first, or the only one when a single snapshot matches.
func SelectSnapshots(names []string, p SnapshotPattern) (Selection, error) {
	matched := MatchSnapshots(names, p)
	switch len(matched) {
	case 0:
		return Selection{}, ErrNoSnapshotsFound
	case 1:
		return Selection{Newer: matched[0], Candidates: matched}, nil
	}
	older := matched[len(matched)-2]
	return Selection{
		Older:      &older,
		Newer:      matched[len(matched)-1],
		Candidates: matched,
	}, nil
}
