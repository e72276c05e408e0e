// Package domain models dated dataset snapshots and their reconciliation into
// a single master table.
//
// # Snapshot Files
//
// Snapshots are CSV exports captured once per day and named after the capture
// date:
//
//	"<prefix>_<YYYYMMDD>.<ext>"  →  e.g. "Pharmacies_20240426.csv"
//
// Names whose eight digits do not form a calendar date (e.g. "20241340") are
// ignored. Once written, a dated snapshot is never modified by the reconciler.
//
// # Tables
//
// A [Table] holds records keyed by an opaque primary key (the "ID" column by
// default). Keys are kept as raw text and ordered by [CompareKeys]: when every
// key in a set parses as a finite number they sort numerically, otherwise they
// sort byte-wise. Cells are nullable; an empty CSV field is null.
//
// # Merge Semantics
//
// [Merge] combines an older and a newer table cell by cell:
//
//	newer[key][col] if non-null, else older[key][col], else null
//
// Keys and columns are the unions of both inputs. Columns keep the older
// table's order, with columns only present in the newer table appended.
//
// # Coordinate Normalization
//
// [Normalize] recognizes coordinate column aliases case-insensitively:
//
//	latitude:  latitude, lat
//	longitude: longitude, lon, lng, long
//
// The first alias found in column order is renamed to the canonical name,
// unless the canonical column already exists. Values are trimmed, "", "nan"
// and "None" become null, a decimal comma is accepted ("40,5" → 40.5), and
// anything else that fails to parse becomes null and is counted. Values
// outside [-90, 90] (latitude) or [-180, 180] (longitude) are kept and counted.
package domain
