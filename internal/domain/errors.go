package domain

import "errors"

var (
	// ErrNoSnapshotsFound is returned when no file matches the dated snapshot pattern.
	ErrNoSnapshotsFound = errors.New("no dated snapshots found")

	// ErrMissingPrimaryKey is returned when a table lacks the key column, or a
	// row has an empty key.
	ErrMissingPrimaryKey = errors.New("missing primary key column")

	// ErrNoPrimaryKey is returned by Merge when neither input has a key column.
	ErrNoPrimaryKey = errors.New("no primary key column in either table")

	// ErrDuplicateKey is returned when one table contains the same key twice.
	ErrDuplicateKey = errors.New("duplicate primary key")

	// ErrLockTimeout is returned when the run lock could not be acquired in time.
	ErrLockTimeout = errors.New("timed out acquiring run lock")
)
