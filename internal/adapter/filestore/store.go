// Package filestore keeps snapshots, the master table and the run lock in a
// single data directory.
package filestore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/snapshot-reconciler/internal/config"
	"github.com/couchcryptid/snapshot-reconciler/internal/domain"
	"github.com/gofrs/flock"
)

const lockRetryDelay = 100 * time.Millisecond

// Store reads and writes the files of one data directory.
// It implements pipeline.Repository and pipeline.Locker.
type Store struct {
	dir         string
	keyColumn   string
	delimiter   rune
	master      string
	report      string
	lockFile    string
	lockTimeout time.Duration
	logger      *slog.Logger
}

// NewStore creates a Store for the configured data directory.
func NewStore(cfg *config.Config, logger *slog.Logger) *Store {
	return &Store{
		dir:         cfg.DataDir,
		keyColumn:   cfg.KeyColumn,
		delimiter:   cfg.Delimiter,
		master:      cfg.MasterFilename,
		report:      cfg.ReportFilename,
		lockFile:    cfg.LockFilename,
		lockTimeout: cfg.LockTimeout,
		logger:      logger,
	}
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// MasterPath returns the path of the master table.
func (s *Store) MasterPath() string { return filepath.Join(s.dir, s.master) }

// ListSnapshots returns the names of regular files in the data directory.
// A missing directory has no snapshots.
func (s *Store) ListSnapshots(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// LoadSnapshot reads one snapshot into a table keyed by the configured key column.
func (s *Store) LoadSnapshot(_ context.Context, name string) (*domain.Table, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	defer f.Close()

	t, err := ReadTable(f, s.keyColumn, s.delimiter)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	s.logger.Debug("snapshot loaded", "name", name, "rows", len(t.Rows), "columns", len(t.Columns))
	return t, nil
}

// WriteMaster atomically replaces the master table and returns its path.
func (s *Store) WriteMaster(_ context.Context, t *domain.Table) (string, error) {
	path := s.MasterPath()
	err := writeAtomic(path, func(w io.Writer) error {
		return WriteTable(w, t, s.delimiter)
	})
	if err != nil {
		return "", fmt.Errorf("write master: %w", err)
	}
	return path, nil
}

// Exists reports whether name is present in the data directory.
func (s *Store) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.dir, name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// ReadRows reads a delimited file without interpreting any column.
func (s *Store) ReadRows(_ context.Context, name string) ([][]string, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := readRows(f, s.delimiter)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return rows, nil
}

// WriteRows atomically writes rows to name inside the data directory.
func (s *Store) WriteRows(_ context.Context, name string, rows [][]string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, name)
	err := writeAtomic(path, func(w io.Writer) error {
		return writeRows(w, rows, s.delimiter)
	})
	if err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// Remove deletes name from the data directory. A missing file is not an error;
// removed reports whether a file was deleted.
func (s *Store) Remove(_ context.Context, name string) (removed bool, err error) {
	err = os.Remove(filepath.Join(s.dir, name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Lock acquires the advisory run lock, waiting at most the configured timeout.
// The returned function releases the lock.
func (s *Store) Lock(ctx context.Context) (func() error, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	fl := flock.New(filepath.Join(s.dir, s.lockFile))

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	ok, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || (err == nil && !ok) {
		return nil, fmt.Errorf("%w after %s (%s)", domain.ErrLockTimeout, s.lockTimeout, fl.Path())
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return fl.Unlock, nil
}

// writeAtomic writes to a temporary file in the destination directory and
// renames it over path, so readers see either the old or the new content.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	committed = true
	return nil
}
