package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/snapshot-reconciler/internal/domain"
	"github.com/jonboulle/clockwork"
)

// RawStore reads and writes delimited files without interpreting them.
type RawStore interface {
	Exists(ctx context.Context, name string) (bool, error)
	ReadRows(ctx context.Context, name string) ([][]string, error)
	WriteRows(ctx context.Context, name string, rows [][]string) (string, error)
	Remove(ctx context.Context, name string) (bool, error)
}

// Stamper turns the most recent raw export into today's dated snapshot.
type Stamper struct {
	store   RawStore
	locker  Locker
	pattern domain.SnapshotPattern
	latest  string
	raw     string
	logger  *slog.Logger
	clock   clockwork.Clock
}

// NewStamper creates a Stamper reading latest and cleaning up raw, the
// original download, once the dated copy exists.
func NewStamper(store RawStore, locker Locker, pattern domain.SnapshotPattern, latest, raw string, logger *slog.Logger) *Stamper {
	return &Stamper{
		store:   store,
		locker:  locker,
		pattern: pattern,
		latest:  latest,
		raw:     raw,
		logger:  logger,
		clock:   clockwork.NewRealClock(),
	}
}

// SetClock swaps the time source that decides today's snapshot date.
func (s *Stamper) SetClock(c clockwork.Clock) {
	s.clock = c
}

// Stamp writes the latest export as "<prefix>_<today>.<ext>" with coordinate
// column names canonicalized, and returns the written path. Values are
// copied verbatim. A snapshot already stamped today is replaced, with a
// warning.
func (s *Stamper) Stamp(ctx context.Context) (string, error) {
	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			s.logger.Warn("release run lock failed", "error", uerr)
		}
	}()

	rows, err := s.store.ReadRows(ctx, s.latest)
	if err != nil {
		return "", fmt.Errorf("read latest export: %w", err)
	}
	if len(rows) == 0 {
		return "", errors.New("latest export is empty")
	}

	header, renames := domain.CanonicalizeColumns(rows[0])
	rows[0] = header
	for _, rn := range renames {
		s.logger.Info("column renamed", "from", rn.From, "to", rn.To)
	}

	name := s.pattern.FileName(domain.SnapshotDate(s.clock.Now()))
	exists, err := s.store.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if exists {
		s.logger.Warn("dated snapshot already exists, replacing it", "name", name)
	}

	path, err := s.store.WriteRows(ctx, name, rows)
	if err != nil {
		return "", err
	}
	s.logger.Info("dated snapshot written", "path", path, "rows", len(rows)-1)

	if s.raw != "" && s.raw != s.latest && s.raw != name {
		removed, err := s.store.Remove(ctx, s.raw)
		switch {
		case err != nil:
			s.logger.Warn("remove raw download failed", "name", s.raw, "error", err)
		case removed:
			s.logger.Info("raw download removed", "name", s.raw)
		}
	}
	return path, nil
}
