package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/snapshot-reconciler/internal/domain"
	"github.com/couchcryptid/snapshot-reconciler/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Repository lists, loads and persists tables in the data directory.
type Repository interface {
	ListSnapshots(ctx context.Context) ([]string, error)
	LoadSnapshot(ctx context.Context, name string) (*domain.Table, error)
	WriteMaster(ctx context.Context, t *domain.Table) (string, error)
	WriteReport(ctx context.Context, report domain.Report) error
}

// Locker serializes runs against the same data directory. The returned
// function releases the lock.
type Locker interface {
	Lock(ctx context.Context) (func() error, error)
}

// Publisher forwards the written master table to downstream consumers.
type Publisher interface {
	PublishMaster(ctx context.Context, t *domain.Table, sel domain.Selection) (int, error)
}

const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute
)

// Reconciler runs the select-load-merge-normalize-write pass.
type Reconciler struct {
	repo      Repository
	locker    Locker
	publisher Publisher
	pattern   domain.SnapshotPattern
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	ready     atomic.Bool
	last      atomic.Pointer[domain.Report]
}

// New creates a Reconciler. Pass a nil publisher to disable publishing.
func New(repo Repository, locker Locker, publisher Publisher, pattern domain.SnapshotPattern, logger *slog.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		pattern:   pattern,
		logger:    logger,
		metrics:   metrics,
		clock:     clockwork.NewRealClock(),
	}
}

// SetClock swaps the time source used for timing runs and scheduling.
func (r *Reconciler) SetClock(c clockwork.Clock) {
	r.clock = c
}

// CheckReadiness returns nil once a master table has been written, or an
// error describing why the service is not yet ready.
func (r *Reconciler) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no master table written yet")
	}
	return nil
}

// LastReport returns the report of the most recent successful run.
func (r *Reconciler) LastReport() (domain.Report, bool) {
	p := r.last.Load()
	if p == nil {
		return domain.Report{}, false
	}
	return *p, true
}

// RunOnce performs one reconciliation pass. Fatal errors abort before the
// master table is written, leaving the previous master untouched.
func (r *Reconciler) RunOnce(ctx context.Context) (domain.Report, error) {
	start := r.clock.Now()
	report, master, err := r.reconcile(ctx, start)
	report.Duration = r.clock.Since(start)
	r.observe(report, err)
	if err != nil {
		return report, err
	}

	r.last.Store(&report)
	r.ready.Store(true)
	r.logger.Info("master table written", append([]any{"path", report.MasterPath}, report.LogAttrs()...)...)
	r.publish(ctx, master, report.Selection)
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, start time.Time) (report domain.Report, master *domain.Table, err error) {
	report.StartedAt = start

	unlock, err := r.locker.Lock(ctx)
	if err != nil {
		return report, nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			r.logger.Warn("release run lock failed", "error", uerr)
		}
	}()

	names, err := r.repo.ListSnapshots(ctx)
	if err != nil {
		return report, nil, err
	}
	sel, err := domain.SelectSnapshots(names, r.pattern)
	if err != nil {
		return report, nil, err
	}
	report.Selection = sel

	merged, stats, err := r.mergeSelection(ctx, sel)
	if err != nil {
		return report, nil, err
	}
	report.Merge = stats

	master, diag := domain.Normalize(merged)
	report.Diagnostics = diag
	r.logDiagnostics(diag, len(master.Rows))

	if err := ctx.Err(); err != nil {
		return report, nil, err
	}

	path, err := r.repo.WriteMaster(ctx, master)
	if err != nil {
		return report, nil, err
	}
	report.MasterPath = path
	report.MasterRows = len(master.Rows)
	report.Duration = r.clock.Since(start)

	if err := r.repo.WriteReport(ctx, report); err != nil {
		r.logger.Warn("write diagnostics report failed", "error", err)
	}
	return report, master, nil
}

// mergeSelection loads the selected snapshots and merges them. In
// single-snapshot mode the only snapshot is promoted unchanged.
func (r *Reconciler) mergeSelection(ctx context.Context, sel domain.Selection) (*domain.Table, domain.MergeStats, error) {
	newer, err := r.repo.LoadSnapshot(ctx, sel.Newer.Name)
	if err != nil {
		return nil, domain.MergeStats{}, err
	}

	if sel.Single() {
		r.logger.Info("single snapshot found, promoting to master", "snapshot", sel.Newer.Name)
		return newer, domain.MergeStats{RowsMerged: len(newer.Rows)}, nil
	}

	older, err := r.repo.LoadSnapshot(ctx, sel.Older.Name)
	if err != nil {
		return nil, domain.MergeStats{}, err
	}
	r.logger.Info("merging snapshots",
		"older", sel.Older.Name, "older_date", sel.Older.Date.Format(time.DateOnly),
		"newer", sel.Newer.Name, "newer_date", sel.Newer.Date.Format(time.DateOnly),
	)

	merged, stats, err := domain.Merge(older, newer)
	if err != nil {
		return nil, stats, fmt.Errorf("merge %s into %s: %w", sel.Newer.Name, sel.Older.Name, err)
	}
	return merged, stats, nil
}

func (r *Reconciler) logDiagnostics(diag domain.Diagnostics, rows int) {
	for _, rn := range diag.Renames {
		r.logger.Info("column renamed", "from", rn.From, "to", rn.To)
	}
	for _, c := range diag.Coordinates {
		if c.Unparseable > 0 {
			r.logger.Warn("unparseable coordinate values set to null",
				"column", c.Column, "count", c.Unparseable, "rows", rows)
		}
		if c.OutOfRange > 0 {
			r.logger.Warn("coordinate values out of range",
				"column", c.Column, "count", c.OutOfRange, "rows", rows)
		}
	}
}

func (r *Reconciler) publish(ctx context.Context, master *domain.Table, sel domain.Selection) {
	if r.publisher == nil {
		return
	}
	n, err := r.publisher.PublishMaster(ctx, master, sel)
	r.metrics.PublishedRecords.Add(float64(n))
	if err != nil {
		r.metrics.PublishErrors.Inc()
		r.logger.Error("publish master table failed", "error", err, "published", n)
		return
	}
	r.logger.Info("master table published", "records", n)
}

func (r *Reconciler) observe(report domain.Report, err error) {
	r.metrics.RunDuration.Observe(report.Duration.Seconds())
	r.metrics.Runs.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return
	}

	r.metrics.LastSuccess.Set(float64(r.clock.Now().Unix()))
	r.metrics.RowsMerged.Set(float64(report.Merge.RowsMerged))
	r.metrics.CellsOverwritten.Set(float64(report.Merge.CellsOverwritten))
	r.metrics.CellsFilled.Set(float64(report.Merge.CellsFilled))
	r.metrics.MasterRows.Set(float64(report.MasterRows))
	single := 0.0
	if report.Selection.Single() {
		single = 1
	}
	r.metrics.SingleSnapshot.Set(single)
	for _, column := range []string{domain.ColumnLatitude, domain.ColumnLongitude} {
		r.metrics.UnparseableValues.WithLabelValues(column).Set(float64(report.Diagnostics.Unparseable(column)))
		r.metrics.OutOfRangeValues.WithLabelValues(column).Set(float64(report.Diagnostics.OutOfRange(column)))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, domain.ErrNoSnapshotsFound):
		return "no_snapshots"
	default:
		return "error"
	}
}

// Run reconciles every interval until the context is cancelled. A signal on
// wake starts the next pass early; a nil wake channel never fires. Failed
// runs are retried with exponential backoff, never waiting longer than
// interval.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration, wake <-chan struct{}) error {
	r.logger.Info("reconciler started", "interval", interval, "watching", wake != nil)
	r.metrics.ServiceUp.Set(1)
	defer r.metrics.ServiceUp.Set(0)

	backoff := initialBackoff
	for {
		wait := interval
		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				r.logger.Info("reconciler stopping", "reason", ctx.Err())
				return nil
			}
			wait = min(backoff, interval)
			r.logger.Error("reconciliation failed", "error", err, "retry_in", wait)
			backoff = nextBackoff(backoff, maxBackoff)
		} else {
			backoff = initialBackoff
		}

		if !waitNext(ctx, r.clock, wait, wake) {
			r.logger.Info("reconciler stopping", "reason", ctx.Err())
			return nil
		}
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// waitNext blocks until d elapses or wake fires. It returns false once ctx
// is done.
func waitNext(ctx context.Context, clock clockwork.Clock, d time.Duration, wake <-chan struct{}) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	case <-wake:
		return ctx.Err() == nil
	}
}
