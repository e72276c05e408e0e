// Command reconciler merges dated snapshot exports into a single master file.
//
// Usage:
//
//	reconciler stamp       # copy the latest export to <prefix>_<today>.<ext>
//	reconciler reconcile   # merge the two newest snapshots into the master file
//	reconciler serve       # reconcile periodically and serve /healthz, /readyz, /metrics
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/snapshot-reconciler/internal/observability"
	"github.com/jonboulle/clockwork"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(observability.NewMetrics, clockwork.NewRealClock()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
