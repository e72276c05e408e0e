package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/snapshot-reconciler/internal/adapter/filestore"
	httpadapter "github.com/couchcryptid/snapshot-reconciler/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/snapshot-reconciler/internal/adapter/kafka"
	"github.com/couchcryptid/snapshot-reconciler/internal/config"
	"github.com/couchcryptid/snapshot-reconciler/internal/domain"
	"github.com/couchcryptid/snapshot-reconciler/internal/observability"
	"github.com/couchcryptid/snapshot-reconciler/internal/pipeline"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

// app carries the dependencies shared by every subcommand. It is populated
// by the root command's PersistentPreRunE.
type app struct {
	envFile    string
	dataDir    string
	newMetrics func() *observability.Metrics
	clock      clockwork.Clock

	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	store   *filestore.Store
	pattern domain.SnapshotPattern
}

func newRootCmd(newMetrics func() *observability.Metrics, clock clockwork.Clock) *cobra.Command {
	a := &app{newMetrics: newMetrics, clock: clock}

	root := &cobra.Command{
		Use:   "reconciler",
		Short: "Merge dated snapshot exports into a master file",
		Long: `reconciler keeps a master table built from periodic, dated exports.

Each run picks the two most recent <prefix>_YYYYMMDD.<ext> files in the data
directory, merges them row by row on the primary key (newer values win, older
values fill the gaps), normalizes the coordinate columns and atomically
replaces the master file.

Settings come from the environment (DATA_DIR, SNAPSHOT_PREFIX, KEY_COLUMN,
LOCK_TIMEOUT, KAFKA_BROKERS and others), optionally seeded from --env-file.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory (overrides DATA_DIR)")

	root.AddCommand(
		newReconcileCmd(a),
		newStampCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) setup(_ *cobra.Command, _ []string) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}

	a.cfg = cfg
	a.logger = observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	a.metrics = a.newMetrics()
	a.store = filestore.NewStore(cfg, a.logger)
	a.pattern = domain.NewSnapshotPattern(cfg.SnapshotPrefix, cfg.SnapshotExt)
	return nil
}

func newReconcileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Merge the two newest snapshots into the master file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			publisher, closePublisher := a.publisher()
			defer closePublisher()

			r := a.reconciler(publisher)
			report, err := r.RunOnce(cmd.Context())
			a.writeTextfile()
			if err != nil {
				a.logger.Error("reconciliation failed", "error", err)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.MasterPath)
			return nil
		},
	}
}

func newStampCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stamp",
		Short: "Copy the latest export to today's dated snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := pipeline.NewStamper(a.store, a.store, a.pattern, a.cfg.LatestFilename, a.cfg.RawFilename, a.logger)
			s.SetClock(a.clock)
			path, err := s.Stamp(cmd.Context())
			if err != nil {
				a.logger.Error("stamp failed", "error", err)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Reconcile every RECONCILE_INTERVAL and serve health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			publisher, closePublisher := a.publisher()
			defer closePublisher()

			r := a.reconciler(publisher)
			srv := httpadapter.NewServer(a.cfg.HTTPAddr, r, r, a.metrics.Gatherer(), a.logger)

			// Start HTTP server.
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("http server error", "error", err)
				}
			}()

			var wake <-chan struct{}
			if a.cfg.WatchDataDir {
				w, err := a.store.Watch(ctx, a.pattern)
				if err != nil {
					a.logger.Warn("snapshot watching disabled", "error", err)
				} else {
					wake = w
				}
			}

			if err := r.Run(ctx, a.cfg.ReconcileInterval, wake); err != nil {
				a.logger.Error("reconciler error", "error", err)
			}
			a.logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("http server shutdown error", "error", err)
			}

			a.logger.Info("shutdown complete")
			return nil
		},
	}
}

func (a *app) reconciler(publisher pipeline.Publisher) *pipeline.Reconciler {
	r := pipeline.New(a.store, a.store, publisher, a.pattern, a.logger, a.metrics)
	r.SetClock(a.clock)
	return r
}

// publisher returns the Kafka sink when brokers are configured. The returned
// pipeline.Publisher is nil otherwise.
func (a *app) publisher() (pipeline.Publisher, func()) {
	if !a.cfg.KafkaEnabled {
		a.logger.Debug("kafka publishing disabled")
		return nil, func() {}
	}

	w := kafkaadapter.NewWriter(a.cfg, a.logger)
	a.logger.Info("kafka publishing enabled", "brokers", a.cfg.KafkaBrokers, "topic", a.cfg.KafkaMasterTopic)
	return w, func() {
		if err := w.Close(); err != nil {
			a.logger.Error("kafka writer close error", "error", err)
		}
	}
}

func (a *app) writeTextfile() {
	if a.cfg.MetricsTextfile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
		a.logger.Warn("write metrics textfile failed", "path", a.cfg.MetricsTextfile, "error", err)
	}
}
