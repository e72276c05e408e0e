package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "snapshot_reconciler"

// Metrics holds the Prometheus counters, histograms, and gauges for reconciliation runs.
type Metrics struct {
	Runs        *prometheus.CounterVec // labels: outcome={success,error,lock_timeout,no_snapshots}
	RunDuration prometheus.Histogram
	LastSuccess prometheus.Gauge
	ServiceUp   prometheus.Gauge

	// Merge results of the last run.
	RowsMerged       prometheus.Gauge
	CellsOverwritten prometheus.Gauge
	CellsFilled      prometheus.Gauge
	MasterRows       prometheus.Gauge
	SingleSnapshot   prometheus.Gauge

	// Coordinate diagnostics of the last run.
	UnparseableValues *prometheus.GaugeVec // labels: column={latitude,longitude}
	OutOfRangeValues  *prometheus.GaugeVec // labels: column={latitude,longitude}

	// Kafka publishing of master rows.
	PublishedRecords prometheus.Counter
	PublishErrors    prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all reconciliation metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(m.collectors()...)
	m.gatherer = prometheus.DefaultGatherer
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics(false)
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.collectors()...)
	m.gatherer = reg
	return m
}

// WriteTextfile writes the current metric values in the node_exporter
// textfile collector format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.gatherer)
}

// Gatherer exposes the registry backing these metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return "test"
	}

	return &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      help("Reconciliation runs by outcome."),
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      help("Duration of a complete lock-select-merge-normalize-write run."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      help("Unix time of the last successful master write."),
		}),
		ServiceUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_running",
			Help:      help("1 when the periodic reconciler is active, 0 when shut down."),
		}),
		RowsMerged: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_merged",
			Help:      help("Size of the key union in the last merge."),
		}),
		CellsOverwritten: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cells_overwritten",
			Help:      help("Cells where the newer snapshot replaced a different older value in the last merge."),
		}),
		CellsFilled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cells_filled",
			Help:      help("Cells taken from the older snapshot because the newer one was empty."),
		}),
		MasterRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "master_rows",
			Help:      help("Rows in the last written master table."),
		}),
		SingleSnapshot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "single_snapshot",
			Help:      help("1 when the last run promoted a single snapshot without merging."),
		}),
		UnparseableValues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unparseable_values",
			Help:      help("Coordinate values that could not be parsed in the last run."),
		}, []string{"column"}),
		OutOfRangeValues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "out_of_range_values",
			Help:      help("Coordinate values outside the valid range in the last run."),
		}, []string{"column"}),
		PublishedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_records_total",
			Help:      help("Master rows published to Kafka."),
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      help("Failed attempts to publish the master table."),
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Runs,
		m.RunDuration,
		m.LastSuccess,
		m.ServiceUp,
		m.RowsMerged,
		m.CellsOverwritten,
		m.CellsFilled,
		m.MasterRows,
		m.SingleSnapshot,
		m.UnparseableValues,
		m.OutOfRangeValues,
		m.PublishedRecords,
		m.PublishErrors,
	}
}
