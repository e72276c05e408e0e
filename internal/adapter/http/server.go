package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/snapshot-reconciler/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReportSource exposes the report of the last successful run.
type ReportSource interface {
	LastReport() (domain.Report, bool)
}

// Server exposes health, readiness, metrics and last-report HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and /report routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, reports ReportSource, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /report", handleReport(reports))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type coordinateJSON struct {
	Column      string `json:"column"`
	Parsed      int    `json:"parsed"`
	Nulls       int    `json:"nulls"`
	Unparseable int    `json:"unparseable"`
	OutOfRange  int    `json:"out_of_range"`
}

type reportJSON struct {
	StartedAt        time.Time         `json:"started_at"`
	DurationSeconds  float64           `json:"duration_seconds"`
	OlderSnapshot    string            `json:"older_snapshot,omitempty"`
	NewerSnapshot    string            `json:"newer_snapshot"`
	SingleSnapshot   bool              `json:"single_snapshot"`
	RowsMerged       int               `json:"rows_merged"`
	CellsOverwritten int               `json:"cells_overwritten"`
	CellsFilled      int               `json:"cells_filled"`
	MasterRows       int               `json:"master_rows"`
	MasterPath       string            `json:"master_path"`
	Renames          map[string]string `json:"renames,omitempty"`
	Coordinates      []coordinateJSON  `json:"coordinates"`
}

func toReportJSON(r domain.Report) reportJSON {
	out := reportJSON{
		StartedAt:        r.StartedAt.UTC(),
		DurationSeconds:  r.Duration.Seconds(),
		NewerSnapshot:    r.Selection.Newer.Name,
		SingleSnapshot:   r.Selection.Single(),
		RowsMerged:       r.Merge.RowsMerged,
		CellsOverwritten: r.Merge.CellsOverwritten,
		CellsFilled:      r.Merge.CellsFilled,
		MasterRows:       r.MasterRows,
		MasterPath:       r.MasterPath,
		Coordinates:      []coordinateJSON{},
	}
	if r.Selection.Older != nil {
		out.OlderSnapshot = r.Selection.Older.Name
	}
	if len(r.Diagnostics.Renames) > 0 {
		out.Renames = make(map[string]string, len(r.Diagnostics.Renames))
		for _, rn := range r.Diagnostics.Renames {
			out.Renames[rn.From] = rn.To
		}
	}
	for _, c := range r.Diagnostics.Coordinates {
		out.Coordinates = append(out.Coordinates, coordinateJSON(c))
	}
	return out
}

func handleReport(reports ReportSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		report, ok := reports.LastReport()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no successful run yet"})
			return
		}
		writeJSON(w, http.StatusOK, toReportJSON(report))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
