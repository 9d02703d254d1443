// Package metrics exposes ingestion counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BearBump/PitWall/internal/models"
)

const namespace = "pitwall"

// Row outcomes.
const (
	OutcomeInserted = "inserted"
	OutcomeSkipped  = "skipped"
	OutcomeDeleted  = "deleted"
)

// Error kinds.
const (
	KindAPI   = "api"
	KindBuild = "build"
	KindDB    = "db"
)

// Registry owns its collectors so that tests and several binaries in one
// process do not clash on the default registerer.
type Registry struct {
	reg *prometheus.Registry

	UpstreamRequests *prometheus.CounterVec
	Rows             *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	ImportRuns       *prometheus.CounterVec
	ImportDuration   *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "OpenF1 HTTP attempts by endpoint and status code (0 = transport error)",
		}, []string{"endpoint", "code"}),
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows written by dataset and outcome",
		}, []string{"dataset", "outcome"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Import errors by dataset and kind",
		}, []string{"dataset", "kind"}),
		ImportRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_runs_total",
			Help:      "Finished import runs by dataset and status",
		}, []string{"dataset", "status"}),
		ImportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Wall time of import runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"dataset"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Read API cache lookups by result",
		}, []string{"result"}),
	}
	r.reg.MustRegister(
		r.UpstreamRequests, r.Rows, r.Errors, r.ImportRuns, r.ImportDuration, r.CacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveRequest matches openf1.RequestObserver.
func (r *Registry) ObserveRequest(endpoint string, statusCode int, _ error) {
	r.UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
}

// ObserveChunk folds one finished unit of telemetry work into the counters.
func (r *Registry) ObserveChunk(dataset string, inserted, skipped, deleted int64, apiErr, buildErrs, dbErr int64) {
	r.add(r.Rows, dataset, OutcomeInserted, inserted)
	r.add(r.Rows, dataset, OutcomeSkipped, skipped)
	r.add(r.Rows, dataset, OutcomeDeleted, deleted)
	r.add(r.Errors, dataset, KindAPI, apiErr)
	r.add(r.Errors, dataset, KindBuild, buildErrs)
	r.add(r.Errors, dataset, KindDB, dbErr)
}

// ObserveRun records a finished run. Telemetry rows are counted per chunk,
// so catalog runs are the only ones whose rows are added here.
func (r *Registry) ObserveRun(s models.ImportSummary, countRows bool) {
	status := "ok"
	switch {
	case s.Aborted != "":
		status = "aborted"
	case s.Errors() > 0:
		status = "partial"
	}
	r.ImportRuns.WithLabelValues(s.Dataset, status).Inc()
	if !s.FinishedAt.IsZero() && !s.StartedAt.IsZero() {
		r.ImportDuration.WithLabelValues(s.Dataset).Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	}
	if countRows {
		r.ObserveChunk(s.Dataset, s.Inserted, s.Skipped, s.Deleted, s.APIErrors, s.BuildErrors, s.DBErrors)
	}
}

func (r *Registry) ObserveCache(hit bool) {
	if hit {
		r.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	r.CacheLookups.WithLabelValues("miss").Inc()
}

func (r *Registry) add(v *prometheus.CounterVec, dataset, label string, n int64) {
	if n <= 0 {
		return
	}
	v.WithLabelValues(dataset, label).Add(float64(n))
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Timeout: 10 * time.Second})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
