// Package metrics exposes Prometheus metrics for annotrack.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "annotrack"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	syncRuns          *prometheus.CounterVec
	syncDuration      prometheus.Histogram
	recordsReconciled *prometheus.CounterVec
	foldersSkipped    prometheus.Counter
	fetches           *prometheus.CounterVec
	fetchRetries      prometheus.Counter
	webhookRejections *prometheus.CounterVec
	sheetRows         *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		syncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_runs_total",
			Help: "Sync pipeline runs by final status.",
		}, []string{"status"}),
		syncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sync_duration_seconds",
			Help:    "Wall time of sync pipeline runs.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		recordsReconciled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_reconciled_total",
			Help: "Reconciled annotator records by outcome.",
		}, []string{"outcome"}),
		foldersSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "report_folders_skipped_total",
			Help: "Report folders that failed to parse.",
		}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "remote_fetches_total",
			Help: "Remote repository requests by result.",
		}, []string{"result"}),
		fetchRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "remote_fetch_retries_total",
			Help: "Retried remote repository requests.",
		}),
		webhookRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_rejections_total",
			Help: "Rejected webhook deliveries by reason.",
		}, []string{"reason"}),
		sheetRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sheet_rows_written_total",
			Help: "Rows appended to spreadsheets by tab.",
		}, []string{"tab"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveSync(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(status).Inc()
	m.syncDuration.Observe(d.Seconds())
}

func (m *Metrics) AddReconciled(inserted, updated, unchanged int) {
	if m == nil {
		return
	}
	m.recordsReconciled.WithLabelValues("inserted").Add(float64(inserted))
	m.recordsReconciled.WithLabelValues("updated").Add(float64(updated))
	m.recordsReconciled.WithLabelValues("unchanged").Add(float64(unchanged))
}

func (m *Metrics) AddSkippedFolders(n int) {
	if m == nil || n == 0 {
		return
	}
	m.foldersSkipped.Add(float64(n))
}

// FetchDone counts a finished remote request; result is "ok", "not_found" or "error".
func (m *Metrics) FetchDone(result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
}

func (m *Metrics) FetchRetried() {
	if m == nil {
		return
	}
	m.fetchRetries.Inc()
}

func (m *Metrics) WebhookRejected(reason string) {
	if m == nil {
		return
	}
	m.webhookRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) SheetRowsWritten(tab string, n int) {
	if m == nil {
		return
	}
	m.sheetRows.WithLabelValues(tab).Add(float64(n))
}

func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
