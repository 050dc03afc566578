package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aw_sync"

// Metrics holds the sync collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	records         *prometheus.CounterVec
	bucketErrors    prometheus.Counter
	batches         *prometheus.CounterVec
	ruleRefreshes   *prometheus.CounterVec
	retentionClamps prometheus.Counter
	narrowings      prometheus.Counter
	spooled         prometheus.Gauge
	cycleDuration   prometheus.Histogram
	lastSuccess     prometheus.Gauge
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Sync cycles by final status.",
		}, []string{"status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Raw events processed by outcome.",
		}, []string{"outcome"}),
		bucketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bucket_errors_total",
			Help:      "Buckets that could not be processed.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "batches_total",
			Help:      "Upload batches by result.",
		}, []string{"result"}),
		ruleRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "refreshes_total",
			Help:      "Category rule refreshes by result.",
		}, []string{"result"}),
		retentionClamps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_clamps_total",
			Help:      "Cycles whose window start was clamped to the source retention horizon.",
		}),
		narrowings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_narrowings_total",
			Help:      "Times a cycle window was shortened because a bucket hit the page limit.",
		}),
		spooled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "spool",
			Name:      "pending_records",
			Help:      "Records waiting in the local spool.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a sync cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the end of the last successfully synced window.",
		}),
	}

	m.registry.MustRegister(
		m.cycles, m.records, m.bucketErrors, m.batches, m.ruleRefreshes,
		m.retentionClamps, m.narrowings, m.spooled, m.cycleDuration, m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle counts a finished cycle by status and records its duration
func (m *Metrics) ObserveCycle(status string, d time.Duration) {
	m.cycles.WithLabelValues(status).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// AddRecords counts per-item outcomes of the transform pipeline
func (m *Metrics) AddRecords(emitted, excluded, failed int) {
	m.records.WithLabelValues("emitted").Add(float64(emitted))
	m.records.WithLabelValues("excluded").Add(float64(excluded))
	m.records.WithLabelValues("failed").Add(float64(failed))
}

// AddBucketErrors counts buckets skipped after a fetch error
func (m *Metrics) AddBucketErrors(n int) {
	m.bucketErrors.Add(float64(n))
}

// AddBatches counts upload batches with the given result label
func (m *Metrics) AddBatches(result string, n int) {
	m.batches.WithLabelValues(result).Add(float64(n))
}

// RuleRefresh counts one category rule refresh
func (m *Metrics) RuleRefresh(result string) {
	m.ruleRefreshes.WithLabelValues(result).Inc()
}

// RetentionClamped counts a window start moved up to the retention horizon
func (m *Metrics) RetentionClamped() {
	m.retentionClamps.Inc()
}

// WindowNarrowed counts a window shortened to stay within the page limit
func (m *Metrics) WindowNarrowed() {
	m.narrowings.Inc()
}

// SetSpooled reports the number of records waiting in the spool
func (m *Metrics) SetSpooled(n int) {
	m.spooled.Set(float64(n))
}

// SetLastSuccess records the end of the last successfully synced window
func (m *Metrics) SetLastSuccess(t time.Time) {
	m.lastSuccess.Set(float64(t.Unix()))
}
