package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/cliniclink-api/internal/models"
	"github.com/noah-isme/cliniclink-api/pkg/jobs"
)

const metricsNamespace = "cliniclink"

// MetricsService owns a private Prometheus registry. It also keeps plain
// counters so /metrics/system can answer without scraping the registry.
// All methods are safe on a nil receiver.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	httpDuration *prometheus.HistogramVec
	httpTotal    *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	cacheLatency prometheus.Histogram
	cacheWrite   prometheus.Histogram
	cacheRatio   prometheus.Gauge
	dbDuration   *prometheus.HistogramVec
	submitted    *prometheus.CounterVec
	exports      *prometheus.HistogramVec

	requests, requestNanos atomic.Uint64
	hits, misses           atomic.Uint64
	queries, queryNanos    atomic.Uint64
	exportFailures         atomic.Uint64

	mu              sync.Mutex
	submittedByType map[string]uint64
	exportsByFormat map[string]uint64
}

func NewMetricsService() *MetricsService {
	m := &MetricsService{
		registry:        prometheus.NewRegistry(),
		submittedByType: map[string]uint64{},
		exportsByFormat: map[string]uint64{},
	}
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route template.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
	m.httpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route template and status.",
	}, []string{"method", "path", "status"})
	m.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cache_lookups_total",
		Help:      "Template cache lookups by result.",
	}, []string{"result"})
	m.cacheLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "cache_read_seconds",
		Help:      "Template cache read latency.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
	})
	m.cacheWrite = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "cache_write_seconds",
		Help:      "Template cache write latency.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
	})
	m.cacheRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "cache_hit_ratio",
		Help:      "Template cache hits over lookups since start.",
	})
	m.dbDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "db_query_duration_seconds",
		Help:      "Latency of instrumented queries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"query"})
	m.submitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "evaluations_submitted_total",
		Help:      "Evaluations moved to submitted, by evaluation type.",
	}, []string{"type"})
	m.exports = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "export_duration_seconds",
		Help:      "Report export generation time by format and outcome.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"format", "outcome"})

	m.registry.MustRegister(
		m.httpDuration, m.httpTotal,
		m.cacheLookups, m.cacheLatency, m.cacheWrite, m.cacheRatio,
		m.dbDuration, m.submitted, m.exports,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return m
}

// TrackQueue exports the depth and throughput of a job queue.
func (m *MetricsService) TrackQueue(q *jobs.Queue) {
	if m == nil || q == nil {
		return
	}
	labels := prometheus.Labels{"queue": q.Name()}
	gauge := func(name, help string, value func(jobs.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return value(q.Stats()) })
	}
	counter := func(name, help string, value func(jobs.Stats) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return value(q.Stats()) })
	}
	m.registry.MustRegister(
		gauge("queue_pending_jobs", "Jobs waiting for a worker.", func(s jobs.Stats) float64 { return float64(s.Pending) }),
		gauge("queue_in_flight_jobs", "Jobs being handled.", func(s jobs.Stats) float64 { return float64(s.InFlight) }),
		counter("queue_succeeded_total", "Jobs handled successfully.", func(s jobs.Stats) float64 { return float64(s.Succeeded) }),
		counter("queue_retried_total", "Job retries scheduled.", func(s jobs.Stats) float64 { return float64(s.Retried) }),
		counter("queue_dropped_total", "Jobs abandoned after exhausting retries.", func(s jobs.Stats) float64 { return float64(s.Dropped) }),
	)
}

// Handler serves the registry in the Prometheus text format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one request. path must be a route template.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.httpTotal.WithLabelValues(method, path, code).Inc()
	m.requests.Add(1)
	m.requestNanos.Add(uint64(duration))
}

func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		m.hits.Add(1)
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
		m.misses.Add(1)
	}
	m.cacheRatio.Set(ratio(m.hits.Load(), m.misses.Load()))
}

func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbDuration.WithLabelValues(label).Observe(duration.Seconds())
	m.queries.Add(1)
	m.queryNanos.Add(uint64(duration))
}

func (m *MetricsService) RecordEvaluationSubmitted(evaluationType models.EvaluationType) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(string(evaluationType)).Inc()
	m.mu.Lock()
	m.submittedByType[string(evaluationType)]++
	m.mu.Unlock()
}

// RecordExport records one export attempt. Only successful exports count
// towards the per-format totals in Snapshot.
func (m *MetricsService) RecordExport(format models.ReportFormat, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.exportFailures.Add(1)
	} else {
		m.mu.Lock()
		m.exportsByFormat[string(format)]++
		m.mu.Unlock()
	}
	m.exports.WithLabelValues(string(format), outcome).Observe(duration.Seconds())
}

// Snapshot returns the counters served by /metrics/system.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits, misses := m.hits.Load(), m.misses.Load()
	m.mu.Lock()
	submitted := copyCounts(m.submittedByType)
	exports := copyCounts(m.exportsByFormat)
	m.mu.Unlock()

	return models.SystemMetrics{
		CacheHitRatio:            ratio(hits, misses),
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            m.requests.Load(),
		AverageRequestDurationMs: averageMillis(m.requestNanos.Load(), m.requests.Load()),
		DBQueryCount:             m.queries.Load(),
		AverageDBQueryDurationMs: averageMillis(m.queryNanos.Load(), m.queries.Load()),
		EvaluationsSubmitted:     submitted,
		ExportsGenerated:         exports,
		ExportFailures:           m.exportFailures.Load(),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

func ratio(hits, misses uint64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func averageMillis(totalNanos, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return float64(totalNanos) / float64(count) / float64(time.Millisecond)
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
