// Package metrics exposes Prometheus collectors for the HTTP API, the
// ingestion loop and attribution runs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"windperf/internal/attribution"
)

const namespace = "windperf"

// Metrics owns a private registry so tests can build as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter

	ingestObservations *prometheus.CounterVec
	ingestErrors       *prometheus.CounterVec

	runDuration     prometheus.Histogram
	runErrors       prometheus.Counter
	hoursAttributed *prometheus.CounterVec
	revenueLoss     *prometheus.CounterVec
	lastRun         prometheus.Gauge
	publishErrors   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total query cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total query cache misses.",
		}),
		ingestObservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_observations_total",
			Help:      "Hourly weather observations stored, by farm.",
		}, []string{"farm"}),
		ingestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_errors_total",
			Help:      "Failed weather fetches or writes, by farm.",
		}, []string{"farm"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attribution_run_duration_seconds",
			Help:      "Wall time of attribution runs including load and persist.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		runErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribution_run_errors_total",
			Help:      "Attribution runs that failed.",
		}),
		hoursAttributed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attributed_hours_total",
			Help:      "Farm-hours attributed, by impact category.",
		}, []string{"category"}),
		revenueLoss: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revenue_loss_gbp_total",
			Help:      "Revenue lost on underperforming hours, by impact category.",
		}, []string{"category"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attribution_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful attribution run.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Attributed-hour batches that failed to publish.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.cacheHits,
		m.cacheMisses,
		m.ingestObservations,
		m.ingestErrors,
		m.runDuration,
		m.runErrors,
		m.hoursAttributed,
		m.revenueLoss,
		m.lastRun,
		m.publishErrors,
	)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) Ingested(farmID string, n int) {
	if m == nil {
		return
	}
	m.ingestObservations.WithLabelValues(farmID).Add(float64(n))
}

func (m *Metrics) IngestFailed(farmID string) {
	if m == nil {
		return
	}
	m.ingestErrors.WithLabelValues(farmID).Inc()
}

// RunCompleted records a successful run's duration and per-category output.
func (m *Metrics) RunCompleted(d time.Duration, hours []attribution.AttributedHour) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
	m.lastRun.SetToCurrentTime()
	for _, s := range attribution.SummarizeByCategory(hours) {
		// counters cannot go down; negative prices can make a category's loss negative
		if s.RevenueLossGBP.IsPositive() {
			m.revenueLoss.WithLabelValues(string(s.Category)).Add(s.RevenueLossGBP.InexactFloat64())
		}
	}
	for _, h := range hours {
		m.hoursAttributed.WithLabelValues(string(h.ImpactCategory)).Inc()
	}
}

func (m *Metrics) RunFailed() {
	if m == nil {
		return
	}
	m.runErrors.Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}
