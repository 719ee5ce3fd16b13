// Package metrics exposes Prometheus counters for analysis, publishing and
// the HTTP surface on a dedicated registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inplace"

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	analysisJobs    *prometheus.CounterVec
	runningAnalyses prometheus.Gauge
	crawledPages    *prometheus.CounterVec
	upsertedElems   prometheus.Counter
	publishes       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates a registry with the engine collectors and the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		analysisJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_jobs_total",
			Help:      "Finished analysis jobs by outcome",
		}, []string{"outcome"}),
		runningAnalyses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analysis_jobs_running",
			Help:      "Analysis jobs running in this process",
		}),
		crawledPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawled_pages_total",
			Help:      "Pages attempted by the crawler by result",
		}, []string{"result"}),
		upsertedElems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_elements_upserted_total",
			Help:      "Elements merged into the catalog",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_requests_total",
			Help:      "Publish attempts by outcome",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.analysisJobs,
		m.runningAnalyses,
		m.crawledPages,
		m.upsertedElems,
		m.publishes,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// AnalysisStarted marks a job as running in this process.
func (m *Metrics) AnalysisStarted() {
	if m == nil {
		return
	}
	m.runningAnalyses.Inc()
}

// AnalysisFinished records a job outcome: ready, error or cancelled.
func (m *Metrics) AnalysisFinished(outcome string) {
	if m == nil {
		return
	}
	m.runningAnalyses.Dec()
	m.analysisJobs.WithLabelValues(outcome).Inc()
}

// PageCrawled records one crawler page attempt.
func (m *Metrics) PageCrawled(ok bool) {
	if m == nil {
		return
	}
	result := "visited"
	if !ok {
		result = "failed"
	}
	m.crawledPages.WithLabelValues(result).Inc()
}

// ElementsUpserted adds n to the catalog merge counter.
func (m *Metrics) ElementsUpserted(n int) {
	if m == nil {
		return
	}
	m.upsertedElems.Add(float64(n))
}

// PublishFinished records a publish outcome.
func (m *Metrics) PublishFinished(outcome string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(outcome).Inc()
}

// ObserveRequest records a served HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
