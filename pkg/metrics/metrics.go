// Package metrics provides Prometheus instrumentation for embedbatch.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors for embedbatch.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	QueueDepth      prometheus.Gauge
	BatchSize       prometheus.Histogram
	BatchWait       prometheus.Histogram
	EmbedDuration   prometheus.Histogram
	BatchesTotal    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all embedbatch metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedbatch_requests_total",
				Help: "Total HTTP requests by endpoint and status code.",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "embedbatch_request_duration_seconds",
				Help:    "HTTP request latency distribution.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"endpoint"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "embedbatch_active_requests",
				Help: "Number of requests currently being processed.",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "embedbatch_queue_depth",
				Help: "Number of BatchItems currently buffered in the intake queue.",
			},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "embedbatch_batch_items",
				Help:    "Number of items coalesced into a single dispatched batch.",
				Buckets: prometheus.LinearBuckets(1, 4, 10),
			},
		),
		BatchWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "embedbatch_batch_wait_seconds",
				Help:    "Time between the first item in a batch arriving and the batch dispatching.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		EmbedDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "embedbatch_embed_duration_seconds",
				Help:    "Latency of a single Embedder.Embed call.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedbatch_batches_total",
				Help: "Total dispatched batches by outcome.",
			},
			[]string{"outcome"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.QueueDepth,
		m.BatchSize,
		m.BatchWait,
		m.EmbedDuration,
		m.BatchesTotal,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request's metrics.
func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordBatch records the outcome of one dispatched batch cycle. wait is the
// time between the first item's arrival and dispatch; embedDuration is the
// time spent inside the Embedder.Embed call. Call after routing results so
// recording never delays dispatch or fan-out.
func (m *Metrics) RecordBatch(itemCount, totalInputs int, wait, embedDuration time.Duration, outcome string) {
	m.BatchSize.Observe(float64(itemCount))
	m.BatchWait.Observe(wait.Seconds())
	m.EmbedDuration.Observe(embedDuration.Seconds())
	m.BatchesTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth reports the current intake queue occupancy.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// Middleware returns an HTTP middleware that instruments requests.
func (m *Metrics) Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r)

		m.RecordRequest(endpoint, rw.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
