// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	docCacheLookupsTotal       *prometheus.CounterVec
	ocrRenderSeconds           prometheus.Histogram
	documentClassifications    *prometheus.CounterVec
	registryAllocationsTotal   *prometheus.CounterVec
	billsIngestedTotal         *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_attempts_total",
				Help: "HTTP fetch attempts against the source, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_retries_total",
				Help: "Retries scheduled after a transient fetch failure, labeled by host.",
			},
			[]string{"host"},
		)

		docCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_doc_cache_lookups_total",
				Help: "Document cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)

		ocrRenderSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_ocr_render_seconds",
				Help:    "Time spent rendering and OCR-ing one document.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		documentClassifications = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_document_classifications_total",
				Help: "Attachment classifications, labeled by result (vote, nonvote, error).",
			},
			[]string{"result"},
		)

		registryAllocationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_registry_allocations_total",
				Help: "Identifiers allocated by the entity registry, labeled by kind.",
			},
			[]string{"kind"},
		)

		billsIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_bills_total",
				Help: "Bills processed, labeled by status.",
			},
			[]string{"status"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(rawURL, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveRetry records a scheduled retry.
func ObserveRetry(rawURL string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveCacheLookup records a document cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	docCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRender records the duration of one render-and-OCR pass.
func ObserveRender(d time.Duration) {
	Init()
	ocrRenderSeconds.Observe(d.Seconds())
}

// ObserveClassification records an attachment classification result.
func ObserveClassification(result string) {
	Init()
	documentClassifications.WithLabelValues(result).Inc()
}

// ObserveRegistryAllocation records a newly allocated registry identifier.
func ObserveRegistryAllocation(kind string) {
	Init()
	if kind == "" {
		kind = "unknown"
	}
	registryAllocationsTotal.WithLabelValues(kind).Inc()
}

// ObserveBill records the outcome of one bill.
func ObserveBill(status string) {
	Init()
	billsIngestedTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware records request counts and latencies for chi routes.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
