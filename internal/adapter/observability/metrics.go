package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of queued jobs per priority class",
		},
		[]string{"priority"},
	)
	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_active_workers",
			Help: "Current size of the worker pool",
		},
	)
	JobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_submitted_total",
			Help: "Total number of jobs accepted by the queue",
		},
		[]string{"priority"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs finished, by outcome",
		},
		[]string{"outcome"},
	)
	JobRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "job_retries_total",
			Help: "Total number of job retry re-enqueues",
		},
	)
	JobProcessingSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_processing_seconds",
			Help:    "End-to-end job processing duration",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
	QueueBreakerOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_circuit_breaker_open",
			Help: "1 when the queue circuit breaker is open",
		},
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_requests_total",
			Help: "Total number of embedding backend calls",
		},
		[]string{"backend", "outcome"},
	)
	EmbeddingCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_cache_total",
			Help: "Embedding cache lookups by result",
		},
		[]string{"result"},
	)
	EmbeddingBackendDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "embedding_backend_degraded",
			Help: "1 when the accelerated similarity backend fell back to CPU",
		},
	)

	MatchOverallScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "match_overall_score",
			Help:    "Distribution of overall match scores [0,100]",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
	MatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "match_duration_seconds",
			Help:    "Pairwise match computation duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Admission decisions by endpoint class and outcome",
		},
		[]string{"class", "outcome"},
	)
	RateLimitBackendDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_backend_degraded",
			Help: "1 when the limiter runs on the in-memory window store instead of Redis",
		},
	)
	GlobalConcurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_global_concurrent",
			Help: "Current global in-flight count for resource-intensive endpoints",
		},
	)

	VectorStoreRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vector_store_retries_total",
			Help: "Transient vector store errors retried by the adapter",
		},
	)
)

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ActiveWorkers)
	prometheus.MustRegister(JobsSubmittedTotal)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobRetriesTotal)
	prometheus.MustRegister(JobProcessingSeconds)
	prometheus.MustRegister(QueueBreakerOpen)
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingCacheHitsTotal)
	prometheus.MustRegister(EmbeddingBackendDegraded)
	prometheus.MustRegister(MatchOverallScore)
	prometheus.MustRegister(MatchDuration)
	prometheus.MustRegister(RateLimitDecisionsTotal)
	prometheus.MustRegister(RateLimitBackendDegraded)
	prometheus.MustRegister(GlobalConcurrent)
	prometheus.MustRegister(VectorStoreRetriesTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveMatch records the outcome of one pairwise match.
func ObserveMatch(overall float64, dur time.Duration) {
	if overall >= 0 && overall <= 100 {
		MatchOverallScore.Observe(overall)
	}
	MatchDuration.Observe(dur.Seconds())
}
