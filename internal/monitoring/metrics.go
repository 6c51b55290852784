package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream forward metrics
	UpstreamLatency  *prometheus.HistogramVec
	UpstreamRequests *prometheus.CounterVec
	UpstreamErrors   *prometheus.CounterVec

	// Selection metrics
	SelectionsTotal    *prometheus.CounterVec
	NoCredentialsTotal prometheus.Counter

	// Allocation metrics
	AllocationsCreated prometheus.Counter
	AllocationsRevoked prometheus.Counter
	QuotaRejections    prometheus.Counter

	// Usage recording metrics
	RecordingsTotal   prometheus.Counter
	RecordingFailures prometheus.Counter

	// Rate limiting metrics
	RateLimitHits prometheus.Counter

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

var metrics *Metrics

// Init initializes all Prometheus metrics
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}

	metrics = &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		UpstreamLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_latency_seconds",
				Help:    "Upstream completion API response latency in seconds",
				Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"endpoint"},
		),
		UpstreamRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_requests_total",
				Help: "Total number of requests forwarded upstream",
			},
			[]string{"endpoint", "status"},
		),
		UpstreamErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_errors_total",
				Help: "Total number of upstream errors",
			},
			[]string{"endpoint", "error_type"},
		),

		SelectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pool_token_selections_total",
				Help: "Total number of pool token selections",
			},
			[]string{"token_id"},
		),
		NoCredentialsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "no_available_credential_total",
				Help: "Requests rejected because no pool token was available",
			},
		),

		AllocationsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "allocations_created_total",
				Help: "Total number of allocations created",
			},
		),
		AllocationsRevoked: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "allocations_revoked_total",
				Help: "Total number of allocations revoked",
			},
		),
		QuotaRejections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "allocation_quota_rejections_total",
				Help: "Allocation batches rejected for exceeding quota",
			},
		),

		RecordingsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "usage_recordings_total",
				Help: "Total number of usage recording attempts",
			},
		),
		RecordingFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "usage_recording_failures_total",
				Help: "Usage recordings that failed and were swallowed",
			},
		),

		RateLimitHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
		),

		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"endpoint"},
		),
	}

	return metrics
}

// Get returns the initialized metrics, initializing on first use
func Get() *Metrics {
	return Init()
}

// MetricsMiddleware returns a Gin middleware that records HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Init()
	return func(c *gin.Context) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()

		c.Next()

		m.HTTPRequestsInFlight.Dec()
		duration := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler returns the Prometheus scrape handler wrapped for gin
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
