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

	DiversityCacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diversity_cache_ops_total",
			Help: "Diversity cache lookups by result",
		},
		[]string{"result"},
	)
	DiversityCacheLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diversity_cache_latency_seconds",
			Help:    "Diversity cache lookup latency by result",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"result"},
	)

	ProductCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_cache_hits_total",
			Help: "Product lookups by serving tier (kv, local, remote, minimal, miss)",
		},
		[]string{"tier"},
	)

	RecommendationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recommendation_duration_seconds",
			Help:    "End-to-end recommendation composition latency",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"source"},
	)
	RecommendationsServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendations_served_total",
			Help: "Recommendations returned by source (hybrid, fallback rungs, cache)",
		},
		[]string{"source"},
	)

	EventsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_recorded_total",
			Help: "User events by outcome (buffered, stored, failed, journaled, recovered)",
		},
		[]string{"outcome"},
	)
	EventFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "event_flush_duration_seconds",
			Help:    "Bulk persist latency of the event store",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)
	EventBufferSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_buffer_size",
			Help: "Current event store buffer occupancy",
		},
		[]string{"buffer"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"breaker"},
	)
	KVHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kv_healthy",
			Help: "KV store health probe result (1 healthy, 0 unhealthy)",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(DiversityCacheOps)
	prometheus.MustRegister(DiversityCacheLatency)
	prometheus.MustRegister(ProductCacheHits)
	prometheus.MustRegister(RecommendationDuration)
	prometheus.MustRegister(RecommendationsServed)
	prometheus.MustRegister(EventsRecorded)
	prometheus.MustRegister(EventFlushDuration)
	prometheus.MustRegister(EventBufferSize)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(KVHealthy)
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
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// CacheHit records a diversity cache hit with its lookup latency.
func CacheHit(latency time.Duration) {
	DiversityCacheOps.WithLabelValues("hit").Inc()
	DiversityCacheLatency.WithLabelValues("hit").Observe(latency.Seconds())
}

// CacheMiss records a diversity cache miss with its lookup latency.
func CacheMiss(latency time.Duration) {
	DiversityCacheOps.WithLabelValues("miss").Inc()
	DiversityCacheLatency.WithLabelValues("miss").Observe(latency.Seconds())
}

// ProductTierHit records which tier served a product lookup.
func ProductTierHit(tier string) {
	ProductCacheHits.WithLabelValues(tier).Inc()
}

// ObserveRecommendation records a served recommendation set.
func ObserveRecommendation(source string, latency time.Duration, count int) {
	RecommendationDuration.WithLabelValues(source).Observe(latency.Seconds())
	RecommendationsServed.WithLabelValues(source).Add(float64(count))
}

// EventOutcome counts event store outcomes.
func EventOutcome(outcome string, n int) {
	EventsRecorded.WithLabelValues(outcome).Add(float64(n))
}

// SetBreakerState feeds the breaker state gauge.
func SetBreakerState(name string, state int) {
	BreakerState.WithLabelValues(name).Set(float64(state))
}

// SetKVHealthy feeds the KV health gauge.
func SetKVHealthy(ok bool) {
	if ok {
		KVHealthy.Set(1)
		return
	}
	KVHealthy.Set(0)
}
