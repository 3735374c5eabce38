package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upstream API names used as the "api" label.
const (
	APIGeocoder = "geocoder"
	APIWeather  = "weather_api"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream call rate per API. Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency. Watch for: p95 approaching the client timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts per API. High values mean an unstable upstream.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Circuit breaker transitions and current state (0 closed, 1 open, 2 half-open).
	CircuitBreakerTransitionsTotal *prometheus.CounterVec
	CircuitBreakerState            *prometheus.GaugeVec

	// Crop predictions by outcome (success, invalid_input, model_error).
	PredictionsTotal *prometheus.CounterVec

	// Recommended crops. Cardinality is bounded by the label decoder's class list.
	RecommendedCropsTotal *prometheus.CounterVec

	// Weather lookups by outcome category.
	WeatherLookupsTotal *prometheus.CounterVec

	// Geocode cache results (hit, miss, error, set_error).
	GeocodeCacheTotal *prometheus.CounterVec

	// In-flight requests observed when shutdown began.
	ShutdownInFlightRequests prometheus.Gauge
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of geocoder and weather API calls",
		},
		[]string{"api", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream API latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"api", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for upstream calls",
		},
		[]string{"api"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictionsTotal",
			Help: "Crop predictions by outcome",
		},
		[]string{"outcome"},
	)
	RecommendedCropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendedCropsTotal",
			Help: "Successful crop recommendations by crop",
		},
		[]string{"crop"},
	)
	WeatherLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherLookupsTotal",
			Help: "Weather lookups by outcome",
		},
		[]string{"outcome"},
	)
	GeocodeCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocodeCacheTotal",
			Help: "Geocode cache lookups by result (hit, miss, error, set_error)",
		},
		[]string{"result"},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests when graceful shutdown began",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal,
		CircuitBreakerTransitionsTotal, CircuitBreakerState,
		PredictionsTotal, RecommendedCropsTotal,
		WeatherLookupsTotal, GeocodeCacheTotal,
		ShutdownInFlightRequests,
	)
}

// RecordCircuitBreakerTransition counts a breaker transition and updates its state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// RecordShutdownInFlight records the in-flight count at shutdown.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
