package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pricing engine metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pricing metrics
	CalculationsTotal   *prometheus.CounterVec
	CalculationDuration *prometheus.HistogramVec
	FallbacksTotal      *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string
	// RuntimeCollectors registers the Go and process collectors
	RuntimeCollectors bool
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() Config {
	return Config{Namespace: "printshop", RuntimeCollectors: true}
}

// New creates a new Metrics instance with its own registry
func New(config Config) *Metrics {
	registry := prometheus.NewRegistry()
	if config.RuntimeCollectors {
		registry.MustRegister(prometheus.NewGoCollector())
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	m.CalculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "calculations_total",
			Help:      "Total number of price calculations by outcome",
		},
		[]string{"product_type", "result"},
	)

	m.CalculationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "calculation_duration_seconds",
			Help:      "Price calculation duration in seconds, including catalog load",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1},
		},
		[]string{"product_type"},
	)

	m.FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "fallbacks_total",
			Help:      "Base rate and default tag fallbacks taken during calculation",
		},
		[]string{"kind"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CalculationsTotal,
		m.CalculationDuration,
		m.FallbacksTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCalculation records a finished calculation. errType is empty on
// success. productType must come from a bounded set; the engine reports
// unresolved product types as engine.UnknownProductType.
func (m *Metrics) ObserveCalculation(productType, errType string, d time.Duration) {
	result := "success"
	if errType != "" {
		result = errType
	}
	m.CalculationsTotal.WithLabelValues(productType, result).Inc()
	m.CalculationDuration.WithLabelValues(productType).Observe(d.Seconds())
}

// ObserveFallback records a fallback of the given kind
func (m *Metrics) ObserveFallback(kind string) {
	m.FallbacksTotal.WithLabelValues(kind).Inc()
}
