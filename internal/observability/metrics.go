package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the quote pipeline.
type Metrics struct {
	ProviderRequestsTotal *prometheus.CounterVec
	ProviderErrorsTotal   *prometheus.CounterVec
	ProviderDuration      *prometheus.HistogramVec
	RateGateWaitSeconds   *prometheus.HistogramVec
	BreakerState          *prometheus.GaugeVec
	BreakerTrips          *prometheus.CounterVec
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

// defaultBuckets are histogram buckets for duration metrics (seconds).
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

var globalMetrics *Metrics

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotefeed",
				Subsystem: "provider",
				Name:      "requests_total",
				Help:      "Total number of upstream provider requests",
			},
			[]string{"provider", "operation"},
		),
		ProviderErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotefeed",
				Subsystem: "provider",
				Name:      "errors_total",
				Help:      "Total number of provider failures by class",
			},
			[]string{"provider", "operation", "reason"},
		),
		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "quotefeed",
				Subsystem: "provider",
				Name:      "duration_seconds",
				Help:      "Duration of provider calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"provider", "operation"},
		),
		RateGateWaitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "quotefeed",
				Subsystem: "rategate",
				Name:      "wait_seconds",
				Help:      "Time spent waiting on the per-provider rate gate",
				Buckets:   defaultBuckets,
			},
			[]string{"provider"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "quotefeed",
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current state of circuit breakers (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider"},
		),
		BreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotefeed",
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"provider"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotefeed",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "quotefeed",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of served HTTP requests in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// InitMetrics initializes the global metrics instance.
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(nil)
	return globalMetrics
}

// GetMetrics returns the global metrics instance, initializing it on
// first use.
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		return InitMetrics()
	}
	return globalMetrics
}

// SetMetrics overrides the global instance (tests use a private
// registry to avoid duplicate registration).
func SetMetrics(m *Metrics) { globalMetrics = m }

// RecordProviderRequest records one upstream request and its duration.
func (m *Metrics) RecordProviderRequest(provider, operation string, d time.Duration) {
	m.ProviderRequestsTotal.WithLabelValues(provider, operation).Inc()
	m.ProviderDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// RecordProviderError records a swallowed provider failure.
func (m *Metrics) RecordProviderError(provider, operation, reason string) {
	m.ProviderErrorsTotal.WithLabelValues(provider, operation, reason).Inc()
}

// RecordRateGateWait records time spent blocked on a rate gate.
func (m *Metrics) RecordRateGateWait(provider string, d time.Duration) {
	m.RateGateWaitSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

// SetBreakerState records the current breaker state for a provider.
func (m *Metrics) SetBreakerState(provider string, state int) {
	m.BreakerState.WithLabelValues(provider).Set(float64(state))
}

// RecordBreakerTrip records a breaker transitioning to open.
func (m *Metrics) RecordBreakerTrip(provider string) {
	m.BreakerTrips.WithLabelValues(provider).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
