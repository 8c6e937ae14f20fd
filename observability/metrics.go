package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// backendMetrics is the process-wide Prometheus registry for the merchant
// backend. Structured the same way the teacher's module metrics registry is
// (lazily-initialised CounterVec/HistogramVec singletons), but scoped to the
// concerns this backend actually has: exchange RPCs, long-poll wakeups, and
// key-state reloads.
type backendMetrics struct {
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	exchangeCalls  *prometheus.CounterVec
	exchangeLatency *prometheus.HistogramVec
	longPollWakeups *prometheus.CounterVec
	longPollTimeouts prometheus.Counter
	keyReloads     *prometheus.CounterVec
}

var (
	backendMetricsOnce sync.Once
	backendRegistry    *backendMetrics
)

// Metrics returns the lazily-initialised backend metrics registry.
func Metrics() *backendMetrics {
	backendMetricsOnce.Do(func() {
		backendRegistry = &backendMetrics{
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merchant",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route and status class.",
			}, []string{"route", "status"}),
			httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "merchant",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			exchangeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merchant",
				Subsystem: "exchange",
				Name:      "calls_total",
				Help:      "Total exchange RPCs segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			exchangeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "merchant",
				Subsystem: "exchange",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for exchange RPCs.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			longPollWakeups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merchant",
				Subsystem: "longpoll",
				Name:      "wakeups_total",
				Help:      "Total long-poll waiters woken segmented by reason.",
			}, []string{"reason"}),
			longPollTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "merchant",
				Subsystem: "longpoll",
				Name:      "timeouts_total",
				Help:      "Total long-poll waits that elapsed without a state change.",
			}),
			keyReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merchant",
				Subsystem: "keystate",
				Name:      "reloads_total",
				Help:      "Total key-state snapshot reloads segmented by exchange and outcome.",
			}, []string{"exchange", "outcome"}),
		}
		prometheus.MustRegister(
			backendRegistry.httpRequests,
			backendRegistry.httpLatency,
			backendRegistry.exchangeCalls,
			backendRegistry.exchangeLatency,
			backendRegistry.longPollWakeups,
			backendRegistry.longPollTimeouts,
			backendRegistry.keyReloads,
		)
	})
	return backendRegistry
}

// ObserveHTTP records a completed HTTP request.
func (m *backendMetrics) ObserveHTTP(route, statusClass string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusClass).Inc()
	m.httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveExchangeCall records a completed exchange RPC.
func (m *backendMetrics) ObserveExchangeCall(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.exchangeCalls.WithLabelValues(method, outcome).Inc()
	m.exchangeLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordLongPollWakeup increments the wakeup counter for the given reason
// ("paid", "refunded", "disconnect").
func (m *backendMetrics) RecordLongPollWakeup(reason string) {
	if m == nil {
		return
	}
	m.longPollWakeups.WithLabelValues(reason).Inc()
}

// RecordLongPollTimeout increments the timeout counter.
func (m *backendMetrics) RecordLongPollTimeout() {
	if m == nil {
		return
	}
	m.longPollTimeouts.Inc()
}

// RecordKeyReload increments the key-state reload counter for an exchange.
func (m *backendMetrics) RecordKeyReload(exchange, outcome string) {
	if m == nil {
		return
	}
	m.keyReloads.WithLabelValues(exchange, outcome).Inc()
}
