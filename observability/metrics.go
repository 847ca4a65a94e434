package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// ModuleMetrics returns the lazily-initialised metrics registry used to
// record escrow and factory operation activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "custodia",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total module operations segmented by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "custodia",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total module operation failures segmented by module and method.",
			}, []string{"module", "method"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "custodia",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for module operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
		}
		prometheus.MustRegister(moduleRegistry.requests, moduleRegistry.errors, moduleRegistry.latency)
	})
	return moduleRegistry
}

// Observe records one completed operation.
func (m *moduleMetrics) Observe(module, method string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	module = normalizeLabel(module)
	method = normalizeLabel(method)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(module, method).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	return v
}

var (
	eventMetricsOnce sync.Once
	eventCounter     *prometheus.CounterVec
)

// EventCounter counts emitted core events by type.
func EventCounter() *prometheus.CounterVec {
	eventMetricsOnce.Do(func() {
		eventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custodia",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Total events emitted by the escrow core, by event type.",
		}, []string{"type"})
		prometheus.MustRegister(eventCounter)
	})
	return eventCounter
}
