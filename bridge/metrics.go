package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jousa-sbrt/remote-bridge/metric"
)

// Metrics holds Prometheus metrics for the bridge agent
type Metrics struct {
	connected       prometheus.Gauge
	connectsTotal   prometheus.Counter
	requestsHandled *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
}

// newMetrics creates and registers bridge metrics. A nil registry disables
// metrics collection.
func newMetrics(registry *metric.Registry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remote_bridge",
			Subsystem: "bridge",
			Name:      "connected",
			Help:      "Whether the agent currently holds a relay connection (0 or 1)",
		}),

		connectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remote_bridge",
			Subsystem: "bridge",
			Name:      "connects_total",
			Help:      "Total successful relay connections",
		}),

		requestsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remote_bridge",
			Subsystem: "bridge",
			Name:      "requests_handled_total",
			Help:      "Total requests handled by resource and status",
		}, []string{"resource", "status"}),

		resolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "remote_bridge",
			Subsystem: "bridge",
			Name:      "resolve_duration_seconds",
			Help:      "Resource resolution duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"resource"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remote_bridge",
			Subsystem: "bridge",
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),
	}

	_ = registry.RegisterGauge(componentName, "connected", metrics.connected)
	_ = registry.RegisterCounter(componentName, "connects_total", metrics.connectsTotal)
	_ = registry.RegisterCounterVec(componentName, "requests_handled", metrics.requestsHandled)
	_ = registry.RegisterHistogramVec(componentName, "resolve_duration", metrics.resolveDuration)
	_ = registry.RegisterCounterVec(componentName, "errors_total", metrics.errorsTotal)

	return metrics
}

func (m *Metrics) trackError(errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(errorType).Inc()
}
