package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jousa-sbrt/remote-bridge/metric"
)

// Metrics holds Prometheus metrics for the relay core
type Metrics struct {
	sessionsActive     *prometheus.GaugeVec
	sessionsTotal      *prometheus.CounterVec
	authFailures       *prometheus.CounterVec
	requestsForwarded  prometheus.Counter
	responsesRelayed   prometheus.Counter
	responsesDiscarded *prometheus.CounterVec
	errorsSynthesized  *prometheus.CounterVec
	pendingRequests    prometheus.Gauge
	requestDuration    prometheus.Histogram
}

// newMetrics creates and registers relay metrics. A nil registry disables
// metrics collection.
func newMetrics(registry *metric.Registry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "remote_bridge",
			Subsystem: "relay",
			Name:      "sessions_active",
			Help:      "Number of active authenticated sessions by role",
		}, []string{"role"}),

		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remote_bridge",
			Subsystem: "relay",
			Name:      "sessions_total",
			Help:      "Total number of authenticated sessions by role",
		}, []string{"role"}),

		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remote_bridge",
			Subsystem: "relay",
			Name:      "auth_failures_total",
			Help:      "Total authentication failures by reason",
		}, []string{"reason"}),

		requestsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remote_bridge",
			Subsystem: "relay",
			Name:      "requests_forwarded_total",
			Help:      "Total consumer requests forwarded to the producer",
		}),

		responsesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remote_bridge",
			Subsystem: "relay",
			Name:      "responses_relayed_total",
			Help:      "Total producer responses relayed back to consumers",
		}),

		responsesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remote_bridge",
			Subsystem: "relay",
			Name:      "responses_discarded_total",
			Help:      "Total producer responses discarded by reason",
		}, []string{"reason"}),

		errorsSynthesized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remote_bridge",
			Subsystem: "relay",
			Name:      "errors_synthesized_total",
			Help:      "Total synthesized error responses by reason",
		}, []string{"reason"}),

		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remote_bridge",
			Subsystem: "relay",
			Name:      "pending_requests",
			Help:      "Number of requests awaiting a producer response",
		}),

		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remote_bridge",
			Subsystem: "relay",
			Name:      "request_duration_seconds",
			Help:      "Request/response round-trip duration through the relay",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),
	}

	_ = registry.RegisterGaugeVec(componentName, "sessions_active", metrics.sessionsActive)
	_ = registry.RegisterCounterVec(componentName, "sessions_total", metrics.sessionsTotal)
	_ = registry.RegisterCounterVec(componentName, "auth_failures", metrics.authFailures)
	_ = registry.RegisterCounter(componentName, "requests_forwarded", metrics.requestsForwarded)
	_ = registry.RegisterCounter(componentName, "responses_relayed", metrics.responsesRelayed)
	_ = registry.RegisterCounterVec(componentName, "responses_discarded", metrics.responsesDiscarded)
	_ = registry.RegisterCounterVec(componentName, "errors_synthesized", metrics.errorsSynthesized)
	_ = registry.RegisterGauge(componentName, "pending_requests", metrics.pendingRequests)
	_ = registry.RegisterHistogram(componentName, "request_duration", metrics.requestDuration)

	return metrics
}
