package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	flowInvocations *prometheus.CounterVec
	flowDuration    *prometheus.HistogramVec
	actionOutcomes  *prometheus.CounterVec
	bridgeWrites    *prometheus.CounterVec
	bridgeQueue     prometheus.Gauge
	httpRequests    *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		flowInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lingua",
			Name:      "flow_invocations_total",
			Help:      "Flow invocations by flow and outcome.",
		}, []string{"flow", "outcome"}),
		flowDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lingua",
			Name:      "flow_duration_seconds",
			Help:      "Flow latency including the model call.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"flow"}),
		actionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lingua",
			Name:      "action_outcomes_total",
			Help:      "Orchestration action results by action and outcome.",
		}, []string{"action", "outcome"}),
		bridgeWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lingua",
			Name:      "bridge_writes_total",
			Help:      "History writes by record kind and outcome.",
		}, []string{"kind", "outcome"}),
		bridgeQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lingua",
			Name:      "bridge_queue_depth",
			Help:      "Pending history writes.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lingua",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveFlow(flow, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.flowInvocations.WithLabelValues(flow, outcome).Inc()
	m.flowDuration.WithLabelValues(flow).Observe(d.Seconds())
}

func (m *Metrics) ObserveAction(action, outcome string) {
	if m == nil {
		return
	}
	m.actionOutcomes.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveBridgeWrite(kind, outcome string) {
	if m == nil {
		return
	}
	m.bridgeWrites.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SetBridgeQueueDepth(n int) {
	if m == nil {
		return
	}
	m.bridgeQueue.Set(float64(n))
}

func (m *Metrics) ObserveHTTP(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusLabel(code)).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
