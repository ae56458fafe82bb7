package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Requests          *prometheus.CounterVec
	LatencyMS         *prometheus.HistogramVec
	Reconciliations   *prometheus.CounterVec
	GatewayCalls      *prometheus.CounterVec
	SignatureFailures prometheus.Counter
}

// New registers the service collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction doesn't panic.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "reconciliations_total",
			Help:      "Payment events reconciled, by source and outcome.",
		}, []string{"source", "outcome"}),
		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Outbound gateway attempts, by operation and result.",
		}, []string{"op", "result"}),
		SignatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "webhook",
			Name:      "signature_failures_total",
			Help:      "Webhook deliveries rejected for a missing or invalid signature.",
		}),
	}

	reg.MustRegister(m.Requests, m.LatencyMS, m.Reconciliations, m.GatewayCalls, m.SignatureFailures)
	return m
}

func (m *Metrics) ObserveRequest(handler, status string, ms float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, status).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(ms)
}

func (m *Metrics) ObserveReconciliation(source, outcome string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ObserveGatewayCall(op, result string) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveSignatureFailure() {
	if m == nil {
		return
	}
	m.SignatureFailures.Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
