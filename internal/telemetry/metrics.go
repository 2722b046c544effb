package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mazuri"

// Metrics holds the payment collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	callbacks      *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	sweeps         *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mpesa",
			Name:      "gateway_calls_total",
			Help:      "Daraja API calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mpesa",
			Name:      "gateway_call_duration_seconds",
			Help:      "Daraja API call latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mpesa",
			Name:      "callbacks_total",
			Help:      "Provider webhook deliveries by kind and handling result.",
		}, []string{"kind", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "transitions_total",
			Help:      "Transactions moved out of pending, by final status and source.",
		}, []string{"status", "source"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "polls_total",
			Help:      "Stale pending transactions polled by the sweeper.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.gatewayCalls, m.gatewayLatency, m.callbacks, m.transitions, m.sweeps)
	return m
}

func (m *Metrics) ObserveGatewayCall(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(op, outcome).Inc()
	m.gatewayLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) CallbackReceived(kind, result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) TransitionApplied(status, source string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, source).Inc()
}

func (m *Metrics) SweepPolled(result string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
