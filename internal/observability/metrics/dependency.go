package metrics

import "github.com/prometheus/client_golang/prometheus"

// dependencyMetrics receives resilience executor events. Both the API and
// the indexer registries embed it.
type dependencyMetrics struct {
	attemptsTotal *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
}

func newDependencyMetrics() *dependencyMetrics {
	return &dependencyMetrics{
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dependency",
				Name:      "attempts_total",
				Help:      "Outbound call attempts by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dependency",
				Name:      "circuit_open",
				Help:      "1 while the operation's circuit breaker is not closed.",
			},
			[]string{"operation"},
		),
	}
}

func (m *dependencyMetrics) register(registry *prometheus.Registry) {
	registry.MustRegister(m.attemptsTotal, m.breakerState)
}

func (m *dependencyMetrics) ObserveAttempt(operation, outcome string) {
	m.attemptsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *dependencyMetrics) ObserveBreakerState(operation, state string) {
	value := 1.0
	if state == "closed" {
		value = 0
	}
	m.breakerState.WithLabelValues(operation).Set(value)
}
