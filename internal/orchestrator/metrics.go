package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the orchestrator.
// All metrics use the themis_orchestrator_ namespace.
type Metrics struct {
	PlansTotal            prometheus.Counter
	ExecutionsTotal       *prometheus.CounterVec
	ExecutionDuration     *prometheus.HistogramVec
	NodeDuration          *prometheus.HistogramVec
	AgentInvocationsTotal *prometheus.CounterVec
	AttentionFlagsTotal   prometheus.Counter
	ActiveExecutions      prometheus.Gauge
}

// NewMetrics creates and registers orchestrator metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		PlansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "themis",
			Subsystem: "orchestrator",
			Name:      "plans_total",
			Help:      "Total plans built.",
		}),

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "themis",
			Subsystem: "orchestrator",
			Name:      "executions_total",
			Help:      "Total executions by final status.",
		}, []string{"status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "themis",
			Subsystem: "orchestrator",
			Name:      "execution_duration_seconds",
			Help:      "Execution total duration in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),

		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "themis",
			Subsystem: "orchestrator",
			Name:      "node_duration_seconds",
			Help:      "Node duration in seconds by phase.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"phase"}),

		AgentInvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "themis",
			Subsystem: "orchestrator",
			Name:      "agent_invocations_total",
			Help:      "Total agent invocations by agent and status.",
		}, []string{"agent", "status"}),

		AttentionFlagsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "themis",
			Subsystem: "orchestrator",
			Name:      "attention_flags_total",
			Help:      "Total soft exit-signal misses flagged for review.",
		}),

		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "themis",
			Subsystem: "orchestrator",
			Name:      "active_executions",
			Help:      "Number of currently running executions.",
		}),
	}

	reg.MustRegister(
		m.PlansTotal,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.NodeDuration,
		m.AgentInvocationsTotal,
		m.AttentionFlagsTotal,
		m.ActiveExecutions,
	)

	return m
}
