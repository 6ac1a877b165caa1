package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments engine execution for Prometheus scraping. All metrics
// are namespaced "researchgraph_engine_".
type Metrics struct {
	activeRuns  prometheus.Gauge
	stepLatency *prometheus.HistogramVec
	stepsTotal  *prometheus.CounterVec
	faultsTotal *prometheus.CounterVec
	budgetHits  prometheus.Counter
}

// NewMetrics creates and registers engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "researchgraph_engine_active_runs",
			Help: "Number of workflow runs currently executing.",
		}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "researchgraph_engine_step_latency_seconds",
			Help:    "Node execution duration.",
			Buckets: []float64{.005, .025, .1, .5, 1, 5, 15, 60},
		}, []string{"node", "status"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchgraph_engine_steps_total",
			Help: "Node executions by node and status.",
		}, []string{"node", "status"}),
		faultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchgraph_engine_faults_total",
			Help: "Node faults routed to the error handler, by error type.",
		}, []string{"node", "error_type"}),
		budgetHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "researchgraph_engine_step_budget_exceeded_total",
			Help: "Runs terminated by the step budget.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.activeRuns, m.stepLatency, m.stepsTotal, m.faultsTotal, m.budgetHits)
	}
	return m
}

func (m *Metrics) runStarted() {
	if m != nil {
		m.activeRuns.Inc()
	}
}

func (m *Metrics) runFinished() {
	if m != nil {
		m.activeRuns.Dec()
	}
}

func (m *Metrics) observeStep(node, status string, d time.Duration) {
	if m != nil {
		m.stepLatency.WithLabelValues(node, status).Observe(d.Seconds())
		m.stepsTotal.WithLabelValues(node, status).Inc()
	}
}

func (m *Metrics) observeFault(node, errType string) {
	if m != nil {
		m.faultsTotal.WithLabelValues(node, errType).Inc()
	}
}

func (m *Metrics) observeBudgetExceeded() {
	if m != nil {
		m.budgetHits.Inc()
	}
}
