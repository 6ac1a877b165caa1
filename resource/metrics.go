package resource

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments pool admission and occupancy for Prometheus scraping.
// A nil *Metrics is valid and records nothing, so tests can pass nil.
type Metrics struct {
	admissions *prometheus.CounterVec
	occupancy  *prometheus.GaugeVec
	evictions  *prometheus.CounterVec
}

// NewMetrics creates and registers pool metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchgraph_pool_admissions_total",
			Help: "Pool admission outcomes by pool and result.",
		}, []string{"pool", "result"}),
		occupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "researchgraph_pool_occupancy",
			Help: "Currently held slots per pool.",
		}, []string{"pool"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchgraph_pool_evictions_total",
			Help: "Idle resources evicted per pool.",
		}, []string{"pool"}),
	}
	if reg != nil {
		reg.MustRegister(m.admissions, m.occupancy, m.evictions)
	}
	return m
}

func (m *Metrics) observeAdmission(pool, result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(pool, result).Inc()
}

func (m *Metrics) setOccupancy(pool string, n int) {
	if m == nil {
		return
	}
	m.occupancy.WithLabelValues(pool).Set(float64(n))
}

func (m *Metrics) observeEviction(pool string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(pool).Inc()
}
