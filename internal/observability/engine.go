package observability

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics counts allocator, conversion and reconciliation events.
// A nil *EngineMetrics is valid and records nothing.
type EngineMetrics struct {
	allocations *prometheus.CounterVec
	retries     *prometheus.CounterVec
	conversions *prometheus.CounterVec
	findings    *prometheus.CounterVec
	saturations prometheus.Counter
	postings    *prometheus.CounterVec
}

func newEngineMetrics(registerer prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slipbook_sequence_allocations_total",
			Help: "Document numbers allocated per document kind.",
		}, []string{"kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slipbook_store_retries_total",
			Help: "Transient store conflicts retried per operation.",
		}, []string{"op"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slipbook_proforma_conversions_total",
			Help: "Proforma conversion attempts by outcome.",
		}, []string{"outcome"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slipbook_consistency_findings_total",
			Help: "Reconciliation findings by kind.",
		}, []string{"kind"}),
		saturations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slipbook_rounding_saturations_total",
			Help: "Invoice totals clamped to the representable range.",
		}),
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slipbook_ledger_postings_total",
			Help: "Ledger entries posted by source and direction.",
		}, []string{"source", "direction"}),
	}
	registerer.MustRegister(m.allocations, m.retries, m.conversions, m.findings, m.saturations, m.postings)
	return m
}

// Allocated counts one issued document number.
func (m *EngineMetrics) Allocated(kind string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(kind).Inc()
}

// Retried counts one transient-conflict retry.
func (m *EngineMetrics) Retried(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

// Converted counts a conversion attempt outcome.
func (m *EngineMetrics) Converted(outcome string) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(outcome).Inc()
}

// Found counts reconciliation findings.
func (m *EngineMetrics) Found(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.findings.WithLabelValues(kind).Add(float64(n))
}

// Saturated counts a clamped invoice total.
func (m *EngineMetrics) Saturated() {
	if m == nil {
		return
	}
	m.saturations.Inc()
}

// Posted counts a ledger entry.
func (m *EngineMetrics) Posted(source, direction string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(source, direction).Inc()
}
