package metrics

import "github.com/prometheus/client_golang/prometheus"

// DialogueMetrics exposes counters/histograms for the dialogue engine.
type DialogueMetrics struct {
	turnsTotal      *prometheus.CounterVec
	intentTotal     *prometheus.CounterVec
	flowOutcomes    *prometheus.CounterVec
	drainDelivered  prometheus.Counter
	classifyLatency *prometheus.HistogramVec
	generateLatency prometheus.Histogram
}

func NewDialogueMetrics(reg prometheus.Registerer) *DialogueMetrics {
	m := &DialogueMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Total processed turns by handling path",
		}, []string{"path"}),
		intentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "intent",
			Name:      "classified_total",
			Help:      "Total classifications by resulting intent",
		}, []string{"intent"}),
		flowOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "flow",
			Name:      "outcomes_total",
			Help:      "Total flow terminations by outcome",
		}, []string{"outcome"}),
		drainDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "outbox",
			Name:      "delivered_total",
			Help:      "Total messages delivered by queue drains",
		}),
		classifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "parley",
			Subsystem: "intent",
			Name:      "classify_latency_seconds",
			Help:      "Latency of intent classification",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		generateLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parley",
			Subsystem: "generation",
			Name:      "answer_latency_seconds",
			Help:      "Latency of free-form answer generation",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.turnsTotal, m.intentTotal, m.flowOutcomes,
		m.drainDelivered, m.classifyLatency, m.generateLatency,
	)
	return m
}

func (m *DialogueMetrics) ObserveTurn(path string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(path).Inc()
}

func (m *DialogueMetrics) ObserveIntent(intent string) {
	if m == nil {
		return
	}
	m.intentTotal.WithLabelValues(intent).Inc()
}

func (m *DialogueMetrics) ObserveFlowOutcome(outcome string) {
	if m == nil {
		return
	}
	m.flowOutcomes.WithLabelValues(outcome).Inc()
}

func (m *DialogueMetrics) ObserveDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.drainDelivered.Add(float64(n))
}

func (m *DialogueMetrics) ObserveClassifyLatency(status string, seconds float64) {
	if m == nil {
		return
	}
	m.classifyLatency.WithLabelValues(status).Observe(seconds)
}

func (m *DialogueMetrics) ObserveGenerateLatency(seconds float64) {
	if m == nil {
		return
	}
	m.generateLatency.Observe(seconds)
}
