package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the dialogue service.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal       *prometheus.CounterVec
	TurnDuration     prometheus.Histogram
	FallbacksTotal   *prometheus.CounterVec
	GreetingsTotal   *prometheus.CounterVec
	DialogueStates   *prometheus.CounterVec
	UtterancesTotal  *prometheus.CounterVec
	CallsActive      prometheus.Gauge
	CallStatusEvents *prometheus.CounterVec
}

// NewMetrics registers every collector on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voca"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of processed caller turns",
			},
			[]string{"outcome"},
		),
		TurnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Turn processing time in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_replies_total",
				Help:      "Replies replaced by a fallback",
			},
			[]string{"kind"},
		),
		GreetingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "greetings_total",
				Help:      "Greetings by source",
			},
			[]string{"source"},
		),
		DialogueStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dialogue_states_total",
				Help:      "Dialogue state reported after each telephony turn",
			},
			[]string{"state"},
		),
		UtterancesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "local_utterances_total",
				Help:      "Utterances handled by the local voice loop",
			},
			[]string{"result"},
		),
		CallsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "calls_active",
				Help:      "Calls currently tracked in the local registry",
			},
		),
		CallStatusEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_status_events_total",
				Help:      "Call status updates by status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.FallbacksTotal,
		m.GreetingsTotal,
		m.DialogueStates,
		m.UtterancesTotal,
		m.CallsActive,
		m.CallStatusEvents,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The helpers below accept a nil receiver so services work without metrics.

func (m *Metrics) turn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(seconds)
}

func (m *Metrics) fallback(kind string) {
	if m != nil {
		m.FallbacksTotal.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) greeting(source string) {
	if m != nil {
		m.GreetingsTotal.WithLabelValues(source).Inc()
	}
}

// ObserveDialogueState counts the state reported by a telephony turn.
func (m *Metrics) ObserveDialogueState(state string) {
	if m != nil {
		m.DialogueStates.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) utterance(result string) {
	if m != nil {
		m.UtterancesTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) callStatus(status string, active int) {
	if m == nil {
		return
	}
	m.CallStatusEvents.WithLabelValues(status).Inc()
	m.CallsActive.Set(float64(active))
}
