package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts worker outcomes. A nil *Metrics records nothing.
type Metrics struct {
	verdicts     *prometheus.CounterVec
	infraFailure *prometheus.CounterVec
	retries      prometheus.Counter
	deadLetters  prometheus.Counter
	skipped      *prometheus.CounterVec
}

// NewMetrics registers the worker collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "judgeline",
			Subsystem: "judge",
			Name:      "verdicts_total",
			Help:      "Judged submissions by language and verdict.",
		}, []string{"language", "verdict"}),
		infraFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "judgeline",
			Subsystem: "judge",
			Name:      "infra_failures_total",
			Help:      "Attempts that failed for infrastructure reasons, by error code.",
		}, []string{"code"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "judgeline",
			Subsystem: "judge",
			Name:      "retries_total",
			Help:      "Jobs republished to the retry topic.",
		}),
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "judgeline",
			Subsystem: "judge",
			Name:      "dead_letters_total",
			Help:      "Jobs moved to the dead-letter topic after exhausting retries.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "judgeline",
			Subsystem: "judge",
			Name:      "skipped_messages_total",
			Help:      "Messages acknowledged without judging, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.verdicts, m.infraFailure, m.retries, m.deadLetters, m.skipped)
	return m
}

func (m *Metrics) verdict(language, verdict string) {
	if m != nil {
		m.verdicts.WithLabelValues(language, verdict).Inc()
	}
}

func (m *Metrics) infra(code string) {
	if m != nil {
		m.infraFailure.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) retried() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) deadLettered() {
	if m != nil {
		m.deadLetters.Inc()
	}
}

func (m *Metrics) skip(reason string) {
	if m != nil {
		m.skipped.WithLabelValues(reason).Inc()
	}
}
