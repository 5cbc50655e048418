package leaderboard

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts leaderboard updates. A nil *Metrics records nothing.
type Metrics struct {
	updates *prometheus.CounterVec
}

// NewMetrics registers the leaderboard collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "judgeline",
			Subsystem: "leaderboard",
			Name:      "updates_total",
			Help:      "Leaderboard updates by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.updates)
	return m
}

func (m *Metrics) update(res string) {
	if m != nil {
		m.updates.WithLabelValues(res).Inc()
	}
}
