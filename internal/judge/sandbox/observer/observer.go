// Package observer defines metrics hooks for sandbox execution.
package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(languageID string, ok bool, elapsed time.Duration)
	ObserveRun(languageID string, outcome string, elapsed time.Duration)
	ObserveSandboxError(phase string)
}

// Nop discards all observations.
type Nop struct{}

func (Nop) ObserveCompile(string, bool, time.Duration) {}
func (Nop) ObserveRun(string, string, time.Duration)   {}
func (Nop) ObserveSandboxError(string)                 {}

// Prometheus records sandbox metrics as prometheus collectors.
type Prometheus struct {
	compileDuration *prometheus.HistogramVec
	runDuration     *prometheus.HistogramVec
	sandboxErrors   *prometheus.CounterVec
}

var _ MetricsRecorder = (*Prometheus)(nil)

// NewPrometheus registers the sandbox collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		compileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "judgeline",
			Subsystem: "sandbox",
			Name:      "compile_duration_seconds",
			Help:      "Duration of compile steps per language and result.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"language", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "judgeline",
			Subsystem: "sandbox",
			Name:      "run_duration_seconds",
			Help:      "Duration of testcase runs per language and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"language", "outcome"}),
		sandboxErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "judgeline",
			Subsystem: "sandbox",
			Name:      "errors_total",
			Help:      "Container runtime failures by phase.",
		}, []string{"phase"}),
	}
	reg.MustRegister(p.compileDuration, p.runDuration, p.sandboxErrors)
	return p
}

func (p *Prometheus) ObserveCompile(languageID string, ok bool, elapsed time.Duration) {
	res := "ok"
	if !ok {
		res = "error"
	}
	p.compileDuration.WithLabelValues(languageID, res).Observe(elapsed.Seconds())
}

func (p *Prometheus) ObserveRun(languageID string, outcome string, elapsed time.Duration) {
	p.runDuration.WithLabelValues(languageID, outcome).Observe(elapsed.Seconds())
}

func (p *Prometheus) ObserveSandboxError(phase string) {
	p.sandboxErrors.WithLabelValues(phase).Inc()
}
