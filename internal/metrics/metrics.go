// Package metrics provides Prometheus metrics for pipeline runs. Each Metrics
// owns its registry so runs and tests never share counters.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the orchestrator.
type Metrics struct {
	PhaseRuns     *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	Retries       *prometheus.CounterVec
	StepBacks     prometheus.Counter
	AgentCost     prometheus.Counter
	FileFixes     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		PhaseRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cca_phase_runs_total",
				Help: "Total number of phase executions by phase and final status.",
			},
			[]string{"phase", "status"},
		),
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cca_phase_duration_seconds",
				Help:    "Wall-clock duration of phase executions.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
			},
			[]string{"phase"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cca_retries_total",
				Help: "Total number of recovery attempts by phase and escalation level.",
			},
			[]string{"phase", "level"},
		),
		StepBacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cca_step_backs_total",
				Help: "Total number of step-backs to earlier phases.",
			},
		),
		AgentCost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cca_agent_cost_usd_total",
				Help: "Accumulated agent cost reported by the CLI, in USD.",
			},
		),
		FileFixes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cca_file_fixes_total",
				Help: "Total number of per-file fix attempts by checker and result.",
			},
			[]string{"kind", "result"},
		),
		registry: reg,
	}

	reg.MustRegister(m.PhaseRuns)
	reg.MustRegister(m.PhaseDuration)
	reg.MustRegister(m.Retries)
	reg.MustRegister(m.StepBacks)
	reg.MustRegister(m.AgentCost)
	reg.MustRegister(m.FileFixes)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePhase records a finished phase execution.
func (m *Metrics) ObservePhase(phase, status string, d time.Duration) {
	m.PhaseRuns.WithLabelValues(phase, status).Inc()
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveRetry increments the retry counter.
func (m *Metrics) ObserveRetry(phase, level string) {
	m.Retries.WithLabelValues(phase, level).Inc()
}

// ObserveStepBack increments the step-back counter.
func (m *Metrics) ObserveStepBack() {
	m.StepBacks.Inc()
}

// AddCost adds agent cost. Negative values are ignored since counters only grow.
func (m *Metrics) AddCost(usd float64) {
	if usd > 0 {
		m.AgentCost.Add(usd)
	}
}

// ObserveFileFix records the result of one per-file fix.
func (m *Metrics) ObserveFileFix(kind string, ok bool) {
	result := "failed"
	if ok {
		result = "fixed"
	}
	m.FileFixes.WithLabelValues(kind, result).Inc()
}

// WriteTextfile writes the registry in text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
