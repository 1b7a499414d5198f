package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors updated by the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	applyDuration *prometheus.HistogramVec
	probeCycles   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge
}

// New creates collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wavectl",
			Name:      "component_transitions_total",
			Help:      "Component state transitions recorded by the engine.",
		}, []string{"component", "to"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wavectl",
			Name:      "runs_total",
			Help:      "Deployment runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wavectl",
			Name:      "run_duration_seconds",
			Help:      "Wall time of deployment runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"stage"}),
		applyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wavectl",
			Name:      "apply_duration_seconds",
			Help:      "Duration of a single executor apply call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component", "outcome"}),
		probeCycles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wavectl",
			Name:      "probe_cycles",
			Help:      "Probe cycles needed before a component settled.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}, []string{"component"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wavectl",
			Name:      "active_runs",
			Help:      "Runs currently executing or rolling back.",
		}),
	}
	reg.MustRegister(m.transitions, m.runs, m.runDuration, m.applyDuration, m.probeCycles, m.activeRuns,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Transition(component, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(component, to).Inc()
}

func (m *Metrics) ApplyDone(component, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.applyDuration.WithLabelValues(component, outcome).Observe(d.Seconds())
}

func (m *Metrics) ProbeSettled(component string, cycles int) {
	if m == nil {
		return
	}
	m.probeCycles.WithLabelValues(component).Observe(float64(cycles))
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Metrics) RunFinished(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(stage).Observe(d.Seconds())
}
