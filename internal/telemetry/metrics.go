package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an optional Prometheus registry wiring for window latency and
// deadline-miss counts, one histogram/counter pair per kernel. Scheduler
// construction is unaffected if Metrics is nil: it is strictly additive
// observability, not part of the core measurement path.
type Metrics struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	latency    *prometheus.HistogramVec
	misses     *prometheus.CounterVec
	windowsTot *prometheus.CounterVec
}

// NewMetrics builds a fresh registry with the per-kernel vectors registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cortex",
			Name:      "window_latency_seconds",
			Help:      "Per-window process latency (release to end), seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kernel"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "deadline_misses_total",
			Help:      "Count of windows whose deadline was missed, excluding warmup.",
		}, []string{"kernel"}),
		windowsTot: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "windows_total",
			Help:      "Count of windows processed, including warmup.",
		}, []string{"kernel"}),
	}
	reg.MustRegister(m.latency, m.misses, m.windowsTot)
	return m
}

// Registry exposes the underlying prometheus.Registry for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records one telemetry record's outcome against its kernel's
// vectors. Warmup windows are counted in windowsTotal but never in misses:
// they are excluded from deadline accounting.
func (m *Metrics) Observe(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowsTot.WithLabelValues(r.KernelName).Inc()
	if r.Warmup {
		return
	}
	seconds := float64(r.EndNS-r.ReleaseNS) / 1e9
	m.latency.WithLabelValues(r.KernelName).Observe(seconds)
	if r.DeadlineMissed {
		m.misses.WithLabelValues(r.KernelName).Inc()
	}
}
