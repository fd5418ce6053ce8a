package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so primitives can run without a collector attached.
type Metrics struct {
	registry *prometheus.Registry

	// Primitive lifecycle metrics
	ResourcesCreated   *prometheus.CounterVec
	ResourcesDestroyed *prometheus.CounterVec
	ResourcesOpen      *prometheus.GaugeVec

	// Blocking call metrics
	WaitOutcomes *prometheus.CounterVec
	WaitDuration *prometheus.HistogramVec

	// Port metrics
	PortMessages *prometheus.CounterVec

	// Thread metrics
	ThreadTransitions *prometheus.CounterVec

	// HTTP metrics (kitstat)
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON inspection endpoint.
type Snapshot struct {
	Open          map[string]int64 `json:"open"`
	Created       map[string]int64 `json:"created"`
	TimedOut      int64            `json:"timed_out"`
	ClosedWaits   int64            `json:"closed_waits"`
	PortsWritten  int64            `json:"port_messages_written"`
	PortsRead     int64            `json:"port_messages_read"`
	UptimeSeconds float64          `json:"uptime_seconds"`
}

// NewMetrics creates a collector set on its own registry, so several
// instances can coexist (tests, embedded use).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),
		snapshot: Snapshot{
			Open:    make(map[string]int64),
			Created: make(map[string]int64),
		},

		ResourcesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernelkit_resources_created_total",
				Help: "Total number of primitives created or opened",
			},
			[]string{"kind", "mode"},
		),
		ResourcesDestroyed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernelkit_resources_destroyed_total",
				Help: "Total number of primitives whose shared state was destroyed",
			},
			[]string{"kind", "mode"},
		),
		ResourcesOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kernelkit_resources_open",
				Help: "Number of primitives with live shared state in this process",
			},
			[]string{"kind"},
		),

		WaitOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernelkit_wait_outcomes_total",
				Help: "Outcomes of potentially blocking calls",
			},
			[]string{"kind", "op", "result"},
		),
		WaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernelkit_wait_duration_seconds",
				Help:    "Time spent in potentially blocking calls",
				Buckets: []float64{.00001, .0001, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"kind", "op"},
		),

		PortMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernelkit_port_messages_total",
				Help: "Messages moved through ports",
			},
			[]string{"direction"},
		),

		ThreadTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernelkit_thread_transitions_total",
				Help: "Thread run-state transitions",
			},
			[]string{"state"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernelkit_http_requests_total",
				Help: "Total number of HTTP requests served by kitstat",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernelkit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernelkit_uptime_seconds",
				Help: "Time since the collector was created",
			},
		),
	}

	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCreated counts a new primitive handle with fresh or reopened state.
func (m *Metrics) RecordCreated(kind, mode string) {
	if m == nil {
		return
	}
	m.ResourcesCreated.WithLabelValues(kind, mode).Inc()
	m.ResourcesOpen.WithLabelValues(kind).Inc()

	m.mu.Lock()
	m.snapshot.Created[kind]++
	m.snapshot.Open[kind]++
	m.mu.Unlock()
}

// RecordDestroyed counts the final release of a primitive's state.
func (m *Metrics) RecordDestroyed(kind, mode string) {
	if m == nil {
		return
	}
	m.ResourcesDestroyed.WithLabelValues(kind, mode).Inc()
	m.ResourcesOpen.WithLabelValues(kind).Dec()

	m.mu.Lock()
	m.snapshot.Open[kind]--
	m.mu.Unlock()
}

// RecordWait records the outcome and duration of a blocking call.
func (m *Metrics) RecordWait(kind, op, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WaitOutcomes.WithLabelValues(kind, op, result).Inc()
	m.WaitDuration.WithLabelValues(kind, op).Observe(duration.Seconds())

	switch result {
	case "timed_out":
		m.mu.Lock()
		m.snapshot.TimedOut++
		m.mu.Unlock()
	case "closed":
		m.mu.Lock()
		m.snapshot.ClosedWaits++
		m.mu.Unlock()
	}
}

// RecordPortMessage counts a message written to or read from a port.
func (m *Metrics) RecordPortMessage(direction string) {
	if m == nil {
		return
	}
	m.PortMessages.WithLabelValues(direction).Inc()

	m.mu.Lock()
	if direction == "write" {
		m.snapshot.PortsWritten++
	} else {
		m.snapshot.PortsRead++
	}
	m.mu.Unlock()
}

// RecordThreadState counts a thread entering state.
func (m *Metrics) RecordThreadState(state string) {
	if m == nil {
		return
	}
	m.ThreadTransitions.WithLabelValues(state).Inc()
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// GetSnapshot returns a copy of the current values.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime).Seconds()
	m.Uptime.Set(uptime)

	s := Snapshot{
		Open:          make(map[string]int64, len(m.snapshot.Open)),
		Created:       make(map[string]int64, len(m.snapshot.Created)),
		TimedOut:      m.snapshot.TimedOut,
		ClosedWaits:   m.snapshot.ClosedWaits,
		PortsWritten:  m.snapshot.PortsWritten,
		PortsRead:     m.snapshot.PortsRead,
		UptimeSeconds: uptime,
	}
	for k, v := range m.snapshot.Open {
		s.Open[k] = v
	}
	for k, v := range m.snapshot.Created {
		s.Created[k] = v
	}
	return s
}
