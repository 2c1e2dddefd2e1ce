package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gluk-w/hopshell/internal/shell"
)

// Metrics turns session events into Prometheus metrics. It implements
// shell.EventSink.
type Metrics struct {
	registry *prometheus.Registry

	ConnectsTotal   *prometheus.CounterVec
	HopFailures     *prometheus.CounterVec
	HopRetries      prometheus.Counter
	CommandsTotal   *prometheus.CounterVec
	CommandDuration prometheus.Histogram
	StreamsActive   prometheus.Gauge
	Interrupts      prometheus.Counter
	Aborts          prometheus.Counter
	SessionsReady   prometheus.Gauge

	mu      sync.Mutex
	ready   map[string]bool
	streams map[string]int
}

// NewMetrics creates the metrics on their own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ready:    make(map[string]bool),
		streams:  make(map[string]int),
	}

	m.ConnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopshell_connects_total",
			Help: "Connect attempts by result",
		},
		[]string{"result"},
	)
	m.HopFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopshell_hop_failures_total",
			Help: "Hop failures by hop name",
		},
		[]string{"hop"},
	)
	m.HopRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hopshell_hop_retries_total",
			Help: "Hop prompt waits retried after a nudge",
		},
	)
	m.CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopshell_commands_total",
			Help: "One-shot commands by result",
		},
		[]string{"result"},
	)
	m.CommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hopshell_command_duration_seconds",
			Help:    "Duration of one-shot commands including the status query",
			Buckets: prometheus.DefBuckets,
		},
	)
	m.StreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hopshell_streams_active",
			Help: "Follow-mode streams currently running",
		},
	)
	m.Interrupts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hopshell_interrupts_total",
			Help: "Interrupts sent to the remote shell",
		},
	)
	m.Aborts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hopshell_aborts_total",
			Help: "Sessions hard-aborted after a transport error or unconfirmed interrupt",
		},
	)
	m.SessionsReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hopshell_sessions_ready",
			Help: "Sessions currently in the ready state",
		},
	)

	m.registry.MustRegister(
		m.ConnectsTotal,
		m.HopFailures,
		m.HopRetries,
		m.CommandsTotal,
		m.CommandDuration,
		m.StreamsActive,
		m.Interrupts,
		m.Aborts,
		m.SessionsReady,
	)
	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Emit implements shell.EventSink.
func (m *Metrics) Emit(e shell.Event) {
	switch e.Kind {
	case shell.EventConnected:
		m.ConnectsTotal.WithLabelValues("ok").Inc()
		m.setReady(e.SessionID, true)
	case shell.EventConnectFailed:
		m.ConnectsTotal.WithLabelValues("failed").Inc()
	case shell.EventHopFailed:
		m.HopFailures.WithLabelValues(e.Hop).Inc()
	case shell.EventHopRetried:
		m.HopRetries.Inc()
	case shell.EventCommandCompleted:
		m.CommandsTotal.WithLabelValues("ok").Inc()
		m.CommandDuration.Observe(e.Duration.Seconds())
	case shell.EventCommandFailed:
		m.CommandsTotal.WithLabelValues("failed").Inc()
		m.CommandDuration.Observe(e.Duration.Seconds())
	case shell.EventStreamStarted:
		m.streamDelta(e.SessionID, 1)
	case shell.EventStreamStopped:
		m.streamDelta(e.SessionID, -1)
	case shell.EventInterrupted:
		m.Interrupts.Inc()
	case shell.EventAborted:
		m.Aborts.Inc()
		m.setReady(e.SessionID, false)
	case shell.EventDisconnected:
		m.setReady(e.SessionID, false)
	}
}

func (m *Metrics) setReady(id string, ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready[id] == ready {
		return
	}
	if ready {
		m.ready[id] = true
		m.SessionsReady.Inc()
	} else {
		delete(m.ready, id)
		m.SessionsReady.Dec()
	}
}

func (m *Metrics) streamDelta(id string, d int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.streams[id] + d
	if n < 0 {
		return
	}
	if n == 0 {
		delete(m.streams, id)
	} else {
		m.streams[id] = n
	}
	m.StreamsActive.Add(float64(d))
}
