package procmon

import (
	"expvar"
	"sync/atomic"
	"time"
)

// Metrics collects operational counters for a procmon instance and
// publishes them through expvar at /debug/vars.
//
// Thread-safe for concurrent use.
type Metrics struct {
	// Counters
	starts              atomic.Int64
	stops               atomic.Int64
	restarts            atomic.Int64
	configReloads       atomic.Int64
	ticks               atomic.Int64
	skippedTicks        atomic.Int64
	abandonedTicks      atomic.Int64
	degradedTicks       atomic.Int64
	sinkErrors          atomic.Int64
	diagnosticsRequests atomic.Int64
	diagnosticsRejected atomic.Int64
	diagnosticsFailed   atomic.Int64
	errorsTotal         atomic.Int64
	eventsEmitted       atomic.Int64

	// Latency tracking (stored as nanoseconds)
	tickLatencyNs    atomic.Int64
	tickLatencyCount atomic.Int64

	// Gauges
	currentlyRunning atomic.Int32
	processCount     atomic.Int64
	lastTickUnixNano atomic.Int64

	registered atomic.Bool
}

// NewMetrics creates a new Metrics instance.
// Call RegisterExpvar() to expose metrics via the /debug/vars endpoint.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RegisterExpvar publishes the metrics under procmon_* names.
// Safe to call multiple times on one instance. expvar names are global, so
// only one Metrics instance per process may register.
func (m *Metrics) RegisterExpvar() {
	if m.registered.Swap(true) {
		return
	}

	counter := func(name string, v *atomic.Int64) {
		expvar.Publish(name, expvar.Func(func() any { return v.Load() }))
	}
	counter("procmon_starts_total", &m.starts)
	counter("procmon_stops_total", &m.stops)
	counter("procmon_restarts_total", &m.restarts)
	counter("procmon_config_reloads_total", &m.configReloads)
	counter("procmon_ticks_total", &m.ticks)
	counter("procmon_ticks_skipped_total", &m.skippedTicks)
	counter("procmon_ticks_abandoned_total", &m.abandonedTicks)
	counter("procmon_ticks_degraded_total", &m.degradedTicks)
	counter("procmon_sink_errors_total", &m.sinkErrors)
	counter("procmon_diagnostics_requests_total", &m.diagnosticsRequests)
	counter("procmon_diagnostics_rejected_total", &m.diagnosticsRejected)
	counter("procmon_diagnostics_failed_total", &m.diagnosticsFailed)
	counter("procmon_errors_total", &m.errorsTotal)
	counter("procmon_events_emitted_total", &m.eventsEmitted)
	counter("procmon_processes", &m.processCount)

	expvar.Publish("procmon_running", expvar.Func(func() any { return m.currentlyRunning.Load() }))
	expvar.Publish("procmon_tick_latency_avg_ms", expvar.Func(func() any {
		count := m.tickLatencyCount.Load()
		if count == 0 {
			return float64(0)
		}
		return float64(m.tickLatencyNs.Load()) / float64(count) / 1e6
	}))
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var lastTick time.Time
	if ns := m.lastTickUnixNano.Load(); ns != 0 {
		lastTick = time.Unix(0, ns)
	}
	return MetricsSnapshot{
		Starts:              m.starts.Load(),
		Stops:               m.stops.Load(),
		Restarts:            m.restarts.Load(),
		ConfigReloads:       m.configReloads.Load(),
		Ticks:               m.ticks.Load(),
		SkippedTicks:        m.skippedTicks.Load(),
		AbandonedTicks:      m.abandonedTicks.Load(),
		DegradedTicks:       m.degradedTicks.Load(),
		SinkErrors:          m.sinkErrors.Load(),
		DiagnosticsRequests: m.diagnosticsRequests.Load(),
		DiagnosticsRejected: m.diagnosticsRejected.Load(),
		DiagnosticsFailed:   m.diagnosticsFailed.Load(),
		ErrorsTotal:         m.errorsTotal.Load(),
		EventsEmitted:       m.eventsEmitted.Load(),

		Running:      m.currentlyRunning.Load() > 0,
		ProcessCount: int(m.processCount.Load()),
		LastTick:     lastTick,

		TickLatencyAvg: safeDivide(m.tickLatencyNs.Load(), m.tickLatencyCount.Load()),
	}
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	// Counters
	Starts              int64
	Stops               int64
	Restarts            int64
	ConfigReloads       int64
	Ticks               int64
	SkippedTicks        int64
	AbandonedTicks      int64
	DegradedTicks       int64
	SinkErrors          int64
	DiagnosticsRequests int64
	DiagnosticsRejected int64
	DiagnosticsFailed   int64
	ErrorsTotal         int64
	EventsEmitted       int64

	// Gauges
	Running      bool
	ProcessCount int
	LastTick     time.Time

	TickLatencyAvg time.Duration
}

// IncrementStarts records a start operation.
func (m *Metrics) IncrementStarts() { m.starts.Add(1) }

// IncrementStops records a stop operation.
func (m *Metrics) IncrementStops() { m.stops.Add(1) }

// IncrementRestarts records a restart operation.
func (m *Metrics) IncrementRestarts() { m.restarts.Add(1) }

// IncrementConfigReloads records a configuration reload.
func (m *Metrics) IncrementConfigReloads() { m.configReloads.Add(1) }

// IncrementSkippedTicks records a tick dropped because the previous one
// was still running.
func (m *Metrics) IncrementSkippedTicks() { m.skippedTicks.Add(1) }

// IncrementAbandonedTicks records a tick that failed before producing a
// snapshot.
func (m *Metrics) IncrementAbandonedTicks() { m.abandonedTicks.Add(1) }

// IncrementSinkErrors records a sink delivery failure.
func (m *Metrics) IncrementSinkErrors() { m.sinkErrors.Add(1) }

// IncrementDiagnosticsRequests records a submitted diagnostics request.
func (m *Metrics) IncrementDiagnosticsRequests() { m.diagnosticsRequests.Add(1) }

// IncrementDiagnosticsRejected records a request dropped at submission.
func (m *Metrics) IncrementDiagnosticsRejected() { m.diagnosticsRejected.Add(1) }

// IncrementDiagnosticsFailed records a request dropped during validation
// or by the opener.
func (m *Metrics) IncrementDiagnosticsFailed() { m.diagnosticsFailed.Add(1) }

// IncrementErrors records an error occurrence.
func (m *Metrics) IncrementErrors() { m.errorsTotal.Add(1) }

// IncrementEventsEmitted records an event emission.
func (m *Metrics) IncrementEventsEmitted() { m.eventsEmitted.Add(1) }

// SetRunning updates the running state gauge.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.currentlyRunning.Store(1)
	} else {
		m.currentlyRunning.Store(0)
	}
}

// RecordTick records a completed tick.
func (m *Metrics) RecordTick(processes int, degraded bool, latency time.Duration, at time.Time) {
	m.ticks.Add(1)
	if degraded {
		m.degradedTicks.Add(1)
	}
	m.processCount.Store(int64(processes))
	m.lastTickUnixNano.Store(at.UnixNano())
	m.tickLatencyNs.Add(latency.Nanoseconds())
	m.tickLatencyCount.Add(1)
}

// Reset clears all metrics. Useful for testing.
func (m *Metrics) Reset() {
	for _, v := range []*atomic.Int64{
		&m.starts, &m.stops, &m.restarts, &m.configReloads,
		&m.ticks, &m.skippedTicks, &m.abandonedTicks, &m.degradedTicks,
		&m.sinkErrors, &m.diagnosticsRequests, &m.diagnosticsRejected,
		&m.diagnosticsFailed, &m.errorsTotal, &m.eventsEmitted,
		&m.tickLatencyNs, &m.tickLatencyCount, &m.processCount, &m.lastTickUnixNano,
	} {
		v.Store(0)
	}
	m.currentlyRunning.Store(0)
}

func safeDivide(total, count int64) time.Duration {
	if count == 0 {
		return 0
	}
	return time.Duration(total / count)
}

var defaultMetrics = NewMetrics()

// DefaultMetrics returns the global default Metrics instance.
func DefaultMetrics() *Metrics {
	return defaultMetrics
}
