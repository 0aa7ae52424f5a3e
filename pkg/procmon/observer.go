package procmon

import (
	"errors"
	"time"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// observer feeds scheduler outcomes into the instance's metrics, error
// tracker and event stream.
type observer struct {
	m *monitorImpl
}

var _ monitor.Observer = (*observer)(nil)

func (o *observer) TickCompleted(snap *monitor.Snapshot, latency time.Duration) {
	m := o.m
	m.metrics.RecordTick(snap.Count, snap.Degraded, latency, snap.TakenAt)

	switch {
	case snap.Degraded && m.degraded.CompareAndSwap(false, true):
		correlated(TickCorrelationID(snap.TickID), m.logger).
			Warn("system process enrichment unavailable, records lose parent and affinity")
		m.tracker.Record(NewCategorizedError(monitor.ErrEnrichmentUnavailable, ErrorCategoryEnrichment, SeverityWarning).
			WithContext("tick_id", snap.TickID))
		m.emitEvent(EventDegraded, "System process enrichment unavailable")
	case !snap.Degraded && m.degraded.CompareAndSwap(true, false):
		correlated(TickCorrelationID(snap.TickID), m.logger).Info("system process enrichment recovered")
		m.emitEvent(EventRecovered, "System process enrichment recovered")
	}
}

func (o *observer) TickSkipped() {
	o.m.metrics.IncrementSkippedTicks()
}

func (o *observer) TickFailed(err error) {
	o.m.metrics.IncrementAbandonedTicks()
	o.m.notifyError(err)
}

func (o *observer) SinkFailed(err error) {
	o.m.metrics.IncrementSinkErrors()
	o.m.notifyError(monitor.NewComponentError(monitor.SourceSink, err))
}

func (o *observer) DiagnosticsHandled(req monitor.DiagnosticsRequest, err error) {
	if err == nil {
		return
	}
	o.m.metrics.IncrementDiagnosticsFailed()
	correlated(DiagnosticsCorrelationID(req.TargetProcessID), o.m.logger).
		Warn("diagnostics request failed", "pid", req.TargetProcessID, "error", err)
	// A request for a process that vanished is routine; only opener
	// failures are reported.
	if errors.Is(err, monitor.ErrUnknownTarget) {
		o.m.tracker.RecordError(err)
		return
	}
	o.m.notifyError(err)
}
