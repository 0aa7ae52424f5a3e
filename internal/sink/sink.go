// Package sink provides snapshot consumers for the procmon scheduler: a
// JSON-lines writer, an HTTP server, a SQLite history recorder and a
// fan-out that combines them.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// Submitter accepts diagnostics requests. *monitor.Scheduler implements it.
type Submitter interface {
	Submit(req monitor.DiagnosticsRequest) bool
}

// Fanout delivers each snapshot to several sinks in order.
type Fanout struct {
	sinks  []monitor.Sink
	logger monitor.Logger
}

// NewFanout combines sinks. Nil sinks are ignored.
func NewFanout(logger monitor.Logger, sinks ...monitor.Sink) *Fanout {
	f := &Fanout{logger: logger}
	if f.logger == nil {
		f.logger = monitor.NopLogger()
	}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of combined sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// OnSnapshot implements monitor.Sink. Every sink sees the snapshot even
// when an earlier one fails. ErrSinkClosed from any sink closes the
// fan-out; other failures are joined and returned.
func (f *Fanout) OnSnapshot(ctx context.Context, snap *monitor.Snapshot) error {
	var (
		errs   []error
		closed bool
	)
	for i, s := range f.sinks {
		err := s.OnSnapshot(ctx, snap)
		switch {
		case err == nil:
		case errors.Is(err, monitor.ErrSinkClosed):
			closed = true
		default:
			f.logger.Warn("sink failed", "sink", i, "sequence", snap.Sequence, "error", err)
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	if closed {
		return monitor.ErrSinkClosed
	}
	return errors.Join(errs...)
}
