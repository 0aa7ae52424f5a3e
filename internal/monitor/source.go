package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultFetchTimeout bounds the fetches of a single tick when the source
// is used without a Scheduler. A Scheduler replaces it with its interval.
const DefaultFetchTimeout = 2 * time.Second

// AppMetricsSource reports the host runtime's own per-process metrics.
type AppMetricsSource interface {
	AppMetrics(ctx context.Context) ([]RawAppMetric, error)
}

// SystemProcessSource reports the operating system process table.
type SystemProcessSource interface {
	Processes(ctx context.Context) ([]RawSystemProcess, error)
}

// PollResult is the raw input of one tick.
type PollResult struct {
	App    []RawAppMetric
	System []RawSystemProcess
	// EnrichmentErr is non-nil when the system fetch failed. It wraps
	// ErrEnrichmentUnavailable; System is empty in that case.
	EnrichmentErr error
}

// Degraded reports whether the tick ran without system enrichment.
func (r PollResult) Degraded() bool {
	return r.EnrichmentErr != nil
}

// MetricSource fetches both inputs of a tick concurrently.
type MetricSource struct {
	app     AppMetricsSource
	system  SystemProcessSource
	timeout atomic.Int64
	// followInterval is set while no explicit timeout was given.
	followInterval atomic.Bool
}

// NewMetricSource combines an application and a system source. A nil
// system source always degrades. A non-positive timeout follows the
// interval of the Scheduler the source is given to, and is
// DefaultFetchTimeout until then.
func NewMetricSource(app AppMetricsSource, system SystemProcessSource, timeout time.Duration) *MetricSource {
	m := &MetricSource{app: app, system: system}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
		m.followInterval.Store(true)
	}
	m.timeout.Store(int64(timeout))
	return m
}

// SetTimeout changes the per-tick fetch timeout. It stops the timeout from
// following the sampling interval.
func (m *MetricSource) SetTimeout(d time.Duration) {
	if d > 0 {
		m.followInterval.Store(false)
		m.timeout.Store(int64(d))
	}
}

// Timeout returns the per-tick fetch timeout.
func (m *MetricSource) Timeout() time.Duration {
	return time.Duration(m.timeout.Load())
}

// intervalChanged applies a new sampling interval to a timeout that has
// not been set explicitly.
func (m *MetricSource) intervalChanged(d time.Duration) {
	if d > 0 && m.followInterval.Load() {
		m.timeout.Store(int64(d))
	}
}

// Poll issues both fetches and waits for them. An application failure
// fails the poll. A system failure degrades it: the result is returned
// with EnrichmentErr set. When the fetch timeout elapses first the poll
// fails with ErrTickTimeout.
func (m *MetricSource) Poll(ctx context.Context) (PollResult, error) {
	timeout := m.Timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res PollResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app, err := m.app.AppMetrics(gctx)
		if err != nil {
			return NewComponentError(SourceAppMetrics, err)
		}
		res.App = app
		return nil
	})

	g.Go(func() error {
		if m.system == nil {
			res.EnrichmentErr = ErrEnrichmentUnavailable
			return nil
		}
		sys, err := m.system.Processes(gctx)
		if err != nil {
			// An aborted system fetch is not an enrichment failure of its own.
			if gctx.Err() != nil && ctx.Err() == nil {
				return nil
			}
			res.EnrichmentErr = NewComponentError(SourceSystem,
				fmt.Errorf("%w: %w", ErrEnrichmentUnavailable, err))
			return nil
		}
		res.System = sys
		return nil
	})

	// A source that ignores its context must not hold the tick past the
	// timeout; its late result is discarded.
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return PollResult{}, fmt.Errorf("%w after %s", ErrTickTimeout, timeout)
	}
	if ctx.Err() != nil {
		return PollResult{}, ctx.Err()
	}
	if err != nil {
		return PollResult{}, err
	}
	if res.EnrichmentErr != nil {
		res.System = nil
	}
	return res, nil
}
