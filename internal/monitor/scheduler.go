package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultInterval is the sampling cadence when none is configured.
const DefaultInterval = time.Second

// controlQueueSize bounds pending diagnostics requests.
const controlQueueSize = 16

// Sink consumes one snapshot per tick. Returning ErrSinkClosed stops the
// scheduler; any other error is reported and the loop continues.
type Sink interface {
	OnSnapshot(ctx context.Context, snap *Snapshot) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, snap *Snapshot) error

// OnSnapshot implements Sink.
func (f SinkFunc) OnSnapshot(ctx context.Context, snap *Snapshot) error {
	return f(ctx, snap)
}

// DiagnosticsRequest asks for diagnostics tooling to be opened for a process.
type DiagnosticsRequest struct {
	TargetProcessID int `json:"target_process_id"`
}

// DiagnosticsTarget is a validated request with the record it resolved to.
type DiagnosticsTarget struct {
	PID        int
	Kind       ProcessKind
	Name       string
	UIAffinity *UIAffinity
}

// DiagnosticsOpener opens diagnostics tooling for a validated target.
type DiagnosticsOpener interface {
	OpenDiagnostics(ctx context.Context, target DiagnosticsTarget) error
}

// LivenessChecker reports whether an OS process is still running.
type LivenessChecker interface {
	Alive(pid int) bool
}

// Observer is notified about tick outcomes. pkg/procmon feeds its metrics
// and error tracker from it. Calls happen on tick goroutines.
type Observer interface {
	TickCompleted(snap *Snapshot, latency time.Duration)
	TickSkipped()
	TickFailed(err error)
	SinkFailed(err error)
	DiagnosticsHandled(req DiagnosticsRequest, err error)
}

type nopObserver struct{}

func (nopObserver) TickCompleted(*Snapshot, time.Duration) {}
func (nopObserver) TickSkipped() {}
func (nopObserver) TickFailed(error) {}
func (nopObserver) SinkFailed(error) {}
func (nopObserver) DiagnosticsHandled(DiagnosticsRequest, error) {}

// SchedulerConfig holds the collaborators and settings of a Scheduler.
type SchedulerConfig struct {
	Source   *MetricSource
	Builder  *RecordBuilder
	Interval time.Duration
	// StaleTicks is the estimator eviction horizon.
	StaleTicks int
	Opener     DiagnosticsOpener
	Liveness   LivenessChecker
	Observer   Observer
	Logger     Logger
	// Ticks replaces the internal ticker when set. Tests use it to drive
	// ticks deterministically.
	Ticks <-chan time.Time
	// Clock stamps each tick and defaults to time.Now. CPU rates are
	// measured between these stamps.
	Clock func() time.Time
}

// Scheduler drives the tick loop and the diagnostics control channel.
type Scheduler struct {
	source   *MetricSource
	builder  *RecordBuilder
	opener   DiagnosticsOpener
	liveness LivenessChecker
	observer Observer
	logger   Logger
	ticks    <-chan time.Time
	now      func() time.Time

	// tickMu serializes ticks and guards the estimator and interval.
	tickMu    sync.Mutex
	estimator *CPURateEstimator
	interval  time.Duration
	resetC    chan time.Duration

	inFlight atomic.Bool
	seq      atomic.Uint64

	latestMu sync.RWMutex
	latest   *Snapshot

	requests chan DiagnosticsRequest

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	err     error
}

// NewScheduler creates a scheduler. Source is required.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Source == nil {
		return nil, errors.New("scheduler: metric source is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	builder := cfg.Builder
	if builder == nil {
		builder = NewRecordBuilder(nil, cfg.Logger)
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg.Source.intervalChanged(cfg.Interval)
	return &Scheduler{
		source:    cfg.Source,
		builder:   builder,
		opener:    cfg.Opener,
		liveness:  cfg.Liveness,
		observer:  observer,
		logger:    orNop(cfg.Logger),
		ticks:     cfg.Ticks,
		now:       clock,
		estimator: NewCPURateEstimator(cfg.StaleTicks),
		interval:  cfg.Interval,
		resetC:    make(chan time.Duration, 1),
		requests:  make(chan DiagnosticsRequest, controlQueueSize),
		done:      make(chan struct{}),
	}, nil
}

// Start fires the first tick immediately and then one tick per interval
// until Stop is called, ctx is cancelled, or the sink returns
// ErrSinkClosed. It returns ErrAlreadyRunning if the scheduler is running.
// A stopped scheduler cannot be restarted.
func (s *Scheduler) Start(ctx context.Context, sink Sink) error {
	if sink == nil {
		return errors.New("scheduler: sink is required")
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return errors.New("scheduler: already stopped")
	default:
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(2)
	go s.loop(ctx, sink)
	go s.controlLoop(ctx)

	go func() {
		s.wg.Wait()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

// Stop cancels the loops and waits for them to exit. It is safe to call
// more than once and on a scheduler that was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.done
}

// Done is closed once a started scheduler has fully stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the scheduler stopped on its own: ErrSinkClosed,
// or nil after Stop or context cancellation.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// IsRunning reports whether the loops are active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Latest returns the most recent snapshot, or nil before the first tick.
func (s *Scheduler) Latest() *Snapshot {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	return s.latest
}

// Interval returns the current sampling interval.
func (s *Scheduler) Interval() time.Duration {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.interval
}

// SetInterval changes the sampling cadence. A running loop picks up the
// new interval at its next tick.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.tickMu.Lock()
	changed := s.interval != d
	s.interval = d
	s.tickMu.Unlock()
	s.source.intervalChanged(d)
	if !changed {
		return
	}
	select {
	case <-s.resetC:
	default:
	}
	select {
	case s.resetC <- d:
	default:
	}
}

// SetStaleTicks changes the estimator eviction horizon.
func (s *Scheduler) SetStaleTicks(n int) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.estimator.SetStaleTicks(n)
}

func (s *Scheduler) loop(ctx context.Context, sink Sink) {
	defer s.wg.Done()

	ticks := s.ticks
	var ticker *time.Ticker
	if ticks == nil {
		ticker = time.NewTicker(s.Interval())
		defer ticker.Stop()
		ticks = ticker.C
	}

	var tickWG sync.WaitGroup
	defer tickWG.Wait()

	fire := func() {
		if !s.inFlight.CompareAndSwap(false, true) {
			s.logger.Debug("tick skipped, previous tick still in flight")
			s.observer.TickSkipped()
			return
		}
		tickWG.Add(1)
		go func() {
			defer tickWG.Done()
			defer s.inFlight.Store(false)
			s.runTick(ctx, sink)
		}()
	}

	fire()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.resetC:
			if ticker != nil {
				ticker.Reset(d)
			}
		case <-ticks:
			fire()
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context, sink Sink) {
	snap, err := s.Tick(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.observer.TickFailed(err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}

	err = sink.OnSnapshot(ctx, snap)
	switch {
	case err == nil:
	case errors.Is(err, ErrSinkClosed):
		s.logger.Info("sink closed, stopping", "tick_id", snap.TickID)
		s.mu.Lock()
		s.err = ErrSinkClosed
		cancel := s.cancel
		s.mu.Unlock()
		cancel()
	default:
		s.logger.Warn("sink failed", "tick_id", snap.TickID, "error", err)
		s.observer.SinkFailed(err)
	}
}

// Tick runs one tick synchronously: poll, correlate, assemble, and record
// the snapshot as latest. It does not push to a sink. Concurrent calls are
// serialized.
func (s *Scheduler) Tick(ctx context.Context) (*Snapshot, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	begun := time.Now()
	started := s.now()
	tickID := uuid.NewString()
	log := s.logger

	res, err := s.source.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("tick abandoned", "tick_id", tickID, "error", err)
		}
		return nil, fmt.Errorf("tick %s: %w", tickID, err)
	}
	if res.Degraded() {
		log.Warn("system enrichment unavailable", "tick_id", tickID, "error", res.EnrichmentErr)
	}

	records := s.builder.BuildWithRates(res.App, res.System, s.estimator, started, s.interval)
	roots, cycles := AssembleWithCycles(records)
	for _, c := range cycles {
		log.Warn("broke parent cycle", "tick_id", tickID, "error", c)
	}
	s.estimator.EndTick()

	snap := &Snapshot{
		Sequence: s.seq.Add(1),
		TickID:   tickID,
		TakenAt:  started,
		Roots:    roots,
		Degraded: res.Degraded(),
	}
	snap.seal()

	s.latestMu.Lock()
	s.latest = snap
	s.latestMu.Unlock()

	latency := time.Since(begun)
	log.Debug("tick complete", "tick_id", tickID, "processes", snap.Count, "latency", latency)
	s.observer.TickCompleted(snap, latency)
	return snap, nil
}

// Submit enqueues a diagnostics request. It never blocks; when the queue
// is full the request is dropped and false is returned.
func (s *Scheduler) Submit(req DiagnosticsRequest) bool {
	select {
	case s.requests <- req:
		return true
	default:
		s.logger.Debug("diagnostics queue full, request dropped", "pid", req.TargetProcessID)
		return false
	}
}

func (s *Scheduler) controlLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			err := s.handleRequest(ctx, req)
			if err != nil {
				s.logger.Debug("diagnostics request dropped", "pid", req.TargetProcessID, "error", err)
			}
			s.observer.DiagnosticsHandled(req, err)
		}
	}
}

// handleRequest validates a request against the latest snapshot and the
// liveness checker before forwarding it.
func (s *Scheduler) handleRequest(ctx context.Context, req DiagnosticsRequest) error {
	rec := s.Latest().Find(req.TargetProcessID)
	if rec == nil {
		return fmt.Errorf("%w: pid %d not in latest snapshot", ErrUnknownTarget, req.TargetProcessID)
	}
	if s.liveness != nil && !s.liveness.Alive(rec.PID) {
		return fmt.Errorf("%w: pid %d has exited", ErrUnknownTarget, rec.PID)
	}
	if s.opener == nil {
		return NewComponentError(SourceControl, errors.New("no diagnostics opener configured"))
	}
	target := DiagnosticsTarget{
		PID:        rec.PID,
		Kind:       rec.Kind,
		Name:       rec.DisplayName,
		UIAffinity: rec.UIAffinity,
	}
	if err := s.opener.OpenDiagnostics(ctx, target); err != nil {
		return NewComponentError(SourceControl, err)
	}
	s.logger.Info("diagnostics opened", "pid", rec.PID, "name", rec.DisplayName)
	return nil
}
