package monitor

import "time"

// DefaultStaleTicks is the number of consecutive ticks a pid may go unseen
// before the estimator forgets it.
const DefaultStaleTicks = 3

// cpuSample is the estimator's memory of one pid.
type cpuSample struct {
	cumulative time.Duration
	at         time.Time // zero when the caller gave no sample time
	lastSeen   uint64    // tick number of the last Estimate call
}

// CPURateEstimator turns monotonically increasing CPU-time counters into
// utilization percentages.
//
// It is not safe for concurrent use. The Scheduler serializes ticks, and
// every estimator owns its own state, so independent monitors never
// interfere.
type CPURateEstimator struct {
	samples    map[int]cpuSample
	tick       uint64
	staleTicks uint64
}

// NewCPURateEstimator creates an estimator that evicts pids unseen for
// staleTicks consecutive ticks. Non-positive values use DefaultStaleTicks.
func NewCPURateEstimator(staleTicks int) *CPURateEstimator {
	if staleTicks <= 0 {
		staleTicks = DefaultStaleTicks
	}
	return &CPURateEstimator{
		samples:    make(map[int]cpuSample),
		staleTicks: uint64(staleTicks),
	}
}

// Estimate returns the utilization of pid over the last interval as
// ((current - previous) / interval) * 100. The first observation of a pid
// yields 0. State is updated unconditionally.
func (e *CPURateEstimator) Estimate(pid int, current, interval time.Duration) float64 {
	return e.EstimateAt(pid, current, time.Time{}, interval)
}

// EstimateAt is Estimate for a sample taken at a known time. The delta is
// divided by the time elapsed since the pid's previous sample, which
// spans several intervals after a skipped or abandoned tick. fallback is
// used when either sample has no time.
func (e *CPURateEstimator) EstimateAt(pid int, current time.Duration, at time.Time, fallback time.Duration) float64 {
	prev, ok := e.samples[pid]
	e.samples[pid] = cpuSample{cumulative: current, at: at, lastSeen: e.tick}
	if !ok {
		return 0
	}

	elapsed := fallback
	if !at.IsZero() && !prev.at.IsZero() {
		if d := at.Sub(prev.at); d > 0 {
			elapsed = d
		}
	}
	if elapsed <= 0 {
		return 0
	}
	delta := current - prev.cumulative
	if delta <= 0 {
		// counter reset, most likely a reused pid
		return 0
	}
	return float64(delta) / float64(elapsed) * 100
}

// EndTick closes the current tick and evicts pids that have not been
// estimated during the last staleTicks ticks.
func (e *CPURateEstimator) EndTick() {
	for pid, s := range e.samples {
		if e.tick-s.lastSeen >= e.staleTicks {
			delete(e.samples, pid)
		}
	}
	e.tick++
}

// SetStaleTicks changes the eviction horizon. Non-positive values use
// DefaultStaleTicks.
func (e *CPURateEstimator) SetStaleTicks(n int) {
	if n <= 0 {
		n = DefaultStaleTicks
	}
	e.staleTicks = uint64(n)
}

// Tracked returns the number of pids currently remembered.
func (e *CPURateEstimator) Tracked() int {
	return len(e.samples)
}
