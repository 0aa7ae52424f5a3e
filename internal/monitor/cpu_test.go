package monitor

import (
	"testing"
	"time"
)

func TestCPURateEstimator_FirstSightIsZero(t *testing.T) {
	e := NewCPURateEstimator(0)
	if got := e.Estimate(1, 1000*time.Millisecond, time.Second); got != 0 {
		t.Errorf("first Estimate() = %v, want 0", got)
	}
	if e.Tracked() != 1 {
		t.Errorf("Tracked() = %d, want 1", e.Tracked())
	}
}

func TestCPURateEstimator_Rate(t *testing.T) {
	e := NewCPURateEstimator(0)
	e.Estimate(1, 1000*time.Millisecond, time.Second)
	e.EndTick()
	if got := e.Estimate(1, 1500*time.Millisecond, time.Second); got != 50 {
		t.Errorf("Estimate() = %v, want 50", got)
	}
	e.EndTick()
	if got := e.Estimate(1, 3500*time.Millisecond, time.Second); got != 200 {
		t.Errorf("Estimate() on two cores = %v, want 200", got)
	}
}

func TestCPURateEstimator_CounterReset(t *testing.T) {
	e := NewCPURateEstimator(0)
	e.Estimate(7, 5*time.Second, time.Second)
	e.EndTick()
	if got := e.Estimate(7, time.Second, time.Second); got != 0 {
		t.Errorf("Estimate() after reset = %v, want 0", got)
	}
	e.EndTick()
	if got := e.Estimate(7, 1250*time.Millisecond, time.Second); got != 25 {
		t.Errorf("Estimate() after re-base = %v, want 25", got)
	}
}

func TestCPURateEstimator_NonPositiveInterval(t *testing.T) {
	e := NewCPURateEstimator(0)
	e.Estimate(1, time.Second, time.Second)
	if got := e.Estimate(1, 2*time.Second, 0); got != 0 {
		t.Errorf("Estimate() with zero interval = %v, want 0", got)
	}
}

func TestCPURateEstimator_Eviction(t *testing.T) {
	tests := []struct {
		name     string
		endTicks int
		want     float64
	}{
		// The tick of the first sample plus two unseen ticks: still remembered.
		{"within horizon", 3, 100},
		// Unseen for three full ticks: forgotten, restarts at zero.
		{"after horizon", 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewCPURateEstimator(3)
			e.Estimate(1, time.Second, time.Second)
			for i := 0; i < tt.endTicks; i++ {
				e.EndTick()
			}
			if got := e.Estimate(1, 2*time.Second, time.Second); got != tt.want {
				t.Errorf("Estimate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCPURateEstimator_SeenPidsSurvive(t *testing.T) {
	e := NewCPURateEstimator(1)
	for i := 0; i < 5; i++ {
		e.Estimate(1, time.Duration(i)*time.Second, time.Second)
		e.EndTick()
	}
	if e.Tracked() != 1 {
		t.Errorf("Tracked() = %d, want 1", e.Tracked())
	}
}

func TestCPURateEstimator_IndependentInstances(t *testing.T) {
	a := NewCPURateEstimator(0)
	b := NewCPURateEstimator(0)
	a.Estimate(1, time.Second, time.Second)
	a.EndTick()
	if got := b.Estimate(1, 2*time.Second, time.Second); got != 0 {
		t.Errorf("second estimator Estimate() = %v, want 0", got)
	}
	if got := a.Estimate(1, 2*time.Second, time.Second); got != 100 {
		t.Errorf("first estimator Estimate() = %v, want 100", got)
	}
}

func TestCPURateEstimator_SetStaleTicks(t *testing.T) {
	e := NewCPURateEstimator(10)
	e.SetStaleTicks(1)
	e.Estimate(1, time.Second, time.Second)
	e.EndTick()
	e.EndTick()
	if e.Tracked() != 0 {
		t.Errorf("Tracked() = %d, want 0 after shrinking horizon", e.Tracked())
	}
}

func TestCPURateEstimator_EstimateAtUsesElapsedTime(t *testing.T) {
	e := NewCPURateEstimator(0)
	t0 := time.Unix(1000, 0)
	e.EstimateAt(1, time.Second, t0, time.Second)

	// two seconds passed, one of them on a missed tick
	if got := e.EstimateAt(1, 2*time.Second, t0.Add(2*time.Second), time.Second); got != 50 {
		t.Errorf("EstimateAt() over 2s = %v, want 50", got)
	}
	// no time on the new sample: the fallback interval is used
	if got := e.EstimateAt(1, 2500*time.Millisecond, time.Time{}, time.Second); got != 50 {
		t.Errorf("EstimateAt() without time = %v, want 50", got)
	}
	// a clock that did not move falls back too
	e.EstimateAt(2, time.Second, t0, time.Second)
	if got := e.EstimateAt(2, 1250*time.Millisecond, t0, time.Second); got != 25 {
		t.Errorf("EstimateAt() with equal times = %v, want 25", got)
	}
}
