package procmon

import (
	"fmt"
	"time"

	"github.com/opd-ai/go-procmon/internal/platform"
)

// recentErrorWindow is how long the last error keeps the errors
// component degraded.
const recentErrorWindow = time.Minute

// HealthStatus represents the health state of an instance or component.
type HealthStatus string

const (
	// HealthOK indicates the component is functioning normally.
	HealthOK HealthStatus = "ok"
	// HealthDegraded indicates partial functionality or non-critical issues.
	HealthDegraded HealthStatus = "degraded"
	// HealthUnhealthy indicates the component is not functioning.
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck contains the health status of an instance and its components.
type HealthCheck struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     time.Duration              `json:"uptime_ns"`
	Components map[string]ComponentHealth `json:"components"`
	Message    string                     `json:"message"`
}

// ComponentHealth is the health of one component: the instance, the
// scheduler, the metric sources, the remote connection or the error rate.
type ComponentHealth struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message"`
	LastUpdated time.Time    `json:"last_updated"`
}

// IsHealthy returns true if the overall status is HealthOK.
func (h HealthCheck) IsHealthy() bool {
	return h.Status == HealthOK
}

// IsDegraded returns true if the overall status is HealthDegraded.
func (h HealthCheck) IsDegraded() bool {
	return h.Status == HealthDegraded
}

// IsUnhealthy returns true if the overall status is HealthUnhealthy.
func (h HealthCheck) IsUnhealthy() bool {
	return h.Status == HealthUnhealthy
}

// worst returns the more severe of two statuses.
func worst(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthOK: 0, HealthDegraded: 1, HealthUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Health returns a health check of the instance and its components.
func (m *monitorImpl) Health() HealthCheck {
	now := time.Now()
	hc := HealthCheck{
		Status:     HealthOK,
		Timestamp:  now,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, status HealthStatus, msg string) {
		hc.Components[name] = ComponentHealth{Status: status, Message: msg, LastUpdated: now}
		hc.Status = worst(hc.Status, status)
	}

	m.mu.RLock()
	r := m.run
	m.mu.RUnlock()

	if !m.running.Load() || r == nil {
		set("instance", HealthUnhealthy, "not running")
		hc.Message = "instance is not running"
		return hc
	}
	hc.Uptime = now.Sub(r.started)
	set("instance", HealthOK, "running")

	interval := r.sched.Interval()
	switch snap := r.sched.Latest(); {
	case snap == nil && hc.Uptime > 3*interval:
		set("scheduler", HealthUnhealthy, "no tick completed")
	case snap == nil:
		set("scheduler", HealthOK, "waiting for first tick")
	case now.Sub(snap.TakenAt) > 3*interval:
		set("scheduler", HealthDegraded, fmt.Sprintf("last tick %s ago", now.Sub(snap.TakenAt).Round(time.Millisecond)))
	default:
		set("scheduler", HealthOK, fmt.Sprintf("tick #%d, %d processes", snap.Sequence, snap.Count))
	}

	switch {
	case r.sysCB.State() != CircuitClosed:
		set("enrichment", HealthDegraded, "circuit "+r.sysCB.State().String())
	case m.degraded.Load():
		set("enrichment", HealthDegraded, "system process table unavailable")
	default:
		set("enrichment", HealthOK, "available")
	}

	if r.appCB != nil {
		if st := r.appCB.State(); st == CircuitOpen {
			set("source", HealthUnhealthy, "circuit open")
		} else {
			set("source", HealthOK, "circuit "+st.String())
		}
	}

	if rep, ok := r.plat.(platform.ConnectionReporter); ok {
		stats := rep.ConnectionStats()
		switch stats.State {
		case platform.ConnectionStateConnected:
			set("remote", HealthOK, stats.State.String())
		case platform.ConnectionStateDisconnected:
			set("remote", HealthUnhealthy, stats.State.String())
		default:
			set("remote", HealthDegraded, stats.State.String())
		}
	}

	if rec := m.lastError.Load(); rec != nil && now.Sub(rec.at) < recentErrorWindow {
		set("errors", HealthDegraded, rec.err.Error())
	} else {
		set("errors", HealthOK, "no recent errors")
	}

	switch hc.Status {
	case HealthOK:
		hc.Message = "all components healthy"
	case HealthDegraded:
		hc.Message = "some components degraded"
	default:
		hc.Message = "instance unhealthy"
	}
	return hc
}
