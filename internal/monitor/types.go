// Package monitor implements the sampling-and-correlation engine of procmon.
// It joins an application's own per-process metrics with the operating
// system's process table by pid, derives CPU and memory figures, assembles
// the result into a parent/child forest and streams one snapshot per tick
// to a Sink.
package monitor

import (
	"time"
)

// ProcessKind describes the role a process plays inside the host application.
type ProcessKind string

// Process kinds reported by host runtimes. The set is open; unknown roles
// from a host are carried through verbatim.
const (
	KindBrowser ProcessKind = "Browser"
	KindTab     ProcessKind = "Tab"
	KindGPU     ProcessKind = "GPU"
	KindUtility ProcessKind = "Utility"
	KindZygote  ProcessKind = "Zygote"
	KindUnknown ProcessKind = "Unknown"
)

// IsContentSurface reports whether processes of this kind render a
// user-facing content surface and are eligible for UI affinity resolution.
func (k ProcessKind) IsContentSurface() bool {
	return k == KindTab
}

// RawAppMetric is one entry of the host runtime's own process metrics.
type RawAppMetric struct {
	PID  int
	Kind ProcessKind
	// CPUPercent is the host's pre-normalized utilization.
	CPUPercent float64
	// CumulativeCPU, when non-zero, is a monotonically increasing CPU time
	// counter. It takes precedence over CPUPercent and is turned into a
	// rate by the CPURateEstimator.
	CumulativeCPU   time.Duration
	WorkingSetBytes uint64
	// PrivateBytes comes from a separate private-memory sampling API.
	// Zero means not sampled.
	PrivateBytes uint64
	Sandboxed    *bool
	CreationTime time.Time
	// OSProcessID is the OS-level pid backing this entry when the host
	// distinguishes it from PID.
	OSProcessID *int
}

// RawSystemProcess is one entry of the OS process table.
type RawSystemProcess struct {
	PID       int
	ParentPID *int
	Name      string
}

// UIAffinity identifies the rendering surface and window a process is
// currently serving. WindowID is zero when no owning window was found.
type UIAffinity struct {
	ContentSurfaceID int `json:"content_surface_id"`
	WindowID         int `json:"window_id,omitempty"`
}

// ProcessRecord is one observed process at one sampling instant.
// Records are rebuilt every tick and never mutated across ticks.
type ProcessRecord struct {
	PID            int              `json:"pid"`
	ParentPID      *int             `json:"parent_pid,omitempty"`
	Kind           ProcessKind      `json:"kind"`
	DisplayName    string           `json:"name"`
	CPUPercent     float64          `json:"cpu_percent"`
	CPUDisplay     string           `json:"cpu"`
	MemoryBytes    uint64           `json:"memory_bytes"`
	MemoryDisplay  string           `json:"memory"`
	PrivateBytes   uint64           `json:"private_bytes,omitempty"`
	PrivateDisplay string           `json:"private_memory,omitempty"`
	Sandboxed      *bool            `json:"sandboxed,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	StartedDisplay string           `json:"started"`
	UIAffinity     *UIAffinity      `json:"ui_affinity,omitempty"`
	Children       []*ProcessRecord `json:"children"`
}

// Snapshot is the complete forest produced by one tick.
type Snapshot struct {
	Sequence uint64           `json:"sequence"`
	TickID   string           `json:"tick_id"`
	TakenAt  time.Time        `json:"taken_at"`
	Roots    []*ProcessRecord `json:"roots"`
	Count    int              `json:"count"`
	// Degraded is set when system enrichment was unavailable for the tick.
	Degraded bool `json:"degraded"`

	index map[int]*ProcessRecord
}

// Find returns the record with the given pid, or nil.
func (s *Snapshot) Find(pid int) *ProcessRecord {
	if s == nil {
		return nil
	}
	if s.index != nil {
		return s.index[pid]
	}
	var found *ProcessRecord
	_ = Walk(s.Roots, func(rec *ProcessRecord, _ int) {
		if found == nil && rec.PID == pid {
			found = rec
		}
	})
	return found
}

// seal indexes the snapshot and fills Count. Sealed snapshots are read
// concurrently by sinks and the control loop and must not be modified.
func (s *Snapshot) seal() {
	s.index = make(map[int]*ProcessRecord)
	_ = Walk(s.Roots, func(rec *ProcessRecord, _ int) {
		s.index[rec.PID] = rec
	})
	s.Count = len(s.index)
}

// PIDs returns every pid in the snapshot in pre-order.
func (s *Snapshot) PIDs() []int {
	if s == nil {
		return nil
	}
	flat, _ := Flatten(s.Roots)
	pids := make([]int, len(flat))
	for i, rec := range flat {
		pids[i] = rec.PID
	}
	return pids
}

func intPtr(v int) *int {
	return &v
}
