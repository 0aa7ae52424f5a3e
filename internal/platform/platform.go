package platform

import (
	"context"
	"errors"
	"time"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// Platform bundles the process data sources of one host.
type Platform interface {
	// Name returns the platform identifier ("local", "remote-linux").
	Name() string

	// Initialize prepares the platform for data collection.
	Initialize(ctx context.Context) error

	// Close releases any platform-specific resources.
	Close() error

	// AppMetrics returns the host application's per-process metrics.
	AppMetrics() monitor.AppMetricsSource

	// Processes returns the operating system process table.
	Processes() monitor.SystemProcessSource

	// Liveness reports whether a pid is still running.
	Liveness() monitor.LivenessChecker

	// Diagnostics opens an inspection of one process.
	Diagnostics() monitor.DiagnosticsOpener
}

// Target selects the host application's process tree.
type Target struct {
	// RootPID is the pid of the application's main process.
	RootPID int
	// RootName selects the oldest process with this name when RootPID is zero.
	RootName string
}

// IsZero reports whether the target observes the whole process table.
func (t Target) IsZero() bool {
	return t.RootPID == 0 && t.RootName == ""
}

// ProcessInfo is one process as read from the OS, before it is split into
// the application and system views.
type ProcessInfo struct {
	PID     int
	PPID    int
	Name    string
	Cmdline []string
	// CPUTime is the cumulative user plus system CPU time.
	CPUTime time.Duration
	// RSS is the resident set size in bytes.
	RSS uint64
	// Private is the private (unshared) resident memory in bytes, or zero
	// when the platform cannot sample it.
	Private    uint64
	CreateTime time.Time
	Threads    int
}

// Inspection is what a diagnostics request reports about a process.
type Inspection struct {
	PID       int
	Name      string
	Exe       string
	Cmdline   []string
	Threads   int
	OpenFiles int
	State     string
}

var (
	// ErrX11Unavailable is returned when no X server can be reached.
	ErrX11Unavailable = errors.New("X11 display unavailable")

	// ErrNotConnected is returned by remote sources without a live SSH
	// connection.
	ErrNotConnected = errors.New("SSH client not connected")
)
