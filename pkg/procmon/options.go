package procmon

import (
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/opd-ai/go-procmon/internal/monitor"
	"github.com/opd-ai/go-procmon/internal/platform"
)

// DefaultShutdownTimeout is the default timeout for graceful shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Options configures a Monitor beyond what its configuration file says.
type Options struct {
	// UpdateInterval overrides the configuration's update_interval.
	// Zero means use the configuration's value.
	UpdateInterval time.Duration

	// RootPID and RootName override the configuration's target.
	RootPID  int
	RootName string

	// ShutdownTimeout bounds Stop. Zero means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Logger receives engine and lifecycle logs. Nil disables logging.
	Logger Logger

	// Metrics collects operational metrics. Nil means DefaultMetrics().
	Metrics *Metrics

	// ErrorTracker aggregates errors. Nil means DefaultErrorTracker().
	ErrorTracker *ErrorTracker

	// CircuitBreaker configures the breakers in front of the metric
	// sources. The zero value uses DefaultCircuitBreakerConfig.
	CircuitBreaker CircuitBreakerConfig

	// Platform replaces the platform built from the configuration's
	// source settings. The Monitor initializes and closes it.
	Platform platform.Platform

	// Surfaces replaces X11 window discovery for UI affinity.
	Surfaces monitor.HostSurfaces

	// Sink replaces the sinks built from the configuration's output
	// settings. History and the HTTP server are not started when set.
	Sink monitor.Sink

	// SinkKind overrides the configuration's sink: "tui", "json" or
	// "serve". Empty means use the configuration's value.
	SinkKind string

	// ListenAddr and HistoryDB override the configuration's output
	// settings when non-empty.
	ListenAddr string
	HistoryDB  string

	// Output is where the json sink writes. Nil means stdout.
	Output io.Writer

	// TUIOptions are passed to the terminal UI program.
	TUIOptions []tea.ProgramOption

	// WatchConfig reloads the configuration in place when its file
	// changes. Only disk configurations can be watched.
	WatchConfig bool

	// WatchDebounce coalesces bursts of file events. Zero means
	// DefaultWatchDebounce.
	WatchDebounce time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{}
}
