package procmon

import "time"

// Status represents the current state of a Monitor.
type Status struct {
	// Running indicates if the instance is currently sampling.
	Running bool
	// StartTime is when the instance was last started (zero if never started).
	StartTime time.Time
	// TickCount is the number of snapshots produced since the last start.
	TickCount uint64
	// LastTick is when the latest snapshot was taken.
	LastTick time.Time
	// ProcessCount is the number of records in the latest snapshot.
	ProcessCount int
	// Degraded reports whether the latest snapshot lacked system enrichment.
	Degraded bool
	// Interval is the current sampling interval.
	Interval time.Duration
	// Platform names the data source ("local", "remote-linux").
	Platform string
	// LastError is the most recent error encountered (nil if none).
	LastError error
	// StopReason is why the last run ended on its own (nil while running
	// or after Stop).
	StopReason error
	// ConfigSource describes the configuration source (file path, "embedded:..." or "reader").
	ConfigSource string
}

// ErrorHandler is a callback for runtime errors.
// It is called asynchronously; do not block in the handler.
type ErrorHandler func(err error)

// EventHandler is a callback for lifecycle events.
// It is called asynchronously; do not block in the handler.
type EventHandler func(event Event)

// Event represents a lifecycle event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Message   string
}

// EventType enumerates lifecycle event types.
type EventType int

const (
	// EventStarted is emitted when the instance starts successfully.
	EventStarted EventType = iota
	// EventStopped is emitted when the instance stops.
	EventStopped
	// EventRestarted is emitted after a successful restart.
	EventRestarted
	// EventConfigReloaded is emitted when configuration is reloaded.
	EventConfigReloaded
	// EventError is emitted when a recoverable error occurs.
	EventError
	// EventDegraded is emitted when ticks start running without system
	// enrichment, and EventRecovered when enrichment comes back.
	EventDegraded
	EventRecovered
)

// String returns a human-readable representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventRestarted:
		return "restarted"
	case EventConfigReloaded:
		return "config_reloaded"
	case EventError:
		return "error"
	case EventDegraded:
		return "degraded"
	case EventRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}
