package monitor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorSource identifies which collaborator produced an error.
type ErrorSource string

const (
	SourceAppMetrics ErrorSource = "app_metrics"
	SourceSystem     ErrorSource = "system_processes"
	SourceSurfaces   ErrorSource = "surfaces"
	SourceSink       ErrorSource = "sink"
	SourceControl    ErrorSource = "control"
)

var (
	// ErrEnrichmentUnavailable marks a failed system-process fetch. The tick
	// proceeds with system-sourced fields left absent.
	ErrEnrichmentUnavailable = errors.New("system process enrichment unavailable")

	// ErrTickTimeout is returned when the fetches of one tick do not complete
	// within the fetch timeout. The tick is abandoned.
	ErrTickTimeout = errors.New("tick fetch timed out")

	// ErrSinkClosed is returned by a Sink whose consumer has gone away.
	// The scheduler stops when it sees it.
	ErrSinkClosed = errors.New("sink closed")

	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrUnknownTarget is reported when a diagnostics request names a pid
	// that is not a live process in the latest snapshot.
	ErrUnknownTarget = errors.New("unknown diagnostics target")
)

// ComponentError wraps an error with source information.
// It preserves the original error for inspection via errors.Is/errors.As.
type ComponentError struct {
	Source ErrorSource
	Err    error
}

// Error implements the error interface.
func (e *ComponentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *ComponentError) Unwrap() error {
	return e.Err
}

// NewComponentError creates a new ComponentError.
func NewComponentError(source ErrorSource, err error) *ComponentError {
	return &ComponentError{Source: source, Err: err}
}

// IsComponentError returns true if err wraps a ComponentError with the given source.
func IsComponentError(err error, source ErrorSource) bool {
	var ce *ComponentError
	for errors.As(err, &ce) {
		if ce.Source == source {
			return true
		}
		err = ce.Err
	}
	return false
}

// CycleError reports parent links that loop back on themselves.
// PIDs lists the members of the loop in parent order.
type CycleError struct {
	PIDs []int
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	parts := make([]string, len(e.PIDs))
	for i, pid := range e.PIDs {
		parts[i] = strconv.Itoa(pid)
	}
	return fmt.Sprintf("parent cycle through pids %s", strings.Join(parts, "->"))
}
