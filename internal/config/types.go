// Package config provides configuration data structures for procmon.
// It defines the settings of the sampling engine, its metric sources and
// its sinks, and parses them from either a Lua file or a legacy key/value
// file.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config represents the complete procmon configuration.
type Config struct {
	// Sampling controls the tick cadence and estimator state.
	Sampling SamplingConfig
	// Target selects the observed process tree.
	Target TargetConfig
	// Source selects where process data comes from.
	Source SourceConfig
	// Output selects the snapshot sink and its options.
	Output OutputConfig
	// Logging controls the structured logger.
	Logging LoggingConfig
}

// SamplingConfig holds tick settings.
type SamplingConfig struct {
	// UpdateInterval is the time between ticks.
	UpdateInterval time.Duration
	// FetchTimeout bounds the fetches of one tick. Zero means one interval.
	FetchTimeout time.Duration
	// StaleTicks is the number of ticks a pid may go unseen before its CPU
	// history is forgotten.
	StaleTicks int
}

// EffectiveFetchTimeout returns FetchTimeout, or UpdateInterval when unset.
func (s SamplingConfig) EffectiveFetchTimeout() time.Duration {
	if s.FetchTimeout > 0 {
		return s.FetchTimeout
	}
	return s.UpdateInterval
}

// TargetConfig selects the host application.
type TargetConfig struct {
	// RootPID is the pid of the host's main process. Zero with an empty
	// RootName observes the whole process table.
	RootPID int
	// RootName selects the oldest process with this name when RootPID is zero.
	RootName string
	// X11Affinity enables resolving content-surface processes to X11
	// client windows.
	X11Affinity bool
}

// SourceConfig selects the metric source.
type SourceConfig struct {
	Kind   SourceKind
	Remote RemoteConfig
}

// RemoteConfig holds SSH connection settings for the remote source.
type RemoteConfig struct {
	Host string
	Port int
	User string
	// KeyFile is a private key path. When neither KeyFile nor Password is
	// set the SSH agent is used.
	KeyFile  string
	Password string
	// KnownHostsPath verifies the host key. Empty means ~/.ssh/known_hosts.
	KnownHostsPath string
	// InsecureHostKey skips host key verification.
	InsecureHostKey bool
}

// OutputConfig holds sink settings.
type OutputConfig struct {
	Sink SinkKind
	// ListenAddr is the HTTP address of the serve sink. It is also used to
	// expose /health and /debug/vars alongside other sinks when non-empty.
	ListenAddr string
	// HistoryDB is a SQLite file that records every snapshot. Empty
	// disables history.
	HistoryDB string
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  slog.Level
	Format LogFormat
}

// SourceKind identifies the process data source.
type SourceKind int

const (
	// SourceLocal reads the local process table.
	SourceLocal SourceKind = iota
	// SourceRemote reads a remote host's process table over SSH.
	SourceRemote
)

// String returns the string representation of a SourceKind.
func (k SourceKind) String() string {
	switch k {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// ParseSourceKind parses a string into a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "":
		return SourceLocal, nil
	case "remote", "ssh":
		return SourceRemote, nil
	default:
		return SourceLocal, fmt.Errorf("unknown source: %s", s)
	}
}

// SinkKind identifies where snapshots are delivered.
type SinkKind int

const (
	// SinkTUI renders an interactive terminal tree.
	SinkTUI SinkKind = iota
	// SinkJSON writes one JSON document per snapshot to stdout.
	SinkJSON
	// SinkServe serves the latest snapshot over HTTP.
	SinkServe
)

// String returns the string representation of a SinkKind.
func (k SinkKind) String() string {
	switch k {
	case SinkTUI:
		return "tui"
	case SinkJSON:
		return "json"
	case SinkServe:
		return "serve"
	default:
		return "unknown"
	}
}

// ParseSinkKind parses a string into a SinkKind.
func ParseSinkKind(s string) (SinkKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tui", "":
		return SinkTUI, nil
	case "json", "jsonl":
		return SinkJSON, nil
	case "serve", "http":
		return SinkServe, nil
	default:
		return SinkTUI, fmt.Errorf("unknown sink: %s", s)
	}
}

// LogFormat selects the log handler.
type LogFormat int

const (
	// LogFormatText uses slog's text handler.
	LogFormatText LogFormat = iota
	// LogFormatJSON uses slog's JSON handler.
	LogFormatJSON
)

// String returns the string representation of a LogFormat.
func (f LogFormat) String() string {
	switch f {
	case LogFormatText:
		return "text"
	case LogFormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseLogFormat parses a string into a LogFormat.
func ParseLogFormat(s string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	default:
		return LogFormatText, fmt.Errorf("unknown log format: %s", s)
	}
}

// ParseLogLevel parses debug, info, warn or error into a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
	return level, nil
}

// Validate checks if the Config has valid values using the comprehensive validator.
// It returns the first validation error found, or nil if the config is valid.
// For detailed validation results including warnings, use NewValidator().Validate().
func (c *Config) Validate() error {
	return ValidateConfig(c)
}
