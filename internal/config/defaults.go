package config

import (
	"log/slog"
	"time"
)

// Default values for configuration options.
const (
	// DefaultUpdateInterval is the default time between ticks (1 second).
	DefaultUpdateInterval = time.Second
	// DefaultStaleTicks is the default estimator eviction horizon.
	DefaultStaleTicks = 3
	// DefaultSSHPort is the default remote port.
	DefaultSSHPort = 22
	// DefaultListenAddr is the default address of the serve sink.
	DefaultListenAddr = "127.0.0.1:7070"
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Sampling: SamplingConfig{
			UpdateInterval: DefaultUpdateInterval,
			StaleTicks:     DefaultStaleTicks,
		},
		Source: SourceConfig{
			Kind: SourceLocal,
			Remote: RemoteConfig{
				Port: DefaultSSHPort,
			},
		},
		Output: OutputConfig{
			Sink:       SinkTUI,
			ListenAddr: "",
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: LogFormatText,
		},
	}
}
