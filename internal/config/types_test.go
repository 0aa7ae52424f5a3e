package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Sampling.UpdateInterval != time.Second {
		t.Errorf("UpdateInterval = %v, want 1s", cfg.Sampling.UpdateInterval)
	}
	if cfg.Sampling.StaleTicks != DefaultStaleTicks {
		t.Errorf("StaleTicks = %d, want %d", cfg.Sampling.StaleTicks, DefaultStaleTicks)
	}
	if cfg.Source.Kind != SourceLocal {
		t.Errorf("Source.Kind = %v, want local", cfg.Source.Kind)
	}
	if cfg.Source.Remote.Port != DefaultSSHPort {
		t.Errorf("Remote.Port = %d, want %d", cfg.Source.Remote.Port, DefaultSSHPort)
	}
	if cfg.Output.Sink != SinkTUI {
		t.Errorf("Output.Sink = %v, want tui", cfg.Output.Sink)
	}
	if cfg.Logging.Level != slog.LevelInfo {
		t.Errorf("Logging.Level = %v, want INFO", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestEffectiveFetchTimeout(t *testing.T) {
	tests := []struct {
		name     string
		sampling SamplingConfig
		want     time.Duration
	}{
		{"unset falls back to interval", SamplingConfig{UpdateInterval: 2 * time.Second}, 2 * time.Second},
		{"explicit timeout", SamplingConfig{UpdateInterval: 2 * time.Second, FetchTimeout: 500 * time.Millisecond}, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sampling.EffectiveFetchTimeout(); got != tt.want {
				t.Errorf("EffectiveFetchTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSourceKind(t *testing.T) {
	tests := []struct {
		input   string
		want    SourceKind
		wantErr bool
	}{
		{"local", SourceLocal, false},
		{"", SourceLocal, false},
		{"REMOTE", SourceRemote, false},
		{"ssh", SourceRemote, false},
		{" remote ", SourceRemote, false},
		{"carrier-pigeon", SourceLocal, true},
	}
	for _, tt := range tests {
		got, err := ParseSourceKind(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSourceKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSourceKind(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseSinkKind(t *testing.T) {
	tests := []struct {
		input   string
		want    SinkKind
		wantErr bool
	}{
		{"tui", SinkTUI, false},
		{"", SinkTUI, false},
		{"json", SinkJSON, false},
		{"jsonl", SinkJSON, false},
		{"serve", SinkServe, false},
		{"HTTP", SinkServe, false},
		{"printer", SinkTUI, true},
	}
	for _, tt := range tests {
		got, err := ParseSinkKind(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSinkKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSinkKind(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseLogFormatAndLevel(t *testing.T) {
	if f, err := ParseLogFormat("json"); err != nil || f != LogFormatJSON {
		t.Errorf("ParseLogFormat(json) = %v, %v", f, err)
	}
	if _, err := ParseLogFormat("xml"); err == nil {
		t.Error("ParseLogFormat(xml) should fail")
	}

	levels := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range levels {
		got, err := ParseLogLevel(in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q) unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Error("ParseLogLevel(loud) should fail")
	}
}

func TestKindStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{SourceLocal.String(), "local"},
		{SourceRemote.String(), "remote"},
		{SourceKind(99).String(), "unknown"},
		{SinkTUI.String(), "tui"},
		{SinkJSON.String(), "json"},
		{SinkServe.String(), "serve"},
		{SinkKind(99).String(), "unknown"},
		{LogFormatText.String(), "text"},
		{LogFormatJSON.String(), "json"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}
