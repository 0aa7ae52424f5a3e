package procmon

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/opd-ai/go-procmon/internal/config"
	"github.com/opd-ai/go-procmon/internal/monitor"
)

// Configuration format constants for use with NewFromReader.
const (
	// FormatLegacy indicates the key/value text format.
	FormatLegacy = "legacy"
	// FormatLua indicates the Lua configuration format.
	FormatLua = "lua"
)

// Monitor is an embedded process monitor with full lifecycle control.
// It is safe for concurrent use from multiple goroutines.
type Monitor interface {
	// Start initializes the data sources and sinks and begins sampling.
	// The first tick fires immediately; Start does not wait for it.
	// Returns an error if already running or if initialization fails.
	Start() error

	// Stop stops sampling, shuts the sinks down and releases the data
	// sources. Safe to call multiple times.
	Stop() error

	// Restart stops, reloads the configuration from its source and starts
	// again. The instance is left stopped if any step fails.
	Restart() error

	// ReloadConfig reloads the configuration without stopping. Sampling
	// settings take effect at the next tick; source, target and sink
	// changes need Restart. The previous configuration stays active when
	// the new one fails to load.
	ReloadConfig() error

	// IsRunning reports whether the instance is sampling.
	IsRunning() bool

	// Done is closed when the current run ends, by Stop or because the
	// sink closed (for example the user quit the terminal UI).
	Done() <-chan struct{}

	// Latest returns the most recent snapshot, or nil before the first tick.
	Latest() *monitor.Snapshot

	// Submit enqueues a diagnostics request. It never blocks and reports
	// whether the request was queued.
	Submit(req monitor.DiagnosticsRequest) bool

	// Status returns detailed status information about the instance.
	Status() Status

	// SetErrorHandler registers a callback for runtime errors.
	// Panics in the handler are recovered.
	SetErrorHandler(handler ErrorHandler)

	// SetEventHandler registers a callback for lifecycle events.
	SetEventHandler(handler EventHandler)

	// Health returns a health check of the instance and its components.
	Health() HealthCheck

	// Metrics returns the metrics collector for this instance.
	Metrics() *Metrics
}

// ErrNotRunning is returned by operations that need a running instance.
var ErrNotRunning = errors.New("procmon instance not running")

// New creates a Monitor from a configuration file on disk, in either Lua
// or legacy format. Call Start to begin sampling.
//
// Example:
//
//	m, err := procmon.New("/etc/procmon.lua", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.Stop()
//	if err := m.Start(); err != nil {
//		log.Fatal(err)
//	}
func New(configPath string, opts *Options) (Monitor, error) {
	load := func() (*config.Config, error) {
		return withParser(func(p *config.Parser) (*config.Config, error) {
			return p.ParseFile(configPath)
		})
	}
	return newMonitor(configPath, load, configPath, opts)
}

// NewFromFS creates a Monitor from a configuration file inside fsys, such
// as an embed.FS.
func NewFromFS(fsys fs.FS, configPath string, opts *Options) (Monitor, error) {
	load := func() (*config.Config, error) {
		return withParser(func(p *config.Parser) (*config.Config, error) {
			return p.ParseFromFS(fsys, configPath)
		})
	}
	return newMonitor("embedded:"+configPath, load, "", opts)
}

// NewFromReader creates a Monitor from configuration content. The content
// is read once and kept for Restart and ReloadConfig.
func NewFromReader(r io.Reader, format string, opts *Options) (Monitor, error) {
	if format != FormatLegacy && format != FormatLua {
		return nil, fmt.Errorf("invalid format: %s (expected '%s' or '%s')", format, FormatLua, FormatLegacy)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	load := func() (*config.Config, error) {
		return withParser(func(p *config.Parser) (*config.Config, error) {
			return p.ParseReader(bytes.NewReader(content), format)
		})
	}
	return newMonitor("reader", load, "", opts)
}

// NewWithDefaults creates a Monitor from the built-in defaults, adjusted
// by opts. It is what the command line uses without -c.
func NewWithDefaults(opts *Options) (Monitor, error) {
	load := func() (*config.Config, error) {
		cfg := config.DefaultConfig()
		return &cfg, nil
	}
	return newMonitor("defaults", load, "", opts)
}

func withParser(parse func(*config.Parser) (*config.Config, error)) (*config.Config, error) {
	p, err := config.NewParser()
	if err != nil {
		return nil, fmt.Errorf("parser init: %w", err)
	}
	defer p.Close()
	cfg, err := parse(p)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newMonitor(source string, load func() (*config.Config, error), watchPath string, opts *Options) (Monitor, error) {
	if opts == nil {
		def := DefaultOptions()
		opts = &def
	}
	if _, err := config.ParseSinkKind(opts.SinkKind); err != nil {
		return nil, err
	}
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	m := &monitorImpl{
		cfg:          cfg,
		opts:         *opts,
		configSource: source,
		configLoader: load,
		watchPath:    watchPath,
		metrics:      opts.Metrics,
		tracker:      opts.ErrorTracker,
		logger:       opts.Logger,
	}
	if m.metrics == nil {
		m.metrics = DefaultMetrics()
	}
	if m.tracker == nil {
		m.tracker = DefaultErrorTracker()
	}
	if m.logger == nil {
		m.logger = NopLogger()
	}
	return m, nil
}
