package procmon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-procmon/internal/config"
	"github.com/opd-ai/go-procmon/internal/monitor"
	"github.com/opd-ai/go-procmon/internal/platform"
	"github.com/opd-ai/go-procmon/internal/sink"
	"github.com/opd-ai/go-procmon/internal/tui"
)

// initTimeout bounds platform initialization, including the SSH handshake.
const initTimeout = 30 * time.Second

// monitorImpl is the private implementation of the Monitor interface.
type monitorImpl struct {
	// Configuration
	cfg          *config.Config
	opts         Options
	configSource string
	configLoader func() (*config.Config, error)
	watchPath    string

	metrics *Metrics
	tracker *ErrorTracker
	logger  Logger

	// State
	run        *run
	running    atomic.Bool
	degraded   atomic.Bool
	lastError  atomic.Pointer[errorRecord]
	stopReason error

	// Handlers
	errorHandler ErrorHandler
	eventHandler EventHandler

	mu sync.RWMutex
}

type errorRecord struct {
	err error
	at  time.Time
}

// run holds the components of one Start..Stop cycle. A scheduler cannot
// be restarted, so every Start builds a new run.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc

	plat     platform.Platform
	surfaces *platform.X11Surfaces
	source   *monitor.MetricSource
	sched    *monitor.Scheduler
	appCB    *CircuitBreaker
	sysCB    *CircuitBreaker

	sink      monitor.Sink
	server    *sink.Server
	history   *sink.History
	ui        *tui.TUI
	uiStarted bool
	uiQuit    atomic.Bool
	watcher   *configWatcher

	started time.Time
	done    chan struct{}
}

var _ Monitor = (*monitorImpl)(nil)

// Start builds the run's components and begins sampling.
func (m *monitorImpl) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("procmon instance already running")
	}
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	r, err := m.initComponents(cfg)
	if err != nil {
		m.running.Store(false)
		err = fmt.Errorf("failed to initialize: %w", err)
		m.notifyError(err)
		return err
	}

	if r.ui != nil {
		r.uiStarted = true
		go m.runUI(r)
	}
	if err := r.sched.Start(r.ctx, r.sink); err != nil {
		r.cancel()
		m.cleanup(r)
		m.running.Store(false)
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if m.opts.WatchConfig && m.watchPath != "" {
		// ReloadConfig reports its own failures.
		reload := func() error {
			_ = m.ReloadConfig()
			return nil
		}
		w, err := newConfigWatcher(m.watchPath, m.opts.WatchDebounce, reload, m.notifyError)
		if err != nil {
			m.logger.Warn("config watch disabled", "path", m.watchPath, "error", err)
		} else {
			r.watcher = w
		}
	}

	m.mu.Lock()
	m.run = r
	m.stopReason = nil
	m.mu.Unlock()
	m.degraded.Store(false)
	m.metrics.IncrementStarts()
	m.metrics.SetRunning(true)

	go m.supervise(r)

	m.logger.Info("procmon started",
		"platform", r.plat.Name(),
		"interval", r.sched.Interval(),
		"config", m.configSource)
	m.emitEvent(EventStarted, "Instance started")
	return nil
}

// supervise waits for the scheduler to stop, for whatever reason, and
// tears the run down.
func (m *monitorImpl) supervise(r *run) {
	<-r.sched.Done()
	r.cancel()
	m.cleanup(r)

	reason := r.sched.Err()
	if reason == nil && r.uiQuit.Load() {
		reason = monitor.ErrSinkClosed
	}
	m.mu.Lock()
	m.stopReason = reason
	m.mu.Unlock()

	m.running.Store(false)
	m.metrics.SetRunning(false)
	close(r.done)

	if reason != nil {
		m.logger.Info("procmon stopped", "reason", reason)
	} else {
		m.logger.Info("procmon stopped")
	}
	m.emitEvent(EventStopped, "Instance stopped")
}

// runUI owns the terminal until the user quits, then ends the run.
func (m *monitorImpl) runUI(r *run) {
	if err := r.ui.Run(); err != nil {
		m.notifyError(fmt.Errorf("terminal UI: %w", err))
	}
	if r.ctx.Err() == nil {
		r.uiQuit.Store(true)
	}
	r.cancel()
}

// Stop cancels the run and waits for its teardown.
func (m *monitorImpl) Stop() error {
	m.mu.RLock()
	r := m.run
	m.mu.RUnlock()
	if r == nil || !m.running.Load() {
		return nil
	}
	r.cancel()

	timeout := m.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	select {
	case <-r.done:
		m.metrics.IncrementStops()
		return nil
	case <-time.After(timeout):
		err := fmt.Errorf("shutdown timeout after %v: some goroutines did not stop", timeout)
		m.notifyError(err)
		return err
	}
}

// Restart performs a stop followed by a start with a freshly loaded configuration.
func (m *monitorImpl) Restart() error {
	if err := m.Stop(); err != nil {
		err = fmt.Errorf("stop failed: %w", err)
		m.notifyError(err)
		return err
	}

	cfg, err := m.configLoader()
	if err != nil {
		err = fmt.Errorf("config reload failed: %w", err)
		m.notifyError(err)
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.metrics.IncrementConfigReloads()
	m.emitEvent(EventConfigReloaded, "Configuration reloaded")

	if err := m.Start(); err != nil {
		err = fmt.Errorf("start failed: %w", err)
		m.notifyError(err)
		return err
	}
	m.metrics.IncrementRestarts()
	m.emitEvent(EventRestarted, "Instance restarted")
	return nil
}

// ReloadConfig applies a freshly loaded configuration to the running
// scheduler.
func (m *monitorImpl) ReloadConfig() error {
	if !m.running.Load() {
		return ErrNotRunning
	}
	log := NewCorrelatedLogger(WithCorrelationID(context.Background(), ""), m.logger)

	newCfg, err := m.configLoader()
	if err != nil {
		err = fmt.Errorf("config reload failed: %w", err)
		log.Warn("keeping previous configuration", "error", err)
		m.notifyError(NewCategorizedError(err, ErrorCategoryConfig, SeverityWarning))
		return err
	}

	m.mu.Lock()
	r := m.run
	if r == nil {
		m.mu.Unlock()
		return ErrNotRunning
	}
	oldCfg := m.cfg
	m.cfg = newCfg
	m.mu.Unlock()

	interval := m.interval(newCfg)
	r.sched.SetInterval(interval)
	r.sched.SetStaleTicks(newCfg.Sampling.StaleTicks)
	r.source.SetTimeout(m.fetchTimeout(newCfg))

	for _, field := range restartOnlyChanges(oldCfg, newCfg) {
		log.Warn("setting changed, restart to apply", "setting", field)
	}

	m.metrics.IncrementConfigReloads()
	log.Info("configuration reloaded", "interval", interval, "stale_ticks", newCfg.Sampling.StaleTicks)
	m.emitEvent(EventConfigReloaded, "Configuration reloaded in-place")
	return nil
}

// restartOnlyChanges lists the settings that differ between two
// configurations and only take effect on Restart.
func restartOnlyChanges(old, cur *config.Config) []string {
	var changed []string
	if old.Target != cur.Target {
		changed = append(changed, "target")
	}
	if old.Source != cur.Source {
		changed = append(changed, "source")
	}
	if old.Output != cur.Output {
		changed = append(changed, "output")
	}
	if old.Logging != cur.Logging {
		changed = append(changed, "logging")
	}
	return changed
}

// IsRunning reports whether the instance is sampling.
func (m *monitorImpl) IsRunning() bool {
	return m.running.Load()
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed when the current run ends.
func (m *monitorImpl) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.run == nil {
		return closedCh
	}
	return m.run.done
}

// Latest returns the most recent snapshot of the current or last run.
func (m *monitorImpl) Latest() *monitor.Snapshot {
	m.mu.RLock()
	r := m.run
	m.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.sched.Latest()
}

// Submit forwards a diagnostics request to the scheduler's control channel.
func (m *monitorImpl) Submit(req monitor.DiagnosticsRequest) bool {
	m.metrics.IncrementDiagnosticsRequests()
	m.mu.RLock()
	r := m.run
	m.mu.RUnlock()
	if r == nil || !m.running.Load() || !r.sched.Submit(req) {
		m.metrics.IncrementDiagnosticsRejected()
		return false
	}
	return true
}

// Status returns detailed status information about the instance.
func (m *monitorImpl) Status() Status {
	m.mu.RLock()
	r := m.run
	st := Status{
		Running:      m.running.Load(),
		StopReason:   m.stopReason,
		ConfigSource: m.configSource,
	}
	m.mu.RUnlock()

	if rec := m.lastError.Load(); rec != nil {
		st.LastError = rec.err
	}
	if r == nil {
		return st
	}
	st.StartTime = r.started
	st.Interval = r.sched.Interval()
	st.Platform = r.plat.Name()
	if snap := r.sched.Latest(); snap != nil {
		st.TickCount = snap.Sequence
		st.LastTick = snap.TakenAt
		st.ProcessCount = snap.Count
		st.Degraded = snap.Degraded
	}
	return st
}

// SetErrorHandler registers a callback for runtime errors.
func (m *monitorImpl) SetErrorHandler(handler ErrorHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorHandler = handler
}

// SetEventHandler registers a callback for lifecycle events.
func (m *monitorImpl) SetEventHandler(handler EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventHandler = handler
}

// Metrics returns the metrics collector for this instance.
func (m *monitorImpl) Metrics() *Metrics {
	return m.metrics
}

func (m *monitorImpl) interval(cfg *config.Config) time.Duration {
	if m.opts.UpdateInterval > 0 {
		return m.opts.UpdateInterval
	}
	if cfg.Sampling.UpdateInterval > 0 {
		return cfg.Sampling.UpdateInterval
	}
	return monitor.DefaultInterval
}

func (m *monitorImpl) fetchTimeout(cfg *config.Config) time.Duration {
	sampling := cfg.Sampling
	sampling.UpdateInterval = m.interval(cfg)
	return sampling.EffectiveFetchTimeout()
}

func (m *monitorImpl) target(cfg *config.Config) platform.Target {
	t := platform.Target{RootPID: cfg.Target.RootPID, RootName: cfg.Target.RootName}
	if m.opts.RootPID > 0 || m.opts.RootName != "" {
		t = platform.Target{RootPID: m.opts.RootPID, RootName: m.opts.RootName}
	}
	return t
}

// initComponents builds a run from cfg. On error everything it opened is
// released again.
func (m *monitorImpl) initComponents(cfg *config.Config) (_ *run, err error) {
	if cfg == nil {
		return nil, errors.New("configuration is nil")
	}
	r := &run{done: make(chan struct{}), started: time.Now()}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			r.cancel()
			m.cleanup(r)
		}
	}()

	target := m.target(cfg)
	r.plat = m.opts.Platform
	if r.plat == nil {
		if r.plat, err = buildPlatform(cfg, target, m.fetchTimeout(cfg), m.logger); err != nil {
			return nil, err
		}
	}
	initCtx, cancel := context.WithTimeout(r.ctx, initTimeout)
	err = r.plat.Initialize(initCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("platform %s: %w", r.plat.Name(), err)
	}

	var surfaces monitor.HostSurfaces
	switch {
	case m.opts.Surfaces != nil:
		surfaces = m.opts.Surfaces
	case cfg.Target.X11Affinity && cfg.Source.Kind == config.SourceLocal:
		x, xerr := platform.NewX11Surfaces()
		if xerr != nil {
			m.logger.Warn("window affinity disabled", "error", xerr)
			break
		}
		r.surfaces = x
		surfaces = x
	}

	cbConfig := m.opts.CircuitBreaker
	cbConfig.OnStateChange = func(from, to CircuitState) {
		m.logger.Warn("circuit breaker state changed", "from", from, "to", to)
	}
	r.sysCB = NewCircuitBreaker(cbConfig)
	var app monitor.AppMetricsSource = r.plat.AppMetrics()
	if _, remote := r.plat.(platform.ConnectionReporter); remote {
		r.appCB = NewCircuitBreaker(cbConfig)
		app = guardedApps{inner: app, cb: r.appCB}
	}
	system := guardedSystem{inner: r.plat.Processes(), cb: r.sysCB}
	r.source = monitor.NewMetricSource(app, system, m.fetchTimeout(cfg))

	r.sched, err = monitor.NewScheduler(monitor.SchedulerConfig{
		Source:     r.source,
		Builder:    monitor.NewRecordBuilder(monitor.NewAffinityResolver(surfaces, m.logger), m.logger),
		Interval:   m.interval(cfg),
		StaleTicks: cfg.Sampling.StaleTicks,
		Opener:     r.plat.Diagnostics(),
		Liveness:   r.plat.Liveness(),
		Observer:   &observer{m: m},
		Logger:     m.logger,
	})
	if err != nil {
		return nil, err
	}

	if err := m.buildSinks(cfg, r); err != nil {
		return nil, err
	}
	return r, nil
}

// output applies the Options overrides to the configured output settings.
func (m *monitorImpl) output(cfg *config.Config) config.OutputConfig {
	out := cfg.Output
	if m.opts.SinkKind != "" {
		if k, err := config.ParseSinkKind(m.opts.SinkKind); err == nil {
			out.Sink = k
		}
	}
	if m.opts.ListenAddr != "" {
		out.ListenAddr = m.opts.ListenAddr
	}
	if m.opts.HistoryDB != "" {
		out.HistoryDB = m.opts.HistoryDB
	}
	return out
}

// buildPlatform creates the local or remote platform the configuration
// asks for.
func buildPlatform(cfg *config.Config, target platform.Target, commandTimeout time.Duration, logger Logger) (platform.Platform, error) {
	if cfg.Source.Kind != config.SourceRemote {
		return platform.NewPlatform(target, logger), nil
	}
	return platform.NewRemotePlatform(remoteConfig(cfg.Source.Remote, commandTimeout), target, logger)
}

// remoteConfig converts the configured SSH settings. A key file wins over
// a password; with neither the SSH agent is used.
func remoteConfig(rc config.RemoteConfig, commandTimeout time.Duration) platform.RemoteConfig {
	var auth platform.AuthMethod
	switch {
	case rc.KeyFile != "":
		auth = platform.KeyAuth{PrivateKeyPath: rc.KeyFile}
	case rc.Password != "":
		auth = platform.PasswordAuth{Password: rc.Password}
	default:
		auth = platform.AgentAuth{}
	}
	return platform.RemoteConfig{
		Host:                  rc.Host,
		Port:                  rc.Port,
		User:                  rc.User,
		AuthMethod:            auth,
		CommandTimeout:        commandTimeout,
		KnownHostsPath:        rc.KnownHostsPath,
		InsecureIgnoreHostKey: rc.InsecureHostKey,
	}
}

// buildSinks wires the configured output: the primary sink, the optional
// HTTP server and the optional history recorder.
func (m *monitorImpl) buildSinks(cfg *config.Config, r *run) error {
	if m.opts.Sink != nil {
		r.sink = m.opts.Sink
		return nil
	}

	out := m.output(cfg)
	var sinks []monitor.Sink
	switch out.Sink {
	case config.SinkTUI:
		r.ui = tui.New(m, m.opts.TUIOptions...)
		sinks = append(sinks, r.ui)
	case config.SinkJSON:
		var w io.Writer = os.Stdout
		if m.opts.Output != nil {
			w = m.opts.Output
		}
		sinks = append(sinks, sink.NewJSONLines(w))
	}

	addr := out.ListenAddr
	if out.Sink == config.SinkServe && addr == "" {
		addr = sink.DefaultListenAddr
	}
	if addr != "" {
		r.server = sink.NewServer(sink.ServerOptions{
			Addr:      addr,
			Submitter: m,
			Health: func() (any, bool) {
				h := m.Health()
				return h, !h.IsUnhealthy()
			},
			Logger: m.logger,
		})
		if err := r.server.Start(); err != nil {
			r.server = nil
			return err
		}
		m.metrics.RegisterExpvar()
		sinks = append(sinks, r.server)
	}

	if out.HistoryDB != "" {
		h, err := sink.OpenHistory(out.HistoryDB)
		if err != nil {
			return err
		}
		r.history = h
		sinks = append(sinks, h)
	}

	if len(sinks) == 1 {
		r.sink = sinks[0]
	} else {
		r.sink = sink.NewFanout(m.logger, sinks...)
	}
	return nil
}

// cleanup releases a run's resources in reverse order of creation.
func (m *monitorImpl) cleanup(r *run) {
	if r.watcher != nil {
		r.watcher.Stop()
	}
	if r.uiStarted {
		r.ui.Quit()
		<-r.ui.Done()
	}
	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		if err := r.server.Shutdown(ctx); err != nil {
			m.logger.Warn("http server shutdown", "error", err)
		}
		cancel()
	}
	if r.history != nil {
		if err := r.history.Close(); err != nil {
			m.logger.Warn("closing history", "error", err)
		}
	}
	if r.surfaces != nil {
		r.surfaces.Close()
	}
	if r.plat != nil {
		if err := r.plat.Close(); err != nil {
			m.logger.Warn("closing platform", "error", err)
		}
	}
}

// notifyError records err and hands it to the error handler.
func (m *monitorImpl) notifyError(err error) {
	if err == nil {
		return
	}
	m.lastError.Store(&errorRecord{err: err, at: time.Now()})
	m.metrics.IncrementErrors()
	m.tracker.RecordError(err)

	m.mu.RLock()
	handler := m.errorHandler
	m.mu.RUnlock()

	if handler != nil {
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					m.logger.Error("error handler panicked", "panic", rec, "original_error", err)
				}
			}()
			handler(err)
		}()
	}
	m.emitEvent(EventError, err.Error())
}

// emitEvent sends an event to the event handler if configured.
func (m *monitorImpl) emitEvent(eventType EventType, message string) {
	m.metrics.IncrementEventsEmitted()

	m.mu.RLock()
	handler := m.eventHandler
	m.mu.RUnlock()
	if handler == nil {
		return
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				m.logger.Error("event handler panicked", "panic", rec, "event", eventType.String())
			}
		}()
		handler(Event{Type: eventType, Timestamp: time.Now(), Message: message})
	}()
}
