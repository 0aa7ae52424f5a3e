// Package main provides the entry point for the procmon process monitor.
// It samples a host application's process tree and renders it in the
// terminal, as JSON lines or over HTTP.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/go-procmon/internal/config"
	"github.com/opd-ai/go-procmon/internal/monitor"
	"github.com/opd-ai/go-procmon/internal/profiling"
	"github.com/opd-ai/go-procmon/pkg/procmon"
)

// Version is the current version of procmon.
// This default value can be overridden at build time using:
//
//	go build -ldflags "-X main.Version=x.y.z"
var Version = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type flags struct {
	configPath string
	pid        int
	name       string
	sink       string
	listen     string
	history    string
	logPath    string
	migrate    string
	watch      bool
	version    bool
	cpuProfile string
	memProfile string
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("procmon", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "c", "", "Path to configuration file (key/value or Lua)")
	fs.IntVar(&f.pid, "pid", 0, "PID of the application's main process")
	fs.StringVar(&f.name, "name", "", "Name of the application's main process (oldest match wins)")
	fs.StringVar(&f.sink, "sink", "", "Output: tui, json or serve (overrides the config file)")
	fs.StringVar(&f.listen, "listen", "", "HTTP listen address for /snapshot, /health and /debug/vars")
	fs.StringVar(&f.history, "history", "", "SQLite file recording every snapshot")
	fs.StringVar(&f.logPath, "log", "", "Write logs to this file instead of stderr")
	fs.StringVar(&f.migrate, "migrate", "", "Convert a key/value config to Lua format and print to stdout")
	fs.BoolVar(&f.watch, "watch", false, "Reload sampling settings when the config file changes")
	fs.BoolVar(&f.version, "v", false, "Print version and exit")
	fs.StringVar(&f.cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	fs.StringVar(&f.memProfile, "memprofile", "", "Write memory profile to file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if f.version {
		fmt.Fprintf(stdout, "procmon version %s\n", Version)
		return 0
	}
	if f.migrate != "" {
		return runMigrate(f.migrate, stdout, stderr)
	}

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	sinkKind := cfg.Output.Sink
	if f.sink != "" {
		if sinkKind, err = config.ParseSinkKind(f.sink); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	logger, closeLog, err := buildLogger(cfg.Logging, sinkKind, f.logPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening log file: %v\n", err)
		return 1
	}
	defer closeLog()

	prof := profiling.Config{CPUProfilePath: f.cpuProfile, MemProfilePath: f.memProfile}
	if prof.Enabled() {
		session, err := profiling.Start(prof)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to start profiling: %v\n", err)
			return 1
		}
		defer func() {
			if err := session.Stop(); err != nil {
				fmt.Fprintf(stderr, "Warning: failed to stop profiling: %v\n", err)
			}
		}()
	}

	opts := procmon.DefaultOptions()
	opts.Logger = logger
	opts.RootPID = f.pid
	opts.RootName = f.name
	opts.SinkKind = f.sink
	opts.ListenAddr = f.listen
	opts.HistoryDB = f.history
	opts.Output = stdout
	opts.WatchConfig = f.watch

	var m procmon.Monitor
	if f.configPath != "" {
		m, err = procmon.New(f.configPath, &opts)
	} else {
		m, err = procmon.NewWithDefaults(&opts)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error creating monitor: %v\n", err)
		return 1
	}

	m.SetErrorHandler(func(err error) {
		logger.Warn("runtime error", "error", err)
	})
	m.SetEventHandler(func(e procmon.Event) {
		logger.Info("lifecycle event", "type", e.Type.String(), "message", e.Message)
	})

	if err := m.Start(); err != nil {
		fmt.Fprintf(stderr, "Failed to start: %v\n", err)
		return 1
	}
	return waitForExit(m, logger)
}

// waitForExit blocks until the run ends or a termination signal arrives.
// SIGHUP reloads the configuration in place.
func waitForExit(m procmon.Monitor, logger procmon.Logger) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reloading configuration")
				if err := m.ReloadConfig(); err != nil {
					logger.Warn("reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			if err := m.Stop(); err != nil {
				logger.Error("stop failed", "error", err)
				return 1
			}
			return 0
		case <-m.Done():
			if reason := m.Status().StopReason; reason != nil && !errors.Is(reason, monitor.ErrSinkClosed) {
				logger.Error("monitor stopped", "reason", reason)
				return 1
			}
			return 0
		}
	}
}

// loadConfig parses path, or returns the defaults when path is empty. The
// monitor parses the file again; this copy only picks the logger.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.DefaultConfig()
		return &cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, err
	}
	p, err := config.NewParser()
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return p.ParseFile(path)
}

// buildLogger creates the process logger. The terminal UI owns the screen,
// so in TUI mode logs go to -log or nowhere.
func buildLogger(lc config.LoggingConfig, sink config.SinkKind, logPath string, stderr io.Writer) (procmon.Logger, func(), error) {
	w := stderr
	closeFn := func() {}
	switch {
	case logPath != "":
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w = file
		closeFn = func() { _ = file.Close() }
	case sink == config.SinkTUI:
		return procmon.NopLogger(), closeFn, nil
	}

	if lc.Format == config.LogFormatJSON {
		return procmon.JSONLogger(w, lc.Level), closeFn, nil
	}
	return procmon.TextLogger(w, lc.Level), closeFn, nil
}

// runMigrate converts a key/value configuration to Lua and prints it.
func runMigrate(path string, stdout, stderr io.Writer) int {
	luaContent, err := config.MigrateLegacyFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error converting configuration: %v\n", err)
		return 1
	}
	if _, err := stdout.Write(luaContent); err != nil {
		fmt.Fprintf(stderr, "Error writing output: %v\n", err)
		return 1
	}
	return 0
}
