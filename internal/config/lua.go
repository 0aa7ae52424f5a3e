// This file implements the Lua configuration parser.

package config

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/arnodel/golua/lib"
	rt "github.com/arnodel/golua/runtime"
)

// LuaConfigParser parses Lua configuration files. It uses the Golua
// runtime to execute the file and reads settings from the procmon.config
// table, so configs may compute values, read os.getenv, and so on.
type LuaConfigParser struct {
	runtime *rt.Runtime
	cleanup func()
	mu      sync.Mutex
}

// NewLuaConfigParser creates a new LuaConfigParser with a fresh Lua runtime.
func NewLuaConfigParser() (*LuaConfigParser, error) {
	return NewLuaConfigParserWithOutput(io.Discard)
}

// NewLuaConfigParserWithOutput creates a LuaConfigParser with custom output
// for Lua print calls.
func NewLuaConfigParserWithOutput(stdout io.Writer) (*LuaConfigParser, error) {
	if stdout == nil {
		stdout = os.Stdout
	}

	runtime := rt.New(stdout)
	cleanup := lib.LoadAll(runtime)

	return &LuaConfigParser{
		runtime: runtime,
		cleanup: cleanup,
	}, nil
}

// Parse executes Lua configuration content and extracts procmon.config.
func (p *LuaConfigParser) Parse(content []byte) (*Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.initGlobal()

	closure, err := p.runtime.CompileAndLoadLuaChunk(
		"config",
		content,
		rt.TableValue(p.runtime.GlobalEnv()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile Lua configuration: %w", err)
	}

	// A config file must not be able to hang or exhaust the monitor.
	ctx := rt.RuntimeContextDef{
		HardLimits: rt.RuntimeResources{
			Cpu:    10_000_000,
			Memory: 50 * 1024 * 1024, // 50 MB
		},
	}
	p.runtime.PushContext(ctx)
	defer p.runtime.PopContext()

	thread := p.runtime.MainThread()
	if _, err := rt.Call1(thread, rt.FunctionValue(closure)); err != nil {
		return nil, fmt.Errorf("failed to execute Lua configuration: %w", err)
	}

	return p.extractConfig()
}

// initGlobal resets the procmon global table before each parse.
func (p *LuaConfigParser) initGlobal() {
	procmon := rt.NewTable()
	procmon.Set(rt.StringValue("config"), rt.TableValue(rt.NewTable()))
	p.runtime.GlobalEnv().Set(rt.StringValue("procmon"), rt.TableValue(procmon))
}

// extractConfig extracts configuration values from the procmon global table.
func (p *LuaConfigParser) extractConfig() (*Config, error) {
	cfg := DefaultConfig()

	val := p.runtime.GlobalEnv().Get(rt.StringValue("procmon"))
	if val == rt.NilValue {
		return &cfg, nil
	}
	procmon, ok := val.TryTable()
	if !ok {
		return nil, fmt.Errorf("procmon is not a table")
	}

	configVal := procmon.Get(rt.StringValue("config"))
	if configVal == rt.NilValue {
		return &cfg, nil
	}
	table, ok := configVal.TryTable()
	if !ok {
		return nil, fmt.Errorf("procmon.config is not a table")
	}
	if err := p.extractConfigTable(&cfg, table); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// extractConfigTable extracts configuration values from the procmon.config table.
func (p *LuaConfigParser) extractConfigTable(cfg *Config, table *rt.Table) error {
	// Sampling
	if val := getTableFloat(table, "update_interval"); val != nil {
		cfg.Sampling.UpdateInterval = time.Duration(*val * float64(time.Second))
	}
	if val := getTableFloat(table, "fetch_timeout"); val != nil {
		cfg.Sampling.FetchTimeout = time.Duration(*val * float64(time.Second))
	}
	if val := getTableInt(table, "stale_ticks"); val != nil {
		cfg.Sampling.StaleTicks = *val
	}

	// Target
	if val := getTableInt(table, "root_pid"); val != nil {
		cfg.Target.RootPID = *val
	}
	if val := getTableString(table, "root_name"); val != nil {
		cfg.Target.RootName = *val
	}
	if val := getTableBool(table, "x11_affinity"); val != nil {
		cfg.Target.X11Affinity = *val
	}

	// Source
	if val := getTableString(table, "source"); val != nil {
		k, err := ParseSourceKind(*val)
		if err != nil {
			return fmt.Errorf("invalid source: %w", err)
		}
		cfg.Source.Kind = k
	}
	if val := getTableString(table, "remote_host"); val != nil {
		cfg.Source.Remote.Host = *val
	}
	if val := getTableInt(table, "remote_port"); val != nil {
		cfg.Source.Remote.Port = *val
	}
	if val := getTableString(table, "remote_user"); val != nil {
		cfg.Source.Remote.User = *val
	}
	if val := getTableString(table, "remote_key"); val != nil {
		cfg.Source.Remote.KeyFile = *val
	}
	if val := getTableString(table, "remote_password"); val != nil {
		cfg.Source.Remote.Password = *val
	}
	if val := getTableString(table, "remote_known_hosts"); val != nil {
		cfg.Source.Remote.KnownHostsPath = *val
	}
	if val := getTableBool(table, "remote_insecure_host_key"); val != nil {
		cfg.Source.Remote.InsecureHostKey = *val
	}

	// Output
	if val := getTableString(table, "sink"); val != nil {
		k, err := ParseSinkKind(*val)
		if err != nil {
			return fmt.Errorf("invalid sink: %w", err)
		}
		cfg.Output.Sink = k
	}
	if val := getTableString(table, "listen_addr"); val != nil {
		cfg.Output.ListenAddr = *val
	}
	if val := getTableString(table, "history_db"); val != nil {
		cfg.Output.HistoryDB = *val
	}

	// Logging
	if val := getTableString(table, "log_level"); val != nil {
		level, err := ParseLogLevel(*val)
		if err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
		cfg.Logging.Level = level
	}
	if val := getTableString(table, "log_format"); val != nil {
		f, err := ParseLogFormat(*val)
		if err != nil {
			return fmt.Errorf("invalid log_format: %w", err)
		}
		cfg.Logging.Format = f
	}
	return nil
}

// Close releases resources associated with the parser's Lua runtime.
func (p *LuaConfigParser) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cleanup != nil {
		p.cleanup()
		p.cleanup = nil
	}
	return nil
}

// getTableBool retrieves a boolean value from a Lua table.
// Returns nil if the key doesn't exist or is not a boolean.
func getTableBool(table *rt.Table, key string) *bool {
	val := table.Get(rt.StringValue(key))
	if val == rt.NilValue {
		return nil
	}

	if b, ok := val.TryBool(); ok {
		return &b
	}

	// Handle string "yes"/"no" for parity with the key/value format
	if s, ok := val.TryString(); ok {
		b := parseBool(s)
		return &b
	}

	return nil
}

// getTableString retrieves a string value from a Lua table.
// Returns nil if the key doesn't exist or is not a string.
func getTableString(table *rt.Table, key string) *string {
	val := table.Get(rt.StringValue(key))
	if val == rt.NilValue {
		return nil
	}

	if s, ok := val.TryString(); ok {
		return &s
	}

	return nil
}

// getTableFloat retrieves a float64 value from a Lua table.
// Returns nil if the key doesn't exist or is not a number.
func getTableFloat(table *rt.Table, key string) *float64 {
	val := table.Get(rt.StringValue(key))
	if val == rt.NilValue {
		return nil
	}

	if n, ok := val.TryFloat(); ok {
		return &n
	}

	if n, ok := val.TryInt(); ok {
		f := float64(n)
		return &f
	}

	return nil
}

// getTableInt retrieves an int value from a Lua table.
// Returns nil if the key doesn't exist or is not a number.
func getTableInt(table *rt.Table, key string) *int {
	val := table.Get(rt.StringValue(key))
	if val == rt.NilValue {
		return nil
	}

	if n, ok := val.TryInt(); ok {
		i := int(n)
		return &i
	}

	// Try float conversion (truncate)
	if f, ok := val.TryFloat(); ok {
		i := int(f)
		return &i
	}

	return nil
}
