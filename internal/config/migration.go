// This file converts key/value configurations to the Lua format.

package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Migrator converts key/value configurations to the Lua format.
type Migrator struct {
	// includeComments adds section comments to the output.
	includeComments bool
	// preserveDefaults includes settings even when they match defaults.
	preserveDefaults bool
}

// MigratorOption is a functional option for configuring a Migrator.
type MigratorOption func(*Migrator)

// WithComments enables adding section comments to the Lua output.
func WithComments(include bool) MigratorOption {
	return func(m *Migrator) {
		m.includeComments = include
	}
}

// WithDefaults includes settings that match default values in the output.
func WithDefaults(preserve bool) MigratorOption {
	return func(m *Migrator) {
		m.preserveDefaults = preserve
	}
}

// NewMigrator creates a new Migrator with the given options.
func NewMigrator(opts ...MigratorOption) *Migrator {
	m := &Migrator{
		includeComments:  true,
		preserveDefaults: false,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MigrateToLua renders cfg as a procmon.config Lua table.
func (m *Migrator) MigrateToLua(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	var buf bytes.Buffer
	if m.includeComments {
		buf.WriteString("-- procmon Lua configuration\n\n")
	}
	buf.WriteString("procmon.config = {\n")
	m.writeConfigTable(&buf, cfg)
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// writeConfigTable writes the procmon.config table contents.
func (m *Migrator) writeConfigTable(buf *bytes.Buffer, cfg *Config) {
	d := DefaultConfig()
	keep := func(differs bool) bool { return m.preserveDefaults || differs }

	m.section(buf, "Sampling")
	if keep(cfg.Sampling.UpdateInterval != d.Sampling.UpdateInterval) {
		m.writeFloat(buf, "update_interval", cfg.Sampling.UpdateInterval.Seconds())
	}
	if keep(cfg.Sampling.FetchTimeout != d.Sampling.FetchTimeout) {
		m.writeFloat(buf, "fetch_timeout", cfg.Sampling.FetchTimeout.Seconds())
	}
	if keep(cfg.Sampling.StaleTicks != d.Sampling.StaleTicks) {
		m.writeInt(buf, "stale_ticks", cfg.Sampling.StaleTicks)
	}

	m.section(buf, "Target")
	if keep(cfg.Target.RootPID != d.Target.RootPID) {
		m.writeInt(buf, "root_pid", cfg.Target.RootPID)
	}
	if keep(cfg.Target.RootName != d.Target.RootName) {
		m.writeString(buf, "root_name", cfg.Target.RootName)
	}
	if keep(cfg.Target.X11Affinity != d.Target.X11Affinity) {
		m.writeBool(buf, "x11_affinity", cfg.Target.X11Affinity)
	}

	m.section(buf, "Source")
	r, dr := cfg.Source.Remote, d.Source.Remote
	if keep(cfg.Source.Kind != d.Source.Kind) {
		m.writeString(buf, "source", cfg.Source.Kind.String())
	}
	if keep(r.Host != dr.Host) {
		m.writeString(buf, "remote_host", r.Host)
	}
	if keep(r.Port != dr.Port) {
		m.writeInt(buf, "remote_port", r.Port)
	}
	if keep(r.User != dr.User) {
		m.writeString(buf, "remote_user", r.User)
	}
	if keep(r.KeyFile != dr.KeyFile) {
		m.writeString(buf, "remote_key", r.KeyFile)
	}
	if keep(r.Password != dr.Password) {
		m.writeString(buf, "remote_password", r.Password)
	}
	if keep(r.KnownHostsPath != dr.KnownHostsPath) {
		m.writeString(buf, "remote_known_hosts", r.KnownHostsPath)
	}
	if keep(r.InsecureHostKey != dr.InsecureHostKey) {
		m.writeBool(buf, "remote_insecure_host_key", r.InsecureHostKey)
	}

	m.section(buf, "Output")
	if keep(cfg.Output.Sink != d.Output.Sink) {
		m.writeString(buf, "sink", cfg.Output.Sink.String())
	}
	if keep(cfg.Output.ListenAddr != d.Output.ListenAddr) {
		m.writeString(buf, "listen_addr", cfg.Output.ListenAddr)
	}
	if keep(cfg.Output.HistoryDB != d.Output.HistoryDB) {
		m.writeString(buf, "history_db", cfg.Output.HistoryDB)
	}

	m.section(buf, "Logging")
	if keep(cfg.Logging.Level != d.Logging.Level) {
		m.writeString(buf, "log_level", strings.ToLower(cfg.Logging.Level.String()))
	}
	if keep(cfg.Logging.Format != d.Logging.Format) {
		m.writeString(buf, "log_format", cfg.Logging.Format.String())
	}
}

func (m *Migrator) section(buf *bytes.Buffer, name string) {
	if m.includeComments {
		fmt.Fprintf(buf, "    -- %s\n", name)
	}
}

func (m *Migrator) writeBool(buf *bytes.Buffer, name string, value bool) {
	fmt.Fprintf(buf, "    %s = %t,\n", name, value)
}

func (m *Migrator) writeString(buf *bytes.Buffer, name, value string) {
	fmt.Fprintf(buf, "    %s = %s,\n", name, strconv.Quote(value))
}

func (m *Migrator) writeInt(buf *bytes.Buffer, name string, value int) {
	fmt.Fprintf(buf, "    %s = %d,\n", name, value)
}

func (m *Migrator) writeFloat(buf *bytes.Buffer, name string, value float64) {
	fmt.Fprintf(buf, "    %s = %s,\n", name, strconv.FormatFloat(value, 'f', -1, 64))
}

// MigrateLegacyFile reads a key/value file and converts it to Lua format.
func MigrateLegacyFile(path string, opts ...MigratorOption) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return MigrateLegacyContent(content, opts...)
}

// MigrateLegacyContent converts key/value content to Lua format.
func MigrateLegacyContent(content []byte, opts ...MigratorOption) ([]byte, error) {
	cfg, err := NewLegacyParser().Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse legacy config: %w", err)
	}
	return NewMigrator(opts...).MigrateToLua(cfg)
}
