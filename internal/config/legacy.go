// This file implements the legacy key/value configuration parser.

package config

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LegacyParser parses key/value configuration files. Each non-empty line
// not starting with # holds one directive: a key, whitespace, and a value.
type LegacyParser struct{}

// NewLegacyParser creates a new LegacyParser instance.
func NewLegacyParser() *LegacyParser {
	return &LegacyParser{}
}

// Parse parses a legacy configuration from content bytes.
// It returns a Config with parsed values or an error if parsing fails.
// Unknown keys are ignored.
func (p *LegacyParser) Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	scanner := bufio.NewScanner(strings.NewReader(string(content)))

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if err := p.parseDirective(&cfg, trimmed, lineNum); err != nil {
			return nil, err
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading configuration: %w", err)
	}
	return &cfg, nil
}

// parseDirective parses a single configuration directive line.
// Format: "key value" or "key" (for boolean flags).
func (p *LegacyParser) parseDirective(cfg *Config, line string, lineNum int) error {
	key, value := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		key, value = line[:i], strings.TrimSpace(line[i+1:])
	}
	key = strings.ToLower(key)

	if err := applySetting(cfg, key, value); err != nil {
		return fmt.Errorf("line %d: %w", lineNum, err)
	}
	return nil
}

// applySetting assigns one textual setting to cfg.
func applySetting(cfg *Config, key, value string) error {
	switch key {
	// Sampling
	case "update_interval":
		d, err := parseSeconds(value)
		if err != nil {
			return fmt.Errorf("invalid update_interval: %w", err)
		}
		cfg.Sampling.UpdateInterval = d
	case "fetch_timeout":
		d, err := parseSeconds(value)
		if err != nil {
			return fmt.Errorf("invalid fetch_timeout: %w", err)
		}
		cfg.Sampling.FetchTimeout = d
	case "stale_ticks":
		n, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("invalid stale_ticks: %w", err)
		}
		cfg.Sampling.StaleTicks = n

	// Target
	case "root_pid":
		n, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("invalid root_pid: %w", err)
		}
		cfg.Target.RootPID = n
	case "root_name":
		cfg.Target.RootName = value
	case "x11_affinity":
		cfg.Target.X11Affinity = parseBool(value)

	// Source
	case "source":
		k, err := ParseSourceKind(value)
		if err != nil {
			return err
		}
		cfg.Source.Kind = k
	case "remote_host":
		cfg.Source.Remote.Host = value
	case "remote_port":
		n, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("invalid remote_port: %w", err)
		}
		cfg.Source.Remote.Port = n
	case "remote_user":
		cfg.Source.Remote.User = value
	case "remote_key":
		cfg.Source.Remote.KeyFile = value
	case "remote_password":
		cfg.Source.Remote.Password = value
	case "remote_known_hosts":
		cfg.Source.Remote.KnownHostsPath = value
	case "remote_insecure_host_key":
		cfg.Source.Remote.InsecureHostKey = parseBool(value)

	// Output
	case "sink":
		k, err := ParseSinkKind(value)
		if err != nil {
			return err
		}
		cfg.Output.Sink = k
	case "listen_addr":
		cfg.Output.ListenAddr = value
	case "history_db":
		cfg.Output.HistoryDB = value

	// Logging
	case "log_level":
		level, err := ParseLogLevel(value)
		if err != nil {
			return err
		}
		cfg.Logging.Level = level
	case "log_format":
		f, err := ParseLogFormat(value)
		if err != nil {
			return err
		}
		cfg.Logging.Format = f
	}
	return nil
}

// parseBool parses a boolean value from common string representations.
// Accepts: yes, no, true, false, 1, 0. A bare key means true.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "yes", "true", "1", "":
		return true
	default:
		return false
	}
}

// parseSeconds parses a number of seconds, fractions allowed.
func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

// parseInt parses an int from a string.
func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
