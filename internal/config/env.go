// This file implements environment variable expansion for configuration values.

package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches environment variable references in configuration values.
// Supports formats:
//   - ${VAR_NAME} - standard shell-like format
//   - ${VAR_NAME:-default} - with default value if unset or empty
//   - $VAR_NAME - simple format (word characters only)
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([a-zA-Z_][a-zA-Z0-9_]*)`)

// ExpandEnv expands environment variable references in a string.
// Unknown or unset variables without defaults are replaced with empty string.
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, "${") && strings.HasSuffix(match, "}") {
			inner := match[2 : len(match)-1]

			if name, def, ok := strings.Cut(inner, ":-"); ok {
				if val := os.Getenv(name); val != "" {
					return val
				}
				return def
			}
			return os.Getenv(inner)
		}
		return os.Getenv(match[1:])
	})
}

// ExpandEnvConfig expands environment variables in every free-form string
// setting of cfg in place: the root process name, the remote connection
// settings, the listen address and the history database path.
func ExpandEnvConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	fields := []*string{
		&cfg.Target.RootName,
		&cfg.Source.Remote.Host,
		&cfg.Source.Remote.User,
		&cfg.Source.Remote.KeyFile,
		&cfg.Source.Remote.Password,
		&cfg.Source.Remote.KnownHostsPath,
		&cfg.Output.ListenAddr,
		&cfg.Output.HistoryDB,
	}
	for _, f := range fields {
		*f = ExpandEnv(*f)
	}
}
