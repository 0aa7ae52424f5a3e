// This file implements validation of configuration values.

package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
// It contains the field name and a description of the issue.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the results of a configuration validation.
type ValidationResult struct {
	// Errors contains all validation errors found.
	Errors []ValidationError
	// Warnings contains non-fatal issues such as settings that are ignored.
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (vr *ValidationResult) IsValid() bool {
	return len(vr.Errors) == 0
}

// Error returns a combined error message if there are errors, nil otherwise.
func (vr *ValidationResult) Error() error {
	if len(vr.Errors) == 0 {
		return nil
	}

	messages := make([]string, 0, len(vr.Errors))
	for _, e := range vr.Errors {
		messages = append(messages, e.Error())
	}
	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}

// AddError adds a validation error.
func (vr *ValidationResult) AddError(field, message string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (vr *ValidationResult) AddWarning(field, message string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Message: message})
}

// Merge combines another ValidationResult into this one.
func (vr *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	vr.Errors = append(vr.Errors, other.Errors...)
	vr.Warnings = append(vr.Warnings, other.Warnings...)
}

// Validator provides configuration validation.
type Validator struct {
	// strictMode turns warnings into errors.
	strictMode bool
}

// NewValidator creates a new Validator with default settings.
func NewValidator() *Validator {
	return &Validator{}
}

// WithStrictMode enables strict validation where warnings are errors.
func (v *Validator) WithStrictMode(strict bool) *Validator {
	v.strictMode = strict
	return v
}

// Validate performs validation of a Config.
func (v *Validator) Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	v.validateSampling(&cfg.Sampling, result)
	v.validateTarget(cfg, result)
	v.validateSource(&cfg.Source, result)
	v.validateOutput(&cfg.Output, result)

	if v.strictMode {
		result.Errors = append(result.Errors, result.Warnings...)
		result.Warnings = nil
	}
	return result
}

// minUpdateInterval is the fastest cadence that still leaves the fetches
// time to complete.
const minUpdateInterval = 10 * time.Millisecond

func (v *Validator) validateSampling(sc *SamplingConfig, result *ValidationResult) {
	if sc.UpdateInterval <= 0 {
		result.AddError("update_interval", fmt.Sprintf("must be positive, got %v", sc.UpdateInterval))
	} else if sc.UpdateInterval < minUpdateInterval {
		result.AddWarning("update_interval", fmt.Sprintf("very short interval %v", sc.UpdateInterval))
	}

	if sc.FetchTimeout < 0 {
		result.AddError("fetch_timeout", fmt.Sprintf("must be non-negative, got %v", sc.FetchTimeout))
	} else if sc.FetchTimeout > sc.UpdateInterval && sc.UpdateInterval > 0 {
		result.AddWarning("fetch_timeout",
			fmt.Sprintf("%v exceeds update_interval %v; ticks will be skipped while a fetch runs",
				sc.FetchTimeout, sc.UpdateInterval))
	}

	if sc.StaleTicks < 1 {
		result.AddError("stale_ticks", fmt.Sprintf("must be at least 1, got %d", sc.StaleTicks))
	}
}

func (v *Validator) validateTarget(cfg *Config, result *ValidationResult) {
	tc := &cfg.Target
	if tc.RootPID < 0 {
		result.AddError("root_pid", fmt.Sprintf("must be non-negative, got %d", tc.RootPID))
	}
	if tc.RootPID > 0 && tc.RootName != "" {
		result.AddWarning("root_name", "ignored because root_pid is set")
	}
	if tc.X11Affinity && cfg.Source.Kind == SourceRemote {
		result.AddWarning("x11_affinity", "ignored for the remote source")
	}
}

func (v *Validator) validateSource(sc *SourceConfig, result *ValidationResult) {
	if sc.Kind != SourceRemote {
		return
	}
	r := &sc.Remote
	if r.Host == "" {
		result.AddError("remote_host", "required for the remote source")
	}
	if r.User == "" {
		result.AddError("remote_user", "required for the remote source")
	}
	if r.Port < 1 || r.Port > 65535 {
		result.AddError("remote_port", fmt.Sprintf("must be between 1 and 65535, got %d", r.Port))
	}
	if r.KeyFile != "" && r.Password != "" {
		result.AddWarning("remote_password", "ignored because remote_key is set")
	}
	if r.InsecureHostKey && r.KnownHostsPath != "" {
		result.AddWarning("remote_known_hosts", "ignored because remote_insecure_host_key is set")
	}
}

func (v *Validator) validateOutput(oc *OutputConfig, result *ValidationResult) {
	if oc.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(oc.ListenAddr); err != nil {
			result.AddError("listen_addr", fmt.Sprintf("invalid address %q: %v", oc.ListenAddr, err))
		}
	}
}

// ValidateConfig is a convenience function to validate a Config with default settings.
// Returns nil if the config is valid, or an error describing validation failures.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	return NewValidator().Validate(cfg).Error()
}

// ValidateConfigStrict validates a Config with strict mode enabled.
func ValidateConfigStrict(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	return NewValidator().WithStrictMode(true).Validate(cfg).Error()
}
