// Package config handles configuration loading and validation for layerd.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"layerd/internal/autolayer"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Largest key code evdev can report (KEY_MAX).
const maxKeyCode = 0x2ff

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateInput(&c.Input)...)
	errs = append(errs, validateEngine(&c.Engine)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validatePolicy(&c.Policy)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateInput(in *InputConfig) ValidationErrors {
	var errs ValidationErrors

	for i, pattern := range in.IncludeDevices {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("input.include_devices[%d]", i),
				Message: fmt.Sprintf("bad glob %q", pattern),
			})
		}
	}
	for i, pattern := range in.ExcludeDevices {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("input.exclude_devices[%d]", i),
				Message: fmt.Sprintf("bad glob %q", pattern),
			})
		}
	}

	return errs
}

func validateEngine(e *EngineConfig) ValidationErrors {
	var errs ValidationErrors

	if e.RequirePriorIdleMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "engine.require_prior_idle_ms",
			Message: "must not be negative",
		})
	}
	if e.RequirePriorIdleMs > 60000 {
		errs = append(errs, ValidationError{
			Field:   "engine.require_prior_idle_ms",
			Message: "cannot exceed 60000ms",
		})
	}

	for i, pos := range e.ExcludedPositions {
		if pos < 0 || pos > maxKeyCode {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("engine.excluded_positions[%d]", i),
				Message: fmt.Sprintf("position %d outside 0..%d", pos, maxKeyCode),
			})
		}
	}

	if e.DefaultLayer < 0 || e.DefaultLayer >= autolayer.MaxLayers {
		errs = append(errs, ValidationError{
			Field:   "engine.default_layer",
			Message: fmt.Sprintf("layer must be in 0..%d", autolayer.MaxLayers-1),
		})
	}

	if e.DefaultTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "engine.default_timeout_ms",
			Message: "must not be negative",
		})
	}
	if e.DefaultTimeoutMs > 3600000 {
		errs = append(errs, ValidationError{
			Field:   "engine.default_timeout_ms",
			Message: "cannot exceed one hour",
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Type {
	case "sqlite":
		if expandPath(s.Path) == "" {
			errs = append(errs, ValidationError{
				Field:   "storage.path",
				Message: "required for sqlite storage",
			})
		}
	case "memory":
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.type",
			Message: fmt.Sprintf("unknown type %q (want sqlite or memory)", s.Type),
		})
	}

	if s.MaxConnections < 1 || s.MaxConnections > 64 {
		errs = append(errs, ValidationError{
			Field:   "storage.max_connections",
			Message: "must be in 1..64",
		})
	}
	if s.BusyTimeoutMs < 0 || s.BusyTimeoutMs > 60000 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "must be in 0..60000",
		})
	}
	if s.RetainDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.retain_days",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q (want text or json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if expandPath(l.FilePath) == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "required when output is file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("unknown output %q", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "must be at least 1",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "must not be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateIPC(ipc *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !ipc.Enabled {
		return errs
	}

	path := expandPath(ipc.SocketPath)
	if path == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "required when IPC is enabled",
		})
	} else if len(path) > 104 {
		// sun_path is tight; stay under the portable limit.
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: fmt.Sprintf("path too long for a unix socket (%d bytes)", len(path)),
		})
	}

	if ipc.Permissions != "" {
		if _, err := strconv.ParseUint(ipc.Permissions, 8, 32); err != nil {
			errs = append(errs, ValidationError{
				Field:   "ipc.permissions",
				Message: fmt.Sprintf("bad octal mode %q", ipc.Permissions),
			})
		}
	}

	if ipc.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "must be at least 1",
		})
	}
	if ipc.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validatePolicy(p *PolicyConfig) ValidationErrors {
	var errs ValidationErrors

	if !p.Enabled {
		return errs
	}

	if expandPath(p.ScriptPath) == "" {
		errs = append(errs, ValidationError{
			Field:   "policy.script_path",
			Message: "required when policy is enabled",
		})
	}
	if p.TimeoutMs < 1 || p.TimeoutMs > 5000 {
		errs = append(errs, ValidationError{
			Field:   "policy.timeout_ms",
			Message: "must be in 1..5000",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !m.Enabled {
		return errs
	}

	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen",
			Message: fmt.Sprintf("bad listen address %q", m.Listen),
		})
	}

	return errs
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
