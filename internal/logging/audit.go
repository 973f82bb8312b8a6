// Package logging provides structured logging with slog for layerd.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types. The audit trail records control actions taken on
// the daemon, never input activity.
const (
	AuditEventStartup      AuditEventType = "startup"
	AuditEventShutdown     AuditEventType = "shutdown"
	AuditEventPause        AuditEventType = "pause"
	AuditEventResume       AuditEventType = "resume"
	AuditEventReload       AuditEventType = "reload"
	AuditEventDeviceBind   AuditEventType = "device_bind"
	AuditEventDeviceUnbind AuditEventType = "device_unbind"
	AuditEventError        AuditEventType = "error"
)

// AuditEvent represents a single control action.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType AuditEventType         `json:"event_type"`
	Component string                 `json:"component"`
	SessionID string                 `json:"session_id,omitempty"`
	Device    string                 `json:"device,omitempty"`
	Action    string                 `json:"action"`
	Result    string                 `json:"result"` // "success" or "failure"
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	// FilePath is the path to the audit log file.
	FilePath string

	// MaxSize is the maximum size in MB before rotation.
	MaxSize int64

	// MaxAge is the maximum age in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int

	// Compress determines if rotated logs should be compressed.
	Compress bool

	// Component is the component name for audit events.
	Component string
}

// DefaultAuditConfig returns default audit logger configuration.
func DefaultAuditConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		FilePath:   defaultAuditLogPath(),
		MaxSize:    10, // 10 MB, control actions are small
		MaxAge:     90, // 90 days
		MaxBackups: 5,
		Compress:   true,
		Component:  "layerd",
	}
}

// defaultAuditLogPath returns the platform-specific default audit log path.
func defaultAuditLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "layerd", "audit.log")
	default: // Linux and other Unix
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "layerd", "audit.log")
	}
}

// AuditLogger writes control actions as JSON lines through a rotating
// file. A nil *AuditLogger is valid and discards everything, so callers
// never have to guard the disabled case.
type AuditLogger struct {
	config    *AuditLoggerConfig
	rotator   *FileRotator
	mu        sync.Mutex
	sessionID string
}

// NewAuditLogger creates a new AuditLogger.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}

	rotator, err := NewFileRotator(&Config{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}

	return &AuditLogger{
		config:  cfg,
		rotator: rotator,
	}, nil
}

// SetSessionID sets the session ID stamped on subsequent audit events.
func (a *AuditLogger) SetSessionID(sessionID string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = sessionID
}

// Log writes an audit event.
func (a *AuditLogger) Log(event AuditEvent) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.SessionID == "" {
		event.SessionID = a.sessionID
	}
	if event.Result == "" {
		event.Result = "success"
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	data = append(data, '\n')
	if _, err := a.rotator.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}

	return nil
}

// LogStartup logs a daemon startup event.
func (a *AuditLogger) LogStartup(version string, details map[string]interface{}) error {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["version"] = version
	return a.Log(AuditEvent{
		EventType: AuditEventStartup,
		Action:    "daemon_started",
		Details:   details,
	})
}

// LogShutdown logs a daemon shutdown event.
func (a *AuditLogger) LogShutdown(reason string) error {
	return a.Log(AuditEvent{
		EventType: AuditEventShutdown,
		Action:    "daemon_stopped",
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// LogPause logs a pause transition. Source names who asked: "ipc" for
// layerctl, "session" for lock or sleep.
func (a *AuditLogger) LogPause(source string) error {
	return a.Log(AuditEvent{
		EventType: AuditEventPause,
		Action:    "engine_paused",
		Details: map[string]interface{}{
			"source": source,
		},
	})
}

// LogResume logs a resume transition.
func (a *AuditLogger) LogResume(source string) error {
	return a.Log(AuditEvent{
		EventType: AuditEventResume,
		Action:    "engine_resumed",
		Details: map[string]interface{}{
			"source": source,
		},
	})
}

// LogReload logs a configuration reload attempt.
func (a *AuditLogger) LogReload(err error) error {
	event := AuditEvent{
		EventType: AuditEventReload,
		Action:    "config_reloaded",
	}
	if err != nil {
		event.Result = "failure"
		event.Error = err.Error()
	}
	return a.Log(event)
}

// LogDeviceBind logs a device being bound to the engine.
func (a *AuditLogger) LogDeviceBind(device string, details map[string]interface{}) error {
	return a.Log(AuditEvent{
		EventType: AuditEventDeviceBind,
		Action:    "device_bound",
		Device:    device,
		Details:   details,
	})
}

// LogDeviceUnbind logs a device being released.
func (a *AuditLogger) LogDeviceUnbind(device, reason string) error {
	return a.Log(AuditEvent{
		EventType: AuditEventDeviceUnbind,
		Action:    "device_released",
		Device:    device,
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// LogError logs a failed control action.
func (a *AuditLogger) LogError(operation string, err error) error {
	return a.Log(AuditEvent{
		EventType: AuditEventError,
		Action:    operation,
		Result:    "failure",
		Error:     err.Error(),
	})
}

// Close closes the audit logger.
func (a *AuditLogger) Close() error {
	if a == nil || a.rotator == nil {
		return nil
	}
	return a.rotator.Close()
}

// Sync flushes any buffered audit events.
func (a *AuditLogger) Sync() error {
	if a == nil || a.rotator == nil {
		return nil
	}
	return a.rotator.Sync()
}
