// Package config handles configuration loading, validation, and
// management for layerd.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Input configuration for device capture.
	Input InputConfig `toml:"input" json:"input" yaml:"input"`

	// Engine configuration for the layer toggle machine.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Profiles configuration for per-device activation profiles.
	Profiles ProfilesConfig `toml:"profiles" json:"profiles" yaml:"profiles"`

	// Storage configuration for the activation journal.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Session configuration for desktop session integration.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Policy configuration for the scripting hook.
	Policy PolicyConfig `toml:"policy" json:"policy" yaml:"policy"`

	// Metrics configuration for the observability endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Daemon configuration for process management.
	Daemon DaemonConfig `toml:"daemon" json:"daemon" yaml:"daemon"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// InputConfig holds device capture configuration.
type InputConfig struct {
	// IgnoreVirtual skips devices without a physical phys path, which
	// keeps uinput injectors from driving the layer.
	IgnoreVirtual bool `toml:"ignore_virtual" json:"ignore_virtual" yaml:"ignore_virtual"`

	// Grab opens devices with an exclusive evdev grab.
	Grab bool `toml:"grab" json:"grab" yaml:"grab"`

	// IncludeDevices is a list of device name globs to capture.
	// Empty means all discovered keyboards and pointers.
	IncludeDevices []string `toml:"include_devices" json:"include_devices" yaml:"include_devices"`

	// ExcludeDevices is a list of device name globs to skip.
	ExcludeDevices []string `toml:"exclude_devices" json:"exclude_devices" yaml:"exclude_devices"`

	// Hotplug enables automatic attach/detach of devices as they
	// appear and disappear.
	Hotplug bool `toml:"hotplug" json:"hotplug" yaml:"hotplug"`
}

// EngineConfig holds the layer toggle machine configuration. These are
// the fallbacks used when no profile matches a device.
type EngineConfig struct {
	// RequirePriorIdleMs suppresses activation when a key was tapped
	// within this many milliseconds. 0 disables the guard.
	RequirePriorIdleMs int64 `toml:"require_prior_idle_ms" json:"require_prior_idle_ms" yaml:"require_prior_idle_ms"`

	// ExcludedPositions are key and button codes that never cancel an
	// active layer. Defaults cover the mouse buttons.
	ExcludedPositions []int `toml:"excluded_positions" json:"excluded_positions" yaml:"excluded_positions"`

	// DefaultLayer is the layer raised on pointer activity when no
	// profile overrides it.
	DefaultLayer int `toml:"default_layer" json:"default_layer" yaml:"default_layer"`

	// DefaultTimeoutMs deactivates the layer after this much pointer
	// silence. 0 keeps the layer up until a key press.
	DefaultTimeoutMs int64 `toml:"default_timeout_ms" json:"default_timeout_ms" yaml:"default_timeout_ms"`
}

// ProfilesConfig holds per-device profile configuration.
type ProfilesConfig struct {
	// Path is the profiles directory. Each *.json file inside holds
	// one schema-validated device profile.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Reload watches the profiles directory and applies changes live.
	Reload bool `toml:"reload" json:"reload" yaml:"reload"`
}

// StorageConfig holds activation journal configuration.
type StorageConfig struct {
	// Type is the storage backend type: "sqlite" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the path to the journal database (for sqlite).
	Path string `toml:"path" json:"path" yaml:"path"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`

	// RetainDays is how long journal rows are kept before pruning.
	// 0 disables pruning.
	RetainDays int `toml:"retain_days" json:"retain_days" yaml:"retain_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`

	// AuditPath enables the control audit trail when set. Pause,
	// resume, reload, and device bind events are appended there as
	// JSON lines. Empty disables the trail.
	AuditPath string `toml:"audit_path" json:"audit_path" yaml:"audit_path"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	// Enabled determines whether the IPC server is enabled.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the path to the Unix socket.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the Unix socket permissions (e.g. "0600").
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// MaxConnections is the maximum concurrent connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec is the per-request timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// SessionConfig holds desktop session integration configuration.
type SessionConfig struct {
	// Enabled connects to logind over the system bus.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// PauseOnLock pauses the engine while the session is locked.
	PauseOnLock bool `toml:"pause_on_lock" json:"pause_on_lock" yaml:"pause_on_lock"`

	// PauseOnSleep pauses the engine across suspend.
	PauseOnSleep bool `toml:"pause_on_sleep" json:"pause_on_sleep" yaml:"pause_on_sleep"`
}

// PolicyConfig holds scripting hook configuration.
type PolicyConfig struct {
	// Enabled loads the policy script.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ScriptPath is the Lua policy script.
	ScriptPath string `toml:"script_path" json:"script_path" yaml:"script_path"`

	// TimeoutMs bounds each hook invocation.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// Reload reloads the script when it changes on disk.
	Reload bool `toml:"reload" json:"reload" yaml:"reload"`
}

// MetricsConfig holds observability endpoint configuration.
type MetricsConfig struct {
	// Enabled serves metrics and health over HTTP.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Listen is the address to bind, loopback by default.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`
}

// DaemonConfig holds process management configuration.
type DaemonConfig struct {
	// PidFile is the path to the PID file.
	PidFile string `toml:"pid_file" json:"pid_file" yaml:"pid_file"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	paths := GetDefaultPaths()

	return &Config{
		Version: Version,
		Input: InputConfig{
			IgnoreVirtual: true,
			Grab:          false,
			Hotplug:       true,
		},
		Engine: EngineConfig{
			RequirePriorIdleMs: 150,
			ExcludedPositions:  []int{272, 273, 274, 275, 276},
			DefaultLayer:       1,
			DefaultTimeoutMs:   600,
		},
		Profiles: ProfilesConfig{
			Path:   paths.ProfilesDir,
			Reload: true,
		},
		Storage: StorageConfig{
			Type:           "sqlite",
			Path:           paths.JournalFile,
			MaxConnections: 5,
			BusyTimeoutMs:  5000,
			RetainDays:     30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   filepath.Join(paths.LogDir, "layerd.log"),
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     paths.SocketPath,
			Permissions:    "0600",
			MaxConnections: 10,
			TimeoutSec:     30,
		},
		Session: SessionConfig{
			Enabled:      true,
			PauseOnLock:  true,
			PauseOnSleep: true,
		},
		Policy: PolicyConfig{
			Enabled:    false,
			ScriptPath: paths.PolicyFile,
			TimeoutMs:  50,
			Reload:     true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9348",
		},
		Daemon: DaemonConfig{
			PidFile: paths.PIDFile,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads configuration from the specified path. A missing file
// yields the defaults. TOML, JSON, and YAML are chosen by extension.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		// Unknown extension, try TOML first then the rest.
		if err := autoDetectAndParse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// autoDetectAndParse attempts to parse the config in each supported
// format.
func autoDetectAndParse(data []byte, cfg *Config) error {
	if _, err := toml.Decode(string(data), cfg); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, cfg); err == nil {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	return fmt.Errorf("unable to parse config file (tried TOML, JSON, YAML)")
}

// SaveConfig writes the configuration to a TOML file.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# layerd configuration\n")
	buf.WriteString("# See layerd(1) for field documentation.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.IPC.SocketPath),
		filepath.Dir(c.Daemon.PidFile),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides. Variables
// are prefixed with LAYERD_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("LAYERD_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("LAYERD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LAYERD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("LAYERD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("LAYERD_PROFILES_PATH"); v != "" {
		c.Profiles.Path = v
	}
	if v := os.Getenv("LAYERD_POLICY_PATH"); v != "" {
		c.Policy.ScriptPath = v
	}
	if v := os.Getenv("LAYERD_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := Config{
		Version:  c.Version,
		Input:    c.Input,
		Engine:   c.Engine,
		Profiles: c.Profiles,
		Storage:  c.Storage,
		Logging:  c.Logging,
		IPC:      c.IPC,
		Session:  c.Session,
		Policy:   c.Policy,
		Metrics:  c.Metrics,
		Daemon:   c.Daemon,
	}

	clone.Input.IncludeDevices = append([]string(nil), c.Input.IncludeDevices...)
	clone.Input.ExcludeDevices = append([]string(nil), c.Input.ExcludeDevices...)
	clone.Engine.ExcludedPositions = append([]int(nil), c.Engine.ExcludedPositions...)

	return &clone
}
