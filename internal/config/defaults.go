// Package config handles configuration loading and validation for layerd.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// DataDir returns the layerd data directory, honoring LAYERD_DATA_DIR
// and XDG_DATA_HOME in that order.
func DataDir() string {
	if dir := os.Getenv("LAYERD_DATA_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "layerd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "layerd")
}

// ConfigDir returns the layerd config directory under XDG_CONFIG_HOME.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "layerd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "layerd")
}

// StateDir returns the layerd state directory under XDG_STATE_HOME.
// Logs live here.
func StateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "layerd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "layerd")
}

// RuntimeDir returns the directory for sockets and PID files,
// preferring XDG_RUNTIME_DIR.
func RuntimeDir() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "layerd")
	}
	return filepath.Join("/tmp", "layerd-"+strconv.Itoa(os.Getuid()))
}

// DefaultPaths collects the standard file locations.
type DefaultPaths struct {
	DataDir    string
	ConfigDir  string
	LogDir     string
	RuntimeDir string

	ConfigFile  string
	ProfilesDir string
	PolicyFile  string
	JournalFile string
	SocketPath  string
	PIDFile     string
}

// GetDefaultPaths returns the standard file locations.
func GetDefaultPaths() *DefaultPaths {
	dataDir := DataDir()
	configDir := ConfigDir()
	logDir := filepath.Join(StateDir(), "logs")
	runtimeDir := RuntimeDir()

	return &DefaultPaths{
		DataDir:    dataDir,
		ConfigDir:  configDir,
		LogDir:     logDir,
		RuntimeDir: runtimeDir,

		ConfigFile:  filepath.Join(configDir, "config.toml"),
		ProfilesDir: filepath.Join(configDir, "profiles.d"),
		PolicyFile:  filepath.Join(configDir, "policy.lua"),
		JournalFile: filepath.Join(dataDir, "journal.db"),
		SocketPath:  filepath.Join(runtimeDir, "layerd.sock"),
		PIDFile:     filepath.Join(runtimeDir, "layerd.pid"),
	}
}

// SupportedConfigFormats returns the supported config file formats.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches the standard locations for a config file and
// returns the first hit, or empty when none exists.
func FindConfigFile() string {
	searchDirs := []string{
		".",
		ConfigDir(),
		DataDir(),
	}

	for _, dir := range searchDirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
