package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if cfg.Engine.RequirePriorIdleMs != 150 {
		t.Errorf("expected idle threshold 150, got %d", cfg.Engine.RequirePriorIdleMs)
	}
	if cfg.Engine.DefaultLayer != 1 {
		t.Errorf("expected default layer 1, got %d", cfg.Engine.DefaultLayer)
	}
	if len(cfg.Engine.ExcludedPositions) == 0 {
		t.Error("expected mouse buttons excluded by default")
	}
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("expected sqlite storage, got %s", cfg.Storage.Type)
	}
	if !strings.Contains(cfg.Storage.Path, "layerd") {
		t.Errorf("journal path should contain layerd: %s", cfg.Storage.Path)
	}
	if !cfg.IPC.Enabled {
		t.Error("expected IPC enabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "layerd") {
		t.Errorf("config path should contain layerd: %s", path)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.DefaultLayer != 1 {
		t.Errorf("expected defaults, got layer %d", cfg.Engine.DefaultLayer)
	}
}

func TestLoadTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
version = 1

[engine]
require_prior_idle_ms = 250
excluded_positions = [272, 273]
default_layer = 4
default_timeout_ms = 900

[storage]
type = "memory"

[logging]
level = "debug"
output = "stderr"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine.RequirePriorIdleMs != 250 {
		t.Errorf("expected idle threshold 250, got %d", cfg.Engine.RequirePriorIdleMs)
	}
	if cfg.Engine.DefaultLayer != 4 {
		t.Errorf("expected layer 4, got %d", cfg.Engine.DefaultLayer)
	}
	if len(cfg.Engine.ExcludedPositions) != 2 {
		t.Errorf("expected 2 excluded positions, got %d", len(cfg.Engine.ExcludedPositions))
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("expected memory storage, got %s", cfg.Storage.Type)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if !cfg.IPC.Enabled {
		t.Error("expected IPC default to survive partial config")
	}
}

func TestLoadJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	content := `{"engine": {"default_layer": 2}, "metrics": {"enabled": true, "listen": "127.0.0.1:9999"}}`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.DefaultLayer != 2 {
		t.Errorf("expected layer 2, got %d", cfg.Engine.DefaultLayer)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9999" {
		t.Errorf("metrics config not applied: %+v", cfg.Metrics)
	}
}

func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := "engine:\n  default_timeout_ms: 1200\ninput:\n  grab: true\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.DefaultTimeoutMs != 1200 {
		t.Errorf("expected timeout 1200, got %d", cfg.Engine.DefaultTimeoutMs)
	}
	if !cfg.Input.Grab {
		t.Error("expected grab enabled")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LAYERD_LOG_LEVEL", "debug")
	t.Setenv("LAYERD_SOCKET_PATH", "/tmp/test-layerd.sock")
	t.Setenv("LAYERD_STORAGE_PATH", "/tmp/test-journal.db")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level from env, got %s", cfg.Logging.Level)
	}
	if cfg.IPC.SocketPath != "/tmp/test-layerd.sock" {
		t.Errorf("expected socket path from env, got %s", cfg.IPC.SocketPath)
	}
	if cfg.Storage.Path != "/tmp/test-journal.db" {
		t.Errorf("expected storage path from env, got %s", cfg.Storage.Path)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad version",
			mutate:  func(c *Config) { c.Version = 99 },
			wantErr: "version",
		},
		{
			name:    "negative idle threshold",
			mutate:  func(c *Config) { c.Engine.RequirePriorIdleMs = -1 },
			wantErr: "require_prior_idle_ms",
		},
		{
			name:    "layer out of range",
			mutate:  func(c *Config) { c.Engine.DefaultLayer = 99 },
			wantErr: "default_layer",
		},
		{
			name:    "position out of range",
			mutate:  func(c *Config) { c.Engine.ExcludedPositions = []int{5000} },
			wantErr: "excluded_positions",
		},
		{
			name:    "bad storage type",
			mutate:  func(c *Config) { c.Storage.Type = "postgres" },
			wantErr: "storage.type",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name:    "bad socket permissions",
			mutate:  func(c *Config) { c.IPC.Permissions = "rwx" },
			wantErr: "ipc.permissions",
		},
		{
			name: "policy enabled without script",
			mutate: func(c *Config) {
				c.Policy.Enabled = true
				c.Policy.ScriptPath = ""
			},
			wantErr: "policy.script_path",
		},
		{
			name: "bad metrics listen",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = "no-port"
			},
			wantErr: "metrics.listen",
		},
		{
			name:    "bad device glob",
			mutate:  func(c *Config) { c.Input.ExcludeDevices = []string{"[unclosed"} },
			wantErr: "exclude_devices",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()

	clone.Engine.ExcludedPositions[0] = 999
	clone.Engine.DefaultLayer = 7

	if cfg.Engine.ExcludedPositions[0] == 999 {
		t.Error("clone shares excluded positions slice")
	}
	if cfg.Engine.DefaultLayer == 7 {
		t.Error("clone shares scalar state")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	cfg := DefaultConfig()
	cfg.Engine.DefaultLayer = 3
	cfg.Engine.ExcludedPositions = []int{10, 20}

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Engine.DefaultLayer != 3 {
		t.Errorf("expected layer 3 after round trip, got %d", loaded.Engine.DefaultLayer)
	}
	if len(loaded.Engine.ExcludedPositions) != 2 || loaded.Engine.ExcludedPositions[1] != 20 {
		t.Errorf("excluded positions lost in round trip: %v", loaded.Engine.ExcludedPositions)
	}
}

func TestLoaderRejectsInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := "[logging]\nlevel = \"loud\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader(configPath)
	defer loader.Close()

	if _, err := loader.Load(); err == nil {
		t.Error("Load accepted config with bad log level")
	}
}

func TestLoadOrCreate(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	cfg, created, err := LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected config file to be created")
	}
	if cfg == nil {
		t.Fatal("LoadOrCreate returned nil config")
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("config file not on disk: %v", err)
	}

	// Second call loads the existing file.
	_, created, err = LoadOrCreate(configPath)
	if err != nil {
		t.Fatalf("LoadOrCreate (second) failed: %v", err)
	}
	if created {
		t.Error("expected existing config to be loaded, not recreated")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	if got := expandPath("~/layerd.db"); got != filepath.Join(home, "layerd.db") {
		t.Errorf("expandPath(~/layerd.db) = %s", got)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("expandPath(/abs/path) = %s", got)
	}
	if got := expandPath(""); got != "" {
		t.Errorf("expandPath(\"\") = %s", got)
	}
}
