package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

storage:
  dir: "` + yamlSafePath(tmpDir) + `/store"

shutdown:
  timeout: 30s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Shutdown.Timeout != 30*time.Second {
		t.Errorf("Expected shutdown timeout 30s, got %v", cfg.Shutdown.Timeout)
	}
	if cfg.Custody.TimerBase != 10*time.Second {
		t.Errorf("Expected default custody timer_base 10s, got %v", cfg.Custody.TimerBase)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}

	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Storage.FDCacheSize != 256 {
		t.Errorf("Expected default fd_cache_size 256, got %d", cfg.Storage.FDCacheSize)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_RejectsIdleCloseOnAlwaysOn(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
storage:
  dir: "` + yamlSafePath(tmpDir) + `/store"

links:
  - name: "tcp-to-b"
    type: "alwayson"
    remote_eid: "dtn://b"
    nexthop: "b.example.com:4556"
    idle_close_time: 30s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected validation error for idle_close_time on an alwayson link, got nil")
	}
}

func TestLoad_RejectsRouteToUndeclaredLink(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
storage:
  dir: "` + yamlSafePath(tmpDir) + `/store"

routes:
  - dest: "dtn://c/*"
    link: "tcp-to-c"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected validation error for route referencing undeclared link, got nil")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Shutdown.Timeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Shutdown.Timeout)
	}
	if !cfg.Fragmentation.ProactiveEnabled {
		t.Error("Expected proactive fragmentation enabled by default")
	}
	if cfg.Custody.ACSBatchSize != 64 {
		t.Errorf("Expected default ACS batch size 64, got %d", cfg.Custody.ACSBatchSize)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	if filepath.Base(dir) != "dtnd" {
		t.Errorf("Expected directory name 'dtnd', got %q", filepath.Base(dir))
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	_ = os.Setenv("DTND_LOGGING_LEVEL", "ERROR")
	_ = os.Setenv("DTND_SHUTDOWN_TIMEOUT", "45s")
	defer func() {
		_ = os.Unsetenv("DTND_LOGGING_LEVEL")
		_ = os.Unsetenv("DTND_SHUTDOWN_TIMEOUT")
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

storage:
  dir: "` + yamlSafePath(tmpDir) + `/store"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Shutdown.Timeout != 45*time.Second {
		t.Errorf("Expected shutdown timeout 45s from env var, got %v", cfg.Shutdown.Timeout)
	}
}
