package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

const validConfig = `
marketpulse:
  name: marketpulse
  version: 1.0.0
logging:
  level: info
  format: json
channels:
  event_buffer: 1024
  batch_buffer: 64
  error_buffer: 32
feeds:
  polygon:
    enabled: true
    url: wss://socket.polygon.io/stocks
    api_key: test-key
    symbols: [AAPL]
    channels: [T, Q]
reconnect:
  base_delay: 1s
  max_delay: 30s
  max_attempts: 5
`

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, validConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Marketpulse.Name != "marketpulse" {
		t.Errorf("expected name 'marketpulse', got %q", cfg.Marketpulse.Name)
	}
	if cfg.Channels.EventBuffer != 1024 {
		t.Errorf("expected event_buffer 1024, got %d", cfg.Channels.EventBuffer)
	}
	if cfg.Reconnect.BaseDelay != time.Second {
		t.Errorf("expected base_delay 1s, got %v", cfg.Reconnect.BaseDelay)
	}
	if cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("expected max_attempts 5, got %d", cfg.Reconnect.MaxAttempts)
	}
	if len(cfg.Feeds.Polygon.Channels) != 2 {
		t.Errorf("expected 2 polygon channels, got %d", len(cfg.Feeds.Polygon.Channels))
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadConfigDefaultsReconnect(t *testing.T) {
	path := writeConfigFile(t, `
marketpulse:
  name: marketpulse
  version: 1.0.0
channels:
  event_buffer: 16
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Reconnect.BaseDelay != time.Second {
		t.Errorf("expected default base_delay 1s, got %v", cfg.Reconnect.BaseDelay)
	}
	if cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("expected default max_attempts 5, got %d", cfg.Reconnect.MaxAttempts)
	}
}

func TestValidateConfigMissingName(t *testing.T) {
	path := writeConfigFile(t, `
marketpulse:
  version: 1.0.0
channels:
  event_buffer: 16
`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected validation error for missing name")
	}
}

func TestValidateConfigPolygonKeyRequired(t *testing.T) {
	t.Setenv("POLYGON_API_KEY", "")
	path := writeConfigFile(t, `
marketpulse:
  name: marketpulse
  version: 1.0.0
channels:
  event_buffer: 16
feeds:
  polygon:
    enabled: true
    url: wss://socket.polygon.io/stocks
`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected validation error for missing polygon api key")
	}
}

func TestEnvOverridesPolygonKey(t *testing.T) {
	t.Setenv("POLYGON_API_KEY", "env-key")
	path := writeConfigFile(t, validConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Feeds.Polygon.APIKey != "env-key" {
		t.Errorf("expected api key from environment, got %q", cfg.Feeds.Polygon.APIKey)
	}
	if cfg.Collector.APIKey != "env-key" {
		t.Errorf("expected collector key from environment, got %q", cfg.Collector.APIKey)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	valid := []string{"market-archive", "my.bucket.01", "abc"}
	for _, name := range valid {
		if !isValidS3Bucket(name) {
			t.Errorf("expected %q to be valid", name)
		}
	}

	invalid := []string{"ab", "UPPER", "bad..dots", ".leading", "trailing."}
	for _, name := range invalid {
		if isValidS3Bucket(name) {
			t.Errorf("expected %q to be invalid", name)
		}
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	envPaths := map[string]string{
		EnvironmentProduction: "config/config.prod.yml",
	}

	if got := ResolvePath("", "config/config.yml", envPaths); got != "config/config.prod.yml" {
		t.Errorf("expected production path, got %q", got)
	}
	if got := ResolvePath("custom.yml", "config/config.yml", envPaths); got != "custom.yml" {
		t.Errorf("expected explicit path to win, got %q", got)
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "stag")
	if got := AppEnvironment(); got != EnvironmentStaging {
		t.Errorf("expected staging, got %q", got)
	}
	if !IsProductionLike(EnvironmentStaging) {
		t.Error("expected staging to be production-like")
	}
	if IsProductionLike(EnvironmentDevelopment) {
		t.Error("expected development not to be production-like")
	}
}
