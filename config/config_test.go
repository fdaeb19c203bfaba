package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `mealflow:
  name: "TestApp"
  version: "1.0"
api:
  base_url: "https://api.example.com"
realtime:
  url: "wss://rt.example.com/socket"
storage:
  path: "/tmp/mealflow-test"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Mealflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Mealflow.Name)
	}
	if cfg.API.Retry.MaxAttempts != 3 {
		t.Errorf("unexpected retry ceiling: %d", cfg.API.Retry.MaxAttempts)
	}
	if cfg.Realtime.Reconnect.MaxDelay != 30*time.Second {
		t.Errorf("unexpected reconnect max delay: %s", cfg.Realtime.Reconnect.MaxDelay)
	}
}

func TestLoadConfigMissingRealtimeURL(t *testing.T) {
	content := `mealflow:
  name: "TestApp"
  version: "1.0"
api:
  base_url: "https://api.example.com"
storage:
  path: "/tmp/mealflow-test"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected error for missing realtime.url")
	}
}

func TestLoadConfigProductionRequiresTLS(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	content := `mealflow:
  name: "TestApp"
  version: "1.0"
api:
  base_url: "http://api.example.com"
realtime:
  url: "ws://rt.example.com/socket"
storage:
  path: "/tmp/mealflow-test"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected error for plaintext transports in production")
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if got := AppEnvironment(); got != EnvironmentProduction {
		t.Errorf("AppEnvironment() = %q, want %q", got, EnvironmentProduction)
	}
	if !IsProductionLike(EnvironmentStaging) {
		t.Error("staging should be production-like")
	}
	if IsProductionLike(EnvironmentDevelopment) {
		t.Error("development should not be production-like")
	}
}

func TestIsValidWSURL(t *testing.T) {
	cases := []struct {
		url   string
		valid bool
	}{
		{"wss://rt.example.com/socket", true},
		{"ws://localhost:4000", true},
		{"https://rt.example.com", false},
		{"not a url", false},
	}
	for _, c := range cases {
		if got := isValidWSURL(c.url); got != c.valid {
			t.Errorf("isValidWSURL(%q) = %v, want %v", c.url, got, c.valid)
		}
	}
}
