package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mealflow  Mealflow        `yaml:"mealflow"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	API       APIConfig       `yaml:"api"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Cart      CartConfig      `yaml:"cart"`
	Driver    DriverConfig    `yaml:"driver"`
	Storage   StorageConfig   `yaml:"storage"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type Mealflow struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Region         string        `yaml:"region"`
	Namespace      string        `yaml:"namespace"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type APIConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxJitter   time.Duration `yaml:"max_jitter"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RealtimeConfig struct {
	URL              string          `yaml:"url"`
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout"`
	PingInterval     time.Duration   `yaml:"ping_interval"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinDelay    time.Duration `yaml:"min_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Factor      float64       `yaml:"factor"`
}

type CartConfig struct {
	// ClearOnLogout drops the persisted cart when auth state is cleared.
	// Off by default: the cart outlives the session.
	ClearOnLogout bool `yaml:"clear_on_logout"`
}

type DriverConfig struct {
	Enabled            bool          `yaml:"enabled"`
	LocationInterval   time.Duration `yaml:"location_interval"`
	LocationsPerSecond float64       `yaml:"locations_per_second"`
	LocationBurst      int           `yaml:"location_burst"`
	PositionFile       string        `yaml:"position_file"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	LogHistory int    `yaml:"log_history"`
}

const defaultConfigPath = "config/config.yml"

// envConfigPaths maps production-like environments to their dedicated config
// files, picked up when the caller did not override the default path.
var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		API: APIConfig{
			Timeout: 30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
				MaxJitter:   time.Second,
			},
		},
		Realtime: RealtimeConfig{
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     20 * time.Second,
			Reconnect: ReconnectConfig{
				MaxAttempts: 5,
				MinDelay:    time.Second,
				MaxDelay:    30 * time.Second,
				Factor:      2,
			},
		},
		Metrics: MetricsConfig{
			ReportInterval: 30 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override endpoints from environment variables if available
	if v := os.Getenv("MEALFLOW_API_URL"); v != "" {
		config.API.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("MEALFLOW_REALTIME_URL"); v != "" {
		config.Realtime.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.Metrics.Region = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Mealflow.Name == "" {
		return fmt.Errorf("mealflow.name is required")
	}
	if cfg.Mealflow.Version == "" {
		return fmt.Errorf("mealflow.version is required")
	}

	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if !isValidHTTPURL(cfg.API.BaseURL) {
		return fmt.Errorf("api.base_url '%s' is invalid", cfg.API.BaseURL)
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be greater than 0")
	}
	if cfg.API.Retry.MaxAttempts < 0 {
		return fmt.Errorf("api.retry.max_attempts must not be negative")
	}

	if cfg.Realtime.URL == "" {
		return fmt.Errorf("realtime.url is required")
	}
	if !isValidWSURL(cfg.Realtime.URL) {
		return fmt.Errorf("realtime.url '%s' is invalid", cfg.Realtime.URL)
	}
	if cfg.Realtime.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("realtime.reconnect.max_attempts must be greater than 0")
	}
	if cfg.Realtime.Reconnect.MinDelay <= 0 || cfg.Realtime.Reconnect.MaxDelay < cfg.Realtime.Reconnect.MinDelay {
		return fmt.Errorf("realtime.reconnect delays are invalid")
	}

	if cfg.Driver.Enabled {
		if cfg.Driver.LocationInterval <= 0 {
			return fmt.Errorf("driver.location_interval must be greater than 0 when driver mode is enabled")
		}
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	// Production-like deployments must not talk over plaintext transports.
	if IsProductionLike(getAppEnvironment()) {
		if !strings.HasPrefix(cfg.API.BaseURL, "https://") {
			return fmt.Errorf("api.base_url must use https in %s", getAppEnvironment())
		}
		if !strings.HasPrefix(cfg.Realtime.URL, "wss://") {
			return fmt.Errorf("realtime.url must use wss in %s", getAppEnvironment())
		}
	}

	return nil
}

func isValidHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isValidWSURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "ws" || u.Scheme == "wss") && u.Host != ""
}
