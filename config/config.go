package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the fleet client.
// All configuration is loaded from YAML and can be overridden by
// environment variables.
type Config struct {
	Cloud     CloudConfig     `yaml:"cloud"`
	Transport TransportConfig `yaml:"transport"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
}

// CloudConfig contains vendor cloud account settings.
type CloudConfig struct {
	// BaseURL is the HTTPS API endpoint. Login errors may carry a
	// region redirect; the reported domain replaces this value.
	BaseURL string `yaml:"base_url"`

	// Email and Password authenticate against the vendor account.
	// Usually supplied via MEROSS_EMAIL and MEROSS_PASSWORD.
	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// ProxyURL, when set, routes API traffic through an HTTP proxy.
	ProxyURL string `yaml:"proxy_url"`

	// Timeout is the HTTP request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// TransportConfig contains MQTT and LAN transport settings.
type TransportConfig struct {
	// Mode selects how commands reach devices: "mqtt_only",
	// "lan_first" or "lan_first_only_get".
	Mode string `yaml:"mode"`

	// CACertFile optionally pins the broker's CA certificate.
	CACertFile string `yaml:"ca_cert_file"`

	// CommandTimeout is the default ACK wait in seconds.
	CommandTimeout int `yaml:"command_timeout"`

	// HubCommandTimeout is the ACK wait for hub and thermostat
	// commands in seconds; battery-powered subdevices answer slowly.
	HubCommandTimeout int `yaml:"hub_command_timeout"`
}

// RateLimitConfig contains token bucket settings for one scope.
// Zero values leave the scope unlimited.
type RateLimitConfig struct {
	GlobalBurst       int `yaml:"global_burst"`
	GlobalPerInterval int `yaml:"global_per_interval"`
	DeviceBurst       int `yaml:"device_burst"`
	DevicePerInterval int `yaml:"device_per_interval"`

	// IntervalSeconds is the refill interval shared by both scopes.
	IntervalSeconds int `yaml:"interval_seconds"`

	// MaxQueuedPerDevice bounds callers waiting per device.
	MaxQueuedPerDevice int `yaml:"max_queued_per_device"`
}

// HistoryConfig contains SQLite push history settings.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long entries are kept before pruning.
	RetentionDays int `yaml:"retention_days"`
}

// TelemetryConfig contains InfluxDB settings.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the local HTTP status API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	// ReadTimeout, WriteTimeout and IdleTimeout are in seconds.
	ReadTimeout  int `yaml:"read_timeout"`
	WriteTimeout int `yaml:"write_timeout"`
	IdleTimeout  int `yaml:"idle_timeout"`

	// AllowedOrigins restricts CORS. Empty allows all origins.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`

	// Output is "stdout" or "stderr".
	Output string `yaml:"output"`
}

// SnapshotConfig controls fleet snapshot persistence.
type SnapshotConfig struct {
	// Path is where the JSON snapshot is written. Empty disables
	// snapshots.
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern MEROSS_SECTION_KEY, e.g.
// MEROSS_EMAIL, MEROSS_PASSWORD, MEROSS_INFLUXDB_TOKEN.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with sensible defaults. Credentials are
// intentionally empty.
func Default() *Config {
	return &Config{
		Cloud: CloudConfig{
			BaseURL: "https://iot.meross.com",
			Timeout: 30,
		},
		Transport: TransportConfig{
			Mode:              "mqtt_only",
			CommandTimeout:    5,
			HubCommandTimeout: 30,
		},
		RateLimit: RateLimitConfig{
			GlobalBurst:        6,
			GlobalPerInterval:  2,
			DeviceBurst:        1,
			DevicePerInterval:  1,
			IntervalSeconds:    1,
			MaxQueuedPerDevice: 8,
		},
		History: HistoryConfig{
			Path:          "./data/meross-history.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		Telemetry: TelemetryConfig{
			URL:           "http://localhost:8086",
			Org:           "home",
			Bucket:        "meross",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host:         "127.0.0.1",
			Port:         8089,
			ReadTimeout:  15,
			WriteTimeout: 15,
			IdleTimeout:  60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
// Variables follow the pattern MEROSS_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEROSS_EMAIL"); v != "" {
		cfg.Cloud.Email = v
	}
	if v := os.Getenv("MEROSS_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}
	if v := os.Getenv("MEROSS_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("MEROSS_PROXY_URL"); v != "" {
		cfg.Cloud.ProxyURL = v
	}
	if v := os.Getenv("MEROSS_TRANSPORT_MODE"); v != "" {
		cfg.Transport.Mode = v
	}
	if v := os.Getenv("MEROSS_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("MEROSS_INFLUXDB_URL"); v != "" {
		cfg.Telemetry.URL = v
	}
	if v := os.Getenv("MEROSS_INFLUXDB_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
	if v := os.Getenv("MEROSS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MEROSS_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
	}
	if v := os.Getenv("MEROSS_CLOUD_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Cloud.Timeout = n
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	}
	if c.Cloud.Email == "" {
		errs = append(errs, "cloud.email is required (set MEROSS_EMAIL environment variable)")
	}
	if c.Cloud.Password == "" {
		errs = append(errs, "cloud.password is required (set MEROSS_PASSWORD environment variable)")
	}
	if c.Cloud.Timeout <= 0 {
		errs = append(errs, "cloud.timeout must be positive")
	}

	switch c.Transport.Mode {
	case "mqtt_only", "lan_first", "lan_first_only_get":
	default:
		errs = append(errs, "transport.mode must be mqtt_only, lan_first or lan_first_only_get")
	}
	if c.Transport.CommandTimeout <= 0 {
		errs = append(errs, "transport.command_timeout must be positive")
	}

	if c.RateLimit.IntervalSeconds <= 0 {
		errs = append(errs, "rate_limit.interval_seconds must be positive")
	}

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Token == "" {
			errs = append(errs, "telemetry.token is required when telemetry is enabled (set MEROSS_INFLUXDB_TOKEN)")
		}
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CloudTimeout returns the HTTP timeout as a Duration.
func (c *Config) CloudTimeout() time.Duration {
	return time.Duration(c.Cloud.Timeout) * time.Second
}

// CommandTimeout returns the default ACK wait as a Duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Transport.CommandTimeout) * time.Second
}

// HubCommandTimeout returns the hub ACK wait as a Duration.
func (c *Config) HubCommandTimeout() time.Duration {
	return time.Duration(c.Transport.HubCommandTimeout) * time.Second
}

// RateLimitInterval returns the bucket refill interval as a Duration.
func (c *Config) RateLimitInterval() time.Duration {
	return time.Duration(c.RateLimit.IntervalSeconds) * time.Second
}

// HistoryRetention returns the history retention as a Duration.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}
