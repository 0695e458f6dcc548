package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
cloud:
  email: user@example.com
  password: hunter2
transport:
  mode: lan_first
  command_timeout: 7
rate_limit:
  interval_seconds: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Mode != "lan_first" {
		t.Errorf("mode = %s", cfg.Transport.Mode)
	}
	if cfg.Transport.CommandTimeout != 7 {
		t.Errorf("command_timeout = %d", cfg.Transport.CommandTimeout)
	}
	// Untouched values keep their defaults.
	if cfg.Cloud.BaseURL != "https://iot.meross.com" {
		t.Errorf("base_url = %s", cfg.Cloud.BaseURL)
	}
	if cfg.Transport.HubCommandTimeout != 30 {
		t.Errorf("hub_command_timeout = %d", cfg.Transport.HubCommandTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
cloud:
  email: file@example.com
  password: from-file
`)
	t.Setenv("MEROSS_EMAIL", "env@example.com")
	t.Setenv("MEROSS_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cloud.Email != "env@example.com" {
		t.Errorf("email = %s, env override not applied", cfg.Cloud.Email)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing email",
			mutate:  func(c *Config) { c.Cloud.Email = "" },
			wantErr: "cloud.email is required",
		},
		{
			name:    "bad transport mode",
			mutate:  func(c *Config) { c.Transport.Mode = "carrier-pigeon" },
			wantErr: "transport.mode",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name: "telemetry without token",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Token = ""
			},
			wantErr: "telemetry.token is required",
		},
		{
			name: "history without path",
			mutate: func(c *Config) {
				c.History.Enabled = true
				c.History.Path = ""
			},
			wantErr: "history.path is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Cloud.Email = "user@example.com"
			cfg.Cloud.Password = "hunter2"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.CommandTimeout().Seconds() != 5 {
		t.Errorf("CommandTimeout = %v", cfg.CommandTimeout())
	}
	if cfg.HistoryRetention().Hours() != 30*24 {
		t.Errorf("HistoryRetention = %v", cfg.HistoryRetention())
	}
}
