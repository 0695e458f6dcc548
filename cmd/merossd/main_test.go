package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("MEROSS_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingCredentials verifies run fails when no account
// credentials are configured.
func TestRun_MissingCredentials(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
cloud:
  email: ""
  password: ""

logging:
  level: info
  format: json
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	t.Setenv("MEROSS_CONFIG", configPath)
	t.Setenv("MEROSS_EMAIL", "")
	t.Setenv("MEROSS_PASSWORD", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without credentials")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("MEROSS_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("MEROSS_CONFIG", "/etc/meross/config.yaml")
	if got := getConfigPath(); got != "/etc/meross/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}
