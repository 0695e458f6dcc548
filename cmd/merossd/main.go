// merossd is a small daemon around the fleet client.
//
// It authenticates against the vendor cloud, discovers the account's
// devices, keeps their state fresh from broker pushes, and optionally
// exposes a local HTTP status API, records push history to SQLite and
// forwards electrical readings to InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	meross "github.com/nerrad567/meross-go"
	"github.com/nerrad567/meross-go/config"
	"github.com/nerrad567/meross-go/httpapi"
	"github.com/nerrad567/meross-go/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Background maintenance intervals.
const (
	telemetryPollInterval = time.Minute
	historyPruneInterval  = 12 * time.Hour
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful
	// shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting merossd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	manager, err := meross.FromConfig(cfg, log)
	if err != nil {
		return fmt.Errorf("building manager: %w", err)
	}
	defer func() {
		log.Info("closing manager")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing manager", "error", closeErr)
		}
	}()

	if err := manager.Init(ctx); err != nil {
		return fmt.Errorf("initialising session: %w", err)
	}
	log.Info("session established", "user_id", manager.Credentials().UserID)

	result, err := manager.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering devices: %w", err)
	}
	log.Info("fleet discovered",
		"devices", len(manager.Devices()),
		"added", len(result.Added),
		"failed", len(result.Failed),
	)

	// Start the local status API (if enabled)
	if cfg.API.Enabled {
		server, apiErr := httpapi.New(httpapi.Deps{
			Config:  cfg.API,
			Logger:  log.With("component", "api"),
			Manager: manager,
			History: manager.History(),
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("building status API: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting status API: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing status API", "error", closeErr)
			}
		}()
	} else {
		log.Info("status API disabled")
	}

	if err := manager.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	go telemetryLoop(ctx, manager, log)
	go pruneLoop(ctx, manager, cfg, log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// telemetryLoop periodically samples metering devices. It exits when
// the context is cancelled.
func telemetryLoop(ctx context.Context, manager *meross.Manager, log *logging.Logger) {
	ticker := time.NewTicker(telemetryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := manager.PollTelemetry(ctx); err != nil {
				log.Warn("telemetry poll failed", "error", err)
			}
		}
	}
}

// pruneLoop trims old push history entries on a slow cadence.
func pruneLoop(ctx context.Context, manager *meross.Manager, cfg *config.Config, log *logging.Logger) {
	store := manager.History()
	if store == nil || cfg.History.RetentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Prune(ctx, cfg.HistoryRetention())
			if err != nil {
				log.Warn("history prune failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("history pruned", "removed", removed)
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses MEROSS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MEROSS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
