package meross

import (
	"fmt"
	"time"

	"github.com/nerrad567/meross-go/config"
	"github.com/nerrad567/meross-go/history"
	"github.com/nerrad567/meross-go/ratelimit"
	"github.com/nerrad567/meross-go/telemetry"
)

// FromConfig builds a Manager from a loaded configuration file,
// opening the history store and connecting the telemetry writer when
// enabled. The Manager owns both and closes them with Close.
func FromConfig(cfg *config.Config, logger Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode, err := ParseTransportMode(cfg.Transport.Mode)
	if err != nil {
		return nil, err
	}

	mc := Config{
		Email:             cfg.Cloud.Email,
		Password:          cfg.Cloud.Password,
		BaseURL:           cfg.Cloud.BaseURL,
		ProxyURL:          cfg.Cloud.ProxyURL,
		HTTPTimeout:       cfg.CloudTimeout(),
		TransportMode:     mode,
		CACertFile:        cfg.Transport.CACertFile,
		CommandTimeout:    cfg.CommandTimeout(),
		HubCommandTimeout: cfg.HubCommandTimeout(),
		RateLimit:         limiterConfig(cfg),
		SnapshotPath:      cfg.Snapshot.Path,
		Logger:            logger,
	}

	if cfg.History.Enabled {
		store, err := history.Open(history.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening history store: %w", err)
		}
		mc.History = store
	}

	if cfg.Telemetry.Enabled {
		writer, err := telemetry.Connect(telemetry.Config{
			Enabled:       true,
			URL:           cfg.Telemetry.URL,
			Token:         cfg.Telemetry.Token,
			Org:           cfg.Telemetry.Org,
			Bucket:        cfg.Telemetry.Bucket,
			BatchSize:     cfg.Telemetry.BatchSize,
			FlushInterval: cfg.Telemetry.FlushInterval,
		})
		if err != nil {
			if mc.History != nil {
				mc.History.Close()
			}
			return nil, fmt.Errorf("connecting telemetry: %w", err)
		}
		mc.Telemetry = writer
	}

	m, err := New(mc)
	if err != nil {
		if mc.History != nil {
			mc.History.Close()
		}
		if mc.Telemetry != nil {
			mc.Telemetry.Close()
		}
		return nil, err
	}
	return m, nil
}

// limiterConfig maps the file-level rate limit settings onto the
// limiter's two bucket scopes.
func limiterConfig(cfg *config.Config) *ratelimit.Config {
	interval := cfg.RateLimitInterval()
	if interval <= 0 {
		interval = time.Second
	}
	return &ratelimit.Config{
		Global: ratelimit.BucketConfig{
			BurstCapacity:     cfg.RateLimit.GlobalBurst,
			RefillInterval:    interval,
			TokensPerInterval: cfg.RateLimit.GlobalPerInterval,
		},
		PerDevice: ratelimit.BucketConfig{
			BurstCapacity:     cfg.RateLimit.DeviceBurst,
			RefillInterval:    interval,
			TokensPerInterval: cfg.RateLimit.DevicePerInterval,
		},
		MaxQueuedPerDevice: cfg.RateLimit.MaxQueuedPerDevice,
	}
}
