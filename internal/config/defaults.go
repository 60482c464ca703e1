package config

import (
	"time"

	"apitap/internal/replay"
	"apitap/internal/session"
)

// GetDefaultConfig returns the default configuration for apitap.
// Paths are empty here; Load fills them from the data directory.
func GetDefaultConfig() Config {
	return Config{
		Replay: ReplayConfig{
			MaxBytes:         replay.DefaultMaxBytes,
			BatchConcurrency: replay.DefaultBatchConcurrency,
		},
		Refresh: RefreshConfig{
			Timeout: 60 * time.Second,
		},
		Capture: CaptureConfig{
			Headless:    true,
			IdleTimeout: session.DefaultIdleTimeout,
		},
	}
}
