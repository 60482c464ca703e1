// Package config loads apitap's configuration from config.yaml in the
// data directory, with environment overrides for paths.
package config

import "time"

// Config is the top-level configuration structure for apitap.
type Config struct {
	// SkillsDir holds the generated skill files.
	SkillsDir string `yaml:"skillsDir,omitempty"`
	// CredentialsDir holds the encrypted credential store.
	CredentialsDir string `yaml:"credentialsDir,omitempty"`

	Replay  ReplayConfig  `yaml:"replay,omitempty"`
	Refresh RefreshConfig `yaml:"refresh,omitempty"`
	Capture CaptureConfig `yaml:"capture,omitempty"`
}

// ReplayConfig tunes the replay engine.
type ReplayConfig struct {
	// MaxBytes caps the response payload returned to callers.
	MaxBytes int `yaml:"maxBytes,omitempty"`
	// BatchConcurrency bounds parallel replays in a batch.
	BatchConcurrency int `yaml:"batchConcurrency,omitempty"`
}

// RefreshConfig tunes credential refreshes.
type RefreshConfig struct {
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// CaptureConfig tunes browser capture sessions.
type CaptureConfig struct {
	Headless    bool          `yaml:"headless,omitempty"`
	IdleTimeout time.Duration `yaml:"idleTimeout,omitempty"`
}
