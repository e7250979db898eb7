package config

import "time"

// Config is the complete cmdbufd configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Limits  LimitsConfig  `yaml:"limits,omitempty"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// FlushSyncTimeout bounds how long a FlushSync caller can stay blocked
	// on a stalled consumer. Zero disables the bound.
	FlushSyncTimeout time.Duration `yaml:"flush_sync_timeout"`
}

// LimitsConfig bounds the transfer buffer registry. Zero values mean
// unlimited.
type LimitsConfig struct {
	MaxTransferBuffers int   `yaml:"max_transfer_buffers"`
	MaxTransferBytes   int64 `yaml:"max_transfer_bytes"`
}

// StateConfig defines where the diagnostics journal lives.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}
