package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing; missing variables expand to
// the empty string. If a checksum sidecar exists next to the file, the file
// is integrity-checked against it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: check the path or run with --config", absPath)
	}

	if err := VerifyChecksum(absPath); err != nil {
		return nil, err
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "cmdbufd"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.Service.FlushSyncTimeout == 0 {
		cfg.Service.FlushSyncTimeout = 10 * time.Second
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "./state/cmdbuf.db"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8642"
	}
}

func validate(cfg *Config) error {
	if cfg.Service.FlushSyncTimeout < 0 {
		return fmt.Errorf("service.flush_sync_timeout must not be negative")
	}
	if cfg.Limits.MaxTransferBuffers < 0 {
		return fmt.Errorf("limits.max_transfer_buffers must not be negative")
	}
	if cfg.Limits.MaxTransferBytes < 0 {
		return fmt.Errorf("limits.max_transfer_bytes must not be negative")
	}
	if cfg.API.Enabled && cfg.API.Auth.APIKey == "" {
		return fmt.Errorf("api.auth.api_key is required when the API is enabled")
	}
	return nil
}
