package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultAgentBinary      = "claude"
	defaultModel            = "sonnet"
	defaultTurnTimeout      = 5 * time.Minute
	defaultUnattendedTime   = 10 * time.Minute
	defaultGracePeriod      = 2 * time.Second
	defaultProgressInterval = 2 * time.Second
	defaultMaxMessageLen    = 4000
	defaultLogMaxFiles      = 5
)

// Config stores runtime settings loaded from TOML files.
type Config struct {
	AgentBinary       string
	DefaultModel      string
	TurnTimeout       time.Duration
	UnattendedTimeout time.Duration
	GracePeriod       time.Duration
	ProgressInterval  time.Duration
	MaxMessageLen     int
	OTELEndpoint      string
	LogMaxFiles       int
}

type fileConfig struct {
	AgentBinary       *string `toml:"agent_binary"`
	DefaultModel      *string `toml:"default_model"`
	TurnTimeout       *string `toml:"turn_timeout"`
	UnattendedTimeout *string `toml:"unattended_timeout"`
	GracePeriod       *string `toml:"grace_period"`
	ProgressInterval  *string `toml:"progress_interval"`
	MaxMessageLen     *int    `toml:"max_message_len"`
	OTELEndpoint      *string `toml:"otel_endpoint"`
	LogMaxFiles       *int    `toml:"log_max_files"`
}

// Load reads config from ~/.steward/config.toml and overlays a
// project-local .steward/config.toml.
func Load() (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, ".steward", "config.toml"),
		filepath.Join(workingDir, ".steward", "config.toml"),
	}
	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func defaults() Config {
	return Config{
		AgentBinary:       defaultAgentBinary,
		DefaultModel:      defaultModel,
		TurnTimeout:       defaultTurnTimeout,
		UnattendedTimeout: defaultUnattendedTime,
		GracePeriod:       defaultGracePeriod,
		ProgressInterval:  defaultProgressInterval,
		MaxMessageLen:     defaultMaxMessageLen,
		LogMaxFiles:       defaultLogMaxFiles,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if decoded.AgentBinary != nil {
		cfg.AgentBinary = *decoded.AgentBinary
	}
	if decoded.DefaultModel != nil {
		cfg.DefaultModel = *decoded.DefaultModel
	}
	if decoded.OTELEndpoint != nil {
		cfg.OTELEndpoint = *decoded.OTELEndpoint
	}
	if decoded.MaxMessageLen != nil {
		if *decoded.MaxMessageLen <= 0 {
			return fmt.Errorf("parse max_message_len in %q: must be > 0", path)
		}
		cfg.MaxMessageLen = *decoded.MaxMessageLen
	}
	if decoded.LogMaxFiles != nil {
		if *decoded.LogMaxFiles <= 0 {
			return fmt.Errorf("parse log_max_files in %q: must be > 0", path)
		}
		cfg.LogMaxFiles = *decoded.LogMaxFiles
	}

	return applyDurationOverrides(cfg, decoded, path)
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	entries := []struct {
		raw *string
		key string
		dst *time.Duration
	}{
		{decoded.TurnTimeout, "turn_timeout", &cfg.TurnTimeout},
		{decoded.UnattendedTimeout, "unattended_timeout", &cfg.UnattendedTimeout},
		{decoded.GracePeriod, "grace_period", &cfg.GracePeriod},
		{decoded.ProgressInterval, "progress_interval", &cfg.ProgressInterval},
	}
	for _, entry := range entries {
		if entry.raw == nil {
			continue
		}
		parsed, err := time.ParseDuration(*entry.raw)
		if err != nil {
			return fmt.Errorf("parse %s in %q: %w", entry.key, path, err)
		}
		*entry.dst = parsed
	}
	return nil
}
