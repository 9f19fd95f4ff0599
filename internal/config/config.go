// Package config provides configuration loading for the bootseq command.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config holds the complete bootseq configuration.
type Config struct {
	Init   InitConfig   `koanf:"init"`
	Log    LogConfig    `koanf:"log"`
	Server ServerConfig `koanf:"server"`
}

// InitConfig holds initializer directory configuration.
type InitConfig struct {
	Dirname    string   `koanf:"dirname"`
	Extensions []string `koanf:"extensions"` // Empty means every extension a loader knows.
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn or error
	Format string `koanf:"format"` // console or json
}

// ServerConfig holds configuration of the readiness server started with --serve.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Init.Dirname) == "" {
		return errors.New("init dirname is required")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format %q (must be console or json)", c.Log.Format)
	}
	if c.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}

// applyDefaults fills in missing values.
func applyDefaults(cfg *Config) {
	if cfg.Init.Dirname == "" {
		cfg.Init.Dirname = "etc/init"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
}
