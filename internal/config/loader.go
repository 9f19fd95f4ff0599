package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "BOOTSEQ_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load loads configuration from a YAML or TOML file, then overrides it with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (BOOTSEQ_INIT_DIRNAME, BOOTSEQ_LOG_LEVEL, etc.)
//  2. Config file, TOML if its name ends in ".toml" and YAML otherwise
//  3. Hardcoded defaults
//
// An empty path or a missing file is not an error.
//
// # Environment Variable Mapping
//
// The prefix is stripped, the rest is lowercased and split on its first underscore:
//
//	BOOTSEQ_INIT_DIRNAME           -> init.dirname
//	BOOTSEQ_SERVER_SHUTDOWN_TIMEOUT -> server.shutdown_timeout
//
// BOOTSEQ_INIT_EXTENSIONS is a comma-separated list.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), parserFor(path)); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKeyValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// readConfigFile returns the contents of the config file at path, or nil if there is none.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config file %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// parserFor picks a koanf parser by file extension.
func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return TOML()
	}
	return yaml.Parser()
}

// envKeyValue maps BOOTSEQ_SECTION_FIELD_NAME to section.field_name.
func envKeyValue(key, value string) (string, interface{}) {
	lower := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower, value
	}

	key = parts[0] + "." + parts[1]
	if key == "init.extensions" {
		var exts []string
		for _, ext := range strings.Split(value, ",") {
			if ext = strings.TrimSpace(ext); ext != "" {
				exts = append(exts, ext)
			}
		}
		return key, exts
	}
	return key, value
}
