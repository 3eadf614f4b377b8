// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

// Package config loads server configuration from defaults, an optional
// YAML file, and command-line flags, in increasing precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config holds the Tableside server configuration.
type Config struct {
	DatabaseURL    string        `koanf:"database_url"`
	LocalDBPath    string        `koanf:"local_db_path"`
	ListenAddr     string        `koanf:"listen_addr"`
	MetricsAddr    string        `koanf:"metrics_addr"`
	LogFormat      string        `koanf:"log_format"`
	RoomCodePrefix string        `koanf:"room_code_prefix"`
	DebounceWindow time.Duration `koanf:"debounce_window"`
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.DebounceWindow <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("debounce_window must be positive, got %s", c.DebounceWindow)
	}
	return nil
}

// Load reads configuration: flag defaults, then the YAML file at path (if
// any), then explicitly set flags. Flag names use dashes and map to
// underscore keys in the file.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
		}
	}

	provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
