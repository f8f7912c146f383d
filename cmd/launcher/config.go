// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/holomush/launcher/internal/logging"
	"github.com/holomush/launcher/internal/plugin"
	pluginlua "github.com/holomush/launcher/internal/plugin/lua"
	"github.com/holomush/launcher/internal/xdg"
)

// Default values for configuration keys.
const (
	defaultLogFormat     = "json"
	defaultLogLevel      = "info"
	defaultMetricsAddr   = ""
	defaultFetchRetries  = 2
	defaultCacheSize     = 256
	defaultCallStackSize = pluginlua.DefaultCallStackSize
	defaultMountTimeout  = plugin.DefaultMountTimeout
	defaultFrameInterval = plugin.DefaultFrameInterval
	defaultConcurrency   = plugin.DefaultConcurrency
)

// launcherConfig is the merged configuration: defaults, then the config
// file, then explicitly set flags.
type launcherConfig struct {
	PluginsDir    string        `koanf:"plugins_dir"`
	Concurrency   int           `koanf:"concurrency"`
	MountTimeout  time.Duration `koanf:"mount_timeout"`
	FetchRetries  int           `koanf:"fetch_retries"`
	CacheSize     int           `koanf:"cache_size"`
	CallStackSize int           `koanf:"call_stack_size"`
	FrameInterval time.Duration `koanf:"frame_interval"`
	Disabled      []string      `koanf:"disabled"`
	LogFormat     string        `koanf:"log_format"`
	LogLevel      string        `koanf:"log_level"`
	MetricsAddr   string        `koanf:"metrics_addr"`
	Watch         bool          `koanf:"watch"`
}

func defaultConfig() *launcherConfig {
	return &launcherConfig{
		Concurrency:   defaultConcurrency,
		MountTimeout:  defaultMountTimeout,
		FetchRetries:  defaultFetchRetries,
		CacheSize:     defaultCacheSize,
		CallStackSize: defaultCallStackSize,
		FrameInterval: defaultFrameInterval,
		LogFormat:     defaultLogFormat,
		LogLevel:      defaultLogLevel,
		MetricsAddr:   defaultMetricsAddr,
	}
}

// Validate checks that the configuration is valid.
func (cfg *launcherConfig) Validate() error {
	if cfg.PluginsDir == "" {
		return fmt.Errorf("plugins_dir is required")
	}
	if cfg.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	if cfg.MountTimeout <= 0 {
		return fmt.Errorf("mount_timeout must be positive, got %s", cfg.MountTimeout)
	}
	if cfg.FetchRetries < 0 {
		return fmt.Errorf("fetch_retries must not be negative, got %d", cfg.FetchRetries)
	}
	if cfg.CacheSize < 1 {
		return fmt.Errorf("cache_size must be at least 1, got %d", cfg.CacheSize)
	}
	if cfg.CallStackSize < 1 {
		return fmt.Errorf("call_stack_size must be at least 1, got %d", cfg.CallStackSize)
	}
	if cfg.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be positive, got %s", cfg.FrameInterval)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("log_format must be 'json' or 'text', got %q", cfg.LogFormat)
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// hostConfig maps the launcher configuration onto the plugin host.
func (cfg *launcherConfig) hostConfig() plugin.Config {
	return plugin.Config{
		Concurrency:   cfg.Concurrency,
		MountTimeout:  cfg.MountTimeout,
		FetchRetries:  cfg.FetchRetries,
		CacheSize:     cfg.CacheSize,
		CallStackSize: cfg.CallStackSize,
		FrameInterval: cfg.FrameInterval,
	}
}

// loadConfig merges the config file and the command's flags. A missing
// default config file is not an error; a missing --config file is.
func loadConfig(cmd *cobra.Command) (*launcherConfig, error) {
	k := koanf.New(".")

	path := configFile
	explicit := path != ""
	if !explicit {
		p, err := xdg.ConfigFile()
		if err != nil {
			return nil, fmt.Errorf("failed to locate config file: %w", err)
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	flags := cmd.Flags()
	if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
		switch f.Name {
		case "config", "help", "version":
			return "", nil
		}
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	cfg := defaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.PluginsDir == "" {
		dir, err := xdg.PluginsDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate plugins directory: %w", err)
		}
		cfg.PluginsDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the launcher logger as the slog default.
func setupLogging(cfg *launcherConfig) error {
	if err := logging.SetDefault("launcher", version, logging.Options{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
	}); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	return nil
}

// newDirSource opens the configured plugins directory.
func newDirSource(cfg *launcherConfig) (*plugin.DirSource, error) {
	src, err := plugin.NewDirSource(cfg.PluginsDir, plugin.WithDisabled(cfg.Disabled...))
	if err != nil {
		return nil, fmt.Errorf("invalid disabled pattern: %w", err)
	}
	return src, nil
}
