// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	wpeembed "github.com/buke/wpe-embed"
	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigPath is read when no --config is given and the file exists.
const DefaultConfigPath = "wpe-embed.toml"

// Config represents the wpe-embed.toml configuration file
type Config struct {
	Log     LogConfig     `toml:"log"`
	Host    HostConfig    `toml:"host"`
	View    ViewConfig    `toml:"view"`
	Process ProcessConfig `toml:"process"`
}

type LogConfig struct {
	// debug, info, warn or error
	Level string `toml:"level"`
	// text or json
	Format string `toml:"format"`
}

// HostConfig selects the host script engine and the scripts it runs.
type HostConfig struct {
	Engine  string   `toml:"engine"`
	Scripts []string `toml:"scripts"`
}

type ViewConfig struct {
	// Views created at startup
	IDs []string `toml:"ids"`
	// Address loaded into every view when no host script is configured
	URL       string `toml:"url"`
	UserAgent string `toml:"user_agent"`
	// ignore or fail
	TLSErrors string `toml:"tls_errors"`
	FrameRate int    `toml:"frame_rate"`
	Width     int    `toml:"width"`
	Height    int    `toml:"height"`
}

type ProcessConfig struct {
	// Launch helper processes for the engine
	Helpers       bool                 `toml:"helpers"`
	LaunchTimeout string               `toml:"launch_timeout"`
	Directories   wpeembed.Directories `toml:"directories"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	base := filepath.Join(os.TempDir(), "wpe-embed")
	bundle := "."
	if exe, err := os.Executable(); err == nil {
		bundle = filepath.Dir(exe)
	}
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Host: HostConfig{
			Engine: "goja",
		},
		View: ViewConfig{
			IDs:       []string{"main"},
			URL:       "about:blank",
			UserAgent: wpeembed.DefaultUserAgent,
			TLSErrors: "ignore",
			FrameRate: 60,
			Width:     1280,
			Height:    720,
		},
		Process: ProcessConfig{
			Helpers:       true,
			LaunchTimeout: "5s",
			Directories: wpeembed.Directories{
				Cache:  filepath.Join(base, "cache"),
				Files:  filepath.Join(base, "files"),
				Temp:   filepath.Join(base, "temp"),
				Bundle: bundle,
			},
		},
	}
}

// LoadConfig loads the configuration from path. An empty path reads
// DefaultConfigPath if it exists and falls back to defaults otherwise.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); errors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid %s: %w", path, err)
	}
	return config, nil
}

// Validate checks the values the runtime cannot default.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if _, ok := scriptEngines[c.Host.Engine]; !ok {
		return fmt.Errorf("unknown host engine %q (available: %v)", c.Host.Engine, engineNames())
	}
	if len(c.View.IDs) == 0 {
		return errors.New("at least one view id is required")
	}
	if slices.Contains(c.View.IDs, "") {
		return errors.New("view ids cannot be empty")
	}
	if _, err := c.tlsPolicy(); err != nil {
		return err
	}
	if c.View.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be positive, got %d", c.View.FrameRate)
	}
	if c.View.Width <= 0 || c.View.Height <= 0 {
		return fmt.Errorf("invalid view size %dx%d", c.View.Width, c.View.Height)
	}
	if _, err := c.launchTimeout(); err != nil {
		return err
	}
	return nil
}

func (c Config) tlsPolicy() (wpeembed.TLSErrorPolicy, error) {
	switch c.View.TLSErrors {
	case "ignore", "":
		return wpeembed.TLSErrorsIgnore, nil
	case "fail":
		return wpeembed.TLSErrorsFail, nil
	default:
		return 0, fmt.Errorf("unknown tls_errors policy %q", c.View.TLSErrors)
	}
}

func (c Config) launchTimeout() (time.Duration, error) {
	if c.Process.LaunchTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Process.LaunchTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid launch_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("launch_timeout cannot be negative")
	}
	return d, nil
}

func (c Config) frameInterval() time.Duration {
	return time.Second / time.Duration(c.View.FrameRate)
}

// directories returns a resolver that creates the configured directories.
func (c Config) directories() wpeembed.DirectoryResolver {
	dirs := c.Process.Directories
	return func() (wpeembed.Directories, error) {
		for _, dir := range []string{dirs.Cache, dirs.Files, dirs.Temp} {
			if dir == "" {
				continue
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return wpeembed.Directories{}, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		return dirs, nil
	}
}

// Init writes a default wpe-embed.toml to the current directory.
func Init(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("init takes no arguments")
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return fmt.Errorf("%s already exists", DefaultConfigPath)
	}
	return WriteConfig(DefaultConfigPath, DefaultConfig())
}

// WriteConfig encodes config as TOML into path.
func WriteConfig(path string, config Config) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("Created %s\n", path)
	return nil
}
