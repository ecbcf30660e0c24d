// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Globals are the options given before the command name. Empty values
// defer to the config file.
type Globals struct {
	LogLevel   string
	LogFormat  string
	ConfigPath string
}

// apply overrides the config with the global options that are set.
func (g Globals) apply(config *Config) {
	if g.LogLevel != "" {
		config.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		config.Log.Format = g.LogFormat
	}
}

// spawnArgs are the global options a helper process is started with.
func (g Globals) spawnArgs(config Config) []string {
	args := []string{"--log-level", config.Log.Level, "--log-format", config.Log.Format}
	if g.ConfigPath != "" {
		args = append(args, "--config", g.ConfigPath)
	}
	return args
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return l, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// NewLogger builds the text or JSON logger the config asks for.
func NewLogger(config LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch config.Format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", config.Format)
	}
}
