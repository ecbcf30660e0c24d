// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// EntryParamsDelimiter separates the fields of an entry-params blob.
	EntryParamsDelimiter = ":"

	// MinEntryParams is the number of fields a valid blob carries.
	MinEntryParams = 5

	// UIProcessTag is the role tag of the embedding process itself.
	UIProcessTag = "WPEUIProcess"
)

// ErrMalformedEntryParams is returned for blobs that cannot be decoded.
var ErrMalformedEntryParams = errors.New("malformed entry params")

// Directories are the host-provided directories a helper process runs with.
type Directories struct {
	Cache  string `toml:"cache"`
	Files  string `toml:"files"`
	Temp   string `toml:"temp"`
	Bundle string `toml:"bundle"`
}

// DirectoryResolver returns the directories for a launch. It runs on the
// host loop.
type DirectoryResolver func() (Directories, error)

// StaticDirectories returns a resolver that always yields dirs.
func StaticDirectories(dirs Directories) DirectoryResolver {
	return func() (Directories, error) { return dirs, nil }
}

// EntryParams is the decoded environment descriptor of a helper process.
type EntryParams struct {
	Tag string
	Directories
}

// BuildEntryParams encodes tag and dirs as tag:cache:files:temp:bundle.
// Fields containing the delimiter are rejected.
func BuildEntryParams(tag string, dirs Directories) (string, error) {
	fields := []string{tag, dirs.Cache, dirs.Files, dirs.Temp, dirs.Bundle}
	for i, f := range fields {
		if strings.Contains(f, EntryParamsDelimiter) {
			return "", fmt.Errorf("%w: field %d contains %q", ErrMalformedEntryParams, i, EntryParamsDelimiter)
		}
	}
	return strings.Join(fields, EntryParamsDelimiter), nil
}

// ParseEntryParams splits blob on the delimiter, keeping empty fields.
// Fewer than MinEntryParams fields is an error.
func ParseEntryParams(blob string) ([]string, error) {
	fields := strings.Split(blob, EntryParamsDelimiter)
	if blob == "" || len(fields) < MinEntryParams {
		return nil, fmt.Errorf("%w: got %d fields, need %d", ErrMalformedEntryParams, len(fields), MinEntryParams)
	}
	return fields, nil
}

// DecodeEntryParams parses blob into its named fields.
func DecodeEntryParams(blob string) (EntryParams, error) {
	fields, err := ParseEntryParams(blob)
	if err != nil {
		return EntryParams{}, err
	}
	return EntryParams{
		Tag: fields[0],
		Directories: Directories{
			Cache:  fields[1],
			Files:  fields[2],
			Temp:   fields[3],
			Bundle: fields[4],
		},
	}, nil
}

// EnvVar is one environment assignment.
type EnvVar struct {
	Key   string
	Value string
}

// abiDir is the bundle's native library directory for this architecture.
func abiDir() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm":
		return "armeabi-v7a"
	default:
		return runtime.GOARCH
	}
}

// Environment returns the variables a helper of role exports before its
// main runs.
func Environment(role ProcessRole, params EntryParams) []EnvVar {
	cache, files, bundle := params.Cache, params.Files, params.Bundle
	env := []EnvVar{
		{"TMP", cache},
		{"TEMP", cache},
		{"TMPDIR", cache},
		{"XDG_CACHE_HOME", cache},
		{"XDG_RUNTIME_DIR", cache},
		{"FONTCONFIG_PATH", files},
		{"HOME", files},
		{"XDG_DATA_HOME", files},
		{"XDG_DATA_DIRS", files},
		{"XDG_CONFIG_HOME", files},
		{"XDG_CONFIG_DIRS", files},
		{"GIO_EXTRA_MODULES", filepath.Join(bundle, "libs", abiDir(), "gio", "modules") + "/"},
		{"WEBKIT_INJECTED_BUNDLE_PATH", filepath.Join(bundle, "libs", abiDir(), "wpe-webkit-2.0", "injected-bundle") + "/"},
	}
	if role == RoleContent {
		env = append(env,
			EnvVar{"WEBKIT_SKIA_ENABLE_CPU_RENDERING", "1"},
			EnvVar{"WEBKIT_SKIA_GPU_PAINTING_THREADS", "0"},
		)
	}
	return env
}

// ApplyEnvironment exports Environment(role, params) into the process.
func ApplyEnvironment(role ProcessRole, params EntryParams) error {
	for _, kv := range Environment(role, params) {
		if err := os.Setenv(kv.Key, kv.Value); err != nil {
			return fmt.Errorf("failed to set %s: %w", kv.Key, err)
		}
	}
	return nil
}
