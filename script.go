// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
)

//go:embed host_bindings.js
var hostBindings string

const (
	// HostCallInit asks for a web view to be initialized.
	HostCallInit = "init"
	// HostCallLoadURL asks a web view to navigate.
	HostCallLoadURL = "loadURL"

	// DrainHostCallsExpr evaluates to the JSON array of queued host calls.
	DrainHostCallsExpr = "__drainHostCalls()"
)

// Script is a host script with the file name it is reported under.
type Script struct {
	Content  string // Script content
	FileName string // Script file name for debugging purposes
}

// BindingsScript returns the prelude that defines the webview global.
func BindingsScript() *Script {
	return &Script{Content: hostBindings, FileName: "host_bindings.js"}
}

// DrainScript returns the script that collects queued host calls.
func DrainScript() *Script {
	return &Script{Content: DrainHostCallsExpr, FileName: "drain_host_calls.js"}
}

// HostCall is a command a host script issued through the webview bindings.
type HostCall struct {
	Op  string `json:"op"`
	ID  ViewID `json:"id"`
	URL string `json:"url,omitempty"`
}

// Validate checks that the call is complete.
func (c HostCall) Validate() error {
	if c.ID == "" {
		return errors.New("host call has no view id")
	}
	switch c.Op {
	case HostCallInit:
		return nil
	case HostCallLoadURL:
		if c.URL == "" {
			return fmt.Errorf("loadURL for %q has no url", c.ID)
		}
		return nil
	default:
		return fmt.Errorf("unknown host call %q", c.Op)
	}
}

// DecodeHostCalls decodes the JSON produced by DrainHostCallsExpr.
func DecodeHostCalls(raw string) ([]HostCall, error) {
	if raw == "" || raw == "undefined" || raw == "null" {
		return nil, nil
	}
	var calls []HostCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		return nil, fmt.Errorf("failed to decode host calls: %w", err)
	}
	return calls, nil
}

// ScriptEngine is a host-side script runtime. All methods are called from
// the host loop goroutine.
type ScriptEngine interface {
	// Init runs the scripts in order.
	Init(scripts []*Script) error

	// Reload replaces the script environment and runs the scripts.
	Reload(scripts []*Script) error

	// Eval runs script and returns the host calls it queued.
	Eval(script *Script) ([]HostCall, error)

	// Close closes the engine and releases resources.
	Close() error
}

// ScriptEngineFactory creates script engines.
type ScriptEngineFactory func() (ScriptEngine, error)
