//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"fmt"

	wpeembed "github.com/buke/wpe-embed"
	"github.com/tommie/v8go"
)

var (
	// Make these functions variables so they can be mocked in tests.
	v8NewIsolate    = v8go.NewIsolate
	v8NewContext    = v8go.NewContext
	decodeHostCalls = wpeembed.DecodeHostCalls
)

// Engine implements the wpeembed.ScriptEngine interface using the V8 engine.
// It encapsulates a V8 Isolate and Context.
type Engine struct {
	// Iso is the V8 Isolate, representing a single-threaded VM instance.
	// It is exposed publicly to allow for advanced custom options.
	Iso *v8go.Isolate

	// Ctx is the V8 Context, representing the execution environment.
	// It is exposed publicly to allow for advanced custom options.
	Ctx *v8go.Context

	// Option holds the engine-specific configurations.
	Option *EngineOption
}

// NewFactory creates a new wpeembed.ScriptEngineFactory for the V8 engine.
func NewFactory(opts ...Option) wpeembed.ScriptEngineFactory {
	return func() (wpeembed.ScriptEngine, error) {
		return newEngine(opts...)
	}
}

// newEngine creates and initializes a new V8 Engine instance.
func newEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		Option: &EngineOption{RejectedPromiseIsError: true},
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	iso := v8NewIsolate()
	if iso == nil {
		return nil, fmt.Errorf("failed to create v8 isolate")
	}
	e.Iso = iso

	ctx := v8NewContext(iso)
	if ctx == nil {
		iso.Dispose() // Clean up isolate if context creation fails
		return nil, fmt.Errorf("failed to create v8 context")
	}
	e.Ctx = ctx

	return e, nil
}

// Init executes the scripts in the V8 context.
func (e *Engine) Init(scripts []*wpeembed.Script) error {
	for _, script := range scripts {
		if _, err := e.Ctx.RunScript(script.Content, script.FileName); err != nil {
			return fmt.Errorf("failed to execute init script %s: %w", script.FileName, err)
		}
	}
	return nil
}

// Reload creates a new V8 context and re-initializes it, preserving the Isolate.
func (e *Engine) Reload(scripts []*wpeembed.Script) error {
	if e.Ctx != nil {
		e.Ctx.Close()
	}

	newCtx := v8NewContext(e.Iso)
	if newCtx == nil {
		e.Ctx = nil
		return fmt.Errorf("failed to create new v8 context for reload")
	}
	e.Ctx = newCtx

	return e.Init(scripts)
}

// Eval runs script and returns the host calls it queued. Microtasks run
// before the calls are collected.
func (e *Engine) Eval(script *wpeembed.Script) ([]wpeembed.HostCall, error) {
	if script == nil {
		return nil, fmt.Errorf("script cannot be nil")
	}
	if e.Ctx == nil {
		return nil, fmt.Errorf("engine is closed")
	}

	val, err := e.Ctx.RunScript(script.Content, script.FileName)
	if err != nil {
		return nil, fmt.Errorf("js execution error: %w", err)
	}
	e.Ctx.PerformMicrotaskCheckpoint()

	if val != nil && val.IsPromise() && e.Option.RejectedPromiseIsError {
		promise, err := val.AsPromise()
		if err == nil && promise.State() == v8go.Rejected {
			return nil, fmt.Errorf("js execution error: %s", promise.Result().String())
		}
	}

	drain := wpeembed.DrainScript()
	raw, err := e.Ctx.RunScript(drain.Content, drain.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to drain host calls: %w", err)
	}
	if raw == nil || raw.IsUndefined() || raw.IsNull() {
		return nil, nil
	}
	return decodeHostCalls(raw.String())
}

// Close releases all resources associated with the V8 engine.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Iso != nil {
		e.Iso.Dispose()
		e.Iso = nil
	}
	return nil
}
