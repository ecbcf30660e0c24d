// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"fmt"

	wpeembed "github.com/buke/wpe-embed"
	"github.com/buke/quickjs-go"
)

// Engine represents a QuickJS engine instance with its runtime, context, and options.
type Engine struct {
	Runtime *quickjs.Runtime // QuickJS runtime instance
	Ctx     *quickjs.Context // QuickJS context instance
	Option  *EngineOption    // Engine configuration options
	opts    []Option         // Store original options for reloading
}

// Init executes the provided scripts in the engine context.
// Each script is evaluated in order. If any script fails, an error is returned.
func (e *Engine) Init(scripts []*wpeembed.Script) error {
	for _, script := range scripts {
		ret := e.Ctx.Eval(script.Content, quickjs.EvalFileName(script.FileName), quickjs.EvalAwait(true))
		failed := ret.IsException()
		ret.Free()
		if failed {
			return fmt.Errorf("failed to execute init script %s: %w", script.FileName, e.Ctx.Exception())
		}
	}
	return nil
}

// Reload performs a "hard" reload of the engine by creating a new runtime and context.
// It re-applies the original options and then initializes with the provided scripts.
func (e *Engine) Reload(scripts []*wpeembed.Script) error {
	e.Close()

	e.Runtime = quickjs.NewRuntime()
	e.Ctx = e.Runtime.NewContext()

	for _, option := range e.opts {
		if err := option(e); err != nil {
			e.Close()
			return fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return e.Init(scripts)
}

// Eval runs script, awaiting it when it evaluates to a promise, and returns
// the host calls it queued.
func (e *Engine) Eval(script *wpeembed.Script) ([]wpeembed.HostCall, error) {
	if script == nil {
		return nil, fmt.Errorf("script cannot be nil")
	}
	if e.Ctx == nil {
		return nil, fmt.Errorf("engine is closed")
	}

	ret := e.Ctx.Eval(script.Content, quickjs.EvalFileName(script.FileName), quickjs.EvalAwait(true))
	failed := ret.IsException()
	ret.Free()
	if failed {
		return nil, fmt.Errorf("js execution error: %w", e.Ctx.Exception())
	}

	drain := wpeembed.DrainScript()
	calls := e.Ctx.Eval(drain.Content, quickjs.EvalFileName(drain.FileName))
	defer calls.Free()
	if calls.IsException() {
		return nil, fmt.Errorf("failed to drain host calls: %w", e.Ctx.Exception())
	}
	if calls.IsUndefined() || calls.IsNull() {
		return nil, nil
	}
	return wpeembed.DecodeHostCalls(calls.String())
}

// Close releases all resources associated with the engine, including context and runtime.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Runtime != nil {
		e.Runtime.Close()
		e.Runtime = nil
	}
	return nil
}

// newEngine creates a new QuickJS engine instance with the given options.
// It initializes the runtime, context, and applies all provided engine options.
func newEngine(options ...Option) (*Engine, error) {
	rt := quickjs.NewRuntime()
	ctx := rt.NewContext()

	engine := &Engine{
		Runtime: rt,
		Ctx:     ctx,
		Option: &EngineOption{
			MemoryLimit:        0,     // Default memory limit (no limit)
			GCThreshold:        -1,    // Default GC threshold. -1 means no threshold
			Timeout:            0,     // Default timeout (no timeout)
			MaxStackSize:       0,     // Default max stack size
			CanBlock:           false, // Blocking not allowed by default
			EnableModuleImport: false, // Module import disabled by default
			Strip:              1,     // Default strip behavior
		},
		opts: options, // Store for Reload
	}

	for _, option := range options {
		if err := option(engine); err != nil {
			engine.Close()
			return nil, err
		}
	}

	return engine, nil
}

// NewFactory returns a ScriptEngineFactory that creates QuickJS engines with the given options.
func NewFactory(options ...Option) wpeembed.ScriptEngineFactory {
	return func() (wpeembed.ScriptEngine, error) {
		return newEngine(options...)
	}
}
