// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"fmt"

	wpeembed "github.com/buke/wpe-embed"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// Engine implements the wpeembed.ScriptEngine interface using the Goja JS engine.
// It uses an event loop to ensure thread-safe execution of JavaScript.
type Engine struct {
	Loop   *eventloop.EventLoop // The event loop that owns and serializes access to the runtime.
	Option *EngineOption        // Engine configuration options.
	opts   []Option             // Store original options for reloading.
}

// NewFactory returns a wpeembed.ScriptEngineFactory for creating Goja engines.
// The factory is configured with the provided options.
func NewFactory(opts ...Option) wpeembed.ScriptEngineFactory {
	return func() (wpeembed.ScriptEngine, error) {
		return newEngine(opts...)
	}
}

// newEngine creates a new Goja engine instance.
// It initializes a full-featured event loop that supports timers.
func newEngine(opts ...Option) (*Engine, error) {
	// The eventloop creates its own internal goja.Runtime
	loop := eventloop.NewEventLoop()

	e := &Engine{
		Loop:   loop,
		Option: &EngineOption{}, // Initialize with default options
		opts:   opts,            // Store for Reload
	}

	loop.Start()

	// Host calls and view events are plain JSON-shaped objects.
	_ = WithFieldNameMapper(goja.TagFieldNameMapper("json", true))(e)

	// Apply all provided options. Each option will block until it's applied.
	for _, opt := range opts {
		if err := opt(e); err != nil {
			loop.Stop()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return e, nil
}

// run executes fn on the event loop and waits for its result.
func (e *Engine) run(fn func(vm *goja.Runtime) error) error {
	done := make(chan error, 1)
	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		done <- fn(vm)
	})
	return <-done
}

// Init runs the scripts on the engine's event loop.
func (e *Engine) Init(scripts []*wpeembed.Script) error {
	return e.run(func(vm *goja.Runtime) error {
		for _, script := range scripts {
			if _, err := vm.RunScript(script.FileName, script.Content); err != nil {
				return fmt.Errorf("failed to execute init script %s: %w", script.FileName, err)
			}
		}
		return nil
	})
}

// Reload creates a new event loop and re-initializes the engine.
// This is a "hard" reload, replacing the entire JS environment.
func (e *Engine) Reload(scripts []*wpeembed.Script) error {
	e.Close()

	newE, err := newEngine(e.opts...)
	if err != nil {
		return fmt.Errorf("failed to create new engine on reload: %w", err)
	}

	e.Loop = newE.Loop
	e.Option = newE.Option
	e.opts = newE.opts

	return e.Init(scripts)
}

// Eval runs script and collects the host calls it queued. Calls queued by
// timers that fire later are collected by the next Eval.
func (e *Engine) Eval(script *wpeembed.Script) ([]wpeembed.HostCall, error) {
	if script == nil {
		return nil, fmt.Errorf("script cannot be nil")
	}

	var raw string
	err := e.run(func(vm *goja.Runtime) error {
		if _, err := vm.RunScript(script.FileName, script.Content); err != nil {
			return fmt.Errorf("js execution error: %w", err)
		}
		drain := wpeembed.DrainScript()
		v, err := vm.RunScript(drain.FileName, drain.Content)
		if err != nil {
			return fmt.Errorf("failed to drain host calls: %w", err)
		}
		if goja.IsUndefined(v) || goja.IsNull(v) {
			return nil
		}
		raw = v.String()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wpeembed.DecodeHostCalls(raw)
}

// Close stops the event loop and releases associated resources.
func (e *Engine) Close() error {
	if e.Loop != nil {
		e.Loop.Stop()
	}
	return nil
}
