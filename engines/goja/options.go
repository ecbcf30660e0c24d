// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

// Option configures a Goja engine.
type Option func(*Engine) error

// EngineOption holds configuration for a Goja engine instance.
type EngineOption struct {
	MaxCallStackSize int
	EnableConsole    bool
	EnableRequire    bool
	FieldNameMapper  goja.FieldNameMapper
}

// onLoop runs fn on the engine's event loop and waits for it.
func onLoop(e *Engine, fn func(vm *goja.Runtime)) {
	done := make(chan struct{})
	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		fn(vm)
		close(done)
	})
	<-done
}

// WithMaxCallStackSize sets the maximum call stack size for the runtime.
// A value of 0 or less means no limit.
func WithMaxCallStackSize(size int) Option {
	return func(e *Engine) error {
		e.Option.MaxCallStackSize = size
		onLoop(e, func(vm *goja.Runtime) {
			vm.SetMaxCallStackSize(size)
		})
		return nil
	}
}

// WithEnableConsole enables the console object (console.log, etc.) in the JS runtime.
func WithEnableConsole() Option {
	return func(e *Engine) error {
		e.Option.EnableConsole = true
		onLoop(e, func(vm *goja.Runtime) {
			console.Enable(vm)
		})
		return nil
	}
}

// WithRequire enables the require() function for loading CommonJS modules.
func WithRequire() Option {
	return func(e *Engine) error {
		e.Option.EnableRequire = true
		onLoop(e, func(vm *goja.Runtime) {
			new(require.Registry).Enable(vm)
		})
		return nil
	}
}

// WithFieldNameMapper sets the field name mapper for Go-to-JS struct conversions.
func WithFieldNameMapper(mapper goja.FieldNameMapper) Option {
	return func(e *Engine) error {
		if mapper != nil {
			e.Option.FieldNameMapper = mapper
			onLoop(e, func(vm *goja.Runtime) {
				vm.SetFieldNameMapper(mapper)
			})
		}
		return nil
	}
}
