//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

// Option configures a V8 engine.
type Option func(*Engine) error

// EngineOption holds specific configurations for the V8 engine.
type EngineOption struct {
	// RejectedPromiseIsError makes Eval fail when the script evaluates to a
	// promise that rejected.
	RejectedPromiseIsError bool
}

// WithRejectedPromiseIsError sets whether a script that evaluates to a
// rejected promise fails. It is enabled by default.
func WithRejectedPromiseIsError(enable bool) Option {
	return func(e *Engine) error {
		e.Option.RejectedPromiseIsError = enable
		return nil
	}
}
