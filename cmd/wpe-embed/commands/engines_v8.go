//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	wpeembed "github.com/buke/wpe-embed"
	v8engine "github.com/buke/wpe-embed/engines/v8go"
)

func init() {
	scriptEngines["v8"] = func() wpeembed.ScriptEngineFactory {
		return v8engine.NewFactory(v8engine.WithRejectedPromiseIsError(true))
	}
}
