//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"errors"
	"testing"

	wpeembed "github.com/buke/wpe-embed"
	"github.com/stretchr/testify/require"
	"github.com/tommie/v8go"
)

func newBoundEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	engine, err := newEngine(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	require.NoError(t, engine.Init([]*wpeembed.Script{wpeembed.BindingsScript()}))
	return engine
}

// TestNewEngine tests the creation of a new V8 engine.
func TestNewEngine(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		engine, err := newEngine()
		require.NoError(t, err)
		require.NotNil(t, engine)
		require.NotNil(t, engine.Iso)
		require.NotNil(t, engine.Ctx)
		engine.Close()
	})

	t.Run("With Failing Option", func(t *testing.T) {
		expectedErr := errors.New("option failed")
		failingOption := func(e *Engine) error {
			return expectedErr
		}
		engine, err := newEngine(failingOption)
		require.Error(t, err)
		require.ErrorIs(t, err, expectedErr)
		require.Nil(t, engine)
	})
}

// TestNewEngine_Fails tests the failure paths of newEngine.
func TestNewEngine_Fails(t *testing.T) {
	t.Run("Isolate Creation Fails", func(t *testing.T) {
		originalNewIsolate := v8NewIsolate
		v8NewIsolate = func() *v8go.Isolate {
			return nil
		}
		defer func() {
			v8NewIsolate = originalNewIsolate
		}()

		_, err := newEngine()
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to create v8 isolate")
	})

	t.Run("Context Creation Fails", func(t *testing.T) {
		originalNewContext := v8NewContext
		// The mock function must have the correct signature to match the original.
		v8NewContext = func(opt ...v8go.ContextOption) *v8go.Context {
			return nil
		}
		defer func() {
			v8NewContext = originalNewContext
		}()

		_, err := newEngine()
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to create v8 context")
	})
}

// TestEngine_Init tests the Init method.
func TestEngine_Init(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	defer engine.Close()

	t.Run("Success", func(t *testing.T) {
		err := engine.Init([]*wpeembed.Script{wpeembed.BindingsScript()})
		require.NoError(t, err)
	})

	t.Run("Invalid Script", func(t *testing.T) {
		err := engine.Init([]*wpeembed.Script{{FileName: "invalid.js", Content: "var a =;"}})
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to execute init script invalid.js")
	})
}

// TestEngine_Reload tests the Reload method.
func TestEngine_Reload(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.Ctx.RunScript("var initialVar = 'old';", "setup.js")
	require.NoError(t, err)

	err = engine.Reload([]*wpeembed.Script{
		wpeembed.BindingsScript(),
		{FileName: "new.js", Content: "var newVar = 'new';"},
	})
	require.NoError(t, err)

	val, err := engine.Ctx.RunScript("typeof initialVar", "check.js")
	require.NoError(t, err)
	require.Equal(t, "undefined", val.String())

	val, err = engine.Ctx.RunScript("newVar", "check.js")
	require.NoError(t, err)
	require.Equal(t, "new", val.String())
}

// TestEngine_Reload_Fails tests the failure path of the Reload method.
func TestEngine_Reload_Fails(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	defer engine.Close()

	originalNewContext := v8NewContext
	v8NewContext = func(opt ...v8go.ContextOption) *v8go.Context {
		return nil
	}
	defer func() {
		v8NewContext = originalNewContext
	}()

	err = engine.Reload(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to create new v8 context for reload")

	_, err = engine.Eval(&wpeembed.Script{Content: "1"})
	require.EqualError(t, err, "engine is closed")
}

// TestEngine_Eval tests host call collection.
func TestEngine_Eval(t *testing.T) {
	engine := newBoundEngine(t)

	t.Run("Host Calls", func(t *testing.T) {
		calls, err := engine.Eval(&wpeembed.Script{
			FileName: "app.js",
			Content:  `webview.init("main"); webview.loadURL("main", "https://example.com/");`,
		})
		require.NoError(t, err)
		require.Equal(t, []wpeembed.HostCall{
			{Op: wpeembed.HostCallInit, ID: "main"},
			{Op: wpeembed.HostCallLoadURL, ID: "main", URL: "https://example.com/"},
		}, calls)
	})

	t.Run("Queue Is Drained", func(t *testing.T) {
		calls, err := engine.Eval(&wpeembed.Script{FileName: "noop.js", Content: "1"})
		require.NoError(t, err)
		require.Empty(t, calls)
	})

	t.Run("Microtasks Run", func(t *testing.T) {
		calls, err := engine.Eval(&wpeembed.Script{
			FileName: "async.js",
			Content:  `(async function () { await null; webview.init("later"); })()`,
		})
		require.NoError(t, err)
		require.Equal(t, []wpeembed.HostCall{{Op: wpeembed.HostCallInit, ID: "later"}}, calls)
	})

	t.Run("Exception", func(t *testing.T) {
		_, err := engine.Eval(&wpeembed.Script{FileName: "throw.js", Content: "throw new Error('boom')"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "js execution error")
		require.Contains(t, err.Error(), "boom")
	})

	t.Run("Nil Script", func(t *testing.T) {
		_, err := engine.Eval(nil)
		require.EqualError(t, err, "script cannot be nil")
	})
}

// TestEngine_Eval_Fails tests the failure paths of collecting host calls.
func TestEngine_Eval_Fails(t *testing.T) {
	t.Run("Bindings Missing", func(t *testing.T) {
		engine, err := newEngine()
		require.NoError(t, err)
		defer engine.Close()

		_, err = engine.Eval(&wpeembed.Script{FileName: "plain.js", Content: "1"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to drain host calls")
	})

	t.Run("Decode Fails", func(t *testing.T) {
		engine := newBoundEngine(t)

		original := decodeHostCalls
		decodeHostCalls = func(raw string) ([]wpeembed.HostCall, error) {
			return nil, errors.New("decode error")
		}
		defer func() { decodeHostCalls = original }()

		_, err := engine.Eval(&wpeembed.Script{Content: "1"})
		require.EqualError(t, err, "decode error")
	})
}

// TestEngine_Close tests the Close method.
func TestEngine_Close(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)

	require.NoError(t, engine.Close())
	require.Nil(t, engine.Iso)
	require.Nil(t, engine.Ctx)

	// Second close should also be successful (idempotent)
	require.NoError(t, engine.Close())
}
