// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed_test

import (
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	wpeembed "github.com/buke/wpe-embed"
	"github.com/buke/wpe-embed/headless"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startRuntime starts a headless runtime whose host loop runs scripts on the
// engines from factory.
func startRuntime(t testing.TB, factory wpeembed.ScriptEngineFactory, opts []func(*wpeembed.Runtime), scripts ...*wpeembed.Script) (*wpeembed.Runtime, *headless.Engine) {
	t.Helper()
	engine := headless.NewEngine(headless.WithoutHelpers(), headless.WithLogger(discardLogger()))
	rt, err := wpeembed.New(append([]func(*wpeembed.Runtime){
		wpeembed.WithEngine(engine),
		wpeembed.WithGraphics(headless.NewGraphics()),
		wpeembed.WithScriptEngine(factory),
		wpeembed.WithHostScripts(scripts...),
		wpeembed.WithLogger(discardLogger()),
	}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, rt.Start())
	t.Cleanup(func() { _ = rt.Stop() })
	return rt, engine
}

func waitLoaded(t testing.TB, engine *headless.Engine, uri string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return slices.Contains(engine.LoadedURIs(), uri)
	}, 2*time.Second, 5*time.Millisecond, "%s was not loaded", uri)
}

// waitTrue evaluates cond until it stops throwing.
func waitTrue(t testing.TB, rt *wpeembed.Runtime, cond string) {
	t.Helper()
	script := &wpeembed.Script{
		FileName: "check.js",
		Content:  "if (!(" + cond + ")) { throw new Error('pending'); }",
	}
	require.Eventually(t, func() bool {
		return rt.Eval(script) == nil
	}, 2*time.Second, 5*time.Millisecond, "condition never held: %s", cond)
}

// eventLogScript records every view event kind per view in a global log.
var eventLogScript = &wpeembed.Script{
	FileName: "events.js",
	Content: `
var events = [];
["load-changed", "load-failed", "tls-error"].forEach(function (kind) {
    webview.on(kind, function (ev) {
        events.push(ev.id + ":" + ev.kind + (ev.load ? ":" + ev.load : ""));
    });
});
`,
}
