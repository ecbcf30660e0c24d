// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package headless_test

import (
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	wpeembed "github.com/buke/wpe-embed"
	"github.com/buke/wpe-embed/headless"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testHost is a minimal embedding host loop.
type testHost struct {
	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func (h *testHost) Wake() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// startHost binds rt's invoker to a new host goroutine.
func startHost(t *testing.T, rt *wpeembed.Runtime) {
	t.Helper()
	h := &testHost{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	bound := make(chan bool, 1)
	go func() {
		runtime.LockOSThread()
		defer close(h.done)
		bound <- rt.AttachHost(h)
		for {
			select {
			case <-h.wake:
				rt.Invoker().Drain()
			case <-h.quit:
				rt.Invoker().Drain()
				return
			}
		}
	}()
	require.True(t, <-bound)
	t.Cleanup(func() {
		close(h.quit)
		<-h.done
	})
}

// events collects view events delivered on the host loop.
type events struct {
	mu  sync.Mutex
	got []wpeembed.ViewEvent
}

func (e *events) add(ev wpeembed.ViewEvent) {
	e.mu.Lock()
	e.got = append(e.got, ev)
	e.mu.Unlock()
}

func (e *events) find(kind wpeembed.ViewEventKind) (wpeembed.ViewEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.got {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return wpeembed.ViewEvent{}, false
}

type harness struct {
	rt        *wpeembed.Runtime
	engine    *headless.Engine
	graphics  *headless.Graphics
	surface   *headless.Surface
	events    *events
	mu        sync.Mutex
	renderers []*headless.Renderer
}

func (h *harness) renderer() *headless.Renderer {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.renderers) == 0 {
		return nil
	}
	return h.renderers[len(h.renderers)-1]
}

// newHarness starts a runtime on the headless backend with the "main"
// surface exported and its web view created.
func newHarness(t *testing.T, engineOpts []headless.Option, opts ...func(*wpeembed.Runtime)) *harness {
	t.Helper()
	h := &harness{
		engine:   headless.NewEngine(append([]headless.Option{headless.WithLogger(testLogger()), headless.WithComposeInterval(2 * time.Millisecond)}, engineOpts...)...),
		graphics: headless.NewGraphics(),
		surface:  headless.NewSurface("main"),
		events:   &events{},
	}
	track := func(r *headless.Renderer) {
		h.mu.Lock()
		h.renderers = append(h.renderers, r)
		h.mu.Unlock()
	}
	rt, err := wpeembed.New(append([]func(*wpeembed.Runtime){
		wpeembed.WithEngine(h.engine),
		wpeembed.WithGraphics(h.graphics),
		wpeembed.WithRendererFactory(headless.NewRendererFactory(testLogger(), track)),
		wpeembed.WithFrameInterval(2 * time.Millisecond),
		wpeembed.WithLogger(testLogger()),
	}, opts...)...)
	require.NoError(t, err)
	h.rt = rt

	startHost(t, rt)
	rt.SetViewEventHandler(h.events.add)
	require.NoError(t, rt.Start())
	t.Cleanup(func() { _ = rt.Stop() })
	require.Eventually(t, rt.Host().Ready, time.Second, time.Millisecond)

	_, err = wpeembed.InvokeSync(rt.Invoker(), func() error { return rt.Export(h.surface) })
	require.NoError(t, err)
	rt.Init("main")
	require.Eventually(t, func() bool { return h.engine.Views() == 1 }, time.Second, time.Millisecond)
	return h
}
