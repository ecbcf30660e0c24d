// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buke/wpe-embed/internal/nativeloop"
)

// ErrLoopUnavailable is returned when the native loop failed to start or has stopped.
var ErrLoopUnavailable = errors.New("native loop is unavailable")

// LoopState is the lifecycle state of the native loop host.
type LoopState int32

const (
	LoopCreated LoopState = iota
	LoopStarting
	LoopReady
	LoopStopping
	LoopStopped
)

// String returns the string representation of a LoopState.
func (s LoopState) String() string {
	switch s {
	case LoopCreated:
		return "created"
	case LoopStarting:
		return "starting"
	case LoopReady:
		return "ready"
	case LoopStopping:
		return "stopping"
	case LoopStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// hostConfig is what the native loop host needs from the runtime.
type hostConfig struct {
	engine          Engine
	graphics        GraphicsConnector
	rendererFactory RendererFactory
	frameInterval   time.Duration
	userAgent       string
	tlsPolicy       TLSErrorPolicy
	provider        ProcessProvider
	onViewEvent     func(ViewEvent)
}

// NativeLoopHost owns the worker goroutine that runs the engine's native
// loop, the display, and every WebView.
type NativeLoopHost struct {
	cfg    hostConfig
	logger *slog.Logger
	loop   *nativeloop.Loop

	state  atomic.Int32
	failed atomic.Bool
	done   chan struct{}

	// pendingMu guards ready and the pending init set so a request can never
	// slip between the readiness flip and the flush.
	pendingMu  sync.Mutex
	ready      bool
	pending    []ViewID
	pendingSet map[ViewID]struct{}

	// native loop only
	display Display
	views   map[ViewID]*WebView
}

func newNativeLoopHost(cfg hostConfig, logger *slog.Logger) *NativeLoopHost {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.userAgent == "" {
		cfg.userAgent = DefaultUserAgent
	}
	return &NativeLoopHost{
		cfg:        cfg,
		logger:     logger,
		loop:       nativeloop.New("wpe-native", nativeloop.WithLogger(logger)),
		done:       make(chan struct{}),
		pendingSet: make(map[ViewID]struct{}),
		views:      make(map[ViewID]*WebView),
	}
}

// State returns the lifecycle state.
func (h *NativeLoopHost) State() LoopState {
	return LoopState(h.state.Load())
}

// Ready reports whether the engine context is up and the loop accepts work.
func (h *NativeLoopHost) Ready() bool {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return h.ready
}

// Failed reports whether startup failed. A failed host never becomes ready.
func (h *NativeLoopHost) Failed() bool {
	return h.failed.Load()
}

// IsLoopThread reports whether the caller runs on the native loop.
func (h *NativeLoopHost) IsLoopThread() bool {
	return h.loop.IsLoopThread()
}

// Start launches the worker. Calls after the first are no-ops.
func (h *NativeLoopHost) Start() {
	if !h.state.CompareAndSwap(int32(LoopCreated), int32(LoopStarting)) {
		return
	}
	go h.worker()
}

func (h *NativeLoopHost) worker() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(h.done)

	display := newSurfaceDisplay(h.cfg.graphics, h.loop, h.cfg.frameInterval, h.logger)
	if err := display.Connect(); err != nil {
		h.fail("Failed to connect display", err)
		return
	}
	if err := h.cfg.engine.Start(display, h.cfg.provider); err != nil {
		display.Close()
		h.fail("Failed to start engine", err)
		return
	}
	h.display = display

	h.pendingMu.Lock()
	h.ready = true
	ids := h.pending
	h.pending = nil
	h.pendingSet = make(map[ViewID]struct{})
	h.pendingMu.Unlock()
	h.state.Store(int32(LoopReady))
	h.logger.Info("Native loop ready", "pendingViews", len(ids))

	// Deferred inits run ahead of work queued before readiness.
	if len(ids) > 0 {
		_ = h.loop.Post(nativeloop.PriorityHigh, func() {
			for _, id := range ids {
				h.WebView(id).Init()
			}
		})
	}

	if err := h.loop.Run(); err != nil {
		h.logger.Error("Native loop exited with error", "error", err)
	}

	for id, wv := range h.views {
		wv.destroy()
		delete(h.views, id)
	}
	display.Close()
	if err := h.cfg.engine.Close(); err != nil {
		h.logger.Error("Failed to close engine", "error", err)
	}
}

func (h *NativeLoopHost) fail(msg string, err error) {
	h.logger.Error(msg, "error", err)
	h.failed.Store(true)
	h.state.Store(int32(LoopStopped))
	// Close the loop so queued and future work is rejected.
	h.loop.Quit()
	_ = h.loop.Run()
}

// RequestViewInit initializes the web view for id on the native loop. Before
// the loop is ready the id is remembered, once, and initialized when it is.
func (h *NativeLoopHost) RequestViewInit(id ViewID) {
	h.pendingMu.Lock()
	if !h.ready {
		if _, ok := h.pendingSet[id]; !ok {
			h.pendingSet[id] = struct{}{}
			h.pending = append(h.pending, id)
		}
		h.pendingMu.Unlock()
		h.logger.Debug("Native loop not ready, view init deferred", "view", string(id))
		return
	}
	h.pendingMu.Unlock()

	if err := h.loop.Post(nativeloop.PriorityDefault, func() { h.WebView(id).Init() }); err != nil {
		h.logger.Warn("View init dropped", "view", string(id), "error", err)
	}
}

// PendingInits returns the ids waiting for the loop to become ready.
func (h *NativeLoopHost) PendingInits() []ViewID {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return append([]ViewID(nil), h.pending...)
}

// Invoke runs callback(data) on the native loop, inline when already on it.
// destroy(data) runs exactly once after the callback, or in its place when
// the loop is unavailable. Work still queued when the loop stops is dropped.
func (h *NativeLoopHost) Invoke(callback func(data any), data any, destroy func(data any)) error {
	fn := func() {
		if destroy != nil {
			defer destroy(data)
		}
		if callback != nil {
			callback(data)
		}
	}
	if err := h.loop.Invoke(nativeloop.PriorityDefault, fn); err != nil {
		h.logger.Warn("Native loop unavailable, task dropped", "error", err)
		if destroy != nil {
			destroy(data)
		}
		return fmt.Errorf("%w: %v", ErrLoopUnavailable, err)
	}
	return nil
}

// Run runs fn on the native loop.
func (h *NativeLoopHost) Run(fn func()) error {
	return h.Invoke(func(any) { fn() }, nil, nil)
}

// WebView returns the web view for id, creating it on first use.
// It must be called on the native loop.
func (h *NativeLoopHost) WebView(id ViewID) *WebView {
	if wv, ok := h.views[id]; ok {
		return wv
	}
	wv := newWebView(id, h)
	h.views[id] = wv
	return wv
}

// LookupWebView returns the web view for id without creating it.
// It must be called on the native loop.
func (h *NativeLoopHost) LookupWebView(id ViewID) (*WebView, bool) {
	wv, ok := h.views[id]
	return wv, ok
}

// Display returns the connected display, nil before ready.
func (h *NativeLoopHost) Display() Display {
	if !h.Ready() {
		return nil
	}
	return h.display
}

func (h *NativeLoopHost) emit(ev ViewEvent) {
	if h.cfg.onViewEvent != nil {
		h.cfg.onViewEvent(ev)
	}
}

// Close quits the loop, waits for the worker, and destroys every web view
// on the worker before it exits.
func (h *NativeLoopHost) Close() error {
	if h.state.CompareAndSwap(int32(LoopCreated), int32(LoopStopped)) {
		return nil
	}
	if h.failed.Load() {
		<-h.done
		return nil
	}
	if LoopState(h.state.Load()) == LoopStopped {
		return nil
	}
	h.state.Store(int32(LoopStopping))
	h.loop.Quit()
	<-h.done
	h.state.Store(int32(LoopStopped))
	h.logger.Info("Native loop stopped")
	return nil
}
