// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"log/slog"
)

// DefaultUserAgent is the user agent web views identify with.
const DefaultUserAgent = "Mozilla/5.0 (Linux; OpenHarmony 6.0) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/60.5 Mobile Safari/605.1.15"

// ViewEventKind is the kind of a navigation notification delivered to the host.
type ViewEventKind string

const (
	ViewEventLoadChanged ViewEventKind = "load-changed"
	ViewEventLoadFailed  ViewEventKind = "load-failed"
	ViewEventTLSError    ViewEventKind = "tls-error"
)

// ViewEvent is a navigation notification for one web view.
type ViewEvent struct {
	ID        ViewID        `json:"id"`
	Kind      ViewEventKind `json:"kind"`
	Load      string        `json:"load,omitempty"`
	URI       string        `json:"uri"`
	Error     string        `json:"error,omitempty"`
	TLSErrors uint32        `json:"tlsErrors,omitempty"`
}

// WebView binds one host surface to one engine view and its renderer.
// Every method runs on the native loop.
type WebView struct {
	id     ViewID
	host   *NativeLoopHost
	logger *slog.Logger

	engineView EngineView
	window     NativeWindow
	width      int
	height     int
	renderer   Renderer
	handlers   []HandlerID
	destroyed  bool
}

func newWebView(id ViewID, host *NativeLoopHost) *WebView {
	return &WebView{
		id:     id,
		host:   host,
		logger: host.logger.With("view", string(id)),
	}
}

// ID returns the view id.
func (w *WebView) ID() ViewID {
	return w.id
}

// Initialized reports whether the engine view exists.
func (w *WebView) Initialized() bool {
	return w.engineView != nil
}

// Window returns the recorded native window, zero when none.
func (w *WebView) Window() NativeWindow {
	return w.window
}

// Renderer returns the active renderer, nil when none.
func (w *WebView) Renderer() Renderer {
	return w.renderer
}

// EngineView returns the engine view, nil before Init.
func (w *WebView) EngineView() EngineView {
	return w.engineView
}

// Init creates the engine view and wires its signals. It is idempotent.
func (w *WebView) Init() {
	if w.engineView != nil || w.destroyed {
		return
	}
	cfg := w.host.cfg
	ev, err := cfg.engine.NewWebView(w.host.display)
	if err != nil {
		w.logger.Error("Failed to create web view", "error", err)
		return
	}
	if ev.View() == nil {
		w.logger.Error("Web view has no platform view")
		ev.Release()
		return
	}
	w.engineView = ev

	w.handlers = append(w.handlers,
		ev.Connect(SignalLoadChanged, w.onLoadChanged),
		ev.Connect(SignalLoadFailed, w.onLoadFailed),
		ev.Connect(SignalLoadFailedWithTLSErrors, w.onLoadFailedWithTLSErrors),
	)

	cfg.engine.SetTLSErrorPolicy(cfg.tlsPolicy)
	ev.SetUserAgent(cfg.userAgent)
	w.logger.Info("Web view created")

	if w.window != 0 {
		w.initializeRenderer()
	}
}

// LoadURL navigates the view. Before Init it is a logged no-op.
func (w *WebView) LoadURL(url string) {
	if w.engineView == nil {
		w.logger.Warn("LoadURL before web view init, ignored", "url", url)
		return
	}
	w.logger.Info("Loading URL", "url", url)
	w.engineView.LoadURL(url)
}

// URI returns the current URI, empty before Init.
func (w *WebView) URI() string {
	if w.engineView == nil {
		return ""
	}
	return w.engineView.URI()
}

// OnSurfaceCreated records the window and draws into it once the engine
// view exists.
func (w *WebView) OnSurfaceCreated(window NativeWindow, width, height int) {
	w.window = window
	w.width, w.height = width, height
	w.logger.Debug("Surface created", "width", width, "height", height)
	if w.engineView != nil && w.renderer == nil {
		w.initializeRenderer()
	}
}

// OnSurfaceChanged records the new size and resizes the view and renderer.
func (w *WebView) OnSurfaceChanged(window NativeWindow, width, height int) {
	if window != 0 {
		w.window = window
	}
	w.width, w.height = width, height
	if w.renderer != nil {
		w.renderer.Resize(width, height)
	}
	if w.engineView != nil {
		w.engineView.View().Resize(width, height)
	}
}

// OnSurfaceDestroyed detaches and cleans up the renderer.
func (w *WebView) OnSurfaceDestroyed(window NativeWindow) {
	w.logger.Debug("Surface destroyed")
	w.releaseRenderer()
	if w.window == window {
		w.window = 0
	}
}

// DispatchTouchEvent forwards a host touch event to the platform view.
func (w *WebView) DispatchTouchEvent(ev TouchEvent) {
	if w.engineView == nil {
		return
	}
	w.engineView.View().DispatchTouch(ev)
}

func (w *WebView) initializeRenderer() {
	if w.window == 0 {
		w.logger.Warn("No native window, renderer not created")
		return
	}
	factory := w.host.cfg.rendererFactory
	if factory == nil {
		w.logger.Warn("No renderer factory configured")
		return
	}
	r := factory()
	if r == nil {
		w.logger.Error("Renderer factory returned nil")
		return
	}
	if err := r.Initialize(w.window, w.width, w.height); err != nil {
		w.logger.Error("Failed to initialize renderer", "error", err)
		return
	}
	w.renderer = r

	view := w.engineView.View()
	view.SetRenderer(r)
	view.Resize(w.width, w.height)
	view.Map()
	w.logger.Info("Renderer initialized", "width", w.width, "height", w.height)
}

func (w *WebView) releaseRenderer() {
	if w.renderer == nil {
		return
	}
	if w.engineView != nil {
		w.engineView.View().SetRenderer(nil)
	}
	w.renderer.Cleanup()
	w.renderer = nil
}

// destroy disconnects handlers, closes the view's pipeline, releases the
// renderer, then the engine view.
func (w *WebView) destroy() {
	if w.destroyed {
		return
	}
	w.destroyed = true
	if w.engineView != nil {
		for _, id := range w.handlers {
			w.engineView.Disconnect(id)
		}
	}
	w.handlers = nil
	if w.engineView != nil {
		// Stops frame pacing and releases held buffers before the renderer goes.
		w.engineView.View().Close()
	}
	w.releaseRenderer()
	if w.engineView != nil {
		w.engineView.Release()
		w.engineView = nil
	}
	w.logger.Debug("Web view destroyed")
}

func (w *WebView) onLoadChanged(ev SignalEvent) bool {
	w.logger.Info("Load changed", "event", ev.Load.String(), "uri", ev.URI)
	w.host.emit(ViewEvent{ID: w.id, Kind: ViewEventLoadChanged, Load: ev.Load.String(), URI: ev.URI})
	return false
}

func (w *WebView) onLoadFailed(ev SignalEvent) bool {
	msg := ""
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	w.logger.Error("Load failed", "uri", ev.URI, "event", ev.Load.String(), "error", msg)
	w.host.emit(ViewEvent{ID: w.id, Kind: ViewEventLoadFailed, Load: ev.Load.String(), URI: ev.URI, Error: msg})
	return false
}

func (w *WebView) onLoadFailedWithTLSErrors(ev SignalEvent) bool {
	w.logger.Error("Load failed with TLS errors", "uri", ev.URI, "errors", uint32(ev.TLSErrors))
	w.host.emit(ViewEvent{ID: w.id, Kind: ViewEventTLSError, URI: ev.URI, TLSErrors: uint32(ev.TLSErrors)})
	return false
}
