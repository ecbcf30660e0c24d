// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

// SurfaceCallbacks are the lifecycle notifications a host surface delivers.
// They may fire on any goroutine.
type SurfaceCallbacks struct {
	OnSurfaceCreated   func(window NativeWindow, width, height int)
	OnSurfaceChanged   func(window NativeWindow, width, height int)
	OnSurfaceDestroyed func(window NativeWindow)
	OnTouchEvent       func(ev TouchEvent)
}

// Surface is a host-owned rendering surface identified by a view id.
type Surface interface {
	ID() ViewID
	SetCallbacks(cb SurfaceCallbacks)
}

// SurfaceCreated forwards a surface-created notification to the web view on
// the native loop. A zero window is ignored.
func (r *Runtime) SurfaceCreated(id ViewID, window NativeWindow, width, height int) {
	if window == 0 {
		r.logger.Warn("Surface created without native window", "view", string(id))
		return
	}
	_ = r.host.Run(func() {
		r.host.WebView(id).OnSurfaceCreated(window, width, height)
	})
}

// SurfaceChanged forwards a resize to the web view on the native loop.
func (r *Runtime) SurfaceChanged(id ViewID, window NativeWindow, width, height int) {
	if window == 0 {
		r.logger.Warn("Surface changed without native window", "view", string(id))
		return
	}
	_ = r.host.Run(func() {
		r.host.WebView(id).OnSurfaceChanged(window, width, height)
	})
}

// SurfaceDestroyed tears down the web view's renderer on the native loop.
func (r *Runtime) SurfaceDestroyed(id ViewID, window NativeWindow) {
	if window == 0 {
		r.logger.Warn("Surface destroyed without native window", "view", string(id))
		return
	}
	_ = r.host.Run(func() {
		if wv, ok := r.host.LookupWebView(id); ok {
			wv.OnSurfaceDestroyed(window)
		}
	})
}

// DispatchTouchEvent forwards a touch event to the web view on the native loop.
func (r *Runtime) DispatchTouchEvent(id ViewID, ev TouchEvent) {
	if len(ev.Points) == 0 {
		return
	}
	_ = r.host.Run(func() {
		if wv, ok := r.host.LookupWebView(id); ok {
			wv.DispatchTouchEvent(ev)
		}
	})
}

func (r *Runtime) surfaceCallbacks(id ViewID) SurfaceCallbacks {
	return SurfaceCallbacks{
		OnSurfaceCreated: func(window NativeWindow, width, height int) {
			r.SurfaceCreated(id, window, width, height)
		},
		OnSurfaceChanged: func(window NativeWindow, width, height int) {
			r.SurfaceChanged(id, window, width, height)
		},
		OnSurfaceDestroyed: func(window NativeWindow) {
			r.SurfaceDestroyed(id, window)
		},
		OnTouchEvent: func(ev TouchEvent) {
			r.DispatchTouchEvent(id, ev)
		},
	}
}
