// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"sync"

	wpeembed "github.com/buke/wpe-embed"
)

// Surface is a host surface with no window system behind it. Its methods
// play the host's part and fire the exported callbacks.
type Surface struct {
	id wpeembed.ViewID

	mu     sync.Mutex
	cb     wpeembed.SurfaceCallbacks
	window wpeembed.NativeWindow
}

var _ wpeembed.Surface = (*Surface)(nil)

// NewSurface returns a surface for the view id.
func NewSurface(id wpeembed.ViewID) *Surface {
	return &Surface{id: id}
}

// ID implements wpeembed.Surface.
func (s *Surface) ID() wpeembed.ViewID { return s.id }

// SetCallbacks implements wpeembed.Surface.
func (s *Surface) SetCallbacks(cb wpeembed.SurfaceCallbacks) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

func (s *Surface) callbacks() wpeembed.SurfaceCallbacks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb
}

// Create reports a new window of the given size.
func (s *Surface) Create(window wpeembed.NativeWindow, width, height int) {
	s.mu.Lock()
	s.window = window
	s.mu.Unlock()
	if fn := s.callbacks().OnSurfaceCreated; fn != nil {
		fn(window, width, height)
	}
}

// Change reports a new size for the current window.
func (s *Surface) Change(width, height int) {
	s.mu.Lock()
	window := s.window
	s.mu.Unlock()
	if fn := s.callbacks().OnSurfaceChanged; fn != nil {
		fn(window, width, height)
	}
}

// Destroy reports that the current window is gone.
func (s *Surface) Destroy() {
	s.mu.Lock()
	window := s.window
	s.window = 0
	s.mu.Unlock()
	if fn := s.callbacks().OnSurfaceDestroyed; fn != nil {
		fn(window)
	}
}

// Touch delivers a touch event.
func (s *Surface) Touch(ev wpeembed.TouchEvent) {
	if fn := s.callbacks().OnTouchEvent; fn != nil {
		fn(ev)
	}
}
