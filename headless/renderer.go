// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"errors"
	"log/slog"
	"sync"

	wpeembed "github.com/buke/wpe-embed"
)

// Renderer records what it is asked to draw instead of drawing it.
type Renderer struct {
	logger *slog.Logger

	mu          sync.Mutex
	window      wpeembed.NativeWindow
	width       int
	height      int
	initialized bool
	frames      uint64
	last        wpeembed.ImageHandle
}

var _ wpeembed.Renderer = (*Renderer)(nil)

// NewRenderer returns an uninitialized renderer.
func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger}
}

// NewRendererFactory returns a factory of headless renderers. Renderers
// handed out are passed to track when it is not nil.
func NewRendererFactory(logger *slog.Logger, track func(*Renderer)) wpeembed.RendererFactory {
	return func() wpeembed.Renderer {
		r := NewRenderer(logger)
		if track != nil {
			track(r)
		}
		return r
	}
}

// Initialize implements wpeembed.Renderer.
func (r *Renderer) Initialize(window wpeembed.NativeWindow, width, height int) error {
	if window == 0 {
		return errors.New("no native window")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window, r.width, r.height = window, width, height
	r.initialized = true
	r.logger.Debug("Renderer initialized", "window", uint64(window), "width", width, "height", height)
	return nil
}

// Resize implements wpeembed.Renderer.
func (r *Renderer) Resize(width, height int) {
	r.mu.Lock()
	r.width, r.height = width, height
	r.mu.Unlock()
}

// Render implements wpeembed.Renderer.
func (r *Renderer) Render(image wpeembed.ImageHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return
	}
	r.frames++
	r.last = image
}

// Cleanup implements wpeembed.Renderer.
func (r *Renderer) Cleanup() {
	r.mu.Lock()
	r.initialized = false
	r.window = 0
	r.mu.Unlock()
}

// Frames returns the number of frames drawn.
func (r *Renderer) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// LastImage returns the handle of the last frame drawn.
func (r *Renderer) LastImage() wpeembed.ImageHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Size returns the current drawing size.
func (r *Renderer) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// Initialized reports whether the renderer holds a window.
func (r *Renderer) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}
