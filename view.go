// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"fmt"
	"log/slog"
	"sync"
)

// View is the platform view the engine renders through. It owns the
// presentation pipeline for one web view.
type View struct {
	display  Display
	pipeline *Pipeline
	logger   *slog.Logger

	mu      sync.Mutex
	width   int
	height  int
	mapped  bool
	handler func(InputEvent)
}

func newView(display Display, pipeline *Pipeline, logger *slog.Logger) *View {
	return &View{
		display:  display,
		pipeline: pipeline,
		logger:   logger,
	}
}

// Display returns the display that created the view.
func (v *View) Display() Display {
	return v.display
}

// Pipeline returns the view's presentation pipeline.
func (v *View) Pipeline() *Pipeline {
	return v.pipeline
}

// RenderBuffer submits a compositor buffer for presentation. Safe from any
// goroutine.
func (v *View) RenderBuffer(buf Buffer) error {
	if !v.display.Connected() {
		return fmt.Errorf("failed to render buffer: %w", ErrDisplayNotConnected)
	}
	return v.pipeline.SubmitBuffer(buf)
}

// SetRenderer sets the renderer that draws committed frames.
func (v *View) SetRenderer(r Renderer) {
	v.pipeline.SetRenderer(r)
}

// SetBufferObserver sets the buffer owner.
func (v *View) SetBufferObserver(o BufferObserver) {
	v.pipeline.SetObserver(o)
}

// Resize records the view size.
func (v *View) Resize(width, height int) {
	v.mu.Lock()
	v.width, v.height = width, height
	v.mu.Unlock()
}

// Size returns the last size set with Resize.
func (v *View) Size() (width, height int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.width, v.height
}

// Map marks the view visible.
func (v *View) Map() {
	v.mu.Lock()
	v.mapped = true
	v.mu.Unlock()
}

// Unmap marks the view hidden.
func (v *View) Unmap() {
	v.mu.Lock()
	v.mapped = false
	v.mu.Unlock()
}

// Mapped reports whether the view is visible.
func (v *View) Mapped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mapped
}

// SetEventHandler sets the receiver of converted input events.
func (v *View) SetEventHandler(fn func(InputEvent)) {
	v.mu.Lock()
	v.handler = fn
	v.mu.Unlock()
}

// DispatchTouch converts ev and delivers one input event per touch point.
func (v *View) DispatchTouch(ev TouchEvent) int {
	v.mu.Lock()
	handler := v.handler
	v.mu.Unlock()
	events := ev.inputEvents()
	if handler == nil {
		return 0
	}
	for _, ie := range events {
		handler(ie)
	}
	return len(events)
}

// Close tears down the pipeline and detaches the view from its display.
func (v *View) Close() {
	v.pipeline.Close()
	if d, ok := v.display.(interface{ removeView(*View) }); ok {
		d.removeView(v)
	}
}
