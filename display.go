// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buke/wpe-embed/internal/nativeloop"
)

// ErrDisplayNotConnected is returned when the display has no graphics connection.
var ErrDisplayNotConnected = errors.New("display is not connected")

// Display is the platform display the engine creates views from.
type Display interface {
	Connect() error
	Connected() bool
	CreateView() (*View, error)
	PreferredBufferFormats() []BufferFormat
	Close()
}

// surfaceDisplay is a Display on top of a graphics connector. Its views pace
// frames on the native loop.
type surfaceDisplay struct {
	graphics GraphicsConnector
	loop     *nativeloop.Loop
	interval time.Duration
	logger   *slog.Logger

	connected atomic.Bool
	mu        sync.Mutex
	views     []*View
}

func newSurfaceDisplay(graphics GraphicsConnector, loop *nativeloop.Loop, interval time.Duration, logger *slog.Logger) *surfaceDisplay {
	return &surfaceDisplay{
		graphics: graphics,
		loop:     loop,
		interval: interval,
		logger:   logger,
	}
}

func (d *surfaceDisplay) Connect() error {
	if d.connected.Load() {
		return nil
	}
	if d.graphics == nil {
		return errors.New("no graphics connector")
	}
	if err := d.graphics.Connect(); err != nil {
		return fmt.Errorf("failed to connect graphics display: %w", err)
	}
	d.connected.Store(true)
	return nil
}

func (d *surfaceDisplay) Connected() bool {
	return d.connected.Load()
}

func (d *surfaceDisplay) CreateView() (*View, error) {
	if !d.connected.Load() {
		return nil, ErrDisplayNotConnected
	}
	p, err := newPipeline(d.loop, d.interval, d.logger)
	if err != nil {
		return nil, err
	}
	v := newView(d, p, d.logger)
	d.mu.Lock()
	d.views = append(d.views, v)
	d.mu.Unlock()
	return v, nil
}

func (d *surfaceDisplay) removeView(v *View) {
	d.mu.Lock()
	d.views = slices.DeleteFunc(d.views, func(x *View) bool { return x == v })
	d.mu.Unlock()
}

// viewCount returns the number of open views.
func (d *surfaceDisplay) viewCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.views)
}

func (d *surfaceDisplay) PreferredBufferFormats() []BufferFormat {
	return []BufferFormat{{FourCC: FormatRGBA8888, Modifier: 0}}
}

// Close closes every view created from the display, then the connection.
func (d *surfaceDisplay) Close() {
	d.mu.Lock()
	views := d.views
	d.views = nil
	d.mu.Unlock()
	for _, v := range views {
		v.Close()
	}
	if d.connected.Swap(false) {
		d.graphics.Terminate()
	}
}
