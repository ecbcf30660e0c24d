// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"errors"
	"sync/atomic"

	wpeembed "github.com/buke/wpe-embed"
)

// Graphics is an offscreen GraphicsConnector. It has no device to open, so
// Connect only fails when told to.
type Graphics struct {
	connectErr error
	connected  atomic.Bool
	connects   atomic.Int32
}

var _ wpeembed.GraphicsConnector = (*Graphics)(nil)

// NewGraphics returns a connector that always connects.
func NewGraphics() *Graphics {
	return &Graphics{}
}

// NewFailingGraphics returns a connector whose Connect returns err.
func NewFailingGraphics(err error) *Graphics {
	if err == nil {
		err = errors.New("graphics device unavailable")
	}
	return &Graphics{connectErr: err}
}

// Connect implements wpeembed.GraphicsConnector.
func (g *Graphics) Connect() error {
	g.connects.Add(1)
	if g.connectErr != nil {
		return g.connectErr
	}
	g.connected.Store(true)
	return nil
}

// Terminate implements wpeembed.GraphicsConnector.
func (g *Graphics) Terminate() {
	g.connected.Store(false)
}

// Connected reports whether Connect succeeded and Terminate has not run.
func (g *Graphics) Connected() bool {
	return g.connected.Load()
}
