// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"errors"
	"sync"
	"sync/atomic"

	wpeembed "github.com/buke/wpe-embed"
)

var errBufferReleased = errors.New("buffer was released")

// Buffer is a CPU-side RGBA frame produced by the compositor.
type Buffer struct {
	id     uint64
	pool   *bufferPool
	width  int
	height int
	pixels []byte

	frame    uint64
	uri      string
	released atomic.Bool
}

var _ wpeembed.Buffer = (*Buffer)(nil)

// ID returns the buffer id. It doubles as the imported image handle.
func (b *Buffer) ID() uint64 { return b.id }

// Frame returns the compositor frame number drawn into the buffer.
func (b *Buffer) Frame() uint64 { return b.frame }

// URI returns the address the frame was drawn for.
func (b *Buffer) URI() string { return b.uri }

// Size returns the buffer dimensions.
func (b *Buffer) Size() (int, int) { return b.width, b.height }

// Format returns the pixel layout.
func (b *Buffer) Format() wpeembed.BufferFormat {
	return wpeembed.BufferFormat{FourCC: wpeembed.FormatRGBA8888}
}

// ImportImage implements wpeembed.Buffer.
func (b *Buffer) ImportImage() (wpeembed.ImageHandle, error) {
	if b.released.Load() {
		return 0, errBufferReleased
	}
	return wpeembed.ImageHandle(b.id), nil
}

// Release implements wpeembed.Buffer. The buffer goes back to its pool.
func (b *Buffer) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	if b.pool != nil {
		b.pool.put(b)
	}
}

// bufferPool bounds the number of buffers a compositor has in flight.
type bufferPool struct {
	mu        sync.Mutex
	free      []*Buffer
	allocated int
	max       int
	nextID    *atomic.Uint64
}

func newBufferPool(max int, ids *atomic.Uint64) *bufferPool {
	return &bufferPool{max: max, nextID: ids}
}

// get returns a free buffer sized width x height, or nil when every buffer
// is in flight.
func (p *bufferPool) get(width, height int) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b *Buffer
	if n := len(p.free); n > 0 {
		b = p.free[n-1]
		p.free = p.free[:n-1]
	} else if p.allocated < p.max {
		p.allocated++
		b = &Buffer{id: p.nextID.Add(1), pool: p}
	} else {
		return nil
	}
	if b.width != width || b.height != height {
		b.width, b.height = width, height
		b.pixels = make([]byte, width*height*4)
	}
	b.released.Store(false)
	return b
}

func (p *bufferPool) put(b *Buffer) {
	p.mu.Lock()
	p.free = append(p.free, b)
	p.mu.Unlock()
}

// inFlight returns the number of buffers handed out and not yet released.
func (p *bufferPool) inFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated - len(p.free)
}
