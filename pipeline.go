// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/buke/wpe-embed/internal/nativeloop"
)

// DefaultFrameInterval is the frame cadence ceiling (60 Hz).
const DefaultFrameInterval = time.Second / 60

// ErrPipelineClosed is returned when a buffer is submitted after Close.
var ErrPipelineClosed = errors.New("pipeline is closed")

// PipelineStats counts pipeline activity.
type PipelineStats struct {
	Submitted      uint64 // buffers accepted by SubmitBuffer
	Superseded     uint64 // pending buffers replaced before they were drawn
	Drawn          uint64 // frames handed to the renderer
	ImportFailures uint64 // frames skipped because the image import failed
}

// Pipeline paces compositor buffers onto the native loop.
//
// Submissions may come from any goroutine and only ever replace the pending
// slot; the frame source promotes pending to committed and draws on the
// native loop, at most once per frame interval.
type Pipeline struct {
	interval time.Duration
	source   *nativeloop.Source
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	pending   Buffer
	committed Buffer
	lastFrame time.Time
	renderer  Renderer
	observer  BufferObserver
	closed    bool
	stats     PipelineStats
}

// newPipeline attaches a frame source to loop.
func newPipeline(loop *nativeloop.Loop, interval time.Duration, logger *slog.Logger) (*Pipeline, error) {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
	src, err := loop.NewSource("frame", nativeloop.PriorityDefault, p.onFrame)
	if err != nil {
		return nil, fmt.Errorf("failed to attach frame source: %w", err)
	}
	p.source = src
	return p, nil
}

// SetRenderer sets the renderer used for future frames. Nil detaches it.
func (p *Pipeline) SetRenderer(r Renderer) {
	p.mu.Lock()
	p.renderer = r
	p.mu.Unlock()
}

// Renderer returns the current renderer.
func (p *Pipeline) Renderer() Renderer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renderer
}

// SetObserver sets the buffer owner notified of renders and releases.
func (p *Pipeline) SetObserver(o BufferObserver) {
	p.mu.Lock()
	p.observer = o
	p.mu.Unlock()
}

// SubmitBuffer makes buf the pending frame and schedules a draw. A pending
// buffer that was never drawn is released without notifying its owner.
func (p *Pipeline) SubmitBuffer(buf Buffer) error {
	if buf == nil {
		return errors.New("nil buffer")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	stale := p.pending
	p.pending = buf
	p.stats.Submitted++
	if stale != nil {
		p.stats.Superseded++
	}

	now := p.now()
	target := now
	if !p.lastFrame.IsZero() {
		if next := p.lastFrame.Add(p.interval); next.After(now) {
			target = next
		}
	}
	p.lastFrame = now
	p.source.SetReadyTime(target)
	p.mu.Unlock()

	if stale != nil {
		stale.Release()
	}
	return nil
}

// onFrame runs on the native loop when the frame source fires.
func (p *Pipeline) onFrame() bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nativeloop.SourceRemove
	}
	var released Buffer
	notify := false
	if p.pending != nil {
		notify = true
		released = p.committed
		p.committed = p.pending
		p.pending = nil
	}
	committed := p.committed
	renderer := p.renderer
	observer := p.observer
	p.mu.Unlock()

	if released != nil {
		if observer != nil {
			observer.BufferReleased(released)
		}
		released.Release()
	}

	if committed == nil {
		return nativeloop.SourceContinue
	}

	image, err := committed.ImportImage()
	if err != nil {
		p.logger.Debug("Skipping frame, buffer import failed", "error", err)
		p.mu.Lock()
		p.stats.ImportFailures++
		p.mu.Unlock()
		return nativeloop.SourceContinue
	}

	if renderer != nil {
		renderer.Render(image)
	}
	p.mu.Lock()
	p.stats.Drawn++
	p.mu.Unlock()

	if notify && observer != nil {
		observer.BufferRendered(committed)
	}
	return nativeloop.SourceContinue
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close stops the frame source, then drops both buffer slots, then the
// renderer reference. It is idempotent.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.source.Destroy()
	pending, committed := p.pending, p.committed
	p.pending, p.committed = nil, nil
	p.renderer = nil
	p.observer = nil
	p.mu.Unlock()

	if pending != nil {
		pending.Release()
	}
	if committed != nil {
		committed.Release()
	}
}
