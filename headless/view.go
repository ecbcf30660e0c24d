// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	wpeembed "github.com/buke/wpe-embed"
)

var (
	// ErrUnsupportedScheme is reported for addresses the engine cannot load.
	ErrUnsupportedScheme = errors.New("unsupported URI scheme")
	// ErrHostUnreachable is reported for hosts under the .invalid domain.
	ErrHostUnreachable = errors.New("host unreachable")
)

type signalHandler struct {
	id      wpeembed.HandlerID
	signal  wpeembed.Signal
	handler wpeembed.SignalHandler
}

// engineView is one headless web view and the compositor feeding it.
type engineView struct {
	engine *Engine
	view   *wpeembed.View
	pool   *bufferPool
	logger *slog.Logger

	// Owned by the native loop.
	handlers  []signalHandler
	nextID    wpeembed.HandlerID
	userAgent string
	released  bool

	mu         sync.Mutex
	uri        string
	contentPID int64
	gone       bool

	dirty    atomic.Bool
	frame    atomic.Uint64
	rendered atomic.Uint64
	inputs   atomic.Uint64

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var (
	_ wpeembed.EngineView     = (*engineView)(nil)
	_ wpeembed.BufferObserver = (*engineView)(nil)
)

func newEngineView(e *Engine, view *wpeembed.View) *engineView {
	ev := &engineView{
		engine:     e,
		view:       view,
		pool:       newBufferPool(e.maxBuffers, &e.bufferIDs),
		logger:     e.logger.With("component", "headless-view"),
		contentPID: wpeembed.InvalidPID,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	view.SetBufferObserver(ev)
	view.SetEventHandler(ev.onInput)
	return ev
}

func (v *engineView) View() *wpeembed.View { return v.view }

func (v *engineView) URI() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.uri
}

func (v *engineView) SetUserAgent(userAgent string) {
	v.userAgent = userAgent
}

func (v *engineView) Connect(signal wpeembed.Signal, handler wpeembed.SignalHandler) wpeembed.HandlerID {
	v.nextID++
	v.handlers = append(v.handlers, signalHandler{id: v.nextID, signal: signal, handler: handler})
	return v.nextID
}

func (v *engineView) Disconnect(id wpeembed.HandlerID) {
	for i, h := range v.handlers {
		if h.id == id {
			v.handlers = append(v.handlers[:i], v.handlers[i+1:]...)
			return
		}
	}
}

// emit runs the handlers connected to ev.Signal in connect order. For the
// failure signals a handler returning true stops the rest.
func (v *engineView) emit(ev wpeembed.SignalEvent) {
	for _, h := range append([]signalHandler(nil), v.handlers...) {
		if h.signal != ev.Signal {
			continue
		}
		if h.handler(ev) && ev.Signal != wpeembed.SignalLoadChanged {
			return
		}
	}
}

// LoadURL walks the navigation through its load events. Addresses under
// .invalid fail, and hosts starting with self-signed. or expired. carry a
// certificate error that fails the load only under TLSErrorsFail.
func (v *engineView) LoadURL(raw string) {
	if v.released {
		return
	}
	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "about" && u.Scheme != "file" {
		err = fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if err != nil {
		v.emit(wpeembed.SignalEvent{Signal: wpeembed.SignalLoadFailed, Load: wpeembed.LoadStarted, URI: raw, Err: err})
		return
	}

	v.setURI(raw)
	v.emit(wpeembed.SignalEvent{Signal: wpeembed.SignalLoadChanged, Load: wpeembed.LoadStarted, URI: raw})

	host := u.Hostname()
	if host == "invalid" || strings.HasSuffix(host, ".invalid") {
		v.emit(wpeembed.SignalEvent{
			Signal: wpeembed.SignalLoadFailed,
			Load:   wpeembed.LoadStarted,
			URI:    raw,
			Err:    fmt.Errorf("%w: %s", ErrHostUnreachable, host),
		})
		return
	}
	if flags := certificateErrors(u); flags != 0 && v.engine.TLSErrorPolicy() == wpeembed.TLSErrorsFail {
		v.emit(wpeembed.SignalEvent{Signal: wpeembed.SignalLoadFailedWithTLSErrors, URI: raw, TLSErrors: flags})
		return
	}

	v.emit(wpeembed.SignalEvent{Signal: wpeembed.SignalLoadChanged, Load: wpeembed.LoadCommitted, URI: raw})
	v.dirty.Store(true)
	v.emit(wpeembed.SignalEvent{Signal: wpeembed.SignalLoadChanged, Load: wpeembed.LoadFinished, URI: raw})
	v.engine.recordLoaded(raw)
}

func certificateErrors(u *url.URL) wpeembed.TLSErrorFlags {
	if u.Scheme != "https" {
		return 0
	}
	host := u.Hostname()
	switch {
	case strings.HasPrefix(host, "self-signed."):
		return wpeembed.TLSUnknownCA
	case strings.HasPrefix(host, "expired."):
		return wpeembed.TLSExpired
	case strings.HasPrefix(host, "wrong.host."):
		return wpeembed.TLSBadIdentity
	}
	return 0
}

func (v *engineView) setURI(uri string) {
	v.mu.Lock()
	v.uri = uri
	v.mu.Unlock()
}

// Release stops the compositor and terminates the view's content helper.
func (v *engineView) Release() {
	if v.released {
		return
	}
	v.released = true
	v.handlers = nil
	v.stop()

	v.mu.Lock()
	pid := v.contentPID
	v.contentPID = wpeembed.InvalidPID
	v.gone = true
	v.mu.Unlock()
	if pid != wpeembed.InvalidPID && v.engine.provider != nil {
		v.engine.provider.Terminate(pid)
	}
}

// setContentPID records the content helper. It reports false once the view
// is released so the caller terminates the helper itself.
func (v *engineView) setContentPID(pid int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gone {
		return false
	}
	v.contentPID = pid
	return true
}

// BufferRendered implements wpeembed.BufferObserver.
func (v *engineView) BufferRendered(wpeembed.Buffer) {
	v.rendered.Add(1)
}

// BufferReleased implements wpeembed.BufferObserver. The pipeline releases
// the buffer right after, which returns it to the pool.
func (v *engineView) BufferReleased(wpeembed.Buffer) {}

func (v *engineView) onInput(ie wpeembed.InputEvent) {
	v.inputs.Add(1)
	if ie.Type == wpeembed.InputTouchDown || ie.Type == wpeembed.InputTouchUp {
		v.dirty.Store(true)
	}
}

func (v *engineView) start() {
	go v.compose()
}

func (v *engineView) stop() {
	v.stopOnce.Do(func() {
		close(v.quit)
	})
	<-v.done
}

// compose submits a new frame whenever the view is dirty, mapped and sized.
func (v *engineView) compose() {
	defer close(v.done)
	ticker := time.NewTicker(v.engine.composeInterval)
	defer ticker.Stop()

	var lastW, lastH int
	for {
		select {
		case <-v.quit:
			return
		case <-ticker.C:
		}
		if !v.view.Mapped() {
			continue
		}
		w, h := v.view.Size()
		if w <= 0 || h <= 0 {
			continue
		}
		if w != lastW || h != lastH {
			lastW, lastH = w, h
			v.dirty.Store(true)
		}
		if !v.dirty.Load() {
			continue
		}
		buf := v.pool.get(w, h)
		if buf == nil {
			continue
		}
		v.dirty.Store(false)
		v.paint(buf)
		if err := v.view.RenderBuffer(buf); err != nil {
			buf.Release()
			v.logger.Debug("Frame not submitted", "error", err)
		}
	}
}

func (v *engineView) paint(buf *Buffer) {
	uri := v.URI()
	buf.frame = v.frame.Add(1)
	buf.uri = uri

	hash := fnv.New32a()
	_, _ = hash.Write([]byte(uri))
	sum := hash.Sum32()
	r, g, b := byte(sum>>16), byte(sum>>8), byte(sum)
	for i := 0; i+3 < len(buf.pixels); i += 4 {
		buf.pixels[i] = r
		buf.pixels[i+1] = g
		buf.pixels[i+2] = b
		buf.pixels[i+3] = 0xff
	}
}
