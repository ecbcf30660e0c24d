// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/buke/wpe-embed/internal/nativeloop"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBuffer is a Buffer with counters.
type fakeBuffer struct {
	name      string
	importErr error
	imports   atomic.Int32
	releases  atomic.Int32
}

func newFakeBuffer(name string) *fakeBuffer {
	return &fakeBuffer{name: name}
}

func (b *fakeBuffer) ImportImage() (ImageHandle, error) {
	b.imports.Add(1)
	if b.importErr != nil {
		return 0, b.importErr
	}
	return ImageHandle(len(b.name) + 1), nil
}

func (b *fakeBuffer) Release() {
	b.releases.Add(1)
}

// fakeRenderer records draws.
type fakeRenderer struct {
	mu          sync.Mutex
	initErr     error
	window      NativeWindow
	width       int
	height      int
	renders     []ImageHandle
	cleanups    int
	initialized bool
	onCleanup   func()
}

func (r *fakeRenderer) Initialize(window NativeWindow, width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initErr != nil {
		return r.initErr
	}
	r.window, r.width, r.height = window, width, height
	r.initialized = true
	return nil
}

func (r *fakeRenderer) Resize(width, height int) {
	r.mu.Lock()
	r.width, r.height = width, height
	r.mu.Unlock()
}

func (r *fakeRenderer) Render(image ImageHandle) {
	r.mu.Lock()
	r.renders = append(r.renders, image)
	r.mu.Unlock()
}

func (r *fakeRenderer) Cleanup() {
	r.mu.Lock()
	r.cleanups++
	r.initialized = false
	hook := r.onCleanup
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (r *fakeRenderer) renderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.renders)
}

func (r *fakeRenderer) cleanupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanups
}

func (r *fakeRenderer) size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// observerEvent is one BufferObserver notification.
type observerEvent struct {
	kind string
	buf  Buffer
}

// fakeObserver records buffer notifications in order.
type fakeObserver struct {
	mu      sync.Mutex
	events  []observerEvent
	onEvent func(observerEvent)
}

func (o *fakeObserver) record(ev observerEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	hook := o.onEvent
	o.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (o *fakeObserver) BufferRendered(buf Buffer) { o.record(observerEvent{"rendered", buf}) }
func (o *fakeObserver) BufferReleased(buf Buffer) { o.record(observerEvent{"released", buf}) }

func (o *fakeObserver) snapshot() []observerEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observerEvent(nil), o.events...)
}

// fakeGraphics is a GraphicsConnector that can be told to fail.
type fakeGraphics struct {
	connectErr error
	connects   atomic.Int32
	terminates atomic.Int32
}

func (g *fakeGraphics) Connect() error {
	g.connects.Add(1)
	return g.connectErr
}

func (g *fakeGraphics) Terminate() {
	g.terminates.Add(1)
}

var errFakeImport = errors.New("import failed")

// startNativeLoop runs a native loop for the duration of the test.
func startNativeLoop(t *testing.T) *nativeloop.Loop {
	t.Helper()
	l := nativeloop.New(t.Name())
	go func() { _ = l.Run() }()
	t.Cleanup(func() {
		l.Quit()
		<-l.Done()
	})
	return l
}

// onLoop runs fn on l and waits for it.
func onLoop(t *testing.T, l *nativeloop.Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if err := l.Post(nativeloop.PriorityDefault, func() {
		defer close(done)
		fn()
	}); err != nil {
		t.Fatalf("post to native loop: %v", err)
	}
	<-done
}

// fakeEngineView is an EngineView that emits load signals synchronously.
type fakeEngineView struct {
	view *View

	mu        sync.Mutex
	uri       string
	userAgent string
	handlers  map[HandlerID]fakeHandler
	nextID    HandlerID
	ops       []string
	released  bool
}

type fakeHandler struct {
	signal  Signal
	handler SignalHandler
}

func newFakeEngineView(view *View) *fakeEngineView {
	return &fakeEngineView{view: view, handlers: make(map[HandlerID]fakeHandler)}
}

func (v *fakeEngineView) View() *View { return v.view }

func (v *fakeEngineView) LoadURL(url string) {
	v.mu.Lock()
	v.uri = url
	v.mu.Unlock()
	switch {
	case len(url) > 5 && url[:5] == "fail:":
		v.emit(SignalEvent{Signal: SignalLoadFailed, Load: LoadStarted, URI: url, Err: errors.New("unreachable")})
	case len(url) > 4 && url[:4] == "tls:":
		v.emit(SignalEvent{Signal: SignalLoadFailedWithTLSErrors, URI: url, TLSErrors: TLSUnknownCA | TLSExpired})
	default:
		for _, ev := range []LoadEvent{LoadStarted, LoadCommitted, LoadFinished} {
			v.emit(SignalEvent{Signal: SignalLoadChanged, Load: ev, URI: url})
		}
	}
}

func (v *fakeEngineView) emit(ev SignalEvent) {
	v.mu.Lock()
	var hs []SignalHandler
	for id := HandlerID(1); id <= v.nextID; id++ {
		if h, ok := v.handlers[id]; ok && h.signal == ev.Signal {
			hs = append(hs, h.handler)
		}
	}
	v.mu.Unlock()
	for _, h := range hs {
		if h(ev) {
			return
		}
	}
}

func (v *fakeEngineView) URI() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.uri
}

func (v *fakeEngineView) SetUserAgent(ua string) {
	v.mu.Lock()
	v.userAgent = ua
	v.mu.Unlock()
}

func (v *fakeEngineView) Connect(signal Signal, handler SignalHandler) HandlerID {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	v.handlers[v.nextID] = fakeHandler{signal, handler}
	v.ops = append(v.ops, "connect:"+signal.String())
	return v.nextID
}

func (v *fakeEngineView) Disconnect(id HandlerID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.handlers, id)
	v.ops = append(v.ops, "disconnect")
}

func (v *fakeEngineView) Release() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.released = true
	v.ops = append(v.ops, "release")
}

func (v *fakeEngineView) snapshotOps() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.ops...)
}

// fakeEngine is an Engine backed by fakeEngineView.
type fakeEngine struct {
	startErr   error
	newViewErr error

	mu        sync.Mutex
	started   bool
	provider  ProcessProvider
	views     []*fakeEngineView
	tlsPolicy TLSErrorPolicy
	closed    bool
}

func (e *fakeEngine) Start(display Display, provider ProcessProvider) error {
	if e.startErr != nil {
		return e.startErr
	}
	e.mu.Lock()
	e.started = true
	e.provider = provider
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) NewWebView(display Display) (EngineView, error) {
	if e.newViewErr != nil {
		return nil, e.newViewErr
	}
	v, err := display.CreateView()
	if err != nil {
		return nil, err
	}
	ev := newFakeEngineView(v)
	e.mu.Lock()
	e.views = append(e.views, ev)
	e.mu.Unlock()
	return ev, nil
}

func (e *fakeEngine) SetTLSErrorPolicy(policy TLSErrorPolicy) {
	e.mu.Lock()
	e.tlsPolicy = policy
	e.mu.Unlock()
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) viewCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.views)
}

func (e *fakeEngine) view(i int) *fakeEngineView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.views[i]
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// fakeSpawner records spawn requests and whether they ran on the host loop.
type fakeSpawner struct {
	inv *Invoker
	err error

	mu      sync.Mutex
	reqs    []SpawnRequest
	onHost  []bool
	nextPID int64
	killed  []int64
}

func (s *fakeSpawner) Spawn(req SpawnRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.inv != nil {
		s.onHost = append(s.onHost, s.inv.IsHostThread())
	}
	if s.err != nil {
		return InvalidPID, s.err
	}
	s.nextPID++
	return 1000 + s.nextPID, nil
}

func (s *fakeSpawner) Kill(pid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed = append(s.killed, pid)
	return nil
}

func (s *fakeSpawner) requests() []SpawnRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SpawnRequest(nil), s.reqs...)
}

// rendererRecorder hands out fakeRenderers and keeps them.
type rendererRecorder struct {
	mu        sync.Mutex
	initErr   error
	onCleanup func()
	renderers []*fakeRenderer
}

func (rr *rendererRecorder) factory() Renderer {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	r := &fakeRenderer{initErr: rr.initErr, onCleanup: rr.onCleanup}
	rr.renderers = append(rr.renderers, r)
	return r
}

func (rr *rendererRecorder) count() int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return len(rr.renderers)
}

func (rr *rendererRecorder) get(i int) *fakeRenderer {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.renderers[i]
}
