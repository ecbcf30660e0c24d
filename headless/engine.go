// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package headless is an offscreen browser engine backend. It drives the
// same display, pipeline and helper-process paths a real engine does while
// synthesizing navigations and frames, so embeddings can run without a GPU
// or a WebKit build.
package headless

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	wpeembed "github.com/buke/wpe-embed"
)

const (
	defaultComposeInterval = 16 * time.Millisecond
	defaultMaxBuffers      = 3
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithComposeInterval sets how often view compositors look for work.
func WithComposeInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.composeInterval = d
		}
	}
}

// WithMaxBuffers bounds the buffers each view has in flight.
func WithMaxBuffers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxBuffers = n
		}
	}
}

// WithoutHelpers stops the engine from requesting helper processes.
func WithoutHelpers() Option {
	return func(e *Engine) {
		e.noHelpers = true
	}
}

// Engine implements wpeembed.Engine without a browser behind it.
type Engine struct {
	logger          *slog.Logger
	composeInterval time.Duration
	maxBuffers      int
	noHelpers       bool

	display  wpeembed.Display
	provider wpeembed.ProcessProvider
	started  bool
	policy   atomic.Int32

	mu       sync.Mutex
	views    []*engineView
	loaded   []string
	helpers  []*helperConn
	network  int64
	closed   bool
	launches sync.WaitGroup

	bufferIDs  atomic.Uint64
	channelSeq atomic.Uint64
}

var _ wpeembed.Engine = (*Engine)(nil)

// NewEngine returns an engine that has not been started.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:          slog.Default(),
		composeInterval: defaultComposeInterval,
		maxBuffers:      defaultMaxBuffers,
		network:         wpeembed.InvalidPID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start implements wpeembed.Engine. The network helper is requested in the
// background.
func (e *Engine) Start(display wpeembed.Display, provider wpeembed.ProcessProvider) error {
	if display == nil {
		return errors.New("display cannot be nil")
	}
	if e.started {
		return errors.New("engine already started")
	}
	e.display = display
	e.provider = provider
	e.started = true
	e.logger.Info("Headless engine started", "formats", len(display.PreferredBufferFormats()))

	e.launchHelper(wpeembed.RoleNetwork, func(pid int64) bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return false
		}
		e.network = pid
		return true
	})
	return nil
}

// NewWebView implements wpeembed.Engine.
func (e *Engine) NewWebView(display wpeembed.Display) (wpeembed.EngineView, error) {
	if !e.started {
		return nil, errors.New("engine not started")
	}
	if display == nil {
		display = e.display
	}
	view, err := display.CreateView()
	if err != nil {
		return nil, fmt.Errorf("failed to create view: %w", err)
	}
	ev := newEngineView(e, view)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		view.Close()
		return nil, errors.New("engine is closed")
	}
	e.views = append(e.views, ev)
	e.mu.Unlock()

	ev.start()
	e.launchHelper(wpeembed.RoleContent, ev.setContentPID)
	return ev, nil
}

// SetTLSErrorPolicy implements wpeembed.Engine.
func (e *Engine) SetTLSErrorPolicy(policy wpeembed.TLSErrorPolicy) {
	e.policy.Store(int32(policy))
}

// TLSErrorPolicy returns the policy last set.
func (e *Engine) TLSErrorPolicy() wpeembed.TLSErrorPolicy {
	return wpeembed.TLSErrorPolicy(e.policy.Load())
}

// Close implements wpeembed.Engine. It stops every compositor, terminates
// the helpers and closes their channels.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	views := slices.Clone(e.views)
	e.mu.Unlock()

	for _, ev := range views {
		ev.stop()
	}
	e.launches.Wait()

	e.mu.Lock()
	network := e.network
	e.network = wpeembed.InvalidPID
	helpers := e.helpers
	e.helpers = nil
	e.mu.Unlock()

	if network != wpeembed.InvalidPID && e.provider != nil {
		e.provider.Terminate(network)
	}
	var errs []error
	for _, h := range helpers {
		if err := h.close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	e.logger.Info("Headless engine closed", "views", len(views))
	return errors.Join(errs...)
}

// LoadedURIs returns, in order, every address a view finished loading.
func (e *Engine) LoadedURIs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.loaded)
}

// Views returns the number of engine views created.
func (e *Engine) Views() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.views)
}

// Helpers returns the number of helper channels that are connected.
func (e *Engine) Helpers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, h := range e.helpers {
		if h.greeted.Load() {
			n++
		}
	}
	return n
}

func (e *Engine) recordLoaded(uri string) {
	e.mu.Lock()
	e.loaded = append(e.loaded, uri)
	e.mu.Unlock()
}

// launchHelper requests a helper off the native loop, since the launch
// waits on the host loop. keep reports whether the pid is still wanted.
func (e *Engine) launchHelper(role wpeembed.ProcessRole, keep func(pid int64) bool) {
	if e.noHelpers || e.provider == nil {
		return
	}
	e.launches.Add(1)
	go func() {
		defer e.launches.Done()
		name := fmt.Sprintf("%s-%d", role.Tag(), e.channelSeq.Add(1))
		parent, child, err := newChannel(name)
		if err != nil {
			e.logger.Error("Failed to create helper channel", "role", role.String(), "error", err)
			return
		}
		pid := e.provider.Launch(role, child)
		// The spawned process holds its own copy.
		_ = child.File.Close()
		if pid == wpeembed.InvalidPID {
			_ = parent.Close()
			e.logger.Warn("Helper not launched", "role", role.String())
			return
		}
		if !keep(pid) {
			e.provider.Terminate(pid)
			_ = parent.Close()
			return
		}
		h := newHelperConn(role, pid, parent, e.logger)
		e.mu.Lock()
		e.helpers = append(e.helpers, h)
		e.mu.Unlock()
		go h.serve()
	}()
}
