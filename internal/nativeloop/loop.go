// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package nativeloop implements the single-threaded cooperative event loop
// that hosts every browser-engine object.
//
// The loop dispatches two kinds of work: one-shot invocations queued from any
// goroutine, and attached sources whose ready time can be armed, re-armed or
// disarmed with nanosecond resolution. Each iteration dispatches everything
// that is ready at the numerically lowest priority, invocations first, then
// sources in attach order.
package nativeloop

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buke/wpe-embed/internal/goid"
)

// Priority orders ready work. Lower values run first.
type Priority int

const (
	PriorityHigh        Priority = -100
	PriorityDefault     Priority = 0
	PriorityHighIdle    Priority = 100
	PriorityDefaultIdle Priority = 200
	PriorityLow         Priority = 300
)

// Return values for source callbacks.
const (
	SourceRemove   = false
	SourceContinue = true
)

var (
	// ErrLoopClosed is returned when work is submitted after Run has returned.
	ErrLoopClosed = errors.New("nativeloop: loop is closed")

	// ErrLoopRunning is returned when Run is called twice.
	ErrLoopRunning = errors.New("nativeloop: loop is already running")
)

type invocation struct {
	priority Priority
	fn       func()
}

// Loop is a cooperative event loop bound to the goroutine that calls Run.
type Loop struct {
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	invokes  []invocation
	sources  []*Source
	running  bool
	quitting bool
	closed   bool

	wake    chan struct{}
	done    chan struct{}
	ownerID atomic.Uint64
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used to report recovered panics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a loop. Work may be queued before Run is called; it is
// dispatched once the loop starts.
func New(name string, opts ...Option) *Loop {
	l := &Loop{
		name:   name,
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.name
}

// Run locks the calling goroutine to its OS thread and dispatches work until
// Quit is called. Work still queued when Run returns is dropped.
func (l *Loop) Run() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	if l.running {
		l.mu.Unlock()
		return ErrLoopRunning
	}
	l.running = true
	l.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.ownerID.Store(goid.Get())
	defer func() {
		l.ownerID.Store(0)
		l.mu.Lock()
		l.closed = true
		l.running = false
		dropped := len(l.invokes)
		l.invokes = nil
		for _, s := range l.sources {
			s.destroyed = true
			s.armed = false
		}
		l.sources = nil
		l.mu.Unlock()
		if dropped > 0 {
			l.logger.Debug("Dropped queued invocations on loop exit", "loop", l.name, "count", dropped)
		}
		close(l.done)
	}()

	for l.iterate() {
	}
	return nil
}

// Quit asks the loop to return from Run after the current dispatch.
// Safe from any goroutine; calling it before Run makes Run return at once.
func (l *Loop) Quit() {
	l.mu.Lock()
	l.quitting = true
	l.mu.Unlock()
	l.notify()
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// IsLoopThread reports whether the caller is the goroutine running the loop.
func (l *Loop) IsLoopThread() bool {
	id := l.ownerID.Load()
	return id != 0 && goid.Get() == id
}

// Invoke runs fn on the loop. When called from the loop goroutine fn runs
// inline before Invoke returns; otherwise it is queued at the given priority.
func (l *Loop) Invoke(priority Priority, fn func()) error {
	if fn == nil {
		return nil
	}
	if l.IsLoopThread() {
		l.safeRun(fn)
		return nil
	}
	return l.Post(priority, fn)
}

// Post always queues fn, even when called from the loop goroutine.
func (l *Loop) Post(priority Priority, fn func()) error {
	if fn == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.invokes = append(l.invokes, invocation{priority: priority, fn: fn})
	l.mu.Unlock()
	l.notify()
	return nil
}

// NewSource attaches a disarmed source to the loop. The callback runs on the
// loop each time the source's ready time passes; returning SourceRemove
// destroys the source, SourceContinue keeps it attached.
func (l *Loop) NewSource(name string, priority Priority, callback func() bool) (*Source, error) {
	if callback == nil {
		return nil, fmt.Errorf("nativeloop: source %q has no callback", name)
	}
	s := &Source{
		loop:     l,
		name:     name,
		priority: priority,
		callback: callback,
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLoopClosed
	}
	l.sources = append(l.sources, s)
	return s, nil
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// iterate performs one dispatch cycle. It returns false once the loop should stop.
func (l *Loop) iterate() bool {
	l.mu.Lock()
	if l.quitting {
		l.mu.Unlock()
		return false
	}

	now := time.Now()
	best, found := l.bestReadyLocked(now)
	if !found {
		deadline, armed := l.nextDeadlineLocked()
		l.mu.Unlock()
		l.sleep(deadline, armed)
		return true
	}

	var tasks []func()
	kept := make([]invocation, 0, len(l.invokes))
	for _, inv := range l.invokes {
		if inv.priority == best {
			tasks = append(tasks, inv.fn)
		} else {
			kept = append(kept, inv)
		}
	}
	l.invokes = kept

	var ready []*Source
	for _, s := range l.sources {
		if s.armed && s.priority == best && !s.ready.After(now) {
			// Disarm before dispatch so the callback can re-arm.
			s.armed = false
			ready = append(ready, s)
		}
	}
	l.mu.Unlock()

	for _, fn := range tasks {
		l.safeRun(fn)
	}
	for _, s := range ready {
		if s.IsDestroyed() {
			continue
		}
		if !l.dispatch(s) {
			s.Destroy()
		}
	}
	return true
}

func (l *Loop) bestReadyLocked(now time.Time) (Priority, bool) {
	var best Priority
	found := false
	for _, inv := range l.invokes {
		if !found || inv.priority < best {
			best, found = inv.priority, true
		}
	}
	for _, s := range l.sources {
		if !s.armed || s.ready.After(now) {
			continue
		}
		if !found || s.priority < best {
			best, found = s.priority, true
		}
	}
	return best, found
}

func (l *Loop) nextDeadlineLocked() (time.Time, bool) {
	var next time.Time
	armed := false
	for _, s := range l.sources {
		if !s.armed {
			continue
		}
		if !armed || s.ready.Before(next) {
			next, armed = s.ready, true
		}
	}
	return next, armed
}

func (l *Loop) sleep(deadline time.Time, armed bool) {
	if !armed {
		<-l.wake
		return
	}
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.wake:
	case <-timer.C:
	}
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Panic recovered in loop invocation", "loop", l.name, "error", r)
		}
	}()
	fn()
}

func (l *Loop) dispatch(s *Source) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Panic recovered in source dispatch", "loop", l.name, "source", s.name, "error", r)
			keep = SourceContinue
		}
	}()
	return s.callback()
}
