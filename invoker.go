// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buke/wpe-embed/internal/goid"
)

var (
	// ErrNotInitialized is returned when the invoker is used before Init.
	ErrNotInitialized = errors.New("invoker is not initialized")

	// ErrInvokeTimeout is returned by InvokeSyncTimeout when the host loop
	// did not run the task in time. The task still runs later.
	ErrInvokeTimeout = errors.New("timeout waiting for host loop")
)

// Waker wakes the embedding host loop so it calls Invoker.Drain.
// Wake must be safe from any goroutine and may coalesce repeated calls.
type Waker interface {
	Wake()
}

// Invoker schedules work on the embedding host loop.
//
// Tasks are queued under a mutex and drained in one swap, so submissions
// racing a drain land in the next batch. Tasks from one goroutine keep their
// submission order.
type Invoker struct {
	inited atomic.Bool
	hostID atomic.Uint64
	waker  Waker

	mu    sync.Mutex
	queue []*task

	logger *slog.Logger
}

// NewInvoker creates an uninitialized invoker.
func NewInvoker(logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{logger: logger}
}

// Init binds the invoker to the calling goroutine, which must be the one that
// runs the host loop. It returns false when w is nil or when the invoker was
// already bound to a different goroutine.
func (i *Invoker) Init(w Waker) bool {
	if w == nil {
		return false
	}
	id := goid.Get()
	if i.inited.Load() {
		return i.hostID.Load() == id
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.inited.Load() {
		return i.hostID.Load() == id
	}
	i.waker = w
	i.hostID.Store(id)
	i.inited.Store(true)
	i.logger.Debug("Invoker bound to host loop", "goroutine", id)
	return true
}

// Initialized reports whether Init has succeeded.
func (i *Invoker) Initialized() bool {
	return i.inited.Load()
}

// IsHostThread reports whether the caller is the host loop goroutine.
func (i *Invoker) IsHostThread() bool {
	return i.inited.Load() && goid.Get() == i.hostID.Load()
}

// InvokeAsync queues fn for the host loop and wakes it. fn runs exactly once,
// after the current host callback returns, even when called from the host
// loop itself.
func (i *Invoker) InvokeAsync(fn func()) error {
	if fn == nil {
		return nil
	}
	return i.enqueue(newTask(fn))
}

func (i *Invoker) enqueue(t *task) error {
	if !i.inited.Load() {
		return ErrNotInitialized
	}
	i.mu.Lock()
	i.queue = append(i.queue, t)
	i.mu.Unlock()
	i.waker.Wake()
	return nil
}

// Pending returns the number of queued tasks.
func (i *Invoker) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.queue)
}

// Drain runs every queued task. The host loop calls it on each wake; tasks
// queued while draining wait for the next wake.
func (i *Invoker) Drain() int {
	i.mu.Lock()
	batch := i.queue
	i.queue = nil
	i.mu.Unlock()

	for _, t := range batch {
		i.execute(t)
	}
	return len(batch)
}

func (i *Invoker) execute(t *task) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("Host task panic", "error", r)
		}
	}()
	t.run()
}

// InvokeSync runs fn on the host loop and returns its result. On the host
// loop goroutine fn runs inline; elsewhere the caller blocks until the loop
// has run it. A host loop that never drains blocks the caller forever.
// A panic in fn is re-raised in the caller.
func InvokeSync[R any](i *Invoker, fn func() R) (R, error) {
	return invokeSync(i, 0, fn)
}

// InvokeSyncTimeout is InvokeSync with a bound on the wait. On timeout it
// returns ErrInvokeTimeout; fn is not cancelled and still runs when the host
// loop gets to it.
func InvokeSyncTimeout[R any](i *Invoker, timeout time.Duration, fn func() R) (R, error) {
	return invokeSync(i, timeout, fn)
}

func invokeSync[R any](i *Invoker, timeout time.Duration, fn func() R) (R, error) {
	var zero R
	if i.IsHostThread() {
		return fn(), nil
	}

	type outcome struct {
		value R
		panic any
	}
	done := make(chan outcome, 1)
	t := newTask(func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out.panic = r
			}
			done <- out
		}()
		out.value = fn()
	})
	if err := i.enqueue(t); err != nil {
		return zero, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case out := <-done:
		if out.panic != nil {
			panic(fmt.Sprintf("panic in host task: %v", out.panic))
		}
		return out.value, nil
	case <-timeoutCh:
		return zero, ErrInvokeTimeout
	}
}
