// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// hostAction represents an action that can be performed on the host loop.
type hostAction int

const (
	actionStop   hostAction = iota // Stop the loop
	actionReload                   // Reload the script engine
)

// String returns the string representation of a hostAction.
func (a hostAction) String() string {
	switch a {
	case actionStop:
		return "stop"
	case actionReload:
		return "reload"
	default:
		return "unknown"
	}
}

// hostActionRequest represents a request to perform an action on the host loop.
type hostActionRequest struct {
	action hostAction // The action to perform
	done   chan error // Channel to signal completion and return any error
}

// hostLoop is the embedding host loop: one goroutine, locked to its OS
// thread, that owns the script engine and drains the invoker when woken.
type hostLoop struct {
	rt   *Runtime
	name string

	wake        chan struct{}           // Coalesced wake-ups from the invoker
	actionQueue chan *hostActionRequest // Control actions
	initCh      chan error              // Signals initialization completion
	done        chan struct{}           // Closed when the loop exits

	lastUsedNano int64  // Timestamp of last evaluation (atomic, nanoseconds)
	evalCount    uint32 // Number of scripts evaluated (atomic)
	drained      uint64 // Number of invoker tasks run (atomic)

	engine ScriptEngine
}

func newHostLoop(rt *Runtime, name string) *hostLoop {
	return &hostLoop{
		rt:           rt,
		name:         name,
		wake:         make(chan struct{}, 1),
		actionQueue:  make(chan *hostActionRequest, 1),
		initCh:       make(chan error, 1),
		done:         make(chan struct{}),
	}
}

// Wake implements Waker. Repeated wakes before a drain coalesce.
func (h *hostLoop) Wake() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// HostStats reports host loop activity.
type HostStats struct {
	Evaluations  uint32    // Host scripts evaluated through Eval
	TasksDrained uint64    // Invoker tasks run on the host loop
	LastEval     time.Time // Zero before the first evaluation
}

// stats is safe to call from any goroutine.
func (h *hostLoop) stats() HostStats {
	st := HostStats{
		Evaluations:  atomic.LoadUint32(&h.evalCount),
		TasksDrained: atomic.LoadUint64(&h.drained),
	}
	if n := atomic.LoadInt64(&h.lastUsedNano); n != 0 {
		st.LastEval = time.Unix(0, n)
	}
	return st
}

// start runs the loop and waits for it to initialize.
func (h *hostLoop) start() error {
	go h.run()
	return <-h.initCh
}

// initEngine creates the script engine and runs the bindings and init scripts.
func (h *hostLoop) initEngine() error {
	engine, err := h.rt.scriptFactory()
	if err != nil {
		return fmt.Errorf("failed to create script engine: %w", err)
	}
	h.engine = engine
	if err := h.engine.Init(h.scripts()); err != nil {
		return fmt.Errorf("failed to init script engine: %w", err)
	}
	return nil
}

func (h *hostLoop) scripts() []*Script {
	return append([]*Script{BindingsScript()}, h.rt.getHostScripts()...)
}

// run is the main host loop that drains tasks and executes actions.
func (h *hostLoop) run() {
	runtime.LockOSThread()
	defer close(h.done)

	defer func() {
		if h.engine != nil {
			if err := h.engine.Close(); err != nil {
				h.rt.logger.Error("Failed to close script engine",
					"loop", h.name,
					"error", err)
			}
		}
	}()

	if !h.rt.invoker.Init(h) {
		err := errors.New("invoker is bound to another host loop")
		h.initCh <- err
		close(h.initCh)
		h.rt.logger.Error("Failed to bind invoker", "loop", h.name, "error", err)
		return
	}

	if err := h.initEngine(); err != nil {
		h.initCh <- err
		close(h.initCh)
		h.rt.logger.Error("Failed to initialize script engine",
			"loop", h.name,
			"error", err,
		)
		return
	}
	h.initCh <- nil
	close(h.initCh)
	h.flush()

	for {
		select {
		case <-h.wake:
			n := h.rt.invoker.Drain()
			atomic.AddUint64(&h.drained, uint64(n))
		case req := <-h.actionQueue:
			// Tasks queued before the action run first.
			atomic.AddUint64(&h.drained, uint64(h.rt.invoker.Drain()))
			h.executeAction(req)
			if req.action == actionStop {
				return
			}
		}
	}
}

// executeAction executes a host loop action.
func (h *hostLoop) executeAction(req *hostActionRequest) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in executeAction: %v", r)
			h.rt.logger.Error("Panic recovered in executeAction", "loop", h.name, "action", req.action.String(), "error", r)
			req.done <- err
		}
	}()

	switch req.action {
	case actionReload:
		err := h.engine.Reload(h.scripts())
		if err != nil {
			h.rt.logger.Error("Host loop reload failed",
				"loop", h.name,
				"error", err)
		} else {
			h.flush()
		}
		req.done <- err

	case actionStop:
		var err error
		if h.engine != nil {
			err = h.engine.Close()
			if err != nil {
				h.rt.logger.Error("Failed to close script engine",
					"loop", h.name,
					"error", err)
			}
			h.engine = nil
		}
		req.done <- err

	default:
		req.done <- nil
	}
}

// eval runs script and dispatches the host calls it issued. It must run on
// the host loop.
func (h *hostLoop) eval(script *Script) error {
	defer func() {
		atomic.StoreInt64(&h.lastUsedNano, time.Now().UnixNano())
		atomic.AddUint32(&h.evalCount, 1)
	}()
	if h.engine == nil {
		return errors.New("script engine is closed")
	}
	calls, err := h.engine.Eval(script)
	if err != nil {
		return fmt.Errorf("failed to evaluate %s: %w", script.FileName, err)
	}
	var errs []error
	for _, call := range calls {
		if err := h.rt.HandleHostCall(call); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// flush dispatches the host calls queued while the host scripts ran.
func (h *hostLoop) flush() {
	if err := h.eval(&Script{Content: "undefined", FileName: "host_scripts.js"}); err != nil {
		h.rt.logger.Error("Host script calls failed", "loop", h.name, "error", err)
	}
}

// dispatchViewEvent hands a navigation event to the scripts' listeners.
func (h *hostLoop) dispatchViewEvent(ev ViewEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.rt.logger.Error("Failed to encode view event", "view", string(ev.ID), "error", err)
		return
	}
	script := &Script{
		Content:  "webview.__emit(" + string(payload) + ")",
		FileName: "view_event.js",
	}
	if err := h.eval(script); err != nil {
		h.rt.logger.Error("View event listener failed", "view", string(ev.ID), "kind", string(ev.Kind), "error", err)
	}
}

// request sends an action and waits for it to complete.
func (h *hostLoop) request(action hostAction) error {
	req := &hostActionRequest{
		action: action,
		done:   make(chan error, 1),
	}
	select {
	case h.actionQueue <- req:
	case <-h.done:
		return errors.New("host loop has stopped")
	}
	return <-req.done
}

// reload re-runs the bindings and host scripts in a fresh environment.
func (h *hostLoop) reload() error {
	return h.request(actionReload)
}

// stop stops the loop and waits for it to exit.
func (h *hostLoop) stop() error {
	err := h.request(actionStop)
	<-h.done
	return err
}
