// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testHost is a minimal host loop: one goroutine that binds the invoker and
// drains it on each wake.
type testHost struct {
	inv   *Invoker
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
	wakes atomic.Int32
	fns   chan func()
}

func (h *testHost) Wake() {
	h.wakes.Add(1)
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// startTestHost starts a host loop bound to inv and stops it when the test ends.
func startTestHost(t *testing.T, inv *Invoker) *testHost {
	t.Helper()
	h := &testHost{
		inv:  inv,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		fns:  make(chan func()),
	}
	ready := make(chan bool, 1)
	go func() {
		defer close(h.done)
		ready <- inv.Init(h)
		for {
			select {
			case <-h.wake:
				inv.Drain()
			case fn := <-h.fns:
				fn()
			case <-h.stop:
				return
			}
		}
	}()
	require.True(t, <-ready)
	t.Cleanup(func() {
		close(h.stop)
		<-h.done
	})
	return h
}

// onHost runs fn as a host callback and waits for it.
func (h *testHost) onHost(fn func()) {
	done := make(chan struct{})
	h.fns <- func() {
		fn()
		close(done)
	}
	<-done
}

func TestInvoker_InitRejectsNilWaker(t *testing.T) {
	inv := NewInvoker(nil)
	require.False(t, inv.Init(nil))
	require.False(t, inv.Initialized())
}

func TestInvoker_InitFromOtherGoroutineFails(t *testing.T) {
	inv := NewInvoker(nil)
	startTestHost(t, inv)

	require.False(t, inv.Init(&testHost{wake: make(chan struct{}, 1)}))
	require.False(t, inv.IsHostThread())
}

func TestInvoker_AsyncBeforeInit(t *testing.T) {
	inv := NewInvoker(nil)
	err := inv.InvokeAsync(func() {})
	require.ErrorIs(t, err, ErrNotInitialized)

	_, err = InvokeSync(inv, func() int { return 1 })
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestInvoker_AsyncRunsOnHostInOrder(t *testing.T) {
	inv := NewInvoker(nil)
	startTestHost(t, inv)

	var mu sync.Mutex
	var order []int
	var onHost atomic.Bool
	onHost.Store(true)

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		require.NoError(t, inv.InvokeAsync(func() {
			defer wg.Done()
			if !inv.IsHostThread() {
				onHost.Store(false)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	wg.Wait()

	require.True(t, onHost.Load())
	for i := range order {
		require.Equal(t, i, order[i])
	}
}

func TestInvoker_AsyncFromHostRunsAfterCallback(t *testing.T) {
	inv := NewInvoker(nil)
	h := startTestHost(t, inv)

	var order []string
	ran := make(chan struct{})
	h.onHost(func() {
		require.NoError(t, inv.InvokeAsync(func() {
			order = append(order, "task")
			close(ran)
		}))
		order = append(order, "callback")
	})
	<-ran
	require.Equal(t, []string{"callback", "task"}, order)
}

func TestInvoker_SyncInlineOnHost(t *testing.T) {
	inv := NewInvoker(nil)
	h := startTestHost(t, inv)

	var got int
	var err error
	wakesBefore := h.wakes.Load()
	h.onHost(func() {
		got, err = InvokeSync(inv, func() int { return 42 })
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, wakesBefore, h.wakes.Load(), "inline call must not enqueue")
}

func TestInvoker_SyncFromOtherGoroutine(t *testing.T) {
	inv := NewInvoker(nil)
	startTestHost(t, inv)

	got, err := InvokeSync(inv, func() bool { return inv.IsHostThread() })
	require.NoError(t, err)
	require.True(t, got)
}

func TestInvoker_SyncRepanicsInCaller(t *testing.T) {
	inv := NewInvoker(nil)
	startTestHost(t, inv)

	require.Panics(t, func() {
		_, _ = InvokeSync(inv, func() int { panic("boom") })
	})

	// The host loop survives the panic.
	got, err := InvokeSync(inv, func() string { return "ok" })
	require.NoError(t, err)
	require.Equal(t, "ok", got)
}

func TestInvoker_SyncTimeoutStillRuns(t *testing.T) {
	inv := NewInvoker(nil)
	h := startTestHost(t, inv)

	release := make(chan struct{})
	blocked := make(chan struct{})
	go h.onHost(func() {
		close(blocked)
		<-release
	})
	<-blocked

	var ran atomic.Bool
	_, err := InvokeSyncTimeout(inv, 20*time.Millisecond, func() int {
		ran.Store(true)
		return 1
	})
	require.ErrorIs(t, err, ErrInvokeTimeout)

	close(release)
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
}

func TestInvoker_DrainRecoversPanics(t *testing.T) {
	inv := NewInvoker(nil)
	startTestHost(t, inv)

	require.NoError(t, inv.InvokeAsync(func() { panic("bad task") }))
	got, err := InvokeSync(inv, func() int { return 7 })
	require.NoError(t, err)
	require.Equal(t, 7, got)
}

func TestInvoker_ConcurrentProducers(t *testing.T) {
	inv := NewInvoker(nil)
	startTestHost(t, inv)

	const producers, perProducer = 8, 200
	var count atomic.Int32
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = inv.InvokeAsync(func() { count.Add(1) })
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return count.Load() == producers*perProducer
	}, 2*time.Second, time.Millisecond)
	require.Zero(t, inv.Pending())
}

func TestTask_RunsOnce(t *testing.T) {
	var n int
	tk := newTask(func() { n++ })
	require.Equal(t, "pending", tk.status.String())
	tk.run()
	tk.run()
	require.Equal(t, 1, n)
	require.Equal(t, "completed", tk.status.String())
}
