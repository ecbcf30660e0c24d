// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"testing"
	"time"

	"github.com/buke/wpe-embed/internal/nativeloop"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, interval time.Duration) (*Pipeline, *nativeloop.Loop, *fakeRenderer, *fakeObserver) {
	t.Helper()
	loop := startNativeLoop(t)
	p, err := newPipeline(loop, interval, nil)
	require.NoError(t, err)
	r := &fakeRenderer{}
	o := &fakeObserver{}
	p.SetRenderer(r)
	p.SetObserver(o)
	return p, loop, r, o
}

func TestPipeline_FirstSubmissionDrawsImmediately(t *testing.T) {
	p, _, r, _ := newTestPipeline(t, time.Second)

	start := time.Now()
	require.NoError(t, p.SubmitBuffer(newFakeBuffer("a")))
	require.Eventually(t, func() bool { return r.renderCount() == 1 }, 500*time.Millisecond, time.Millisecond)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPipeline_BurstDrawsLatestOnly(t *testing.T) {
	p, loop, r, o := newTestPipeline(t, 20*time.Millisecond)

	b1, b2, b3 := newFakeBuffer("b1"), newFakeBuffer("b2"), newFakeBuffer("b3")
	onLoop(t, loop, func() {
		require.NoError(t, p.SubmitBuffer(b1))
		require.NoError(t, p.SubmitBuffer(b2))
		require.NoError(t, p.SubmitBuffer(b3))
	})

	require.Eventually(t, func() bool { return r.renderCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, r.renderCount())

	require.Zero(t, b1.imports.Load())
	require.Zero(t, b2.imports.Load())
	require.Equal(t, int32(1), b1.releases.Load())
	require.Equal(t, int32(1), b2.releases.Load())
	require.Zero(t, b3.releases.Load())

	events := o.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, "rendered", events[0].kind)
	require.Same(t, b3, events[0].buf)

	stats := p.Stats()
	require.Equal(t, uint64(3), stats.Submitted)
	require.Equal(t, uint64(2), stats.Superseded)
	require.Equal(t, uint64(1), stats.Drawn)
}

func TestPipeline_RapidSubmissionsEndOnLatest(t *testing.T) {
	p, _, r, o := newTestPipeline(t, 20*time.Millisecond)

	b3 := newFakeBuffer("b3")
	require.NoError(t, p.SubmitBuffer(newFakeBuffer("b1")))
	require.NoError(t, p.SubmitBuffer(newFakeBuffer("b2")))
	require.NoError(t, p.SubmitBuffer(b3))

	require.Eventually(t, func() bool {
		events := o.snapshot()
		return len(events) > 0 && events[len(events)-1].buf == Buffer(b3) && events[len(events)-1].kind == "rendered"
	}, time.Second, time.Millisecond)
	require.LessOrEqual(t, r.renderCount(), 2)
}

func TestPipeline_PacesToFrameInterval(t *testing.T) {
	interval := 60 * time.Millisecond
	p, _, r, _ := newTestPipeline(t, interval)

	require.NoError(t, p.SubmitBuffer(newFakeBuffer("a")))
	require.Eventually(t, func() bool { return r.renderCount() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, p.SubmitBuffer(newFakeBuffer("b")))
	require.Eventually(t, func() bool { return r.renderCount() == 2 }, time.Second, time.Millisecond)
	// The second draw waits for the interval after the first submission.
	require.Greater(t, time.Since(start), interval/3)
}

func TestPipeline_CommittedReleasedAfterPromotion(t *testing.T) {
	p, _, r, o := newTestPipeline(t, 5*time.Millisecond)

	a, b := newFakeBuffer("a"), newFakeBuffer("b")
	var committedAtRelease Buffer
	o.onEvent = func(ev observerEvent) {
		if ev.kind == "released" {
			p.mu.Lock()
			committedAtRelease = p.committed
			p.mu.Unlock()
		}
	}

	require.NoError(t, p.SubmitBuffer(a))
	require.Eventually(t, func() bool { return r.renderCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, p.SubmitBuffer(b))
	require.Eventually(t, func() bool { return r.renderCount() == 2 }, time.Second, time.Millisecond)

	events := o.snapshot()
	require.Len(t, events, 3)
	require.Equal(t, observerEvent{"rendered", a}, events[0])
	require.Equal(t, observerEvent{"released", a}, events[1])
	require.Equal(t, observerEvent{"rendered", b}, events[2])
	require.Same(t, b, committedAtRelease)
	require.Equal(t, int32(1), a.releases.Load())
}

func TestPipeline_RedrawWithoutNewBufferDoesNotNotify(t *testing.T) {
	p, _, r, o := newTestPipeline(t, 5*time.Millisecond)

	require.NoError(t, p.SubmitBuffer(newFakeBuffer("a")))
	require.Eventually(t, func() bool { return r.renderCount() == 1 }, time.Second, time.Millisecond)

	p.source.SetReadyTime(time.Now())
	require.Eventually(t, func() bool { return r.renderCount() == 2 }, time.Second, time.Millisecond)
	require.Len(t, o.snapshot(), 1)
}

func TestPipeline_ImportFailureSkipsFrame(t *testing.T) {
	p, _, r, o := newTestPipeline(t, 5*time.Millisecond)

	bad := newFakeBuffer("bad")
	bad.importErr = errFakeImport
	require.NoError(t, p.SubmitBuffer(bad))
	require.Eventually(t, func() bool { return p.Stats().ImportFailures == 1 }, time.Second, time.Millisecond)
	require.Zero(t, r.renderCount())
	require.Empty(t, o.snapshot())

	good := newFakeBuffer("good")
	require.NoError(t, p.SubmitBuffer(good))
	require.Eventually(t, func() bool { return r.renderCount() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, int32(1), bad.releases.Load())
}

func TestPipeline_NoCommittedBufferDrawsNothing(t *testing.T) {
	p, _, r, _ := newTestPipeline(t, 5*time.Millisecond)

	p.source.SetReadyTime(time.Now())
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, r.renderCount())
	require.False(t, p.source.IsDestroyed())
}

func TestPipeline_CloseReleasesSlotsAndStopsTimer(t *testing.T) {
	p, loop, r, _ := newTestPipeline(t, time.Hour)

	a, b := newFakeBuffer("a"), newFakeBuffer("b")
	require.NoError(t, p.SubmitBuffer(a))
	require.Eventually(t, func() bool { return r.renderCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, p.SubmitBuffer(b)) // armed an hour out

	onLoop(t, loop, p.Close)
	require.True(t, p.source.IsDestroyed())
	require.Equal(t, int32(1), a.releases.Load())
	require.Equal(t, int32(1), b.releases.Load())
	require.Nil(t, p.Renderer())

	c := newFakeBuffer("c")
	require.ErrorIs(t, p.SubmitBuffer(c), ErrPipelineClosed)
	p.Close()
	require.Equal(t, 1, r.renderCount())
}
