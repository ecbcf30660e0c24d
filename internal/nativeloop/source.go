// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package nativeloop

import "time"

// Source is a re-armable deferred callback attached to a Loop.
// All methods are safe from any goroutine.
type Source struct {
	loop     *Loop
	name     string
	priority Priority
	callback func() bool

	// guarded by loop.mu
	ready     time.Time
	armed     bool
	destroyed bool
}

// Name returns the source name.
func (s *Source) Name() string {
	return s.name
}

// Priority returns the dispatch priority.
func (s *Source) Priority() Priority {
	return s.priority
}

// SetReadyTime arms the source to fire once t has passed. A time at or
// before now fires on the next iteration.
func (s *Source) SetReadyTime(t time.Time) {
	s.loop.mu.Lock()
	if s.destroyed {
		s.loop.mu.Unlock()
		return
	}
	s.ready = t
	s.armed = true
	s.loop.mu.Unlock()
	s.loop.notify()
}

// Disarm clears the ready time; the source stays attached.
func (s *Source) Disarm() {
	s.loop.mu.Lock()
	s.armed = false
	s.loop.mu.Unlock()
}

// ReadyTime returns the armed ready time, or false when disarmed.
func (s *Source) ReadyTime() (time.Time, bool) {
	s.loop.mu.Lock()
	defer s.loop.mu.Unlock()
	return s.ready, s.armed
}

// Destroy detaches the source. A callback already running completes; no
// further dispatch happens.
func (s *Source) Destroy() {
	l := s.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.armed = false
	for i, other := range l.sources {
		if other == s {
			l.sources = append(l.sources[:i], l.sources[i+1:]...)
			break
		}
	}
}

// IsDestroyed reports whether Destroy has been called.
func (s *Source) IsDestroyed() bool {
	s.loop.mu.Lock()
	defer s.loop.mu.Unlock()
	return s.destroyed
}
