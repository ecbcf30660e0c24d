// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package goid reports the identity of the calling goroutine.
//
// Both event loops in this module are a goroutine locked to one OS thread, so
// "am I on the loop thread" reduces to comparing goroutine ids.
package goid

import "runtime"

// Get returns the current goroutine's id, parsed from the stack header
// ("goroutine 123 [running]:").
func Get() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	const prefix = len("goroutine ")
	var id uint64
	for i := prefix; i < n; i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
