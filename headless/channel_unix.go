//go:build unix

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"fmt"
	"os"

	wpeembed "github.com/buke/wpe-embed"
	"golang.org/x/sys/unix"
)

// newChannel creates a connected socket pair. The engine keeps the first
// end, non-blocking so Close interrupts a pending read; the second is handed
// to the spawned helper as is.
func newChannel(name string) (*os.File, wpeembed.Channel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, wpeembed.Channel{}, fmt.Errorf("failed to create socket pair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, wpeembed.Channel{}, fmt.Errorf("failed to set channel non-blocking: %w", err)
	}
	parent := os.NewFile(uintptr(fds[0]), name+"-engine")
	child := os.NewFile(uintptr(fds[1]), name)
	return parent, wpeembed.Channel{Name: name, File: child}, nil
}

// OpenChannel wraps an inherited channel descriptor in a helper process.
func OpenChannel(fd uintptr, name string) (*os.File, error) {
	if err := unix.SetNonblock(int(fd), true); err != nil {
		return nil, fmt.Errorf("failed to open channel %s: %w", name, err)
	}
	return os.NewFile(fd, name), nil
}
