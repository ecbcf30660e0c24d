//go:build !unix

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"errors"
	"os"

	wpeembed "github.com/buke/wpe-embed"
)

var errNoChannels = errors.New("helper channels need unix socket pairs")

func newChannel(name string) (*os.File, wpeembed.Channel, error) {
	return nil, wpeembed.Channel{}, errNoChannels
}

// OpenChannel wraps an inherited channel descriptor in a helper process.
func OpenChannel(fd uintptr, name string) (*os.File, error) {
	return nil, errNoChannels
}
