// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package headless

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	wpeembed "github.com/buke/wpe-embed"
)

// helperConn is the engine end of a helper channel.
type helperConn struct {
	role    wpeembed.ProcessRole
	pid     int64
	file    *os.File
	logger  *slog.Logger
	greeted atomic.Bool
	closed  atomic.Bool
}

func newHelperConn(role wpeembed.ProcessRole, pid int64, file *os.File, logger *slog.Logger) *helperConn {
	return &helperConn{
		role:   role,
		pid:    pid,
		file:   file,
		logger: logger.With("role", role.String(), "pid", pid),
	}
}

// serve reads the helper's messages until the channel closes.
func (h *helperConn) serve() {
	scanner := bufio.NewScanner(h.file)
	for scanner.Scan() {
		line := scanner.Text()
		if !h.greeted.Load() && strings.HasPrefix(line, "hello ") {
			h.greeted.Store(true)
			h.logger.Info("Helper connected", "tag", strings.TrimPrefix(line, "hello "))
			continue
		}
		h.logger.Debug("Helper message", "message", line)
	}
	if err := scanner.Err(); err != nil && !h.closed.Load() {
		h.logger.Debug("Helper channel read failed", "error", err)
	}
}

func (h *helperConn) close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.file.Close()
}

// NetworkProcessMain returns the entry point of the network helper.
func NetworkProcessMain(logger *slog.Logger) wpeembed.ProcessMain {
	return helperMain(logger)
}

// ContentProcessMain returns the entry point of the content helper.
func ContentProcessMain(logger *slog.Logger) wpeembed.ProcessMain {
	return helperMain(logger)
}

// helperMain greets the engine over the channel, then acknowledges every
// line until the engine closes its end or ctx is done.
func helperMain(logger *slog.Logger) wpeembed.ProcessMain {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, argv []string, channel *os.File) int {
		if len(argv) == 0 || channel == nil {
			logger.Error("Helper started without a channel")
			return 1
		}
		if err := serveChannel(ctx, argv[0], channel); err != nil {
			logger.Error("Helper channel failed", "tag", argv[0], "error", err)
			return 1
		}
		logger.Info("Helper finished", "tag", argv[0])
		return 0
	}
}

func serveChannel(ctx context.Context, tag string, channel io.ReadWriteCloser) error {
	stop := context.AfterFunc(ctx, func() {
		_ = channel.Close()
	})
	defer stop()

	if _, err := fmt.Fprintf(channel, "hello %s\n", tag); err != nil {
		return fmt.Errorf("failed to greet engine: %w", err)
	}
	scanner := bufio.NewScanner(channel)
	for scanner.Scan() {
		if _, err := fmt.Fprintf(channel, "ack %s\n", scanner.Text()); err != nil {
			return fmt.Errorf("failed to acknowledge: %w", err)
		}
	}
	err := scanner.Err()
	if err == nil || ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
