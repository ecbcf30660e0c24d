// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"context"
	"log/slog"
	"os"
	"strconv"
)

// ChannelFD is the descriptor number the helper channel is inherited at.
const ChannelFD = 3

// ProcessMain is a helper's main function. argv is
// [role tag, channel name, channel descriptor].
type ProcessMain func(ctx context.Context, argv []string, channel *os.File) int

// RunProcess is the helper side of a launch: it decodes blob, exports the
// role's environment and calls main. A malformed blob or a missing channel
// is logged and main is never called.
func RunProcess(ctx context.Context, role ProcessRole, blob, channelName string, channel *os.File, main ProcessMain, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("role", role.String())

	params, err := DecodeEntryParams(blob)
	if err != nil {
		logger.Error("Invalid entry params, not starting", "error", err)
		return 1
	}
	if params.Tag != role.Tag() {
		logger.Warn("Entry params tag does not match role", "tag", params.Tag)
	}
	if err := ApplyEnvironment(role, params); err != nil {
		logger.Error("Failed to apply environment", "error", err)
		return 1
	}
	if channel == nil {
		logger.Error("No channel descriptor, not starting", "channel", channelName)
		return 1
	}
	if main == nil {
		logger.Error("No entry point for role")
		return 1
	}

	argv := []string{params.Tag, channelName, strconv.FormatUint(uint64(channel.Fd()), 10)}
	logger.Info("Starting helper entry point", "argv", argv)
	return main(ctx, argv, channel)
}
