// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	wpeembed "github.com/buke/wpe-embed"
	"github.com/buke/wpe-embed/headless"
)

// Helper is the entry point of a helper process started by run. It returns
// the process exit code.
func Helper(entry string, args []string, g Globals) int {
	role, err := wpeembed.RoleForEntryPoint(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet(entry, flag.ContinueOnError)
	params := fs.String("params", "", "Entry params blob")
	channel := fs.String("channel", "", "Name of the channel inherited at fd 3")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *channel == "" {
		fmt.Fprintln(os.Stderr, "Error: --channel is required")
		return 2
	}

	config, err := LoadConfig(g.ConfigPath)
	if err != nil {
		config = DefaultConfig()
	}
	g.apply(&config)
	logger, err := NewLogger(config.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger = logger.With("process", role.Tag(), "pid", os.Getpid())

	if _, err := wpeembed.DecodeEntryParams(*params); err != nil {
		logger.Error("Invalid entry params, not starting", "error", err)
		return 1
	}

	file, err := headless.OpenChannel(wpeembed.ChannelFD, *channel)
	if err != nil {
		logger.Error("Failed to open channel", "channel", *channel, "error", err)
		return 1
	}
	defer file.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	main := headless.ContentProcessMain(logger)
	if role == wpeembed.RoleNetwork {
		main = headless.NetworkProcessMain(logger)
	}
	return wpeembed.RunProcess(ctx, role, *params, *channel, file, main, logger)
}
