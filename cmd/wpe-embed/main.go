// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/buke/wpe-embed/cmd/wpe-embed/commands"
)

const version = "0.1.0"

func main() {
	var globals commands.Globals
	fs := flag.NewFlagSet("wpe-embed", flag.ContinueOnError)
	fs.StringVar(&globals.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&globals.LogFormat, "log-format", "", "Log format (text, json)")
	fs.StringVar(&globals.ConfigPath, "config", "", "Path to the TOML config file")
	fs.Usage = printUsage
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if fs.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := fs.Arg(0)
	args := fs.Args()[1:]

	var err error
	switch cmd {
	case "run":
		err = commands.Run(args, globals, os.Stdout)
	case "init":
		err = commands.Init(args)
	case "network-process", "web-process":
		os.Exit(commands.Helper(cmd, args, globals))
	case "version", "-v", "--version":
		fmt.Printf("wpe-embed version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`wpe-embed - embedded web view runtime

Usage: wpe-embed [global options] <command> [options]

Commands:
  run              Start the runtime on the headless backend
  init             Write a default wpe-embed.toml
  network-process  Network helper entry point (started by run)
  web-process      Content helper entry point (started by run)
  version          Print version information
  help             Show this help message

Global options:
  --config <path>      TOML config file (default wpe-embed.toml when present)
  --log-level <level>  debug, info, warn or error
  --log-format <fmt>   text or json

Examples:
  wpe-embed init
  wpe-embed run --url https://example.com/
  wpe-embed run --engine quickjs --script app.js --duration 10s`)
}
