// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// InvalidPID is returned by Launch when no process was started.
const InvalidPID int64 = -1

// ErrUnknownRole is returned for a process role the launcher cannot start.
var ErrUnknownRole = errors.New("unknown process role")

// ProcessRole is the kind of helper process the engine asks for.
type ProcessRole int

const (
	RoleNetwork ProcessRole = iota + 1
	RoleContent
)

// String returns the string representation of a ProcessRole.
func (r ProcessRole) String() string {
	switch r {
	case RoleNetwork:
		return "network"
	case RoleContent:
		return "content"
	default:
		return "unknown"
	}
}

// Tag returns the role tag carried as the first entry-params field.
func (r ProcessRole) Tag() string {
	switch r {
	case RoleNetwork:
		return "WPENetworkProcess"
	case RoleContent:
		return "WPEWebProcess"
	default:
		return ""
	}
}

// EntryPoint returns the name of the helper entry point for the role.
func (r ProcessRole) EntryPoint() string {
	switch r {
	case RoleNetwork:
		return "network-process"
	case RoleContent:
		return "web-process"
	default:
		return ""
	}
}

// Valid reports whether the role can be launched.
func (r ProcessRole) Valid() bool {
	return r == RoleNetwork || r == RoleContent
}

// RoleForEntryPoint maps an entry point name back to its role.
func RoleForEntryPoint(name string) (ProcessRole, error) {
	switch name {
	case RoleNetwork.EntryPoint():
		return RoleNetwork, nil
	case RoleContent.EntryPoint():
		return RoleContent, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
}

// Channel is the pre-opened IPC descriptor handed to a helper, with the
// symbolic name the helper knows it by.
type Channel struct {
	Name string
	File *os.File
}

// SpawnRequest is one helper launch handed to the Spawner.
type SpawnRequest struct {
	Role        ProcessRole
	EntryPoint  string
	EntryParams string
	Channels    []Channel
}

// Spawner is the host's process-launch facility. Spawn is called on the
// host loop.
type Spawner interface {
	Spawn(req SpawnRequest) (int64, error)
}

// Killer is implemented by spawners that can terminate what they started.
type Killer interface {
	Kill(pid int64) error
}

// Launcher starts helper processes on behalf of the engine. It implements
// ProcessProvider.
type Launcher struct {
	invoker *Invoker
	spawner Spawner
	dirs    DirectoryResolver
	timeout time.Duration
	table   *processTable
	logger  *slog.Logger
}

func newLauncher(invoker *Invoker, spawner Spawner, dirs DirectoryResolver, timeout time.Duration, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		invoker: invoker,
		spawner: spawner,
		dirs:    dirs,
		timeout: timeout,
		table:   newProcessTable(),
		logger:  logger,
	}
}

// Launch starts a helper for role with channel as its only inherited
// descriptor and returns its pid, or InvalidPID. The spawn runs on the host
// loop; the caller blocks until it has, or until the launch timeout when one
// is configured.
func (l *Launcher) Launch(role ProcessRole, channel Channel) int64 {
	l.logger.Info("Launching helper process", "role", role.String(), "channel", channel.Name)
	if !role.Valid() {
		l.logger.Error("Unknown process type", "role", int(role))
		return InvalidPID
	}
	if channel.File == nil {
		l.logger.Error("Launch without channel descriptor", "role", role.String())
		return InvalidPID
	}
	if l.spawner == nil {
		l.logger.Error("No process spawner configured", "role", role.String())
		return InvalidPID
	}

	spawn := func() int64 {
		return l.spawn(role, channel)
	}

	var (
		pid int64
		err error
	)
	if l.timeout > 0 {
		pid, err = InvokeSyncTimeout(l.invoker, l.timeout, spawn)
	} else {
		pid, err = InvokeSync(l.invoker, spawn)
	}
	if err != nil {
		l.logger.Error("Launch did not complete on host loop", "role", role.String(), "error", err)
		return InvalidPID
	}
	return pid
}

// spawn runs on the host loop.
func (l *Launcher) spawn(role ProcessRole, channel Channel) int64 {
	if l.dirs == nil {
		l.logger.Error("No directory resolver configured")
		return InvalidPID
	}
	dirs, err := l.dirs()
	if err != nil {
		l.logger.Error("Failed to resolve helper directories", "error", err)
		return InvalidPID
	}
	params, err := BuildEntryParams(role.Tag(), dirs)
	if err != nil {
		l.logger.Error("Failed to build entry params", "error", err)
		return InvalidPID
	}

	l.table.begin()
	pid, err := l.spawner.Spawn(SpawnRequest{
		Role:        role,
		EntryPoint:  role.EntryPoint(),
		EntryParams: params,
		Channels:    []Channel{channel},
	})
	if err != nil {
		l.table.commit(nil)
		l.logger.Error("Failed to start helper process", "role", role.String(), "error", err)
		return InvalidPID
	}
	if pid <= 0 {
		l.table.commit(nil)
		l.logger.Error("Spawner returned invalid pid", "role", role.String(), "pid", pid)
		return InvalidPID
	}

	if !l.table.commit(&ProcessRecord{
		Role:      role,
		PID:       pid,
		Channel:   channel.Name,
		StartedAt: time.Now(),
	}) {
		l.logger.Info("Helper process exited during start", "role", role.String(), "pid", pid)
		return pid
	}
	l.logger.Info("Helper process started", "role", role.String(), "pid", pid)
	return pid
}

// OnExit records that pid exited. It is idempotent and never restarts.
func (l *Launcher) OnExit(pid int64, signal int) {
	rec, ok := l.table.exit(pid)
	if !ok {
		l.logger.Debug("Exit of untracked process", "pid", pid, "signal", signal)
		return
	}
	l.logger.Info("Helper process exited", "role", rec.Role.String(), "pid", pid, "signal", signal)
}

// Terminate is the engine's request to end pid.
func (l *Launcher) Terminate(pid int64) {
	l.logger.Info("Terminate helper process", "pid", pid)
	k, ok := l.spawner.(Killer)
	if !ok {
		return
	}
	if err := k.Kill(pid); err != nil {
		l.logger.Warn("Failed to terminate helper process", "pid", pid, "error", err)
	}
}

// Records returns the live helper processes in launch order.
func (l *Launcher) Records() []ProcessRecord {
	return l.table.snapshot()
}

// Running returns the number of live helper processes.
func (l *Launcher) Running() int {
	return l.table.len()
}
