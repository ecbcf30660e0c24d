// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// ExecSpawner launches helpers by re-executing a binary as
//
//	<path> <entry point> --params <blob> --channel <name>
//
// with the channel descriptor inherited at ChannelFD.
type ExecSpawner struct {
	path   string
	args   []string
	logger *slog.Logger

	mu     sync.Mutex
	procs  map[int64]*os.Process
	onExit func(pid int64, signal int)
}

// NewExecSpawner creates a spawner for path. An empty path means the
// running executable. args are inserted before the entry point.
func NewExecSpawner(path string, logger *slog.Logger, args ...string) (*ExecSpawner, error) {
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		path = exe
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecSpawner{
		path:   path,
		args:   args,
		logger: logger,
		procs:  make(map[int64]*os.Process),
	}, nil
}

// SetExitHandler sets the function called after a helper exits. signal is
// the terminating signal, or 0 for a normal exit.
func (s *ExecSpawner) SetExitHandler(fn func(pid int64, signal int)) {
	s.mu.Lock()
	s.onExit = fn
	s.mu.Unlock()
}

// Command builds the command for req without starting it.
func (s *ExecSpawner) Command(req SpawnRequest) (*exec.Cmd, error) {
	if len(req.Channels) != 1 || req.Channels[0].File == nil {
		return nil, errors.New("exactly one channel descriptor is required")
	}
	if req.EntryPoint == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, req.Role)
	}
	args := append([]string{}, s.args...)
	args = append(args, req.EntryPoint, "--params", req.EntryParams, "--channel", req.Channels[0].Name)
	cmd := exec.Command(s.path, args...)
	cmd.ExtraFiles = []*os.File{req.Channels[0].File}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd, nil
}

// Spawn starts the helper and watches for its exit.
func (s *ExecSpawner) Spawn(req SpawnRequest) (int64, error) {
	cmd, err := s.Command(req)
	if err != nil {
		return InvalidPID, err
	}
	if err := cmd.Start(); err != nil {
		return InvalidPID, fmt.Errorf("failed to start %s: %w", req.EntryPoint, err)
	}
	pid := int64(cmd.Process.Pid)

	s.mu.Lock()
	s.procs[pid] = cmd.Process
	s.mu.Unlock()

	go s.wait(pid, cmd)
	return pid, nil
}

func (s *ExecSpawner) wait(pid int64, cmd *exec.Cmd) {
	err := cmd.Wait()
	signal := 0
	if cmd.ProcessState != nil {
		if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			signal = int(ws.Signal())
		}
	}
	if err != nil && signal == 0 {
		s.logger.Debug("Helper process exited with error", "pid", pid, "error", err)
	}

	s.mu.Lock()
	delete(s.procs, pid)
	onExit := s.onExit
	s.mu.Unlock()

	if onExit != nil {
		onExit(pid, signal)
	}
}

// Kill terminates pid if this spawner started it.
func (s *ExecSpawner) Kill(pid int64) error {
	s.mu.Lock()
	p, ok := s.procs[pid]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("process %d not started by this spawner", pid)
	}
	return p.Kill()
}

// Running returns the number of started helpers that have not exited.
func (s *ExecSpawner) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}
