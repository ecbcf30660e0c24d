// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

// taskStatus represents the current status of a task.
type taskStatus int

const (
	taskStatusPending   taskStatus = iota // Task is waiting in the invoker queue
	taskStatusRunning                     // Task is running on the host loop
	taskStatusCompleted                   // Task has run
)

// String returns the string representation of a taskStatus.
func (s taskStatus) String() string {
	switch s {
	case taskStatusPending:
		return "pending"
	case taskStatusRunning:
		return "running"
	case taskStatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// task is a unit of work queued for the host loop. It runs at most once.
type task struct {
	fn     func()
	status taskStatus
}

// newTask creates a pending task for fn.
func newTask(fn func()) *task {
	return &task{
		fn:     fn,
		status: taskStatusPending,
	}
}

// run executes the task once. Later calls are no-ops.
func (t *task) run() {
	if t.status != taskStatusPending {
		return
	}
	t.status = taskStatusRunning
	defer func() { t.status = taskStatusCompleted }()
	t.fn()
}
