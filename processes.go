// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessRecord describes a live helper process.
type ProcessRecord struct {
	Role      ProcessRole
	PID       int64
	Channel   string // channel name passed to the helper
	StartedAt time.Time
}

// processTable tracks live helper processes.
type processTable struct {
	records sync.Map     // pid -> *ProcessRecord
	pids    atomic.Value // *[]int64 in launch order (copy-on-write)
	count   int32        // atomic

	mu       sync.Mutex
	spawning int                // spawns between begin and commit
	exited   map[int64]struct{} // exits seen before their spawn committed
}

func newProcessTable() *processTable {
	t := &processTable{}
	empty := make([]int64, 0)
	t.pids.Store(&empty)
	return t
}

// add records a launched process. A pid already present is replaced.
func (t *processTable) add(rec ProcessRecord) {
	if _, loaded := t.records.Swap(rec.PID, &rec); loaded {
		return
	}
	atomic.AddInt32(&t.count, 1)
	for {
		oldPtr := t.pids.Load().(*[]int64)
		next := append(slices.Clone(*oldPtr), rec.PID)
		if t.pids.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

// remove deletes pid and reports whether it was present. Removing an unknown
// pid is a no-op.
func (t *processTable) remove(pid int64) (ProcessRecord, bool) {
	v, ok := t.records.LoadAndDelete(pid)
	if !ok {
		return ProcessRecord{}, false
	}
	atomic.AddInt32(&t.count, -1)
	for {
		oldPtr := t.pids.Load().(*[]int64)
		next := slices.DeleteFunc(slices.Clone(*oldPtr), func(p int64) bool { return p == pid })
		if t.pids.CompareAndSwap(oldPtr, &next) {
			break
		}
	}
	return *v.(*ProcessRecord), true
}

// begin marks a spawn in progress. Until the matching commit, exits of
// unknown pids are remembered so commit can drop them.
func (t *processTable) begin() {
	t.mu.Lock()
	t.spawning++
	t.mu.Unlock()
}

// commit ends a spawn started with begin. rec is nil when the spawn failed.
// It reports false when nothing was recorded, including when the process
// exited before commit.
func (t *processTable) commit(rec *ProcessRecord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() {
		t.spawning--
		if t.spawning == 0 {
			clear(t.exited)
		}
	}()
	if rec == nil {
		return false
	}
	if _, gone := t.exited[rec.PID]; gone {
		delete(t.exited, rec.PID)
		return false
	}
	t.add(*rec)
	return true
}

// exit removes pid after its process ended.
func (t *processTable) exit(pid int64) (ProcessRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.remove(pid)
	if !ok && t.spawning > 0 {
		if t.exited == nil {
			t.exited = make(map[int64]struct{})
		}
		t.exited[pid] = struct{}{}
	}
	return rec, ok
}

// get returns the record for pid.
func (t *processTable) get(pid int64) (ProcessRecord, bool) {
	v, ok := t.records.Load(pid)
	if !ok {
		return ProcessRecord{}, false
	}
	return *v.(*ProcessRecord), true
}

// snapshot returns every record in launch order.
func (t *processTable) snapshot() []ProcessRecord {
	pids := *t.pids.Load().(*[]int64)
	out := make([]ProcessRecord, 0, len(pids))
	for _, pid := range pids {
		if rec, ok := t.get(pid); ok {
			out = append(out, rec)
		}
	}
	return out
}

// len returns the number of live records.
func (t *processTable) len() int {
	return int(atomic.LoadInt32(&t.count))
}
