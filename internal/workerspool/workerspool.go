// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool caps how many goroutines a batched coefficient
// evaluation fans out to: chunks of the batch queue on Pool.WaitToStart until
// a slot frees up. It keeps a large batch from spawning one goroutine per
// chunk at once.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool limits the number of concurrently running tasks.
type Pool struct {
	// maxParallelism is the limit of tasks running at once. 0 disables
	// parallelism, negative values remove the limit.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning decreases.
	numRunning int
}

// New returns a Pool running at most maxParallelism tasks at once.
// If maxParallelism is 0 parallelism is disabled and tasks run inline; if it
// is negative there is no limit.
func New(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// NewForCPUs returns a Pool limited to runtime.NumCPU() parallel tasks.
func NewForCPUs() *Pool {
	return New(runtime.NumCPU())
}

// IsEnabled returns whether parallelism is enabled (maxParallelism != 0).
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0).
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the limit of tasks running at once.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// WaitToStart blocks until a slot is free, then runs the task on its own
// goroutine. The caller synchronizes task completion (typically with a
// sync.WaitGroup).
//
// With parallelism disabled the task runs inline and WaitToStart returns only
// when it finishes: don't rely on concurrency between tasks in that mode.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return
	}
	if w.maxParallelism == 0 {
		task()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numRunning >= w.maxParallelism {
		w.cond.Wait()
	}
	w.lockedStart(task)
}

// StartIfAvailable runs the task on its own goroutine if a slot is free and
// returns whether it did. It never blocks.
func (w *Pool) StartIfAvailable(task func()) bool {
	if w.IsUnlimited() {
		go task()
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.numRunning >= w.maxParallelism {
		return false
	}
	w.lockedStart(task)
	return true
}

// lockedStart runs the task keeping tabs on numRunning. It must be called
// with w.mu held.
func (w *Pool) lockedStart(task func()) {
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}
