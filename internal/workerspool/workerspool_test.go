// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolLimit(t *testing.T) {
	const limit = 4
	const numTasks = 64
	pool := New(limit)
	require.True(t, pool.IsEnabled())
	require.False(t, pool.IsUnlimited())
	require.Equal(t, limit, pool.MaxParallelism())

	var running, highWater, executed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < numTasks; i++ {
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			now := running.Add(1)
			for {
				high := highWater.Load()
				if now <= high || highWater.CompareAndSwap(high, now) {
					break
				}
			}
			time.Sleep(time.Millisecond) // Hold the slot so the pool saturates.
			running.Add(-1)
			executed.Add(1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(numTasks), executed.Load())
	assert.LessOrEqual(t, highWater.Load(), int32(limit))
}

func TestPoolDisabled(t *testing.T) {
	pool := New(0)
	require.False(t, pool.IsEnabled())

	var count atomic.Int32
	for i := 0; i < 3; i++ {
		// Runs inline: no synchronization needed.
		pool.WaitToStart(func() { count.Add(1) })
	}
	assert.Equal(t, int32(3), count.Load())
}

func TestPoolUnlimited(t *testing.T) {
	pool := New(-1)
	require.True(t, pool.IsEnabled())
	require.True(t, pool.IsUnlimited())

	const numTasks = 32
	var wg sync.WaitGroup
	var count atomic.Int32
	release := make(chan struct{})
	for i := 0; i < numTasks; i++ {
		wg.Add(1)
		started := pool.StartIfAvailable(func() {
			defer wg.Done()
			<-release
			count.Add(1)
		})
		// Unlimited pools always have a slot.
		require.True(t, started)
	}
	close(release)
	wg.Wait()
	assert.Equal(t, int32(numTasks), count.Load())
}

func TestPoolStartIfAvailable(t *testing.T) {
	pool := New(1)
	var wg sync.WaitGroup
	wg.Add(1)
	release := make(chan struct{})
	require.True(t, pool.StartIfAvailable(func() {
		defer wg.Done()
		<-release
	}))
	// The only slot is taken.
	assert.False(t, pool.StartIfAvailable(func() {}))
	close(release)
	wg.Wait()
}
