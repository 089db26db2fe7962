// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package workerpool implements the multi-threaded scheduler that executes
// bridged operations. Tasks are spread over shards; each shard keeps its
// idle goroutines around for reuse until they have been idle for longer
// than the configured idle timeout.
package workerpool

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tochemey/etcdbridge/internal/ticker"
)

const (
	maxShards = 128

	// minIdleForCleanup is the number of idle workers a shard keeps before
	// the cleanup loop starts retiring the stale ones.
	minIdleForCleanup = 64

	workerIdle    int32 = 0
	workerBusy    int32 = 1
	workerRetired int32 = 2
)

var (
	// ErrPoolNotStarted is returned when work is submitted before Start.
	ErrPoolNotStarted = errors.New("worker pool has not started")
	// ErrPoolStopped is returned when work is submitted after Stop.
	ErrPoolStopped = errors.New("worker pool has stopped")
)

// WorkerPool runs submitted tasks on a bounded set of reusable goroutines.
type WorkerPool struct {
	idleTimeout time.Duration
	numShards   int
	shards      []*shard
	mu          sync.RWMutex
	started     atomic.Bool
	stopped     atomic.Bool
	spawned     atomic.Int64
	executed    atomic.Uint64
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type worker struct {
	tasks    chan func()
	shard    *shard
	lastUsed atomic.Int64
	retired  atomic.Bool
	state    atomic.Int32
}

type shard struct {
	pool    *WorkerPool
	cache   sync.Pool
	idle    []*worker
	fast    atomic.Pointer[worker]
	mu      sync.Mutex
	stopped atomic.Bool
}

// New creates a new worker pool with the given options.
func New(opts ...Option) *WorkerPool {
	wp := &WorkerPool{
		idleTimeout: time.Second,
		numShards:   1,
	}

	for _, opt := range opts {
		opt.Apply(wp)
	}

	switch {
	case wp.numShards < 1:
		wp.numShards = 1
	case wp.numShards > maxShards:
		wp.numShards = maxShards
	}

	if wp.idleTimeout <= 0 {
		wp.idleTimeout = time.Second
	}

	return wp
}

// Start allocates the shards and starts the idle worker cleanup loop.
// Calling Start more than once has no effect.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started.Load() {
		return
	}

	wp.shards = make([]*shard, wp.numShards)
	for i := range wp.shards {
		wp.shards[i] = &shard{
			pool: wp,
			cache: sync.Pool{
				New: func() any {
					return &worker{tasks: make(chan func())}
				},
			},
			idle: make([]*worker, 0, minIdleForCleanup),
		}
	}

	wp.stopCleanup = make(chan struct{})
	wp.cleanupDone = make(chan struct{})
	wp.started.Store(true)
	go wp.cleanup()
}

// Stop retires every idle worker and rejects further submissions.
// Tasks already handed to a worker run to completion.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started.Load() || wp.stopped.Swap(true) {
		wp.mu.Unlock()
		return
	}

	for _, s := range wp.shards {
		s.mu.Lock()
		s.stopped.Store(true)
		for i, w := range s.idle {
			w.retire()
			s.idle[i] = nil
		}
		s.idle = s.idle[:0]
		if w := s.fast.Swap(nil); w != nil {
			w.retire()
		}
		s.mu.Unlock()
	}
	close(wp.stopCleanup)
	wp.mu.Unlock()

	<-wp.cleanupDone
}

// Submit hands the task to an idle worker, or spawns a new one.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	if !wp.started.Load() {
		wp.mu.RUnlock()
		return ErrPoolNotStarted
	}

	if wp.stopped.Load() {
		wp.mu.RUnlock()
		return ErrPoolStopped
	}

	s := wp.shards[rand.IntN(wp.numShards)]
	wp.mu.RUnlock()

	if !s.dispatch(task) {
		return ErrPoolStopped
	}
	return nil
}

// SpawnedWorkers returns the number of live worker goroutines.
func (wp *WorkerPool) SpawnedWorkers() int {
	return int(wp.spawned.Load())
}

// Executed returns the number of tasks that ran to completion.
func (wp *WorkerPool) Executed() uint64 {
	return wp.executed.Load()
}

// Stopped reports whether Stop has been called.
func (wp *WorkerPool) Stopped() bool {
	return wp.stopped.Load()
}

// dispatch returns false when the shard no longer accepts work.
func (s *shard) dispatch(task func()) bool {
	if w := s.fast.Swap(nil); w != nil {
		if w.state.CompareAndSwap(workerIdle, workerBusy) {
			w.tasks <- task
			return true
		}
	}

	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		return false
	}

	for n := len(s.idle); n > 0; n = len(s.idle) {
		w := s.idle[n-1]
		s.idle[n-1] = nil
		s.idle = s.idle[:n-1]
		if w.state.CompareAndSwap(workerIdle, workerBusy) {
			s.mu.Unlock()
			w.tasks <- task
			return true
		}
	}
	s.mu.Unlock()

	w := s.cache.Get().(*worker)
	w.shard = s
	if w.tasks == nil {
		w.tasks = make(chan func())
	}
	w.retired.Store(false)
	w.state.Store(workerBusy)
	go w.run()

	w.tasks <- task
	return true
}

func (w *worker) run() {
	s := w.shard
	pool := s.pool
	pool.spawned.Add(1)

	for task := range w.tasks {
		task()
		pool.executed.Add(1)
		w.state.Store(workerIdle)
		if !s.park(w) {
			break
		}
	}

	pool.spawned.Add(-1)
	w.tasks = nil
	s.cache.Put(w)
}

func (w *worker) retire() {
	if !w.retired.Swap(true) {
		w.state.Store(workerRetired)
		close(w.tasks)
	}
}

// park makes the worker available again. It returns false when the shard
// has been stopped and the worker must exit.
func (s *shard) park(w *worker) bool {
	w.lastUsed.Store(time.Now().UnixNano())
	if s.stopped.Load() {
		return false
	}

	if s.fast.CompareAndSwap(nil, w) {
		// Stop may have drained the fast slot before the swap landed
		if s.stopped.Load() && s.fast.CompareAndSwap(w, nil) {
			return false
		}
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return false
	}

	s.idle = append(s.idle, w)
	return true
}

// cleanup retires workers that stayed idle for longer than idleTimeout.
func (wp *WorkerPool) cleanup() {
	defer close(wp.cleanupDone)

	tick := ticker.New(wp.idleTimeout)
	tick.Start()
	defer tick.Stop()

	var stale []*worker
	for {
		select {
		case <-wp.stopCleanup:
			return
		case <-tick.Ticks:
		}

		cutoff := time.Now().Add(-wp.idleTimeout).UnixNano()
		for _, s := range wp.shards {
			if s.stopped.Load() {
				continue
			}

			s.mu.Lock()
			if len(s.idle) <= minIdleForCleanup {
				s.mu.Unlock()
				continue
			}

			// idle is ordered by parking time, oldest first
			pos := 0
			for pos < len(s.idle) && s.idle[pos].lastUsed.Load() < cutoff {
				pos++
			}

			stale = append(stale[:0], s.idle[:pos]...)
			kept := copy(s.idle, s.idle[pos:])
			for i := kept; i < len(s.idle); i++ {
				s.idle[i] = nil
			}
			s.idle = s.idle[:kept]
			s.mu.Unlock()

			for i, w := range stale {
				if w.state.CompareAndSwap(workerIdle, workerRetired) {
					w.retired.Store(true)
					close(w.tasks)
				}
				stale[i] = nil
			}
		}
	}
}
