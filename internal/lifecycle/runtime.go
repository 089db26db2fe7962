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

// Package lifecycle owns the process-wide worker pool that runs bridged
// operations, and decides when it is safe to tear it down.
//
// A Runtime moves through Uninitialized, Running, Draining and ShutDown.
// Any Acquire after ShutDown starts a fresh worker pool under a new
// generation, so handles obtained before the shutdown are rejected.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/atomic"

	gerrors "github.com/tochemey/etcdbridge/errors"
	"github.com/tochemey/etcdbridge/internal/metric"
	"github.com/tochemey/etcdbridge/internal/tracker"
	"github.com/tochemey/etcdbridge/internal/workerpool"
	"github.com/tochemey/etcdbridge/log"
)

const (
	// DefaultGracePeriod bounds a drain
	DefaultGracePeriod = 5 * time.Second
	// DefaultPollInterval is how often a drain checks the in-flight counter
	DefaultPollInterval = 10 * time.Millisecond
)

var (
	defaultRuntime     *Runtime
	defaultRuntimeOnce sync.Once
)

// Default returns the process-wide Runtime
func Default() *Runtime {
	defaultRuntimeOnce.Do(func() {
		defaultRuntime = New()
	})
	return defaultRuntime
}

// Handle is the scheduler of one runtime generation
type Handle struct {
	generation uint64
	pool       *workerpool.WorkerPool
	runtime    *Runtime
}

// Generation returns the generation the handle belongs to
func (h *Handle) Generation() uint64 {
	return h.generation
}

// Submit runs task on the worker pool. It fails with ErrStaleRuntime when
// the handle's generation has been shut down.
func (h *Handle) Submit(task func()) error {
	if h.runtime.current.Load() != h {
		return gerrors.ErrStaleRuntime
	}

	if err := h.pool.Submit(task); err != nil {
		if errors.Is(err, workerpool.ErrPoolStopped) {
			return gerrors.ErrStaleRuntime
		}
		return errors.Join(gerrors.ErrRuntimeStopped, err)
	}
	return nil
}

// Runtime is the reference-counted owner of the worker pool.
//
// Two independent counters drive its lifecycle: the number of bridged
// operations in flight, kept by the tracker, and the number of open
// connection contexts. When the latter drops to zero the runtime drains
// the former, bounded by the grace period, then shuts down.
type Runtime struct {
	// mu serialises start, drain and shutdown
	mu sync.Mutex

	state      *atomic.Int32
	generation *atomic.Uint64
	current    *atomic.Pointer[Handle]
	contexts   *atomic.Int64
	tracker    *tracker.Tracker

	// signals of the current generation
	drainSignal chan struct{}
	stopSignal  chan struct{}
	done        chan struct{}

	gracePeriod  time.Duration
	pollInterval time.Duration
	numShards    int
	logger       log.Logger

	meter        otelmetric.Meter
	metricsReady bool
}

// New creates a Runtime. Nothing is started until the first Acquire.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		state:        atomic.NewInt32(int32(Uninitialized)),
		generation:   atomic.NewUint64(0),
		current:      atomic.NewPointer[Handle](nil),
		contexts:     atomic.NewInt64(0),
		tracker:      tracker.New(),
		gracePeriod:  DefaultGracePeriod,
		pollInterval: DefaultPollInterval,
		logger:       log.DefaultLogger,
	}

	for _, opt := range opts {
		opt.Apply(rt)
	}
	return rt
}

// Acquire returns the scheduler handle, starting a new generation when the
// runtime is Uninitialized or ShutDown. A draining runtime keeps handing
// out its current handle so that in-flight operations can still complete.
func (rt *Runtime) Acquire() (*Handle, error) {
	if handle := rt.current.Load(); handle != nil {
		switch rt.State() {
		case Running, Draining:
			return handle, nil
		}
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	switch rt.State() {
	case Running:
		return rt.current.Load(), nil
	case Draining:
		// drained by BeginDrain alone, nobody finished the shutdown
		rt.finishShutdownLocked()
	}

	if err := rt.registerMetrics(); err != nil {
		return nil, err
	}

	generation := rt.generation.Inc()
	pool := workerpool.New(workerpool.WithNumShards(rt.numShards))
	pool.Start()

	rt.drainSignal = make(chan struct{})
	rt.stopSignal = make(chan struct{})
	rt.done = make(chan struct{})
	go rt.manage(generation, pool, rt.drainSignal, rt.stopSignal, rt.done)

	handle := &Handle{
		generation: generation,
		pool:       pool,
		runtime:    rt,
	}
	rt.current.Store(handle)
	rt.state.Store(int32(Running))

	rt.logger.Debugf("runtime generation=%d started", generation)
	return handle, nil
}

// BeginDrain moves a running runtime to Draining and waits, at most the
// grace period, for in-flight operations to complete. It is a no-op in any
// other state.
func (rt *Runtime) BeginDrain() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.beginDrainLocked()
}

// FinishShutdown stops the worker pool whatever the number of operations
// still in flight. Failures are logged.
func (rt *Runtime) FinishShutdown() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.finishShutdownLocked()
}

// Shutdown drains then stops the runtime. It can be called any number of
// times and never fails.
func (rt *Runtime) Shutdown() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.beginDrainLocked()
	rt.finishShutdownLocked()
}

// EnterContext records an open connection context
func (rt *Runtime) EnterContext() int64 {
	return rt.contexts.Inc()
}

// ExitContext records a closed connection context. The runtime shuts down
// when the last one exits. It must not be called from a bridged operation
// since the drain waits for those.
func (rt *Runtime) ExitContext() int64 {
	for {
		current := rt.contexts.Load()
		if current <= 0 {
			rt.logger.Warn("connection context exited more times than entered")
			return 0
		}

		if rt.contexts.CompareAndSwap(current, current-1) {
			if current == 1 {
				rt.shutdownIfIdle()
			}
			return current - 1
		}
	}
}

// ActiveContexts returns the number of open connection contexts
func (rt *Runtime) ActiveContexts() int64 {
	return rt.contexts.Load()
}

// InFlight returns the number of bridged operations in flight
func (rt *Runtime) InFlight() int64 {
	return rt.tracker.Count()
}

// Tracker returns the in-flight operations tracker
func (rt *Runtime) Tracker() *tracker.Tracker {
	return rt.tracker
}

// State returns the current lifecycle state
func (rt *Runtime) State() State {
	return State(rt.state.Load())
}

// Generation returns the current, or last, generation. Zero means the
// runtime never started.
func (rt *Runtime) Generation() uint64 {
	return rt.generation.Load()
}

// shutdownIfIdle shuts down unless a context was entered in the meantime,
// including during the grace period
func (rt *Runtime) shutdownIfIdle() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.contexts.Load() > 0 {
		return
	}

	drained := rt.beginDrainLocked()
	if drained && rt.contexts.Load() > 0 {
		rt.resumeLocked()
		return
	}
	rt.finishShutdownLocked()
}

// resumeLocked returns a draining runtime to Running with the same generation
func (rt *Runtime) resumeLocked() {
	if !rt.state.CompareAndSwap(int32(Draining), int32(Running)) {
		return
	}
	rt.drainSignal = make(chan struct{})
	rt.logger.Debugf("runtime generation=%d resumed, a connection context entered while draining", rt.generation.Load())
}

// beginDrainLocked reports whether this call moved the runtime to Draining
func (rt *Runtime) beginDrainLocked() bool {
	if !rt.state.CompareAndSwap(int32(Running), int32(Draining)) {
		return false
	}

	generation := rt.generation.Load()
	close(rt.drainSignal)

	ctx, cancel := context.WithTimeout(context.Background(), rt.gracePeriod)
	defer cancel()

	if err := rt.tracker.WaitIdle(ctx, rt.pollInterval); err != nil {
		rt.logger.Warnf("runtime generation=%d grace period of %s elapsed with %d operations in flight",
			generation, rt.gracePeriod, rt.tracker.Count())
	}
	return true
}

func (rt *Runtime) finishShutdownLocked() {
	switch rt.State() {
	case Uninitialized, ShutDown:
		return
	}

	generation := rt.generation.Load()
	rt.current.Store(nil)
	close(rt.stopSignal)

	timer := time.NewTimer(rt.gracePeriod)
	defer timer.Stop()

	select {
	case <-rt.done:
		rt.logger.Debugf("runtime generation=%d shut down", generation)
	case <-timer.C:
		rt.logger.Errorf("runtime generation=%d management goroutine did not exit within %s", generation, rt.gracePeriod)
	}

	rt.state.Store(int32(ShutDown))
}

// manage stops the worker pool of one generation once signalled
func (rt *Runtime) manage(generation uint64, pool *workerpool.WorkerPool, drain, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	select {
	case <-drain:
		rt.logger.Debugf("runtime generation=%d draining", generation)
		<-stop
	case <-stop:
	}

	pool.Stop()
}

func (rt *Runtime) registerMetrics() error {
	if rt.metricsReady {
		return nil
	}

	meter := rt.meter
	if meter == nil {
		meter = metric.NewProvider().Meter()
	}

	instruments, err := metric.NewRuntimeMetric(meter)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, observer otelmetric.Observer) error {
		observer.ObserveInt64(instruments.InFlight(), rt.tracker.Count())
		observer.ObserveInt64(instruments.ActiveContexts(), rt.contexts.Load())
		observer.ObserveInt64(instruments.Generation(), int64(rt.generation.Load()))
		return nil
	}, instruments.InFlight(), instruments.ActiveContexts(), instruments.Generation())
	if err != nil {
		return err
	}

	rt.metricsReady = true
	return nil
}
