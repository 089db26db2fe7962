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

package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/goleak"

	gerrors "github.com/tochemey/etcdbridge/errors"
	"github.com/tochemey/etcdbridge/log"
)

type failingMeter struct {
	metric.Meter
}

func (failingMeter) Int64ObservableGauge(string, ...metric.Int64ObservableGaugeOption) (metric.Int64ObservableGauge, error) {
	return nil, errors.New("boom")
}

func newTestRuntime(opts ...Option) *Runtime {
	defaults := []Option{
		WithLogger(log.DiscardLogger),
		WithMeter(noop.NewMeterProvider().Meter("test")),
		WithNumShards(4),
	}
	return New(append(defaults, opts...)...)
}

func TestRuntime(t *testing.T) {
	t.Run("With lazy start", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		rt := newTestRuntime()
		require.Equal(t, Uninitialized, rt.State())
		require.Zero(t, rt.Generation())

		handle, err := rt.Acquire()
		require.NoError(t, err)
		require.NotNil(t, handle)
		assert.Equal(t, Running, rt.State())
		assert.EqualValues(t, 1, handle.Generation())

		again, err := rt.Acquire()
		require.NoError(t, err)
		assert.Same(t, handle, again)

		done := make(chan struct{})
		require.NoError(t, handle.Submit(func() { close(done) }))
		<-done

		rt.Shutdown()
		assert.Equal(t, ShutDown, rt.State())
	})
	t.Run("With restart after shutdown", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		rt := newTestRuntime()
		first, err := rt.Acquire()
		require.NoError(t, err)

		rt.Shutdown()
		require.Equal(t, ShutDown, rt.State())
		require.ErrorIs(t, first.Submit(func() {}), gerrors.ErrStaleRuntime)

		second, err := rt.Acquire()
		require.NoError(t, err)
		assert.EqualValues(t, 2, second.Generation())
		assert.Equal(t, Running, rt.State())
		require.ErrorIs(t, first.Submit(func() {}), gerrors.ErrStaleRuntime)

		done := make(chan struct{})
		require.NoError(t, second.Submit(func() { close(done) }))
		<-done

		rt.Shutdown()
	})
	t.Run("With idempotent shutdown", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		rt := newTestRuntime()
		assert.NotPanics(t, func() {
			rt.Shutdown()
			rt.BeginDrain()
			rt.FinishShutdown()
		})
		assert.Equal(t, Uninitialized, rt.State())

		_, err := rt.Acquire()
		require.NoError(t, err)
		assert.NotPanics(t, func() {
			for range 5 {
				rt.Shutdown()
			}
		})
		assert.Equal(t, ShutDown, rt.State())
	})
	t.Run("With drain waiting for in-flight operations", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		rt := newTestRuntime(WithGracePeriod(5 * time.Second))
		_, err := rt.Acquire()
		require.NoError(t, err)

		token := rt.Tracker().Begin()
		require.EqualValues(t, 1, rt.InFlight())

		go func() {
			time.Sleep(50 * time.Millisecond)
			token.Release()
		}()

		start := time.Now()
		rt.BeginDrain()
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Zero(t, rt.InFlight())
		assert.Equal(t, Draining, rt.State())

		rt.FinishShutdown()
		assert.Equal(t, ShutDown, rt.State())
	})
	t.Run("With drain bounded by the grace period", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		rt := newTestRuntime(WithGracePeriod(100*time.Millisecond), WithPollInterval(5*time.Millisecond))
		_, err := rt.Acquire()
		require.NoError(t, err)

		token := rt.Tracker().Begin()
		start := time.Now()
		rt.Shutdown()
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, ShutDown, rt.State())
		assert.EqualValues(t, 1, rt.InFlight())

		token.Release()
		assert.Zero(t, rt.InFlight())
	})
	t.Run("With draining runtime still handing out its handle", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		rt := newTestRuntime()
		handle, err := rt.Acquire()
		require.NoError(t, err)

		rt.BeginDrain()
		require.Equal(t, Draining, rt.State())

		draining, err := rt.Acquire()
		require.NoError(t, err)
		assert.Same(t, handle, draining)

		rt.FinishShutdown()
		require.Equal(t, ShutDown, rt.State())
	})
	t.Run("With context counting", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		rt := newTestRuntime()
		_, err := rt.Acquire()
		require.NoError(t, err)

		for i := range 3 {
			assert.EqualValues(t, i+1, rt.EnterContext())
		}
		assert.EqualValues(t, 3, rt.ActiveContexts())

		assert.EqualValues(t, 2, rt.ExitContext())
		assert.EqualValues(t, 1, rt.ExitContext())
		assert.Equal(t, Running, rt.State())

		assert.Zero(t, rt.ExitContext())
		assert.Zero(t, rt.ActiveContexts())
		assert.Equal(t, ShutDown, rt.State())

		// unbalanced exit never goes below zero
		assert.Zero(t, rt.ExitContext())
		assert.Zero(t, rt.ActiveContexts())
	})
	t.Run("With context entered during the grace period", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		rt := newTestRuntime(WithGracePeriod(5*time.Second), WithPollInterval(5*time.Millisecond))
		handle, err := rt.Acquire()
		require.NoError(t, err)

		rt.EnterContext()
		token := rt.Tracker().Begin()

		exited := make(chan int64, 1)
		go func() {
			exited <- rt.ExitContext()
		}()

		require.Eventually(t, func() bool {
			return rt.State() == Draining
		}, time.Second, 5*time.Millisecond)

		// a new session arrives while the last operation drains
		rt.EnterContext()
		token.Release()
		assert.Zero(t, <-exited)

		assert.Equal(t, Running, rt.State())
		assert.EqualValues(t, 1, rt.Generation())
		current, err := rt.Acquire()
		require.NoError(t, err)
		assert.Same(t, handle, current)
		require.NoError(t, handle.Submit(func() {}))

		assert.Zero(t, rt.ExitContext())
		assert.Equal(t, ShutDown, rt.State())
		assert.EqualValues(t, 1, rt.Generation())
	})
	t.Run("With concurrent contexts", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		rt := newTestRuntime()
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rt.EnterContext()
				if _, err := rt.Acquire(); err != nil {
					t.Error(err)
				}
				rt.ExitContext()
			}()
		}
		wg.Wait()

		assert.Zero(t, rt.ActiveContexts())
		rt.Shutdown()
		assert.Equal(t, ShutDown, rt.State())
	})
	t.Run("With metric registration failure", func(t *testing.T) {
		rt := New(WithLogger(log.DiscardLogger), WithMeter(failingMeter{Meter: noop.NewMeterProvider().Meter("test")}))
		handle, err := rt.Acquire()
		require.Error(t, err)
		assert.Nil(t, handle)
		assert.Equal(t, Uninitialized, rt.State())
	})
	t.Run("With default runtime", func(t *testing.T) {
		assert.Same(t, Default(), Default())
	})
}

func TestState(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "shutdown", ShutDown.String())
	assert.Equal(t, "unknown", State(9).String())
}
