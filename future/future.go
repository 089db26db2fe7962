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

// Package future bridges a computation run on the runtime's worker pool
// into a value the calling goroutine can wait on.
//
// Every spawned computation holds one in-flight token for as long as it
// runs. The token is released before the future completes, so a caller
// that observed the completion never sees a stale in-flight count.
package future

import (
	"context"
	"errors"
	"sync"

	gerrors "github.com/tochemey/etcdbridge/errors"
	"github.com/tochemey/etcdbridge/internal/lifecycle"
)

// Future is the pending result of a bridged computation
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Spawn runs fn on the runtime's worker pool. The computation receives ctx
// and is expected to honor it; abandoning the future does not stop it.
//
// Errors returned by fn are passed through unchanged. A panic in fn is
// recovered and delivered as an error matching errors.ErrTaskPanicked.
func Spawn[T any](ctx context.Context, rt *lifecycle.Runtime, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	if err := ctx.Err(); err != nil {
		f.fail(err)
		return f
	}

	handle, err := rt.Acquire()
	if err != nil {
		f.fail(err)
		return f
	}

	token := rt.Tracker().Begin()
	task := func() {
		value, err := run(ctx, fn)
		token.Release()
		f.complete(value, err)
	}

	err = handle.Submit(task)
	if errors.Is(err, gerrors.ErrStaleRuntime) {
		// the runtime shut down between Acquire and Submit
		if handle, err = rt.Acquire(); err == nil {
			err = handle.Submit(task)
		}
	}

	if err != nil {
		token.Release()
		f.fail(err)
	}
	return f
}

// Await spawns fn and waits for its result
func Await[T any](ctx context.Context, rt *lifecycle.Runtime, fn func(context.Context) (T, error)) (T, error) {
	return Spawn(ctx, rt, fn).Await(ctx)
}

// AwaitOrRelease spawns fn and waits for its result. When ctx is done
// before fn returns, a value fn still produces is handed to release
// instead of being dropped.
func AwaitOrRelease[T any](ctx context.Context, rt *lifecycle.Runtime, fn func(context.Context) (T, error), release func(T)) (T, error) {
	f := Spawn(ctx, rt, fn)
	value, err := f.Await(ctx)
	if err != nil {
		go func() {
			<-f.done
			if f.err == nil {
				release(f.value)
			}
		}()
	}
	return value, err
}

// Await blocks until the future completes or ctx is done. It can be
// called any number of times.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}

	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the future completes
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) complete(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

func (f *Future[T]) fail(err error) {
	var zero T
	f.complete(zero, err)
}

func run[T any](ctx context.Context, fn func(context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value = zero
			err = gerrors.NewPanicError(r)
		}
	}()
	return fn(ctx)
}
