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

// Package condvar provides a one-shot condition that goroutines can wait
// on. It is typically handed to a watch stream to learn when the watch is
// registered with etcd.
package condvar

import (
	"context"
	"sync"
)

// CondVar is a condition that, once notified, stays notified
type CondVar struct {
	once sync.Once
	ch   chan struct{}
}

// New creates a CondVar
func New() *CondVar {
	return &CondVar{ch: make(chan struct{})}
}

// Wait blocks until NotifyWaiters is called or ctx is done. It returns
// immediately when the condition was already notified.
func (c *CondVar) Wait(ctx context.Context) error {
	select {
	case <-c.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyWaiters wakes every waiter. Calling it more than once has no effect.
func (c *CondVar) NotifyWaiters() {
	c.once.Do(func() {
		close(c.ch)
	})
}

// Notified reports whether NotifyWaiters has been called
func (c *CondVar) Notified() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Done is closed once NotifyWaiters has been called
func (c *CondVar) Done() <-chan struct{} {
	return c.ch
}
