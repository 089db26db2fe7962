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

// Package tracker counts bridged operations that are still in flight.
//
// Every operation that crosses into the worker pool holds exactly one Token.
// The counter is shared by arbitrary goroutines and is only ever touched
// through atomic add operations.
package tracker

import (
	"context"
	"time"

	"go.uber.org/atomic"
)

// Tracker is a process-wide counter of in-flight bridged operations.
type Tracker struct {
	inflight *atomic.Int64
	begun    *atomic.Uint64
}

// New creates an instance of Tracker
func New() *Tracker {
	return &Tracker{
		inflight: atomic.NewInt64(0),
		begun:    atomic.NewUint64(0),
	}
}

// Begin registers a new in-flight operation and returns the token that owns
// that registration. The token must be released exactly once.
func (t *Tracker) Begin() *Token {
	t.inflight.Inc()
	t.begun.Inc()
	return &Token{
		tracker:  t,
		released: atomic.NewBool(false),
	}
}

// Count returns the number of operations currently in flight.
func (t *Tracker) Count() int64 {
	return t.inflight.Load()
}

// Total returns the number of operations registered since the tracker was created.
func (t *Tracker) Total() uint64 {
	return t.begun.Load()
}

// WaitIdle blocks until no operation is in flight or the context is done.
// The counter is sampled every poll interval.
func (t *Tracker) WaitIdle(ctx context.Context, poll time.Duration) error {
	if t.Count() == 0 {
		return nil
	}

	timer := time.NewTicker(poll)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if t.Count() == 0 {
				return nil
			}
		}
	}
}

// Token owns one increment of the tracker's counter.
type Token struct {
	tracker  *Tracker
	released *atomic.Bool
}

// Release gives back the token's increment. Only the first call has an effect,
// so a token can never decrement the counter twice.
func (x *Token) Release() {
	if x == nil {
		return
	}

	if x.released.CompareAndSwap(false, true) {
		x.tracker.inflight.Dec()
	}
}

// Released reports whether the token has already been given back.
func (x *Token) Released() bool {
	return x.released.Load()
}
