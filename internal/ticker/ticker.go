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

// Package ticker provides a restartable ticker whose ticks are dropped,
// rather than queued, when the receiver is slow.
package ticker

import (
	"sync"
	"time"
)

// Ticker delivers ticks on Ticks at a fixed interval
type Ticker struct {
	Ticks    chan time.Time
	interval time.Duration
	mu       sync.Mutex
	stop     chan struct{}
	stopped  chan struct{}
}

// New creates a Ticker firing every interval. It panics when the interval
// is not positive.
func New(interval time.Duration) *Ticker {
	if interval <= 0 {
		panic("ticker: interval must be greater than zero")
	}
	return &Ticker{
		Ticks:    make(chan time.Time),
		interval: interval,
	}
}

// Start starts the ticker. It is a no-op when the ticker is already running.
func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}

	t.stop = make(chan struct{})
	t.stopped = make(chan struct{})
	go t.loop(t.stop, t.stopped)
}

// Stop stops the ticker and waits for the ticking goroutine to exit.
// No tick is delivered after Stop returns until Start is called again.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		return
	}

	close(t.stop)
	<-t.stopped
	t.stop, t.stopped = nil, nil
}

// Ticking reports whether the ticker is running
func (t *Ticker) Ticking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *Ticker) loop(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	clock := time.NewTicker(t.interval)
	defer clock.Stop()

	for {
		select {
		case tc := <-clock.C:
			select {
			case t.Ticks <- tc:
			default:
			}
		case <-stop:
			return
		}
	}
}
