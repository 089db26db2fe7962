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

// Package watch turns an etcd watch into an ordered, cancellable stream of
// change events.
//
// A Stream is lazy: the etcd watch is opened by the first Start or Next.
// A delivery goroutine moves the events etcd pushes into a buffer, and
// Next, run on the bridge runtime, hands them out one at a time. Events
// come out in revision order and each one at most once. A stream is not
// restartable: once it ends, through Close, a once-mode event, a backend
// failure or the backend closing the watch, every later Next reports the
// same end.
package watch

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/atomic"

	"github.com/tochemey/etcdbridge/condvar"
	gerrors "github.com/tochemey/etcdbridge/errors"
	"github.com/tochemey/etcdbridge/future"
	"github.com/tochemey/etcdbridge/internal/lifecycle"
	"github.com/tochemey/etcdbridge/log"
)

const (
	defaultBufferHint = 16
	pollInterval      = 50 * time.Millisecond
)

// item is a buffered event, or the terminal error when err is set
type item struct {
	event *Event
	err   error
}

// Stream is a subscription to the changes of a key or key prefix.
// Next must not be called concurrently; Close can be called from anywhere.
type Stream struct {
	id      string
	key     string
	rt      *lifecycle.Runtime
	watcher clientv3.Watcher
	logger  log.Logger

	prefix        bool
	once          bool
	prevValue     bool
	startRevision int64
	bufferHint    int64
	ready         *condvar.CondVar

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	events       *queue.Queue
	registered   chan struct{}
	registerOnce sync.Once
	registerErr  error
	loopDone     chan struct{}

	// pending holds an item taken from the buffer after the consumer gave up
	pollMu  sync.Mutex
	pending *item

	closed  *atomic.Bool
	end     *atomic.Error
	lastRev *atomic.Int64
}

// New creates a stream over key. Nothing is sent to etcd until Start or Next.
func New(rt *lifecycle.Runtime, watcher clientv3.Watcher, key string, opts ...Option) *Stream {
	s := &Stream{
		id:         uuid.NewString(),
		key:        key,
		rt:         rt,
		watcher:    watcher,
		logger:     log.DefaultLogger,
		bufferHint: defaultBufferHint,
		registered: make(chan struct{}),
		loopDone:   make(chan struct{}),
		closed:     atomic.NewBool(false),
		end:        atomic.NewError(nil),
		lastRev:    atomic.NewInt64(0),
	}

	for _, opt := range opts {
		opt.Apply(s)
	}

	s.events = queue.New(s.bufferHint)
	s.logger = s.logger.With("stream", s.id, "key", key)
	return s
}

// ID returns the stream identifier
func (s *Stream) ID() string {
	return s.id
}

// Key returns the watched key or prefix
func (s *Stream) Key() string {
	return s.key
}

// LastRevision returns the revision of the last event received from etcd
func (s *Stream) LastRevision() int64 {
	return s.lastRev.Load()
}

// Start opens the etcd watch, when not yet opened, and waits until etcd
// has registered it.
func (s *Stream) Start(ctx context.Context) error {
	if s.closed.Load() {
		return gerrors.ErrWatchClosed
	}

	_, err := future.Await(ctx, s.rt, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.open(ctx)
	})
	return err
}

// Next returns the next event. It blocks until an event arrives, the
// stream ends or ctx is done. At the end of the stream it returns
// errors.ErrWatchStreamEnded, after a backend failure an error of kind
// errors.ErrWatch, and after Close errors.ErrWatchClosed.
func (s *Stream) Next(ctx context.Context) (*Event, error) {
	if s.closed.Load() {
		return nil, gerrors.ErrWatchClosed
	}

	if err := s.end.Load(); err != nil {
		return nil, err
	}

	return future.Await(ctx, s.rt, func(ctx context.Context) (*Event, error) {
		if err := s.open(ctx); err != nil {
			return nil, err
		}
		return s.poll(ctx)
	})
}

// All iterates over the stream until it ends or the consumer stops.
// The end of the stream is not reported as an error.
func (s *Stream) All(ctx context.Context) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		for {
			event, err := s.Next(ctx)
			if errors.Is(err, gerrors.ErrWatchStreamEnded) {
				return
			}

			if err != nil {
				yield(nil, err)
				return
			}

			if !yield(event, nil) {
				return
			}
		}
	}
}

// Close cancels the etcd watch and drops the events not yet consumed.
// It is safe to call more than once.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	started, cancel := s.started, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.events.Dispose()
	s.markRegistered(gerrors.ErrWatchClosed)

	if started {
		<-s.loopDone
	}

	s.logger.Debug("watch stream closed")
	return nil
}

// open starts the delivery goroutine once, then waits for registration
func (s *Stream) open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return gerrors.ErrWatchClosed
	}

	if !s.started {
		s.started = true

		watchCtx, cancel := context.WithCancel(clientv3.WithRequireLeader(context.Background()))
		s.cancel = cancel

		opts := []clientv3.OpOption{clientv3.WithCreatedNotify()}
		if s.prefix {
			opts = append(opts, clientv3.WithPrefix())
		}

		if s.startRevision > 0 {
			opts = append(opts, clientv3.WithRev(s.startRevision))
		}

		if s.prevValue {
			opts = append(opts, clientv3.WithPrevKV())
		}

		responses := s.watcher.Watch(watchCtx, s.key, opts...)
		go s.deliver(responses, cancel)
		s.logger.Debugf("watch stream opened (prefix=%t, once=%t)", s.prefix, s.once)
	}
	s.mu.Unlock()

	select {
	case <-s.registered:
		return s.registerErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poll takes the next buffered item
func (s *Stream) poll(ctx context.Context) (*Event, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next := s.pending
		s.pending = nil
		if next == nil {
			items, err := s.events.Poll(1, pollInterval)
			switch {
			case errors.Is(err, queue.ErrTimeout):
				continue
			case errors.Is(err, queue.ErrDisposed):
				return nil, gerrors.ErrWatchClosed
			case err != nil:
				return nil, gerrors.NewWatchError(err)
			}

			polled := items[0].(item)
			next = &polled
		}

		if err := ctx.Err(); err != nil {
			// keep it for the next call
			s.pending = next
			return nil, err
		}

		if next.err != nil {
			s.end.Store(next.err)
			return nil, next.err
		}
		return next.event, nil
	}
}

// deliver moves the watch responses into the buffer until the watch ends
func (s *Stream) deliver(responses clientv3.WatchChan, cancel context.CancelFunc) {
	defer close(s.loopDone)
	defer cancel()

	for resp := range responses {
		if err := resp.Err(); err != nil {
			cause := gerrors.NewWatchError(gerrors.FromEtcd(err))
			s.markRegistered(cause)
			s.finish(cause)
			s.logger.Warnf("watch stream failed: %v", err)
			return
		}

		if resp.Created {
			s.markRegistered(nil)
			continue
		}

		for _, ev := range resp.Events {
			revision := ev.Kv.ModRevision
			if revision < s.lastRev.Load() {
				continue
			}
			s.lastRev.Store(revision)

			if err := s.events.Put(item{event: newEvent(ev)}); err != nil {
				// disposed by Close
				return
			}

			if s.once {
				s.finish(gerrors.ErrWatchStreamEnded)
				return
			}
		}
	}

	s.markRegistered(gerrors.ErrWatchStreamEnded)
	s.finish(gerrors.ErrWatchStreamEnded)
}

func (s *Stream) markRegistered(err error) {
	s.registerOnce.Do(func() {
		s.registerErr = err
		close(s.registered)
		if err == nil && s.ready != nil {
			s.ready.NotifyWaiters()
		}
	})
}

func (s *Stream) finish(err error) {
	_ = s.events.Put(item{err: err})
}
