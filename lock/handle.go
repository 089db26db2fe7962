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

package lock

import (
	"context"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/atomic"

	gerrors "github.com/tochemey/etcdbridge/errors"
	"github.com/tochemey/etcdbridge/future"
	"github.com/tochemey/etcdbridge/internal/errorschain"
)

// State is the lifecycle state of a lock handle
type State int32

const (
	// Requesting means the lease is being granted
	Requesting State = iota
	// Contending means the contender key exists and waits for its turn
	Contending
	// Held means the lock is owned
	Held
	// Released means the lock was released, or its lease expired
	Released
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Requesting:
		return "requesting"
	case Contending:
		return "contending"
	case Held:
		return "held"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Handle is one acquisition of a lock
type Handle struct {
	locker   *Locker
	key      string
	leaseID  clientv3.LeaseID
	revision int64

	state    *atomic.Int32
	done     chan struct{}
	doneOnce sync.Once

	stopKeepAlive context.CancelFunc
	keepAliveDone chan struct{}
}

func newHandle(locker *Locker) *Handle {
	return &Handle{
		locker:        locker,
		state:         atomic.NewInt32(int32(Requesting)),
		done:          make(chan struct{}),
		stopKeepAlive: func() {},
	}
}

// Name returns the lock name
func (h *Handle) Name() string {
	return h.locker.opts.Name
}

// Key returns the contender key owning the lock
func (h *Handle) Key() string {
	return h.key
}

// LeaseID returns the lease the contender key is attached to
func (h *Handle) LeaseID() int64 {
	return int64(h.leaseID)
}

// Revision returns the creation revision of the contender key
func (h *Handle) Revision() int64 {
	return h.revision
}

// State returns the handle state
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Done is closed when the handle is released or its lease expires
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Release deletes the contender key and revokes the lease. Both steps are
// attempted even when one of them fails. Releasing a handle that does not
// hold the lock fails with errors.ErrLockNotAcquired.
func (h *Handle) Release(ctx context.Context) error {
	if !h.state.CompareAndSwap(int32(Held), int32(Released)) {
		return gerrors.NewLockError(h.Name(), gerrors.ErrLockNotAcquired)
	}

	_, err := future.Await(ctx, h.locker.rt, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.cleanup(ctx)
	})

	if err != nil {
		h.locker.logger.Warnf("lock=(%s) release failed: %v", h.Name(), err)
		return gerrors.NewLockError(h.Name(), err)
	}

	h.locker.logger.Debugf("lock=(%s) released key=%s", h.Name(), h.key)
	return nil
}

// keepAlive refreshes the lease until the handle is released. When etcd
// stops answering the refresh, the lease is gone and so is the lock.
func (h *Handle) keepAlive() error {
	ctx, cancel := context.WithCancel(context.Background())
	responses, err := h.locker.client.KeepAlive(ctx, h.leaseID)
	if err != nil {
		cancel()
		return gerrors.NewLeaseKeepAliveError(int64(h.leaseID), gerrors.FromEtcd(err))
	}

	h.stopKeepAlive = cancel
	h.keepAliveDone = make(chan struct{})
	go func() {
		defer close(h.keepAliveDone)
		for range responses {
		}

		if ctx.Err() == nil {
			h.locker.logger.Warnf("lock=(%s) lease %x expired", h.Name(), int64(h.leaseID))
			h.state.Store(int32(Released))
			h.markDone()
		}
	}()
	return nil
}

// cleanup stops the keep alive then removes the contender key and the lease
func (h *Handle) cleanup(ctx context.Context) error {
	defer h.markDone()

	h.stopKeepAlive()
	if h.keepAliveDone != nil {
		<-h.keepAliveDone
	}

	client := h.locker.client
	chain := errorschain.New(errorschain.ReturnAll())
	if h.key != "" {
		chain.AddErrorFn(func() error {
			_, err := client.Delete(ctx, h.key)
			return gerrors.FromEtcd(err)
		})
	}

	if h.leaseID != clientv3.NoLease {
		chain.AddErrorFn(func() error {
			_, err := client.Revoke(ctx, h.leaseID)
			if gerrors.IsNotFound(err) {
				return nil
			}
			return gerrors.FromEtcd(err)
		})
	}
	return chain.Error()
}

func (h *Handle) markDone() {
	h.doneOnce.Do(func() {
		close(h.done)
	})
}
