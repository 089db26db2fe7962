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

// Package lock implements a lease-backed distributed mutual exclusion lock.
//
// Every contender attaches a key, named after its lease, under the lock
// name. The contender whose key has the lowest creation revision owns the
// lock; the others each watch the key created just before theirs and try
// again when it goes away. Contenders are therefore served in creation
// order. When a contender gives up, times out or fails, its key is
// deleted and its lease revoked before the error is returned.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	gerrors "github.com/tochemey/etcdbridge/errors"
	"github.com/tochemey/etcdbridge/future"
	"github.com/tochemey/etcdbridge/internal/errorschain"
	"github.com/tochemey/etcdbridge/internal/lifecycle"
	"github.com/tochemey/etcdbridge/log"
	"github.com/tochemey/etcdbridge/txn"
	"github.com/tochemey/etcdbridge/watch"
)

// cleanupTimeout bounds the compensating cleanup of a failed acquisition
const cleanupTimeout = 5 * time.Second

var errSessionExpired = errors.New("lease expired while waiting for the lock")

// Locker acquires one named lock
type Locker struct {
	rt     *lifecycle.Runtime
	client *clientv3.Client
	opts   Options
	logger log.Logger
}

// New creates a Locker
func New(rt *lifecycle.Runtime, client *clientv3.Client, opts Options, logger log.Logger) *Locker {
	if logger == nil {
		logger = log.DefaultLogger
	}
	return &Locker{
		rt:     rt,
		client: client,
		opts:   opts,
		logger: logger,
	}
}

// Acquire blocks until the lock is held, the timeout elapses or ctx is
// done. On timeout the returned error matches errors.ErrLockTimeout.
func (l *Locker) Acquire(ctx context.Context) (*Handle, error) {
	if err := l.opts.Validate(); err != nil {
		return nil, gerrors.NewInvalidArgumentError(err)
	}
	return future.AwaitOrRelease(ctx, l.rt, l.acquire, l.releaseLate)
}

// releaseLate gives back a lock acquired after the caller stopped waiting
func (l *Locker) releaseLate(handle *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := handle.Release(ctx); err != nil {
		l.logger.Warnf("lock=(%s) failed to release abandoned acquisition: %v", l.opts.Name, err)
		return
	}
	l.logger.Debugf("lock=(%s) released abandoned acquisition key=%s", l.opts.Name, handle.key)
}

func (l *Locker) acquire(ctx context.Context) (*Handle, error) {
	name := l.opts.Name
	handle := newHandle(l)

	grant, err := l.client.Grant(ctx, l.opts.ttl())
	if err != nil {
		return nil, gerrors.NewLockError(name, gerrors.FromEtcd(err))
	}
	handle.leaseID = grant.ID

	waitCtx := ctx
	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}

	err = handle.keepAlive()
	if err == nil {
		handle.state.Store(int32(Contending))
		err = l.contend(waitCtx, handle)
	}

	// the lease may expire right after the key was confirmed
	if err == nil && !handle.state.CompareAndSwap(int32(Contending), int32(Held)) {
		err = errSessionExpired
	}

	if err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = gerrors.ErrLockTimeout
		}

		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		handle.state.Store(int32(Released))
		cause := errorschain.New(errorschain.ReturnAll()).
			AddError(err).
			AddError(handle.cleanup(cleanupCtx)).
			Error()
		l.logger.Debugf("lock=(%s) acquisition failed: %v", name, cause)
		return nil, gerrors.NewLockError(name, cause)
	}

	l.logger.Debugf("lock=(%s) acquired key=%s revision=%d", name, handle.key, handle.revision)
	return handle, nil
}

// contend creates the contender key, then waits for every older contender to leave
func (l *Locker) contend(ctx context.Context, handle *Handle) error {
	prefix := l.opts.Name + "/"
	handle.key = fmt.Sprintf("%s%x", prefix, int64(handle.leaseID))

	resp, err := txn.New().
		When(txn.CreateRevision(handle.key, txn.Equal, 0)).
		AndThen(txn.PutWithLease(handle.key, nil, int64(handle.leaseID)), txn.GetOldest(prefix)).
		OrElse(txn.Get(handle.key), txn.GetOldest(prefix)).
		Commit(ctx, l.client)
	if err != nil {
		return err
	}

	handle.revision = resp.Revision
	if !resp.Succeeded {
		handle.revision = resp.Results[0].Kvs[0].CreateRevision
	}

	owner := resp.Results[1].Kvs
	if len(owner) > 0 && owner[0].CreateRevision == handle.revision {
		return nil
	}

	for {
		predecessors, err := l.client.Get(ctx, prefix,
			append(clientv3.WithLastCreate(), clientv3.WithMaxCreateRev(handle.revision-1))...)
		if err != nil {
			return gerrors.FromEtcd(err)
		}

		if len(predecessors.Kvs) == 0 {
			break
		}

		predecessor := string(predecessors.Kvs[0].Key)
		if err := l.waitDelete(ctx, predecessor, predecessors.Header.Revision); err != nil {
			return err
		}
	}

	// the lease may have expired while waiting
	current, err := l.client.Get(ctx, handle.key)
	if err != nil {
		return gerrors.FromEtcd(err)
	}

	if len(current.Kvs) == 0 {
		return errSessionExpired
	}
	return nil
}

// waitDelete returns once key is deleted. revision is the store revision
// key was observed at.
func (l *Locker) waitDelete(ctx context.Context, key string, revision int64) error {
	stream := watch.New(l.rt, l.client, key,
		watch.WithRevision(revision+1),
		watch.WithLogger(l.logger))
	defer stream.Close()

	for {
		event, err := stream.Next(ctx)
		if err != nil {
			return err
		}

		if event.Type == watch.Delete {
			return nil
		}
	}
}
