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

package client

import (
	"context"
	"errors"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/tochemey/etcdbridge/election"
	gerrors "github.com/tochemey/etcdbridge/errors"
	"github.com/tochemey/etcdbridge/future"
	"github.com/tochemey/etcdbridge/internal/errorschain"
	"github.com/tochemey/etcdbridge/internal/lifecycle"
	"github.com/tochemey/etcdbridge/lock"
	"github.com/tochemey/etcdbridge/log"
	"github.com/tochemey/etcdbridge/txn"
	"github.com/tochemey/etcdbridge/watch"
)

// putPrefixConcurrency bounds the concurrent puts of PutPrefix
const putPrefixConcurrency = 16

// LeaseInfo describes a lease
type LeaseInfo struct {
	// ID is the lease ID
	ID int64
	// TTL is the remaining time to live in seconds. It is -1 when the lease expired.
	TTL int64
	// GrantedTTL is the time to live the lease was granted with
	GrantedTTL int64
	// Keys are the keys attached to the lease
	Keys []string
}

// Session is an open connection to etcd. A session counts as one active
// context of its runtime until it is closed.
type Session struct {
	client  *clientv3.Client
	rt      *lifecycle.Runtime
	logger  log.Logger
	timeout time.Duration

	mu     sync.Mutex
	held   *lock.Handle
	closed *atomic.Bool
}

func newSession(cli *clientv3.Client, cfg *config) *Session {
	return &Session{
		client:  cli,
		rt:      cfg.runtime,
		logger:  cfg.logger,
		timeout: cfg.requestTimeout,
		closed:  atomic.NewBool(false),
	}
}

// call runs fn on the runtime, bounded by the request timeout
func call[T any](ctx context.Context, s *Session, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if s.closed.Load() {
		return zero, gerrors.ErrSessionClosed
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	return future.Await(ctx, s.rt, func(ctx context.Context) (T, error) {
		value, err := fn(ctx)
		if err != nil {
			return zero, gerrors.FromEtcd(err)
		}
		return value, nil
	})
}

// Close releases the lock the session was opened with, closes the etcd
// connection and leaves the runtime. Closing the last session of a runtime
// drains it. Close is idempotent. Teardown failures are logged and returned.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer s.rt.ExitContext()

	s.mu.Lock()
	held := s.held
	s.held = nil
	s.mu.Unlock()

	chain := errorschain.New(errorschain.ReturnAll())
	if held != nil && held.State() == lock.Held {
		chain.AddError(held.Release(ctx))
	}
	chain.AddError(s.client.Close())

	if err := chain.Error(); err != nil {
		s.logger.Warnf("session teardown failed: %v", err)
		return err
	}
	return nil
}

// Closed reports whether the session is closed
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// LockHandle returns the lock the session was opened with, or nil
func (s *Session) LockHandle() *lock.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Lock acquires a lock through the session. The caller releases it.
func (s *Session) Lock(ctx context.Context, opts lock.Options) (*lock.Handle, error) {
	if s.closed.Load() {
		return nil, gerrors.ErrSessionClosed
	}
	return lock.New(s.rt, s.client, opts, s.logger).Acquire(ctx)
}

// Election returns a candidate of the named election. The caller closes it.
func (s *Session) Election(opts election.Options) (*election.Election, error) {
	if s.closed.Load() {
		return nil, gerrors.ErrSessionClosed
	}

	if err := opts.Validate(); err != nil {
		return nil, gerrors.NewInvalidArgumentError(err)
	}
	return election.New(s.rt, s.client, opts, s.logger), nil
}

// Get returns the value of key. found is false when the key does not exist.
func (s *Session) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	resp, err := call(ctx, s, func(ctx context.Context) (*clientv3.GetResponse, error) {
		return s.client.Get(ctx, key)
	})
	if err != nil {
		return nil, false, err
	}

	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

// GetPrefix returns the keys under prefix as a Tree
func (s *Session) GetPrefix(ctx context.Context, prefix string) (Tree, error) {
	resp, err := call(ctx, s, func(ctx context.Context) (*clientv3.GetResponse, error) {
		return s.client.Get(ctx, prefix, clientv3.WithPrefix())
	})
	if err != nil {
		return nil, err
	}

	keys := make([][]byte, len(resp.Kvs))
	values := make([][]byte, len(resp.Kvs))
	for i, kv := range resp.Kvs {
		keys[i] = kv.Key
		values[i] = kv.Value
	}
	return unflatten(prefix, keys, values)
}

// Put sets the value of key
func (s *Session) Put(ctx context.Context, key string, value []byte) error {
	_, err := call(ctx, s, func(ctx context.Context) (*clientv3.PutResponse, error) {
		return s.client.Put(ctx, key, string(value))
	})
	return err
}

// PutWithLease sets the value of key and attaches it to a lease
func (s *Session) PutWithLease(ctx context.Context, key string, value []byte, leaseID int64) error {
	_, err := call(ctx, s, func(ctx context.Context) (*clientv3.PutResponse, error) {
		return s.client.Put(ctx, key, string(value), clientv3.WithLease(clientv3.LeaseID(leaseID)))
	})
	return err
}

// PutPrefix writes every leaf of tree under prefix. Leaves are strings or
// byte slices; levels are Tree or map[string]any. The writes are not atomic.
func (s *Session) PutPrefix(ctx context.Context, prefix string, tree Tree) error {
	entries, err := flatten(prefix, tree)
	if err != nil {
		return err
	}

	_, err = call(ctx, s, func(ctx context.Context) (struct{}, error) {
		eg, ctx := errgroup.WithContext(ctx)
		eg.SetLimit(putPrefixConcurrency)
		for _, e := range entries {
			eg.Go(func() error {
				_, err := s.client.Put(ctx, e.key, e.value)
				return err
			})
		}
		return struct{}{}, eg.Wait()
	})
	return err
}

// Delete removes key and reports whether it existed
func (s *Session) Delete(ctx context.Context, key string) (bool, error) {
	resp, err := call(ctx, s, func(ctx context.Context) (*clientv3.DeleteResponse, error) {
		return s.client.Delete(ctx, key)
	})
	if err != nil {
		return false, err
	}
	return resp.Deleted > 0, nil
}

// DeletePrefix removes every key under prefix and returns how many were removed
func (s *Session) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	resp, err := call(ctx, s, func(ctx context.Context) (*clientv3.DeleteResponse, error) {
		return s.client.Delete(ctx, prefix, clientv3.WithPrefix())
	})
	if err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// Replace sets key to value only when its current value is expected.
// It reports whether the value was replaced; a missing key is never replaced.
func (s *Session) Replace(ctx context.Context, key string, expected, value []byte) (bool, error) {
	resp, err := s.Txn(ctx, txn.New().
		When(txn.Value(key, txn.Equal, string(expected))).
		AndThen(txn.Put(key, value)))
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

// KeysPrefix returns the keys under prefix in key order
func (s *Session) KeysPrefix(ctx context.Context, prefix string) ([]string, error) {
	resp, err := call(ctx, s, func(ctx context.Context) (*clientv3.GetResponse, error) {
		return s.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, string(kv.Key))
	}
	return keys, nil
}

// Txn validates then commits a transaction
func (s *Session) Txn(ctx context.Context, t txn.Txn) (*txn.Response, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return call(ctx, s, func(ctx context.Context) (*txn.Response, error) {
		return t.Commit(ctx, s.client)
	})
}

// LeaseGrant creates a lease with the given time to live in seconds and returns its ID
func (s *Session) LeaseGrant(ctx context.Context, ttl int64) (int64, error) {
	if ttl <= 0 {
		return 0, gerrors.NewInvalidArgumentError(errors.New("lease ttl must be greater than 0"))
	}

	resp, err := call(ctx, s, func(ctx context.Context) (*clientv3.LeaseGrantResponse, error) {
		return s.client.Grant(ctx, ttl)
	})
	if err != nil {
		return 0, err
	}
	return int64(resp.ID), nil
}

// LeaseRevoke revokes a lease and deletes the keys attached to it
func (s *Session) LeaseRevoke(ctx context.Context, leaseID int64) error {
	_, err := call(ctx, s, func(ctx context.Context) (*clientv3.LeaseRevokeResponse, error) {
		return s.client.Revoke(ctx, clientv3.LeaseID(leaseID))
	})
	return err
}

// LeaseTimeToLive describes a lease and the keys attached to it
func (s *Session) LeaseTimeToLive(ctx context.Context, leaseID int64) (*LeaseInfo, error) {
	resp, err := call(ctx, s, func(ctx context.Context) (*clientv3.LeaseTimeToLiveResponse, error) {
		return s.client.TimeToLive(ctx, clientv3.LeaseID(leaseID), clientv3.WithAttachedKeys())
	})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(resp.Keys))
	for _, key := range resp.Keys {
		keys = append(keys, string(key))
	}

	return &LeaseInfo{
		ID:         int64(resp.ID),
		TTL:        resp.TTL,
		GrantedTTL: resp.GrantedTTL,
		Keys:       keys,
	}, nil
}

// LeaseKeepAlive renews a lease once and returns its new time to live
func (s *Session) LeaseKeepAlive(ctx context.Context, leaseID int64) (int64, error) {
	resp, err := call(ctx, s, func(ctx context.Context) (*clientv3.LeaseKeepAliveResponse, error) {
		return s.client.KeepAliveOnce(ctx, clientv3.LeaseID(leaseID))
	})
	if err != nil {
		return 0, gerrors.NewLeaseKeepAliveError(leaseID, err)
	}
	return resp.TTL, nil
}

// Watch subscribes to the changes of key. The stream is opened lazily and
// ends when the session is closed.
func (s *Session) Watch(key string, opts ...watch.Option) (*watch.Stream, error) {
	if s.closed.Load() {
		return nil, gerrors.ErrSessionClosed
	}

	options := append([]watch.Option{watch.WithLogger(s.logger)}, opts...)
	return watch.New(s.rt, s.client, key, options...), nil
}

// WatchPrefix subscribes to the changes of every key under prefix
func (s *Session) WatchPrefix(prefix string, opts ...watch.Option) (*watch.Stream, error) {
	return s.Watch(prefix, append(opts, watch.WithPrefix())...)
}
