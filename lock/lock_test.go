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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/atomic"

	gerrors "github.com/tochemey/etcdbridge/errors"
	"github.com/tochemey/etcdbridge/internal/testutil"
	"github.com/tochemey/etcdbridge/log"
)

var server *testutil.Etcd

func TestMain(m *testing.M) {
	testutil.Main(m, &server)
}

func countContenders(t *testing.T, client *clientv3.Client, name string) int64 {
	t.Helper()
	resp, err := client.Get(context.Background(), name+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
	require.NoError(t, err)
	return resp.Count
}

func TestOptions(t *testing.T) {
	t.Run("With valid options", func(t *testing.T) {
		opts := Options{Name: "lock"}
		require.NoError(t, opts.Validate())
		assert.Equal(t, DefaultTTL, opts.ttl())
		assert.EqualValues(t, 5, Options{Name: "lock", TTL: 5}.ttl())
	})
	t.Run("With invalid options", func(t *testing.T) {
		err := Options{Timeout: -time.Second, TTL: -1}.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "the [lock name] is required")
		assert.Contains(t, err.Error(), "lock timeout must not be negative")
		assert.Contains(t, err.Error(), "lock ttl must not be negative")
	})
}

func TestState(t *testing.T) {
	assert.Equal(t, "requesting", Requesting.String())
	assert.Equal(t, "contending", Contending.String())
	assert.Equal(t, "held", Held.String())
	assert.Equal(t, "released", Released.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestLocker(t *testing.T) {
	ctx := context.Background()
	client := server.Client(t)

	t.Run("With acquire and release", func(t *testing.T) {
		rt := testutil.Runtime(t)
		name := testutil.Prefix(t)

		handle, err := New(rt, client, Options{Name: name}, log.DiscardLogger).Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, Held, handle.State())
		assert.Equal(t, name, handle.Name())
		assert.NotZero(t, handle.LeaseID())
		assert.NotZero(t, handle.Revision())
		assert.Contains(t, handle.Key(), name+"/")
		assert.EqualValues(t, 1, countContenders(t, client, name))

		require.NoError(t, handle.Release(ctx))
		assert.Equal(t, Released, handle.State())
		assert.EqualValues(t, 0, countContenders(t, client, name))

		select {
		case <-handle.Done():
		default:
			assert.Fail(t, "done channel should be closed")
		}

		err = handle.Release(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, gerrors.ErrLock)
		assert.ErrorIs(t, err, gerrors.ErrLockNotAcquired)
	})
	t.Run("With invalid options", func(t *testing.T) {
		rt := testutil.Runtime(t)
		handle, err := New(rt, client, Options{}, log.DiscardLogger).Acquire(ctx)
		require.Error(t, err)
		assert.Nil(t, handle)
		assert.ErrorIs(t, err, gerrors.ErrInvalidArgument)
	})
	t.Run("With mutual exclusion", func(t *testing.T) {
		rt := testutil.Runtime(t)
		name := testutil.Prefix(t)

		const contenders = 5
		holders := atomic.NewInt32(0)
		overlap := atomic.NewBool(false)
		acquired := atomic.NewInt32(0)

		var wg sync.WaitGroup
		for range contenders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				handle, err := New(rt, client, Options{Name: name, Timeout: 30 * time.Second}, log.DiscardLogger).Acquire(ctx)
				if !assert.NoError(t, err) {
					return
				}

				if holders.Inc() > 1 {
					overlap.Store(true)
				}
				acquired.Inc()
				time.Sleep(50 * time.Millisecond)
				holders.Dec()

				assert.NoError(t, handle.Release(ctx))
			}()
		}
		wg.Wait()

		assert.False(t, overlap.Load())
		assert.EqualValues(t, contenders, acquired.Load())
		assert.EqualValues(t, 0, countContenders(t, client, name))
	})
	t.Run("With contenders served in order", func(t *testing.T) {
		rt := testutil.Runtime(t)
		name := testutil.Prefix(t)

		first, err := New(rt, client, Options{Name: name}, log.DiscardLogger).Acquire(ctx)
		require.NoError(t, err)

		var (
			mu    sync.Mutex
			order []int
		)

		var wg sync.WaitGroup
		for i := 1; i <= 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				handle, err := New(rt, client, Options{Name: name, Timeout: 30 * time.Second}, log.DiscardLogger).Acquire(ctx)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				assert.NoError(t, handle.Release(ctx))
			}()

			// wait for the contender key before starting the next one
			require.Eventually(t, func() bool {
				return countContenders(t, client, name) == int64(i+1)
			}, 5*time.Second, 10*time.Millisecond)
		}

		require.NoError(t, first.Release(ctx))
		wg.Wait()
		assert.Equal(t, []int{1, 2, 3}, order)
	})
	t.Run("With timeout", func(t *testing.T) {
		rt := testutil.Runtime(t)
		name := testutil.Prefix(t)

		holder, err := New(rt, client, Options{Name: name}, log.DiscardLogger).Acquire(ctx)
		require.NoError(t, err)

		start := time.Now()
		handle, err := New(rt, client, Options{Name: name, Timeout: 300 * time.Millisecond}, log.DiscardLogger).Acquire(ctx)
		require.Error(t, err)
		assert.Nil(t, handle)
		assert.ErrorIs(t, err, gerrors.ErrLock)
		assert.ErrorIs(t, err, gerrors.ErrLockTimeout)
		assert.Less(t, time.Since(start), 5*time.Second)

		// the timed out contender left nothing behind
		assert.EqualValues(t, 1, countContenders(t, client, name))
		leases, err := client.Leases(ctx)
		require.NoError(t, err)
		for _, lease := range leases.Leases {
			if int64(lease.ID) == holder.LeaseID() {
				continue
			}
			ttl, err := client.TimeToLive(ctx, lease.ID, clientv3.WithAttachedKeys())
			require.NoError(t, err)
			for _, key := range ttl.Keys {
				assert.NotContains(t, string(key), name)
			}
		}

		require.NoError(t, holder.Release(ctx))
	})
	t.Run("With canceled context", func(t *testing.T) {
		rt := testutil.Runtime(t)
		name := testutil.Prefix(t)

		holder, err := New(rt, client, Options{Name: name}, log.DiscardLogger).Acquire(ctx)
		require.NoError(t, err)

		cancelCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()

		_, err = New(rt, client, Options{Name: name}, log.DiscardLogger).Acquire(cancelCtx)
		require.Error(t, err)
		assert.False(t, errors.Is(err, gerrors.ErrLockTimeout))

		require.Eventually(t, func() bool {
			return countContenders(t, client, name) == 1
		}, 5*time.Second, 20*time.Millisecond)
		require.NoError(t, holder.Release(ctx))
	})
	t.Run("With context canceled as the lock is acquired", func(t *testing.T) {
		rt := testutil.Runtime(t)
		name := testutil.Prefix(t)

		for i := range 20 {
			cancelCtx, cancel := context.WithCancel(ctx)
			go func() {
				time.Sleep(time.Duration(i) * time.Millisecond)
				cancel()
			}()

			handle, err := New(rt, client, Options{Name: name}, log.DiscardLogger).Acquire(cancelCtx)
			if err == nil {
				require.NoError(t, handle.Release(ctx))
			}
			cancel()
		}

		// acquisitions completed after the caller left are given back
		require.Eventually(t, func() bool {
			return countContenders(t, client, name) == 0
		}, 10*time.Second, 20*time.Millisecond)

		handle, err := New(rt, client, Options{Name: name, Timeout: 5 * time.Second}, log.DiscardLogger).Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, handle.Release(ctx))
	})
	t.Run("With lease revoked while held", func(t *testing.T) {
		rt := testutil.Runtime(t)
		name := testutil.Prefix(t)

		handle, err := New(rt, client, Options{Name: name, TTL: 3}, log.DiscardLogger).Acquire(ctx)
		require.NoError(t, err)

		_, err = client.Revoke(ctx, clientv3.LeaseID(handle.LeaseID()))
		require.NoError(t, err)

		select {
		case <-handle.Done():
		case <-time.After(10 * time.Second):
			require.Fail(t, "lease expiry not observed")
		}
		assert.Equal(t, Released, handle.State())
		assert.ErrorIs(t, handle.Release(ctx), gerrors.ErrLockNotAcquired)
	})
}
