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

package election

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"

	gerrors "github.com/tochemey/etcdbridge/errors"
	"github.com/tochemey/etcdbridge/internal/testutil"
	"github.com/tochemey/etcdbridge/log"
	"github.com/tochemey/etcdbridge/watch"
)

var server *testutil.Etcd

func TestMain(m *testing.M) {
	testutil.Main(m, &server)
}

func TestOptions(t *testing.T) {
	require.NoError(t, Options{Name: "leader"}.Validate())
	assert.Equal(t, DefaultTTL, Options{Name: "leader"}.ttl())
	assert.EqualValues(t, 10, Options{Name: "leader", TTL: 10}.ttl())

	err := Options{TTL: -1}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "the [election name] is required")
	assert.Contains(t, err.Error(), "election ttl must not be negative")
}

func TestElection(t *testing.T) {
	ctx := context.Background()
	client := server.Client(t)

	t.Run("With a single candidate", func(t *testing.T) {
		rt := testutil.Runtime(t)
		name := testutil.Prefix(t)
		candidate := New(rt, client, Options{Name: name, TTL: 10}, log.DiscardLogger)
		assert.Equal(t, name, candidate.Name())

		_, found, err := candidate.Leader(ctx)
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, candidate.Campaign(ctx, "node-1"))
		leader, found, err := candidate.Leader(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "node-1", leader)

		require.NoError(t, candidate.Proclaim(ctx, "node-1b"))
		leader, _, err = candidate.Leader(ctx)
		require.NoError(t, err)
		assert.Equal(t, "node-1b", leader)

		require.NoError(t, candidate.Resign(ctx))
		_, found, err = candidate.Leader(ctx)
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, candidate.Close(ctx))
		require.NoError(t, candidate.Close(ctx))
	})
	t.Run("With proclaim before campaign", func(t *testing.T) {
		rt := testutil.Runtime(t)
		candidate := New(rt, client, Options{Name: testutil.Prefix(t)}, log.DiscardLogger)
		err := candidate.Proclaim(ctx, "value")
		require.Error(t, err)
		assert.ErrorIs(t, err, gerrors.ErrElection)
		require.NoError(t, candidate.Resign(ctx))
	})
	t.Run("With invalid options", func(t *testing.T) {
		rt := testutil.Runtime(t)
		err := New(rt, client, Options{}, log.DiscardLogger).Campaign(ctx, "value")
		require.Error(t, err)
		assert.ErrorIs(t, err, gerrors.ErrInvalidArgument)
	})
	t.Run("With leadership handed over", func(t *testing.T) {
		rt := testutil.Runtime(t)
		name := testutil.Prefix(t)

		first := New(rt, client, Options{Name: name, TTL: 10}, log.DiscardLogger)
		second := New(rt, client, Options{Name: name, TTL: 10}, log.DiscardLogger)
		defer func() {
			_ = first.Close(ctx)
			_ = second.Close(ctx)
		}()

		require.NoError(t, first.Campaign(ctx, "first"))

		// the second candidate waits while the first leads
		waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
		err := second.Campaign(waitCtx, "second")
		cancel()
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// the withdrawn candidate key goes away
		require.Eventually(t, func() bool {
			resp, err := client.Get(ctx, name+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
			return err == nil && resp.Count == 1
		}, 5*time.Second, 20*time.Millisecond)

		won := make(chan error, 1)
		go func() {
			won <- second.Campaign(ctx, "second")
		}()

		require.Eventually(t, func() bool {
			resp, err := client.Get(ctx, name+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
			return err == nil && resp.Count == 2
		}, 5*time.Second, 20*time.Millisecond)

		require.NoError(t, first.Close(ctx))

		select {
		case err := <-won:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			require.Fail(t, "second candidate was not elected")
		}

		leader, found, err := second.Leader(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "second", leader)
	})
	t.Run("With observe", func(t *testing.T) {
		rt := testutil.Runtime(t)
		name := testutil.Prefix(t)
		candidate := New(rt, client, Options{Name: name, TTL: 10}, log.DiscardLogger)
		defer func() {
			_ = candidate.Close(ctx)
		}()

		stream := candidate.Observe()
		defer stream.Close()
		require.NoError(t, stream.Start(ctx))

		require.NoError(t, candidate.Campaign(ctx, "node-1"))

		event, err := stream.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, watch.Put, event.Type)
		assert.Equal(t, []byte("node-1"), event.Value)
	})
}
