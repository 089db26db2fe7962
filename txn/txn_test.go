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

package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	gerrors "github.com/tochemey/etcdbridge/errors"
	"github.com/tochemey/etcdbridge/internal/testutil"
)

var server *testutil.Etcd

func TestMain(m *testing.M) {
	testutil.Main(m, &server)
}

func TestCompare(t *testing.T) {
	t.Run("With operator names", func(t *testing.T) {
		assert.Equal(t, "=", Equal.String())
		assert.Equal(t, "!=", NotEqual.String())
		assert.Equal(t, ">", Greater.String())
		assert.Equal(t, "<", Less.String())
		assert.Equal(t, "?", CompareOp(12).String())
	})
	t.Run("With etcd rendering", func(t *testing.T) {
		cmp := Value("cmpkey1", Equal, "foo").etcd()
		assert.Equal(t, []byte("cmpkey1"), cmp.KeyBytes())
		assert.Equal(t, pb.Compare_EQUAL, cmp.Result)
		assert.Equal(t, pb.Compare_VALUE, cmp.Target)
		assert.Equal(t, []byte("foo"), cmp.ValueBytes())

		cmp = CreateRevision("lock/", Greater, 4).WithPrefix().etcd()
		assert.Equal(t, pb.Compare_CREATE, cmp.Target)
		assert.Equal(t, pb.Compare_GREATER, cmp.Result)
		assert.Equal(t, []byte("lock0"), cmp.RangeEnd)

		cmp = ModRevision("a", Less, 9).WithRange("c").etcd()
		assert.Equal(t, pb.Compare_MOD, cmp.Target)
		assert.Equal(t, []byte("c"), cmp.RangeEnd)

		cmp = Version("a", NotEqual, 0).etcd()
		assert.Equal(t, pb.Compare_VERSION, cmp.Target)
		assert.Equal(t, pb.Compare_NOT_EQUAL, cmp.Result)

		cmp = Lease("a", Equal, 0x1f).etcd()
		assert.Equal(t, pb.Compare_LEASE, cmp.Target)
	})
	t.Run("With string rendering", func(t *testing.T) {
		assert.Equal(t, `value(k) = "v"`, Value("k", Equal, "v").String())
		assert.Equal(t, "version(k*) > 2", Version("k", Greater, 2).WithPrefix().String())
		assert.Equal(t, "mod_revision(a..c) < 3", ModRevision("a", Less, 3).WithRange("c").String())
	})
}

func TestOp(t *testing.T) {
	get := GetPrefix("/d").etcd()
	assert.True(t, get.IsGet())
	assert.Equal(t, []byte("/e"), get.RangeBytes())

	put := PutWithLease("k", []byte{0x00, 0xff}, 7).etcd()
	assert.True(t, put.IsPut())
	assert.Equal(t, []byte{0x00, 0xff}, put.ValueBytes())

	oldest := GetOldest("lock/").etcd()
	assert.True(t, oldest.IsGet())
	assert.Equal(t, []byte("lock0"), oldest.RangeBytes())

	del := Delete("k").etcd()
	assert.True(t, del.IsDelete())

	nested := Nested(New().AndThen(Put("x", []byte("1")))).etcd()
	assert.True(t, nested.IsTxn())
}

func TestTxn(t *testing.T) {
	t.Run("With immutable builder", func(t *testing.T) {
		base := New().When(Value("a", Equal, "1"))
		left := base.AndThen(Put("l", nil))
		right := base.AndThen(Put("r", nil))

		assert.Len(t, base.thenOps, 0)
		require.Len(t, left.thenOps, 1)
		require.Len(t, right.thenOps, 1)
		assert.Equal(t, "l", left.thenOps[0].Key())
		assert.Equal(t, "r", right.thenOps[0].Key())
		assert.Len(t, left.Compares(), 1)
	})
	t.Run("With duplicate put rejected", func(t *testing.T) {
		err := New().AndThen(Put("k", []byte("1")), Put("k", []byte("2"))).Validate()
		require.ErrorIs(t, err, gerrors.ErrInvalidArgument)
	})
	t.Run("With put under deleted prefix rejected", func(t *testing.T) {
		err := New().OrElse(DeletePrefix("/d"), Put("/d/a", nil)).Validate()
		require.ErrorIs(t, err, gerrors.ErrInvalidArgument)
	})
	t.Run("With same key in different branches", func(t *testing.T) {
		err := New().AndThen(Put("k", nil)).OrElse(Delete("k")).Validate()
		require.NoError(t, err)
	})
	t.Run("With reads of a written key", func(t *testing.T) {
		err := New().AndThen(Put("k", nil), Get("k"), Get("k")).Validate()
		require.NoError(t, err)
	})
	t.Run("With invalid nested transaction", func(t *testing.T) {
		nested := New().AndThen(Delete("k"), Delete("k"))
		err := New().AndThen(Nested(nested)).Validate()
		require.ErrorIs(t, err, gerrors.ErrInvalidArgument)
	})
	t.Run("With empty keys rejected", func(t *testing.T) {
		require.ErrorIs(t, New().When(Value("", Equal, "x")).Validate(), gerrors.ErrInvalidArgument)
		require.ErrorIs(t, New().AndThen(Get("")).Validate(), gerrors.ErrInvalidArgument)
		require.ErrorIs(t, New().When(Compare{key: "a", op: CompareOp(9)}).Validate(), gerrors.ErrInvalidArgument)
	})
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	client := server.Client(t)

	t.Run("With guard holding", func(t *testing.T) {
		prefix := testutil.Prefix(t)
		_, err := client.Put(ctx, prefix+"/cmpkey1", "foo")
		require.NoError(t, err)
		_, err = client.Put(ctx, prefix+"/cmpkey2", "baz")
		require.NoError(t, err)
		_, err = client.Put(ctx, prefix+"/successkey", "success")
		require.NoError(t, err)

		resp, err := New().
			When(
				Value(prefix+"/cmpkey1", Equal, "foo"),
				Value(prefix+"/cmpkey2", Greater, "bar"),
			).
			AndThen(Get(prefix + "/successkey")).
			OrElse(Get(prefix + "/failurekey")).
			Commit(ctx, client)
		require.NoError(t, err)
		require.True(t, resp.Succeeded)
		require.Len(t, resp.Results, 1)
		require.Len(t, resp.Results[0].Kvs, 1)
		assert.Equal(t, "success", string(resp.Results[0].Kvs[0].Value))
		assert.Positive(t, resp.Revision)
	})
	t.Run("With guard failing", func(t *testing.T) {
		prefix := testutil.Prefix(t)
		_, err := client.Put(ctx, prefix+"/cmpkey1", "foo")
		require.NoError(t, err)
		_, err = client.Put(ctx, prefix+"/cmpkey2", "baz")
		require.NoError(t, err)

		resp, err := New().
			When(
				Value(prefix+"/cmpkey1", Equal, "foo"),
				Value(prefix+"/cmpkey2", Less, "bar"),
			).
			AndThen(Put(prefix+"/successkey", []byte("ran"))).
			OrElse(Put(prefix+"/failurekey", []byte("ran"))).
			Commit(ctx, client)
		require.NoError(t, err)
		require.False(t, resp.Succeeded)

		got, err := client.Get(ctx, prefix+"/successkey")
		require.NoError(t, err)
		assert.Zero(t, got.Count)

		got, err = client.Get(ctx, prefix+"/failurekey")
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.Count)
	})
	t.Run("With create if missing", func(t *testing.T) {
		prefix := testutil.Prefix(t)
		create := New().
			When(CreateRevision(prefix+"/k", Equal, 0)).
			AndThen(Put(prefix+"/k", []byte("first"))).
			OrElse(Get(prefix + "/k"))

		resp, err := create.Commit(ctx, client)
		require.NoError(t, err)
		assert.True(t, resp.Succeeded)

		resp, err = create.Commit(ctx, client)
		require.NoError(t, err)
		require.False(t, resp.Succeeded)
		assert.Equal(t, "first", string(resp.Results[0].Kvs[0].Value))
	})
	t.Run("With delete and nested transaction", func(t *testing.T) {
		prefix := testutil.Prefix(t)
		_, err := client.Put(ctx, prefix+"/a", "1")
		require.NoError(t, err)
		_, err = client.Put(ctx, prefix+"/b", "2")
		require.NoError(t, err)

		resp, err := New().
			AndThen(
				DeletePrefix(prefix+"/"),
				Nested(New().When(Version(prefix+"-nested", Equal, 0)).AndThen(Put(prefix+"-nested", []byte("3")))),
			).
			Commit(ctx, client)
		require.NoError(t, err)
		require.Len(t, resp.Results, 2)
		assert.EqualValues(t, 2, resp.Results[0].Deleted)
		require.NotNil(t, resp.Results[1].Txn)
		assert.True(t, resp.Results[1].Txn.Succeeded)
	})
	t.Run("With invalid transaction never sent", func(t *testing.T) {
		resp, err := New().AndThen(Put("k", nil), Delete("k")).Commit(ctx, clientv3.NewKVFromKVClient(nil, nil))
		require.ErrorIs(t, err, gerrors.ErrInvalidArgument)
		assert.Nil(t, resp)
	})
}
