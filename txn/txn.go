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

// Package txn builds etcd transactions as immutable values.
//
// A transaction is a guard, a list of comparisons evaluated against one
// consistent revision, followed by two operation lists. Exactly one of
// them runs: AndThen when every comparison holds, OrElse otherwise.
//
//	resp, err := txn.New().
//		When(txn.Value("cmpkey1", txn.Equal, "foo")).
//		AndThen(txn.Get("successkey")).
//		OrElse(txn.Get("failurekey")).
//		Commit(ctx, kv)
package txn

import (
	"context"
	"errors"
	"fmt"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	gerrors "github.com/tochemey/etcdbridge/errors"
)

// Txn is an immutable transaction. Every builder method returns a copy.
type Txn struct {
	compares []Compare
	thenOps  []Op
	elseOps  []Op
}

// New creates an empty transaction. Committing it as is succeeds and does nothing.
func New() Txn {
	return Txn{}
}

// When appends comparisons to the guard
func (t Txn) When(compares ...Compare) Txn {
	t.compares = append(clone(t.compares), compares...)
	return t
}

// AndThen appends operations to the branch run when the guard holds
func (t Txn) AndThen(ops ...Op) Txn {
	t.thenOps = append(clone(t.thenOps), ops...)
	return t
}

// OrElse appends operations to the branch run when the guard fails
func (t Txn) OrElse(ops ...Op) Txn {
	t.elseOps = append(clone(t.elseOps), ops...)
	return t
}

// Compares returns the guard
func (t Txn) Compares() []Compare {
	return clone(t.compares)
}

// Validate checks the transaction without contacting etcd. Two writes of
// the same branch must not touch the same key.
func (t Txn) Validate() error {
	for _, c := range t.compares {
		if c.key == "" {
			return gerrors.NewInvalidArgumentError(errors.New("comparison key is empty"))
		}
		if !c.op.valid() {
			return gerrors.NewInvalidArgumentError(fmt.Errorf("unknown compare operator %d", c.op))
		}
	}

	if err := validateBranch("and_then", t.thenOps); err != nil {
		return err
	}
	return validateBranch("or_else", t.elseOps)
}

func validateBranch(name string, ops []Op) error {
	for i, op := range ops {
		if op.kind == opTxn {
			if err := op.nested.Validate(); err != nil {
				return err
			}
			continue
		}

		if op.key == "" && !op.prefix {
			return gerrors.NewInvalidArgumentError(fmt.Errorf("%s: operation %d has an empty key", name, i))
		}

		if !op.writes() {
			continue
		}

		for _, other := range ops[:i] {
			if other.writes() && op.overlaps(other) {
				return gerrors.NewInvalidArgumentError(
					fmt.Errorf("%s: duplicate key %q given in transaction", name, op.key))
			}
		}
	}
	return nil
}

// Commit validates then submits the transaction to etcd
func (t Txn) Commit(ctx context.Context, kv clientv3.KV) (*Response, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	cmps, thenOps, elseOps := t.etcd()
	resp, err := kv.Txn(ctx).If(cmps...).Then(thenOps...).Else(elseOps...).Commit()
	if err != nil {
		return nil, gerrors.FromEtcd(err)
	}

	return newResponse((*pb.TxnResponse)(resp)), nil
}

func (t Txn) etcd() ([]clientv3.Cmp, []clientv3.Op, []clientv3.Op) {
	cmps := make([]clientv3.Cmp, 0, len(t.compares))
	for _, c := range t.compares {
		cmps = append(cmps, c.etcd())
	}
	return cmps, etcdOps(t.thenOps), etcdOps(t.elseOps)
}

func etcdOps(ops []Op) []clientv3.Op {
	out := make([]clientv3.Op, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.etcd())
	}
	return out
}

func clone[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// Response reports which branch ran and the result of each of its operations
type Response struct {
	// Succeeded is true when the guard held and AndThen ran
	Succeeded bool
	// Revision is the store revision the transaction was evaluated at
	Revision int64
	// Results holds one entry per operation of the branch that ran
	Results []OpResult
}

// OpResult is the result of one operation
type OpResult struct {
	// Kvs is set for a Get
	Kvs []*mvccpb.KeyValue
	// Deleted is the number of keys a Delete removed
	Deleted int64
	// Txn is set for a nested transaction
	Txn *Response
}

func newResponse(resp *pb.TxnResponse) *Response {
	out := &Response{
		Succeeded: resp.Succeeded,
		Results:   make([]OpResult, 0, len(resp.Responses)),
	}
	if resp.Header != nil {
		out.Revision = resp.Header.Revision
	}

	for _, op := range resp.Responses {
		var result OpResult
		switch {
		case op.GetResponseRange() != nil:
			result.Kvs = op.GetResponseRange().Kvs
		case op.GetResponseDeleteRange() != nil:
			result.Deleted = op.GetResponseDeleteRange().Deleted
		case op.GetResponseTxn() != nil:
			result.Txn = newResponse(op.GetResponseTxn())
		}
		out.Results = append(out.Results, result)
	}
	return out
}
