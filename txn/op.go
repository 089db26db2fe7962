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
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"
)

type opKind int

const (
	opGet opKind = iota
	opPut
	opDelete
	opTxn
)

// Op is one operation of a transaction branch
type Op struct {
	kind   opKind
	key    string
	value  []byte
	lease  int64
	prefix bool
	oldest bool
	nested *Txn
}

// Get reads key
func Get(key string) Op {
	return Op{kind: opGet, key: key}
}

// GetPrefix reads every key starting with prefix
func GetPrefix(prefix string) Op {
	return Op{kind: opGet, key: prefix, prefix: true}
}

// GetOldest reads the key with the lowest creation revision under prefix
func GetOldest(prefix string) Op {
	return Op{kind: opGet, key: prefix, prefix: true, oldest: true}
}

// Put writes value under key. The value is stored as is.
func Put(key string, value []byte) Op {
	return Op{kind: opPut, key: key, value: value}
}

// PutWithLease writes value under key and attaches it to lease
func PutWithLease(key string, value []byte, lease int64) Op {
	return Op{kind: opPut, key: key, value: value, lease: lease}
}

// Delete removes key
func Delete(key string) Op {
	return Op{kind: opDelete, key: key}
}

// DeletePrefix removes every key starting with prefix
func DeletePrefix(prefix string) Op {
	return Op{kind: opDelete, key: prefix, prefix: true}
}

// Nested runs another transaction as an operation
func Nested(t Txn) Op {
	return Op{kind: opTxn, nested: &t}
}

// Key returns the key the operation targets. It is empty for a nested transaction.
func (o Op) Key() string {
	return o.key
}

func (o Op) writes() bool {
	return o.kind == opPut || o.kind == opDelete
}

// overlaps reports whether two write operations touch a common key
func (o Op) overlaps(other Op) bool {
	switch {
	case o.prefix && other.prefix:
		return strings.HasPrefix(o.key, other.key) || strings.HasPrefix(other.key, o.key)
	case o.prefix:
		return strings.HasPrefix(other.key, o.key)
	case other.prefix:
		return strings.HasPrefix(o.key, other.key)
	default:
		return o.key == other.key
	}
}

func (o Op) etcd() clientv3.Op {
	var opts []clientv3.OpOption
	switch {
	case o.oldest:
		opts = append(opts, clientv3.WithFirstCreate()...)
	case o.prefix:
		opts = append(opts, clientv3.WithPrefix())
	}

	switch o.kind {
	case opPut:
		if o.lease != 0 {
			opts = append(opts, clientv3.WithLease(clientv3.LeaseID(o.lease)))
		}
		return clientv3.OpPut(o.key, string(o.value), opts...)
	case opDelete:
		return clientv3.OpDelete(o.key, opts...)
	case opTxn:
		cmps, thenOps, elseOps := o.nested.etcd()
		return clientv3.OpTxn(cmps, thenOps, elseOps)
	default:
		return clientv3.OpGet(o.key, opts...)
	}
}
