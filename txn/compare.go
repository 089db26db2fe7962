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
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// CompareOp is the comparison operator of a Compare
type CompareOp int

const (
	// Equal holds when the target equals the expected value
	Equal CompareOp = iota
	// NotEqual holds when the target differs from the expected value
	NotEqual
	// Greater holds when the target is greater than the expected value
	Greater
	// Less holds when the target is less than the expected value
	Less
)

// String returns the operator as etcd spells it
func (op CompareOp) String() string {
	switch op {
	case Equal:
		return "="
	case NotEqual:
		return "!="
	case Greater:
		return ">"
	case Less:
		return "<"
	default:
		return "?"
	}
}

func (op CompareOp) valid() bool {
	return op >= Equal && op <= Less
}

type target int

const (
	targetVersion target = iota
	targetCreateRevision
	targetModRevision
	targetValue
	targetLease
)

func (t target) String() string {
	switch t {
	case targetVersion:
		return "version"
	case targetCreateRevision:
		return "create_revision"
	case targetModRevision:
		return "mod_revision"
	case targetValue:
		return "value"
	default:
		return "lease"
	}
}

// Compare is one condition of a transaction guard. All the conditions of
// a transaction are evaluated against a single revision.
type Compare struct {
	key      string
	target   target
	op       CompareOp
	number   int64
	value    string
	rangeEnd string
	prefix   bool
}

// Version compares the version of key
func Version(key string, op CompareOp, version int64) Compare {
	return Compare{key: key, target: targetVersion, op: op, number: version}
}

// CreateRevision compares the creation revision of key. A missing key has
// a creation revision of zero.
func CreateRevision(key string, op CompareOp, revision int64) Compare {
	return Compare{key: key, target: targetCreateRevision, op: op, number: revision}
}

// ModRevision compares the last modification revision of key
func ModRevision(key string, op CompareOp, revision int64) Compare {
	return Compare{key: key, target: targetModRevision, op: op, number: revision}
}

// Value compares the value of key, byte by byte
func Value(key string, op CompareOp, value string) Compare {
	return Compare{key: key, target: targetValue, op: op, value: value}
}

// Lease compares the lease key is attached to. Zero means no lease.
func Lease(key string, op CompareOp, lease int64) Compare {
	return Compare{key: key, target: targetLease, op: op, number: lease}
}

// WithRange applies the comparison to every key in [key, end)
func (c Compare) WithRange(end string) Compare {
	c.rangeEnd = end
	c.prefix = false
	return c
}

// WithPrefix applies the comparison to every key starting with key
func (c Compare) WithPrefix() Compare {
	c.prefix = true
	c.rangeEnd = ""
	return c
}

// Key returns the compared key
func (c Compare) Key() string {
	return c.key
}

// String renders the comparison, mostly for logs
func (c Compare) String() string {
	var expected any = c.number
	if c.target == targetValue {
		expected = fmt.Sprintf("%q", c.value)
	}

	scope := ""
	switch {
	case c.prefix:
		scope = "*"
	case c.rangeEnd != "":
		scope = ".." + c.rangeEnd
	}
	return fmt.Sprintf("%s(%s%s) %s %v", c.target, c.key, scope, c.op, expected)
}

func (c Compare) etcd() clientv3.Cmp {
	var cmp clientv3.Cmp
	switch c.target {
	case targetVersion:
		cmp = clientv3.Compare(clientv3.Version(c.key), c.op.String(), c.number)
	case targetCreateRevision:
		cmp = clientv3.Compare(clientv3.CreateRevision(c.key), c.op.String(), c.number)
	case targetModRevision:
		cmp = clientv3.Compare(clientv3.ModRevision(c.key), c.op.String(), c.number)
	case targetValue:
		cmp = clientv3.Compare(clientv3.Value(c.key), c.op.String(), c.value)
	case targetLease:
		cmp = clientv3.Compare(clientv3.LeaseValue(c.key), c.op.String(), c.number)
	}

	switch {
	case c.prefix:
		cmp = cmp.WithPrefix()
	case c.rangeEnd != "":
		cmp = cmp.WithRange(c.rangeEnd)
	}
	return cmp
}
