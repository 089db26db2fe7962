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

package watch

import (
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EventType is the kind of change
type EventType int

const (
	// Put is emitted when a key is created or updated
	Put EventType = iota
	// Delete is emitted when a key is deleted or its lease expired
	Delete
)

// String returns the event type name
func (t EventType) String() string {
	if t == Delete {
		return "DELETE"
	}
	return "PUT"
}

// Event is one change of the watched key space
type Event struct {
	Type  EventType
	Key   []byte
	Value []byte
	// PrevValue is nil unless the stream was opened WithPrevValue and the key existed
	PrevValue []byte
	// Revision is the store revision of the change
	Revision int64
	// CreateRevision is the revision the key was created at
	CreateRevision int64
	// Version is the number of changes of the key since its creation
	Version int64
	// Lease is the lease the key is attached to, zero when none
	Lease int64
}

func newEvent(ev *clientv3.Event) *Event {
	event := &Event{
		Key:            ev.Kv.Key,
		Value:          ev.Kv.Value,
		Revision:       ev.Kv.ModRevision,
		CreateRevision: ev.Kv.CreateRevision,
		Version:        ev.Kv.Version,
		Lease:          ev.Kv.Lease,
	}

	if ev.Type == mvccpb.DELETE {
		event.Type = Delete
	}

	if ev.PrevKv != nil {
		event.PrevValue = ev.PrevKv.Value
	}
	return event
}
