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
	"github.com/tochemey/etcdbridge/condvar"
	"github.com/tochemey/etcdbridge/log"
)

// Option is the interface that applies a Stream option.
type Option interface {
	// Apply sets the Option value of a Stream.
	Apply(s *Stream)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(s *Stream)

// Apply applies the Stream's option
func (f OptionFunc) Apply(s *Stream) {
	f(s)
}

// WithPrefix watches every key starting with the stream key
func WithPrefix() Option {
	return OptionFunc(func(s *Stream) {
		s.prefix = true
	})
}

// WithOnce ends the stream after its first event
func WithOnce() Option {
	return OptionFunc(func(s *Stream) {
		s.once = true
	})
}

// WithReady sets the condition notified once etcd has registered the watch.
// Changes made after the notification are guaranteed to be observed.
func WithReady(ready *condvar.CondVar) Option {
	return OptionFunc(func(s *Stream) {
		s.ready = ready
	})
}

// WithRevision starts watching at the given store revision
func WithRevision(revision int64) Option {
	return OptionFunc(func(s *Stream) {
		s.startRevision = revision
	})
}

// WithPrevValue makes events carry the value the key had before the change
func WithPrevValue() Option {
	return OptionFunc(func(s *Stream) {
		s.prevValue = true
	})
}

// WithBufferHint sizes the event buffer
func WithBufferHint(hint int64) Option {
	return OptionFunc(func(s *Stream) {
		if hint > 0 {
			s.bufferHint = hint
		}
	})
}

// WithLogger sets the stream logger
func WithLogger(logger log.Logger) Option {
	return OptionFunc(func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	})
}
