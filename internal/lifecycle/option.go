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

package lifecycle

import (
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/tochemey/etcdbridge/log"
)

// Option is the interface that applies a Runtime option.
type Option interface {
	// Apply sets the Option value of a Runtime.
	Apply(rt *Runtime)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(rt *Runtime)

// Apply applies the Runtime's option
func (f OptionFunc) Apply(rt *Runtime) {
	f(rt)
}

// WithGracePeriod bounds how long a drain waits for in-flight operations
func WithGracePeriod(d time.Duration) Option {
	return OptionFunc(func(rt *Runtime) {
		if d > 0 {
			rt.gracePeriod = d
		}
	})
}

// WithPollInterval sets how often a drain checks the in-flight counter
func WithPollInterval(d time.Duration) Option {
	return OptionFunc(func(rt *Runtime) {
		if d > 0 {
			rt.pollInterval = d
		}
	})
}

// WithLogger sets the runtime logger
func WithLogger(logger log.Logger) Option {
	return OptionFunc(func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	})
}

// WithNumShards sets the number of worker pool shards
func WithNumShards(numShards int) Option {
	return OptionFunc(func(rt *Runtime) {
		rt.numShards = numShards
	})
}

// WithMeter sets the meter the runtime gauges are registered on
func WithMeter(meter metric.Meter) Option {
	return OptionFunc(func(rt *Runtime) {
		rt.meter = meter
	})
}
