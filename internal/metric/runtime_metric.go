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

package metric

import "go.opentelemetry.io/otel/metric"

// RuntimeMetric groups the gauges describing the bridge runtime.
//
// Instruments:
//   - etcdbridge.tasks.inflight      bridged operations currently running
//   - etcdbridge.contexts.active     open connection contexts
//   - etcdbridge.runtime.generation  current runtime generation
type RuntimeMetric struct {
	inflight   metric.Int64ObservableGauge
	contexts   metric.Int64ObservableGauge
	generation metric.Int64ObservableGauge
}

// NewRuntimeMetric creates the runtime instruments using the provided Meter.
func NewRuntimeMetric(meter metric.Meter) (*RuntimeMetric, error) {
	var instruments RuntimeMetric
	var err error

	if instruments.inflight, err = meter.Int64ObservableGauge(
		"etcdbridge.tasks.inflight",
		metric.WithDescription("Number of bridged operations in flight"),
	); err != nil {
		return nil, err
	}

	if instruments.contexts, err = meter.Int64ObservableGauge(
		"etcdbridge.contexts.active",
		metric.WithDescription("Number of open connection contexts"),
	); err != nil {
		return nil, err
	}

	if instruments.generation, err = meter.Int64ObservableGauge(
		"etcdbridge.runtime.generation",
		metric.WithDescription("Generation of the current runtime"),
	); err != nil {
		return nil, err
	}

	return &instruments, nil
}

// InFlight returns the in-flight operations gauge
func (x *RuntimeMetric) InFlight() metric.Int64ObservableGauge {
	return x.inflight
}

// ActiveContexts returns the open contexts gauge
func (x *RuntimeMetric) ActiveContexts() metric.Int64ObservableGauge {
	return x.contexts
}

// Generation returns the runtime generation gauge
func (x *RuntimeMetric) Generation() metric.Int64ObservableGauge {
	return x.generation
}
