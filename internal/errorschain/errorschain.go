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

// Package errorschain collects the errors of a sequence of steps, such as
// the compensating cleanup run after a failed lock acquisition.
package errorschain

import "go.uber.org/multierr"

// Chain accumulates errors
type Chain struct {
	returnFirst bool
	errs        []error
}

// ChainOption configures a Chain
type ChainOption func(*Chain)

// New creates a Chain. By default every error is kept.
func New(opts ...ChainOption) *Chain {
	chain := &Chain{
		errs: make([]error, 0),
	}

	for _, opt := range opts {
		opt(chain)
	}

	return chain
}

// AddError adds an error. Nil errors are ignored.
func (c *Chain) AddError(err error) *Chain {
	c.errs = append(c.errs, err)
	return c
}

// AddErrors adds several errors
func (c *Chain) AddErrors(errs ...error) *Chain {
	c.errs = append(c.errs, errs...)
	return c
}

// AddErrorFn runs fn and keeps its error. In ReturnFirst mode fn is
// skipped once an error has been recorded.
func (c *Chain) AddErrorFn(fn func() error) *Chain {
	if c.returnFirst && c.failed() {
		return c
	}
	c.errs = append(c.errs, fn())
	return c
}

// AddErrorFns calls AddErrorFn for every fn
func (c *Chain) AddErrorFns(fns ...func() error) *Chain {
	for _, fn := range fns {
		c.AddErrorFn(fn)
	}
	return c
}

// Error returns the first error in ReturnFirst mode, otherwise all the
// errors combined. It returns nil when nothing failed.
func (c *Chain) Error() error {
	var err error
	for _, v := range c.errs {
		if v != nil {
			if c.returnFirst {
				return v
			}
			err = multierr.Append(err, v)
		}
	}
	return err
}

func (c *Chain) failed() bool {
	for _, err := range c.errs {
		if err != nil {
			return true
		}
	}
	return false
}

// ReturnFirst keeps only the first error and stops running functions after it
func ReturnFirst() ChainOption {
	return func(c *Chain) { c.returnFirst = true }
}

// ReturnAll runs every function and keeps every error
func ReturnAll() ChainOption {
	return func(c *Chain) { c.returnFirst = false }
}
