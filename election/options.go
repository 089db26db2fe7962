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
	"github.com/tochemey/etcdbridge/internal/validation"
)

// DefaultTTL is the lease TTL, in seconds, used when Options.TTL is zero
const DefaultTTL int64 = 60

// Options describes an election
type Options struct {
	// Name is the election name. Candidate keys are created under Name + "/".
	Name string
	// TTL is the TTL in seconds of the candidate lease. Zero means DefaultTTL.
	TTL int64
}

// Validate checks the options
func (o Options) Validate() error {
	return validation.New(validation.AllErrors()).
		AddValidator(validation.NewEmptyStringValidator("election name", o.Name)).
		AddAssertion(o.TTL >= 0, "election ttl must not be negative").
		Validate()
}

func (o Options) ttl() int64 {
	if o.TTL > 0 {
		return o.TTL
	}
	return DefaultTTL
}
