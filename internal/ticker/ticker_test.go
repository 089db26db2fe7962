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

package ticker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestTicker(t *testing.T) {
	t.Run("With ticks delivered", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		tick := New(5 * time.Millisecond)
		tick.Start()
		require.True(t, tick.Ticking())

		count := 0
		timeout := time.After(time.Second)
		for count < 3 {
			select {
			case <-tick.Ticks:
				count++
			case <-timeout:
				t.Fatal("no ticks received")
			}
		}

		tick.Stop()
		assert.False(t, tick.Ticking())
	})
	t.Run("With restart", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		tick := New(5 * time.Millisecond)
		tick.Start()
		tick.Start()
		tick.Stop()
		tick.Stop()

		tick.Start()
		select {
		case <-tick.Ticks:
		case <-time.After(time.Second):
			t.Fatal("no ticks after restart")
		}
		tick.Stop()
	})
	t.Run("With invalid interval", func(t *testing.T) {
		assert.Panics(t, func() { New(0) })
	})
}
