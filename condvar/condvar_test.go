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

package condvar

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestCondVar(t *testing.T) {
	t.Run("With waiters woken", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		cond := New()
		require.False(t, cond.Notified())

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, cond.Wait(context.Background()))
			}()
		}

		cond.NotifyWaiters()
		cond.NotifyWaiters()
		wg.Wait()
		assert.True(t, cond.Notified())
	})
	t.Run("With wait after notification", func(t *testing.T) {
		cond := New()
		cond.NotifyWaiters()
		require.NoError(t, cond.Wait(context.Background()))
		select {
		case <-cond.Done():
		default:
			t.Fatal("done channel must be closed")
		}
	})
	t.Run("With context done", func(t *testing.T) {
		cond := New()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, cond.Wait(ctx), context.DeadlineExceeded)
		assert.False(t, cond.Notified())
	})
}
