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

package errorschain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsChain(t *testing.T) {
	t.Run("With ReturnFirst", func(t *testing.T) {
		e1 := errors.New("delete key")
		e2 := errors.New("revoke lease")

		actual := New(ReturnFirst()).AddError(nil).AddError(e1).AddError(e2).Error()
		require.ErrorIs(t, actual, e1)
		require.NotErrorIs(t, actual, e2)
	})
	t.Run("With no error", func(t *testing.T) {
		require.NoError(t, New().AddError(nil).Error())
		require.NoError(t, New(ReturnFirst()).Error())
	})
	t.Run("With ReturnAll", func(t *testing.T) {
		e1 := errors.New("delete key")
		e2 := errors.New("revoke lease")

		actual := New(ReturnAll()).AddErrors(e1, nil, e2).Error()
		require.ErrorIs(t, actual, e1)
		require.ErrorIs(t, actual, e2)
		assert.EqualError(t, actual, "delete key; revoke lease")
	})
	t.Run("With AddErrorFns ReturnFirst", func(t *testing.T) {
		var calls []string
		fn1 := func() error { calls = append(calls, "fn1"); return nil }
		fn2 := func() error { calls = append(calls, "fn2"); return errors.New("err2") }
		fn3 := func() error { calls = append(calls, "fn3"); return errors.New("err3") }

		actual := New(ReturnFirst()).AddErrorFns(fn1, fn2, fn3).Error()
		require.EqualError(t, actual, "err2")
		assert.Equal(t, []string{"fn1", "fn2"}, calls)
	})
	t.Run("With AddErrorFns ReturnAll", func(t *testing.T) {
		var calls []string
		fn1 := func() error { calls = append(calls, "fn1"); return errors.New("err1") }
		fn2 := func() error { calls = append(calls, "fn2"); return nil }
		fn3 := func() error { calls = append(calls, "fn3"); return errors.New("err3") }

		actual := New().AddErrorFn(fn1).AddErrorFn(fn2).AddErrorFn(fn3).Error()
		require.EqualError(t, actual, "err1; err3")
		assert.Equal(t, []string{"fn1", "fn2", "fn3"}, calls)
	})
}
