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

package errors

import (
	"context"
	"errors"
	"fmt"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrCoordination is the base error every coordination failure derives from.
var ErrCoordination = errors.New("etcd coordination error")

// error kinds. Each one matches ErrCoordination with errors.Is.
var (
	// ErrBackendStatus is returned when the request reached etcd and etcd rejected or failed it.
	ErrBackendStatus = fmt.Errorf("%w: backend status", ErrCoordination)
	// ErrInvalidArgument is returned when a request is malformed.
	ErrInvalidArgument = fmt.Errorf("%w: invalid argument", ErrCoordination)
	// ErrTransport is returned on connection and IO failures.
	ErrTransport = fmt.Errorf("%w: transport", ErrCoordination)
	// ErrInvalidEndpoint is returned when an endpoint URI or header cannot be used.
	ErrInvalidEndpoint = fmt.Errorf("%w: invalid endpoint", ErrCoordination)
	// ErrWatch is returned when a change-event stream fails.
	ErrWatch = fmt.Errorf("%w: watch", ErrCoordination)
	// ErrLeaseKeepAlive is returned when a lease cannot be kept alive.
	ErrLeaseKeepAlive = fmt.Errorf("%w: lease keep alive", ErrCoordination)
	// ErrLock is returned when a distributed lock cannot be acquired or released.
	ErrLock = fmt.Errorf("%w: lock", ErrCoordination)
	// ErrElection is returned when a leader election fails.
	ErrElection = fmt.Errorf("%w: election", ErrCoordination)
	// ErrEncoding is returned when a key or value cannot be encoded or decoded.
	ErrEncoding = fmt.Errorf("%w: encoding", ErrCoordination)
)

var (
	// ErrStaleRuntime is returned when a runtime handle from a previous generation is used.
	ErrStaleRuntime = newKindError(ErrCoordination, "runtime handle belongs to a previous generation")

	// ErrRuntimeStopped is returned when work is submitted to a runtime that is shutting down.
	ErrRuntimeStopped = newKindError(ErrCoordination, "runtime is shut down")

	// ErrTaskPanicked is matched by any PanicError.
	ErrTaskPanicked = newKindError(ErrCoordination, "bridged task panicked")

	// ErrWatchStreamEnded is returned by a stream that has no more events.
	ErrWatchStreamEnded = newKindError(ErrWatch, "watch stream ended")

	// ErrWatchClosed is returned when the consumer reads from a closed stream.
	ErrWatchClosed = newKindError(ErrWatch, "watch stream is closed")

	// ErrLockTimeout is returned when a lock could not be acquired within its timeout.
	ErrLockTimeout = newKindError(ErrLock, "lock acquisition timed out")

	// ErrLockNotAcquired is returned when releasing a lock that is not held.
	ErrLockNotAcquired = newKindError(ErrLock, "lock is not acquired")

	// ErrSessionClosed is returned when an operation is attempted on a closed session.
	ErrSessionClosed = newKindError(ErrInvalidArgument, "session is closed")
)

// kindError is a sentinel matching its kind with errors.Is without
// repeating the kind in its message.
type kindError struct {
	msg  string
	kind error
}

func newKindError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Unwrap() error {
	return e.kind
}

// Error is a classified coordination error. It matches both its Kind and
// its cause with errors.Is.
type Error struct {
	// Kind is one of the kind sentinels, ErrTransport for instance
	Kind error
	// Code is the gRPC status code, set for ErrBackendStatus and ErrInvalidArgument
	Code codes.Code
	// Err is the underlying cause
	Err error
}

// enforce compilation error
var _ error = (*Error)(nil)

// Error implements the standard error interface
func (e *Error) Error() string {
	if e.Code != codes.OK {
		return fmt.Sprintf("%v (code=%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewBackendStatusError wraps an error etcd answered with the given status code.
func NewBackendStatusError(code codes.Code, err error) error {
	return &Error{Kind: ErrBackendStatus, Code: code, Err: err}
}

// NewInvalidArgumentError wraps a base error with ErrInvalidArgument
func NewInvalidArgumentError(err error) error {
	return &Error{Kind: ErrInvalidArgument, Code: codes.InvalidArgument, Err: err}
}

// NewTransportError wraps a base error with ErrTransport
func NewTransportError(err error) error {
	return &Error{Kind: ErrTransport, Err: err}
}

// NewInvalidEndpointError formats an ErrInvalidEndpoint for the given endpoint.
func NewInvalidEndpointError(endpoint string, err error) error {
	return &Error{Kind: ErrInvalidEndpoint, Err: fmt.Errorf("endpoint=(%s) %w", endpoint, err)}
}

// NewWatchError wraps a base error with ErrWatch
func NewWatchError(err error) error {
	return &Error{Kind: ErrWatch, Err: err}
}

// NewLeaseKeepAliveError formats an ErrLeaseKeepAlive for the given lease.
func NewLeaseKeepAliveError(leaseID int64, err error) error {
	return &Error{Kind: ErrLeaseKeepAlive, Err: fmt.Errorf("lease=(%x) %w", leaseID, err)}
}

// NewLockError formats an ErrLock for the given lock name.
func NewLockError(name string, err error) error {
	return &Error{Kind: ErrLock, Err: fmt.Errorf("lock=(%s) %w", name, err)}
}

// NewElectionError formats an ErrElection for the given election name.
func NewElectionError(name string, err error) error {
	return &Error{Kind: ErrElection, Err: fmt.Errorf("election=(%s) %w", name, err)}
}

// NewEncodingError wraps a base error with ErrEncoding
func NewEncodingError(err error) error {
	return &Error{Kind: ErrEncoding, Err: err}
}

// FromEtcd classifies an error returned by the etcd client.
// Context errors are returned unchanged, and so is any error that
// already derives from ErrCoordination.
func FromEtcd(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if errors.Is(err, ErrCoordination) {
		return err
	}

	code, ok := StatusCode(err)
	if !ok {
		return NewTransportError(err)
	}

	switch code {
	case codes.InvalidArgument:
		return NewInvalidArgumentError(err)
	case codes.Unavailable:
		return &Error{Kind: ErrTransport, Code: code, Err: err}
	case codes.Canceled, codes.DeadlineExceeded:
		return &Error{Kind: ErrTransport, Code: code, Err: err}
	default:
		return NewBackendStatusError(code, err)
	}
}

// StatusCode extracts the gRPC status code carried by err. etcd server
// errors surface as rpctypes.EtcdError, raw transport failures as gRPC
// statuses.
func StatusCode(err error) (codes.Code, bool) {
	var etcdErr rpctypes.EtcdError
	if errors.As(err, &etcdErr) {
		return etcdErr.Code(), true
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return st.Code(), true
	}
	return codes.Unknown, false
}

// IsNotFound reports whether err is an etcd "not found" answer, such as
// revoking a lease that already expired.
func IsNotFound(err error) bool {
	if errors.Is(err, rpctypes.ErrLeaseNotFound) || errors.Is(err, rpctypes.ErrGRPCLeaseNotFound) {
		return true
	}
	code, ok := StatusCode(err)
	return ok && code == codes.NotFound
}

// PanicError carries the value recovered from a panicking bridged task
type PanicError struct {
	value any
}

// enforce compilation error
var _ error = (*PanicError)(nil)

// NewPanicError creates an instance of PanicError
func NewPanicError(value any) *PanicError {
	return &PanicError{value: value}
}

// Error implements the standard error interface
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// Value returns the recovered value
func (e *PanicError) Value() any {
	return e.value
}

func (e *PanicError) Unwrap() []error {
	if err, ok := e.value.(error); ok {
		return []error{ErrTaskPanicked, err}
	}
	return []error{ErrTaskPanicked}
}
