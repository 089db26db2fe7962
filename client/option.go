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

package client

import (
	"time"

	"github.com/tochemey/etcdbridge/internal/lifecycle"
	"github.com/tochemey/etcdbridge/log"
)

// ConnectOption configures a Client
type ConnectOption interface {
	// Apply sets the Option value of a config.
	Apply(*config)
}

var _ ConnectOption = OptionFunc(nil)

// OptionFunc implements the ConnectOption interface.
type OptionFunc func(*config)

// Apply applies the options to the config
func (f OptionFunc) Apply(c *config) {
	f(c)
}

// config holds the connection settings of a Client
type config struct {
	username            string
	password            string
	keepAliveInterval   time.Duration
	keepAliveTimeout    time.Duration
	keepAliveWhileIdle  bool
	connectTimeout      time.Duration
	requestTimeout      time.Duration
	tcpKeepAlive        time.Duration
	namespace           string
	logger              log.Logger
	runtime             *lifecycle.Runtime
	statusRetries       int
	statusRetryMinDelay time.Duration
	statusRetryMaxDelay time.Duration
}

func defaultConfig() *config {
	return &config{
		connectTimeout:      5 * time.Second,
		logger:              log.DefaultLogger,
		statusRetries:       3,
		statusRetryMinDelay: 100 * time.Millisecond,
		statusRetryMaxDelay: time.Second,
	}
}

// WithUser sets the credentials used to authenticate against etcd
func WithUser(username, password string) ConnectOption {
	return OptionFunc(func(c *config) {
		c.username = username
		c.password = password
	})
}

// WithKeepAlive sets the gRPC keep alive ping interval and the time to wait
// for a ping acknowledgement before the connection is considered dead
func WithKeepAlive(interval, timeout time.Duration) ConnectOption {
	return OptionFunc(func(c *config) {
		c.keepAliveInterval = interval
		c.keepAliveTimeout = timeout
	})
}

// WithKeepAliveWhileIdle allows keep alive pings when there is no active stream
func WithKeepAliveWhileIdle(enabled bool) ConnectOption {
	return OptionFunc(func(c *config) {
		c.keepAliveWhileIdle = enabled
	})
}

// WithConnectTimeout bounds the connection establishment
func WithConnectTimeout(timeout time.Duration) ConnectOption {
	return OptionFunc(func(c *config) {
		c.connectTimeout = timeout
	})
}

// WithTimeout bounds every session request. Zero means no bound.
func WithTimeout(timeout time.Duration) ConnectOption {
	return OptionFunc(func(c *config) {
		c.requestTimeout = timeout
	})
}

// WithTCPKeepAlive enables TCP keep alive probes on the connections to etcd
func WithTCPKeepAlive(interval time.Duration) ConnectOption {
	return OptionFunc(func(c *config) {
		c.tcpKeepAlive = interval
	})
}

// WithNamespace prefixes every key the session reads, writes, watches or locks
func WithNamespace(namespace string) ConnectOption {
	return OptionFunc(func(c *config) {
		c.namespace = namespace
	})
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) ConnectOption {
	return OptionFunc(func(c *config) {
		c.logger = logger
	})
}

// WithRuntime runs the sessions on the given runtime instead of the
// process-wide one
func WithRuntime(rt *lifecycle.Runtime) ConnectOption {
	return OptionFunc(func(c *config) {
		c.runtime = rt
	})
}

// WithStatusRetry sets how many times the connectivity check is attempted
// and the backoff bounds between attempts
func WithStatusRetry(retries int, minDelay, maxDelay time.Duration) ConnectOption {
	return OptionFunc(func(c *config) {
		c.statusRetries = retries
		c.statusRetryMinDelay = minDelay
		c.statusRetryMaxDelay = maxDelay
	})
}
