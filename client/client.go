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

// Package client is the entry point of etcdbridge.
//
// A Client holds the connection settings of an etcd cluster. Every
// Connect opens a Session: one etcd connection counted as an active
// context of the bridge runtime. Session operations run on the runtime
// and the calling goroutine only waits for their outcome. Once the last
// session is closed the runtime drains its in-flight work and shuts down;
// the next Connect starts it again.
package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/flowchartsman/retry"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
	"google.golang.org/grpc"

	gerrors "github.com/tochemey/etcdbridge/errors"
	"github.com/tochemey/etcdbridge/future"
	"github.com/tochemey/etcdbridge/internal/lifecycle"
	"github.com/tochemey/etcdbridge/internal/validation"
	"github.com/tochemey/etcdbridge/lock"
)

// Client creates sessions against an etcd cluster.
// An instance of Client can be reused and it is thread safe.
type Client struct {
	endpoints []string
	config    *config
}

// New creates an instance of Client for the given endpoints.
// An endpoint is either host:port or a URL with the http, https, unix or unixs scheme.
func New(endpoints []string, opts ...ConnectOption) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.Apply(cfg)
	}

	if cfg.runtime == nil {
		cfg.runtime = lifecycle.Default()
	}

	return &Client{
		endpoints: endpoints,
		config:    cfg,
	}
}

// ActiveContextCount returns the number of open sessions on the process-wide runtime
func ActiveContextCount() int64 {
	return lifecycle.Default().ActiveContexts()
}

// CleanupRuntime drains and stops the process-wide runtime. It can be
// called any number of times; the next operation starts a new runtime.
func CleanupRuntime() {
	lifecycle.Default().Shutdown()
}

// Connect opens a session. The endpoints and options are validated before
// any connection attempt. Make sure to close the session to free up resources.
func (x *Client) Connect(ctx context.Context) (*Session, error) {
	if err := x.validate(); err != nil {
		return nil, err
	}

	rt := x.config.runtime
	rt.EnterContext()

	cli, err := future.AwaitOrRelease(ctx, rt, x.dial, x.closeLate)
	if err != nil {
		rt.ExitContext()
		return nil, err
	}

	return newSession(cli, x.config), nil
}

// closeLate closes a connection dialed after the caller stopped waiting
func (x *Client) closeLate(cli *clientv3.Client) {
	if err := cli.Close(); err != nil {
		x.config.logger.Warnf("failed to close abandoned connection: %v", err)
	}
}

// WithLock opens a session then acquires the given lock. The lock is
// released when the session is closed.
func (x *Client) WithLock(ctx context.Context, opts lock.Options) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, gerrors.NewInvalidArgumentError(err)
	}

	session, err := x.Connect(ctx)
	if err != nil {
		return nil, err
	}

	handle, err := session.Lock(ctx, opts)
	if err != nil {
		if cerr := session.Close(context.WithoutCancel(ctx)); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}

	session.held = handle
	return session, nil
}

func (x *Client) validate() error {
	if len(x.endpoints) == 0 {
		return gerrors.NewInvalidArgumentError(errors.New("at least one endpoint is required"))
	}

	for _, endpoint := range x.endpoints {
		if err := validation.NewEndpointValidator(endpoint).Validate(); err != nil {
			return gerrors.NewInvalidEndpointError(endpoint, err)
		}
	}

	cfg := x.config
	err := validation.New(validation.AllErrors()).
		AddAssertion(cfg.connectTimeout > 0, "connect timeout must be greater than 0").
		AddAssertion(cfg.requestTimeout >= 0, "request timeout must not be negative").
		AddAssertion(cfg.keepAliveInterval >= 0, "keep alive interval must not be negative").
		AddAssertion(cfg.keepAliveTimeout >= 0, "keep alive timeout must not be negative").
		AddAssertion(cfg.tcpKeepAlive >= 0, "tcp keep alive must not be negative").
		AddAssertion(cfg.statusRetries > 0, "status retries must be greater than 0").
		AddAssertion(cfg.username != "" || cfg.password == "", "a password requires a username").
		AddAssertion(cfg.logger != nil, "logger is required").
		Validate()
	if err != nil {
		return gerrors.NewInvalidArgumentError(err)
	}
	return nil
}

// dial creates the etcd client and waits until the cluster answers
func (x *Client) dial(ctx context.Context) (*clientv3.Client, error) {
	cfg := x.config
	etcdConfig := clientv3.Config{
		Endpoints:            x.endpoints,
		DialTimeout:          cfg.connectTimeout,
		DialKeepAliveTime:    cfg.keepAliveInterval,
		DialKeepAliveTimeout: cfg.keepAliveTimeout,
		PermitWithoutStream:  cfg.keepAliveWhileIdle,
		Username:             cfg.username,
		Password:             cfg.password,
		Logger:               cfg.logger.Zap(),
	}

	if cfg.tcpKeepAlive > 0 {
		etcdConfig.DialOptions = append(etcdConfig.DialOptions, grpc.WithContextDialer(tcpKeepAliveDialer(cfg.tcpKeepAlive)))
	}

	cli, err := clientv3.New(etcdConfig)
	if err != nil {
		return nil, gerrors.FromEtcd(err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.connectTimeout)
	defer cancel()

	retrier := retry.NewRetrier(cfg.statusRetries, cfg.statusRetryMinDelay, cfg.statusRetryMaxDelay)
	err = retrier.RunContext(ctx, func(ctx context.Context) error {
		_, err := cli.Status(ctx, x.endpoints[0])
		return err
	})

	if err != nil {
		cfg.logger.Errorf("failed to reach etcd at %v: %v", x.endpoints, err)
		if cerr := cli.Close(); cerr != nil {
			cfg.logger.Warnf("failed to close etcd client: %v", cerr)
		}
		err = gerrors.FromEtcd(err)
		if !errors.Is(err, gerrors.ErrCoordination) {
			err = gerrors.NewTransportError(err)
		}
		return nil, err
	}

	if cfg.namespace != "" {
		cli.KV = namespace.NewKV(cli.KV, cfg.namespace)
		cli.Watcher = namespace.NewWatcher(cli.Watcher, cfg.namespace)
		cli.Lease = namespace.NewLease(cli.Lease, cfg.namespace)
	}

	cfg.logger.Debugf("connected to etcd at %v", x.endpoints)
	return cli, nil
}

// tcpKeepAliveDialer dials the endpoints with TCP keep alive probes enabled
func tcpKeepAliveDialer(interval time.Duration) func(context.Context, string) (net.Conn, error) {
	dialer := &net.Dialer{KeepAlive: interval}
	return func(ctx context.Context, addr string) (net.Conn, error) {
		network := "tcp"
		for _, scheme := range []string{"unixs://", "unix://", "unixs:", "unix:"} {
			if strings.HasPrefix(addr, scheme) {
				network = "unix"
				addr = strings.TrimPrefix(addr, scheme)
				break
			}
		}

		for _, scheme := range []string{"https://", "http://"} {
			addr = strings.TrimPrefix(addr, scheme)
		}
		return dialer.DialContext(ctx, network, addr)
	}
}
