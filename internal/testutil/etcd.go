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

// Package testutil runs the etcd server the integration tests talk to.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	testcontainer "github.com/testcontainers/testcontainers-go/modules/etcd"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/tochemey/etcdbridge/internal/lifecycle"
	"github.com/tochemey/etcdbridge/log"
)

const etcdImage = "gcr.io/etcd-development/etcd:v3.5.14"

// Etcd is a running single node etcd container
type Etcd struct {
	container *testcontainer.EtcdContainer
	endpoints []string
}

// StartEtcd starts an etcd container and waits for its client endpoint
func StartEtcd(ctx context.Context) (*Etcd, error) {
	container, err := testcontainer.Run(ctx, etcdImage)
	if err != nil {
		return nil, err
	}

	endpoints, err := container.ClientEndpoints(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, err
	}

	return &Etcd{container: container, endpoints: endpoints}, nil
}

// Main starts etcd, runs the package tests then stops etcd. It never returns.
func Main(m *testing.M, target **Etcd) {
	server, err := StartEtcd(context.Background())
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	*target = server
	code := m.Run()
	_ = server.Terminate()
	os.Exit(code)
}

// Endpoints returns the client endpoints
func (e *Etcd) Endpoints() []string {
	return e.endpoints
}

// Client returns a raw etcd client closed when the test ends
func (e *Etcd) Client(t testing.TB) *clientv3.Client {
	t.Helper()
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   e.endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      log.DiscardLogger.Zap(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

// Terminate stops the container
func (e *Etcd) Terminate() error {
	return testcontainers.TerminateContainer(e.container)
}

// Runtime returns a quiet runtime shut down when the test ends
func Runtime(t testing.TB, opts ...lifecycle.Option) *lifecycle.Runtime {
	t.Helper()
	defaults := []lifecycle.Option{
		lifecycle.WithLogger(log.DiscardLogger),
		lifecycle.WithMeter(noop.NewMeterProvider().Meter("test")),
		lifecycle.WithGracePeriod(2 * time.Second),
	}
	rt := lifecycle.New(append(defaults, opts...)...)
	t.Cleanup(rt.Shutdown)
	return rt
}

// Prefix returns a key prefix no other test uses
func Prefix(t testing.TB) string {
	t.Helper()
	name := strings.NewReplacer("/", "-", " ", "-").Replace(t.Name())
	return fmt.Sprintf("/%s/%s", name, uuid.NewString())
}
