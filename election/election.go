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

// Package election runs leader elections on top of etcd leases.
//
// Candidates campaign by creating a key under the election name, attached
// to their own lease. The candidate with the oldest key leads; the others
// wait for every older key to go away. Leadership is lost when the leader
// resigns, closes the election or its lease expires.
package election

import (
	"context"
	"errors"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	gerrors "github.com/tochemey/etcdbridge/errors"
	"github.com/tochemey/etcdbridge/future"
	"github.com/tochemey/etcdbridge/internal/lifecycle"
	"github.com/tochemey/etcdbridge/log"
	"github.com/tochemey/etcdbridge/watch"
)

// Election is one candidate of a named election
type Election struct {
	rt     *lifecycle.Runtime
	client *clientv3.Client
	opts   Options
	logger log.Logger

	mu       sync.Mutex
	session  *concurrency.Session
	election *concurrency.Election
}

// New creates an Election. No lease is created before the first Campaign.
func New(rt *lifecycle.Runtime, client *clientv3.Client, opts Options, logger log.Logger) *Election {
	if logger == nil {
		logger = log.DefaultLogger
	}
	return &Election{
		rt:     rt,
		client: client,
		opts:   opts,
		logger: logger,
	}
}

// Name returns the election name
func (e *Election) Name() string {
	return e.opts.Name
}

// Campaign blocks until the candidate leads with the given value or ctx is
// done. A canceled campaign withdraws the candidate key.
func (e *Election) Campaign(ctx context.Context, value string) error {
	if err := e.opts.Validate(); err != nil {
		return gerrors.NewInvalidArgumentError(err)
	}

	_, err := future.Await(ctx, e.rt, func(ctx context.Context) (struct{}, error) {
		election, err := e.candidate(ctx)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, election.Campaign(ctx, value)
	})
	if err != nil {
		return e.error(err)
	}

	e.logger.Debugf("election=(%s) won", e.opts.Name)
	return nil
}

// Proclaim changes the value of the leader without a new election
func (e *Election) Proclaim(ctx context.Context, value string) error {
	election := e.current()
	if election == nil {
		return e.error(concurrency.ErrElectionNotLeader)
	}

	_, err := future.Await(ctx, e.rt, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, election.Proclaim(ctx, value)
	})
	if err != nil {
		return e.error(err)
	}
	return nil
}

// Leader returns the value of the current leader. found is false when
// there is no leader.
func (e *Election) Leader(ctx context.Context) (value string, found bool, err error) {
	if err := e.opts.Validate(); err != nil {
		return "", false, gerrors.NewInvalidArgumentError(err)
	}

	resp, err := future.Await(ctx, e.rt, func(ctx context.Context) (*clientv3.GetResponse, error) {
		return e.client.Get(ctx, e.opts.Name+"/", clientv3.WithFirstCreate()...)
	})
	if err != nil {
		return "", false, e.error(err)
	}

	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// Observe returns a stream of the candidate key changes. A Put event
// on the oldest candidate key is a leader change.
func (e *Election) Observe(opts ...watch.Option) *watch.Stream {
	options := append([]watch.Option{watch.WithLogger(e.logger)}, opts...)
	return watch.New(e.rt, e.client, e.opts.Name+"/", append(options, watch.WithPrefix())...)
}

// Resign gives up leadership, or withdraws the candidacy. The candidate
// can campaign again afterward.
func (e *Election) Resign(ctx context.Context) error {
	election := e.current()
	if election == nil {
		return nil
	}

	_, err := future.Await(ctx, e.rt, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, election.Resign(ctx)
	})
	if err != nil {
		return e.error(err)
	}

	e.logger.Debugf("election=(%s) resigned", e.opts.Name)
	return nil
}

// Close resigns then revokes the candidate lease
func (e *Election) Close(ctx context.Context) error {
	e.mu.Lock()
	session, election := e.session, e.election
	e.session, e.election = nil, nil
	e.mu.Unlock()

	if session == nil {
		return nil
	}

	_, err := future.Await(ctx, e.rt, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, errors.Join(election.Resign(ctx), session.Close())
	})
	if err != nil {
		return e.error(err)
	}
	return nil
}

// candidate returns the concurrency election of this candidate, creating
// its lease on first use
func (e *Election) candidate(ctx context.Context) (*concurrency.Election, error) {
	if election := e.current(); election != nil {
		return election, nil
	}

	grant, err := e.client.Grant(ctx, e.opts.ttl())
	if err != nil {
		return nil, err
	}

	session, err := concurrency.NewSession(e.client,
		concurrency.WithLease(grant.ID),
		concurrency.WithTTL(int(e.opts.ttl())))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.election != nil {
		// a concurrent campaign won the race
		if err := session.Close(); err != nil {
			e.logger.Warnf("election=(%s) failed to revoke lease %x: %v", e.opts.Name, int64(grant.ID), err)
		}
		return e.election, nil
	}

	e.session = session
	e.election = concurrency.NewElection(session, e.opts.Name)
	return e.election, nil
}

func (e *Election) current() *concurrency.Election {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.election
}

func (e *Election) error(err error) error {
	switch {
	case errors.Is(err, gerrors.ErrElection):
		return err
	case errors.Is(err, concurrency.ErrElectionNotLeader), errors.Is(err, concurrency.ErrElectionNoLeader):
		return gerrors.NewElectionError(e.opts.Name, err)
	}
	return gerrors.NewElectionError(e.opts.Name, gerrors.FromEtcd(err))
}
