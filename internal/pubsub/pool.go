// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package pubsub

import (
	"context"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the default number of concurrent deliveries.
const DefaultWorkers = 64

// Pool runs deliveries on a bounded number of goroutines.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewPool creates a pool running at most workers deliveries at once.
// Values below 1 fall back to DefaultWorkers.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Go runs fn on a worker, waiting for a free slot. It returns an error only
// if ctx is done before a slot frees up.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return oops.Code("POOL_ACQUIRE_FAILED").Wrap(err)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		fn(ctx)
	}()
	return nil
}

// Wait blocks until all started deliveries have returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
