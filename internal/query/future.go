// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package query

import (
	"context"
	"sync/atomic"

	"github.com/samber/oops"
)

// Result is what a Future resolves to. Answered is false when the deadline
// won; Response then holds the Outcome's default and Err its failure.
type Result struct {
	Response Response
	Answered bool
	Err      error
}

// Outcome is what a pending query resolves to when nobody answers in time.
type Outcome struct {
	Default Response
	Err     error
}

// Silence resolves an unanswered query to a negative default.
func Silence(op Op) Outcome {
	return Outcome{Default: Response{Op: op}}
}

// FailWith resolves an unanswered query to err.
func FailWith(err error) Outcome {
	return Outcome{Err: err}
}

// Future is a single-assignment result slot. The first complete call wins;
// later calls are no-ops.
type Future struct {
	claimed atomic.Bool
	done    chan struct{}
	result  Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete stores r if no other writer has claimed the slot.
func (f *Future) complete(r Result) bool {
	if !f.claimed.CompareAndSwap(false, true) {
		return false
	}
	f.result = r
	close(f.done)
	return true
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx ends.
func (f *Future) Await(ctx context.Context) Result {
	select {
	case <-f.done:
		return f.result
	case <-ctx.Done():
		return Result{Err: oops.Code("QUERY_AWAIT_CANCELLED").Wrap(ctx.Err())}
	}
}
