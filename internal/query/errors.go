// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package query

import "errors"

// Protocol errors. None of them reach the original caller; they are returned
// to whoever delivered the stray response.
var (
	// ErrUnknownCorrelation is returned for a response to a query that is not
	// pending: never issued here, already answered, or timed out.
	ErrUnknownCorrelation = errors.New("unknown correlation reference")

	// ErrUnexpectedResponse is returned when a response's op does not match
	// the pending query. The query stays pending.
	ErrUnexpectedResponse = errors.New("unexpected response for pending query")

	// ErrAlreadyResolved is returned when a response loses the race against
	// the query's deadline.
	ErrAlreadyResolved = errors.New("query already resolved")

	// ErrClosed resolves queries still pending when the protocol shuts down.
	ErrClosed = errors.New("query protocol closed")
)
