// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package query turns fire-and-forget broadcast into a call that yields one
// typed result or a timeout.
//
// Issue publishes a Query carrying a fresh correlation reference and returns
// a Future. A sibling that can answer calls back with Resolve; otherwise the
// deadline resolves the Future with the caller's Outcome. Both producers race
// on the Future's atomic claim and only the first takes effect.
package query

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/icedrive/authd/internal/pubsub"
	"github.com/icedrive/authd/internal/ref"
)

// DefaultTimeout bounds every broadcast fallback.
const DefaultTimeout = 5 * time.Second

type pendingQuery struct {
	op      Op
	future  *Future
	timer   *time.Timer
	outcome Outcome
}

// Protocol issues correlated queries on one topic and routes responses back.
type Protocol struct {
	bus   pubsub.Publisher
	topic string
	addr  string

	mu      sync.Mutex
	pending map[ulid.ULID]*pendingQuery
	closed  bool
}

// NewProtocol creates a Protocol publishing on topic. addr is where this
// replica accepts Respond calls.
func NewProtocol(bus pubsub.Publisher, topic, addr string) *Protocol {
	return &Protocol{
		bus:     bus,
		topic:   topic,
		addr:    addr,
		pending: make(map[ulid.ULID]*pendingQuery),
	}
}

// Issue publishes q under a fresh correlation reference and returns without
// waiting. The Future resolves on the first matching Resolve or, after
// timeout, with onTimeout.
func (p *Protocol) Issue(ctx context.Context, q Query, timeout time.Duration, onTimeout Outcome) (*Future, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	q.ReplyTo = ref.New(p.addr)
	payload, err := q.Encode()
	if err != nil {
		return nil, err
	}

	id := q.ReplyTo.ID
	pq := &pendingQuery{op: q.Op, future: newFuture(), outcome: onTimeout}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, oops.Code("QUERY_PUBLISH_FAILED").With("op", string(q.Op)).Wrap(ErrClosed)
	}
	p.pending[id] = pq
	pq.timer = time.AfterFunc(timeout, func() { p.expire(id, pq) })
	p.mu.Unlock()
	QueriesPending.Inc()

	if err := p.bus.Publish(ctx, p.topic, payload); err != nil {
		pq.timer.Stop()
		if p.take(id) != nil {
			QueriesPending.Dec()
		}
		return nil, oops.Code("QUERY_PUBLISH_FAILED").
			With("op", string(q.Op)).
			With("topic", p.topic).
			Wrap(err)
	}

	QueriesIssued.WithLabelValues(string(q.Op)).Inc()
	slog.Debug("query issued",
		"op", q.Op,
		"correlation_id", id.String(),
		"timeout", timeout)
	return pq.future, nil
}

// Resolve delivers resp to the query registered under correlationID.
func (p *Protocol) Resolve(_ context.Context, correlationID ulid.ULID, resp Response) error {
	p.mu.Lock()
	pq, ok := p.pending[correlationID]
	if ok && pq.op != resp.Op {
		p.mu.Unlock()
		ResponsesDiscarded.WithLabelValues(ReasonUnexpected).Inc()
		slog.Warn("dropping response of unexpected op",
			"correlation_id", correlationID.String(),
			"want_op", pq.op,
			"got_op", resp.Op)
		return oops.Code("QUERY_UNEXPECTED_RESPONSE").
			With("correlation_id", correlationID.String()).
			With("op", string(resp.Op)).
			Wrap(ErrUnexpectedResponse)
	}
	if ok {
		delete(p.pending, correlationID)
	}
	p.mu.Unlock()

	if !ok {
		ResponsesDiscarded.WithLabelValues(ReasonUnknown).Inc()
		slog.Debug("dropping response for unknown correlation",
			"correlation_id", correlationID.String(),
			"op", resp.Op)
		return oops.Code("QUERY_UNKNOWN_CORRELATION").
			With("correlation_id", correlationID.String()).
			Wrap(ErrUnknownCorrelation)
	}

	QueriesPending.Dec()
	pq.timer.Stop()
	if !pq.future.complete(Result{Response: resp, Answered: true}) {
		ResponsesDiscarded.WithLabelValues(ReasonLate).Inc()
		return oops.Code("QUERY_ALREADY_RESOLVED").
			With("correlation_id", correlationID.String()).
			Wrap(ErrAlreadyResolved)
	}
	QueryOutcomes.WithLabelValues(string(pq.op), OutcomeAnswered).Inc()
	return nil
}

// Pending reports whether correlationID names a query this replica is
// still waiting on.
func (p *Protocol) Pending(correlationID ulid.ULID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[correlationID]
	return ok
}

// Len returns the number of pending queries.
func (p *Protocol) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close resolves every pending query with ErrClosed and rejects new ones.
func (p *Protocol) Close() {
	p.mu.Lock()
	p.closed = true
	pending := p.pending
	p.pending = make(map[ulid.ULID]*pendingQuery)
	p.mu.Unlock()

	for _, pq := range pending {
		pq.timer.Stop()
		QueriesPending.Dec()
		if pq.future.complete(Result{Err: oops.Code("QUERY_CLOSED").Wrap(ErrClosed)}) {
			QueryOutcomes.WithLabelValues(string(pq.op), OutcomeClosed).Inc()
		}
	}
}

// expire runs on the deadline timer: deregister first so late responses are
// rejected, then race for the future.
func (p *Protocol) expire(id ulid.ULID, pq *pendingQuery) {
	if p.takeIf(id, pq) {
		QueriesPending.Dec()
	}
	if !pq.future.complete(Result{Response: pq.outcome.Default, Err: pq.outcome.Err}) {
		return
	}
	QueryOutcomes.WithLabelValues(string(pq.op), OutcomeTimeout).Inc()
	slog.Debug("query timed out", "op", pq.op, "correlation_id", id.String())
}

func (p *Protocol) take(id ulid.ULID) *pendingQuery {
	p.mu.Lock()
	defer p.mu.Unlock()
	pq, ok := p.pending[id]
	if !ok {
		return nil
	}
	delete(p.pending, id)
	return pq
}

func (p *Protocol) takeIf(id ulid.ULID, pq *pendingQuery) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[id] != pq {
		return false
	}
	delete(p.pending, id)
	return true
}

// IsProtocolRace reports whether err is one of the swallowed races: a late,
// duplicate, or unknown response.
func IsProtocolRace(err error) bool {
	return errors.Is(err, ErrUnknownCorrelation) || errors.Is(err, ErrAlreadyResolved)
}
