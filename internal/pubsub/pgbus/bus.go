// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package pgbus implements pubsub.Bus on PostgreSQL LISTEN/NOTIFY.
//
// Topics are recorded in the pubsub_topics table so that creation is
// idempotent across replicas. Each subscribed topic owns one dedicated
// (non-pooled) connection that LISTENs on the topic channel and reconnects
// with exponential backoff when the connection drops.
package pgbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/icedrive/authd/internal/pubsub"
)

// MaxPayload is the largest payload PostgreSQL accepts for NOTIFY.
const MaxPayload = 7999

// maxTopicLen is PostgreSQL's identifier length limit.
const maxTopicLen = 63

// Default reconnect backoff.
const (
	defaultReconnectInitial = 100 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
)

// poolIface is the subset of pgxpool.Pool used for publishing.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// listenConn is the subset of pgx.Conn used by a topic listener.
type listenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a dedicated listener connection.
type Dialer func(ctx context.Context) (listenConn, error)

// Option configures a Bus.
type Option func(*Bus)

// WithReconnectBackoff sets the exponential backoff bounds for listener reconnects.
func WithReconnectBackoff(initial, maxInterval time.Duration) Option {
	return func(b *Bus) {
		b.reconnectInitial = initial
		b.reconnectMax = maxInterval
	}
}

// WithDialer overrides how listener connections are opened.
func WithDialer(d Dialer) Option {
	return func(b *Bus) {
		b.dial = d
	}
}

type topicListener struct {
	subs   map[string]pubsub.Subscriber
	cancel context.CancelFunc
	ready  chan struct{}
}

// Bus is a pubsub.Bus backed by PostgreSQL.
type Bus struct {
	pool poolIface
	dial Dialer

	reconnectInitial time.Duration
	reconnectMax     time.Duration

	mu        sync.Mutex
	listeners map[string]*topicListener

	workers *pubsub.Pool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Bus publishing through pool and listening on connections
// opened from connString.
func New(pool poolIface, connString string, workers int, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		pool: pool,
		dial: func(ctx context.Context) (listenConn, error) {
			conn, err := pgx.Connect(ctx, connString)
			if err != nil {
				return nil, err //nolint:wrapcheck // wrapped by connect
			}
			return conn, nil
		},
		reconnectInitial: defaultReconnectInitial,
		reconnectMax:     defaultReconnectMax,
		listeners:        make(map[string]*topicListener),
		workers:          pubsub.NewPool(workers),
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func validateTopic(topic string) error {
	if topic == "" || len(topic) > maxTopicLen {
		return oops.Code("PUBSUB_INVALID_TOPIC").
			With("topic", topic).
			Errorf("topic name must be 1-%d bytes", maxTopicLen)
	}
	return nil
}

// EnsureTopic records topic, treating an existing row as success.
func (b *Bus) EnsureTopic(ctx context.Context, topic string) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	_, err := b.pool.Exec(ctx, `INSERT INTO pubsub_topics (name) VALUES ($1)`, topic)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil
		}
		return oops.Code("PUBSUB_ENSURE_TOPIC_FAILED").
			With("operation", "insert topic").
			With("topic", topic).
			Wrap(err)
	}
	slog.Debug("topic created", "topic", topic)
	return nil
}

// Publish sends payload with NOTIFY on the topic channel.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if len(payload) > MaxPayload {
		return oops.Code("PUBSUB_PAYLOAD_TOO_LARGE").
			With("topic", topic).
			With("size", len(payload)).
			Errorf("payload exceeds %d bytes", MaxPayload)
	}
	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, topic, string(payload)); err != nil {
		return oops.Code("PUBSUB_PUBLISH_FAILED").
			With("operation", "notify").
			With("topic", topic).
			Wrap(err)
	}
	return nil
}

func (b *Bus) topicExists(ctx context.Context, topic string) (bool, error) {
	var exists bool
	err := b.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM pubsub_topics WHERE name = $1)`, topic).Scan(&exists)
	if err != nil {
		return false, oops.Code("PUBSUB_SUBSCRIBE_FAILED").
			With("operation", "check topic").
			With("topic", topic).
			Wrap(err)
	}
	return exists, nil
}

// Subscribe registers sub on topic. The first subscriber of a topic starts
// its listener; Subscribe returns once the channel is being listened on.
func (b *Bus) Subscribe(ctx context.Context, topic string, sub pubsub.Subscriber) error {
	exists, err := b.topicExists(ctx, topic)
	if err != nil {
		return err
	}
	if !exists {
		return oops.Code("PUBSUB_SUBSCRIBE_FAILED").With("topic", topic).Wrap(pubsub.ErrTopicNotFound)
	}

	b.mu.Lock()
	tl, ok := b.listeners[topic]
	if !ok {
		lctx, cancel := context.WithCancel(b.ctx)
		tl = &topicListener{
			subs:   make(map[string]pubsub.Subscriber),
			cancel: cancel,
			ready:  make(chan struct{}),
		}
		b.listeners[topic] = tl
		b.wg.Add(1)
		go b.listen(lctx, topic, tl.ready)
	}
	tl.subs[sub.SubscriberID()] = sub
	ready := tl.ready
	b.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return oops.Code("PUBSUB_SUBSCRIBE_FAILED").
			With("topic", topic).
			With("operation", "wait for listener").
			Wrap(ctx.Err())
	}
}

// Unsubscribe removes sub; the last subscriber's departure stops the listener.
func (b *Bus) Unsubscribe(_ context.Context, topic string, sub pubsub.Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tl, ok := b.listeners[topic]
	if !ok {
		return nil
	}
	delete(tl.subs, sub.SubscriberID())
	if len(tl.subs) == 0 {
		tl.cancel()
		delete(b.listeners, topic)
	}
	return nil
}

// Close stops every listener and waits for in-flight deliveries.
func (b *Bus) Close() error {
	b.cancel()
	b.wg.Wait()
	b.workers.Wait()
	return nil
}

func (b *Bus) backoff() retry.Backoff {
	return retry.WithCappedDuration(b.reconnectMax, retry.NewExponential(b.reconnectInitial))
}

// listen keeps a LISTEN connection open for topic until ctx is cancelled.
func (b *Bus) listen(ctx context.Context, topic string, ready chan struct{}) {
	defer b.wg.Done()

	var readyOnce sync.Once
	for ctx.Err() == nil {
		conn, err := b.connect(ctx, topic)
		if err != nil {
			return
		}
		readyOnce.Do(func() { close(ready) })
		b.receive(ctx, conn, topic)
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := conn.Close(closeCtx); err != nil {
			slog.Debug("error closing listener connection", "topic", topic, "error", err)
		}
		cancel()
	}
}

// connect dials and issues LISTEN, retrying until it succeeds or ctx ends.
func (b *Bus) connect(ctx context.Context, topic string) (listenConn, error) {
	var conn listenConn
	err := retry.Do(ctx, b.backoff(), func(ctx context.Context) error {
		c, err := b.dial(ctx)
		if err != nil {
			slog.Warn("listener connect failed, retrying", "topic", topic, "error", err)
			return retry.RetryableError(err)
		}
		if _, err := c.Exec(ctx, "LISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
			_ = c.Close(ctx) //nolint:errcheck // connection is being discarded
			slog.Warn("LISTEN failed, retrying", "topic", topic, "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, oops.Code("PUBSUB_LISTEN_FAILED").With("topic", topic).Wrap(err)
	}
	slog.Debug("listening on topic", "topic", topic)
	return conn, nil
}

// receive dispatches notifications until the connection fails or ctx ends.
func (b *Bus) receive(ctx context.Context, conn listenConn, topic string) {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("listener connection lost, reconnecting", "topic", topic, "error", err)
			}
			return
		}
		b.dispatch(topic, []byte(n.Payload))
	}
}

func (b *Bus) dispatch(topic string, payload []byte) {
	b.mu.Lock()
	tl, ok := b.listeners[topic]
	var targets []pubsub.Subscriber
	if ok {
		targets = make([]pubsub.Subscriber, 0, len(tl.subs))
		for _, s := range tl.subs {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		s := sub
		if err := b.workers.Go(b.ctx, func(dctx context.Context) { s.Deliver(dctx, payload) }); err != nil {
			return
		}
	}
}
