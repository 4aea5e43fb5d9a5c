// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"
)

// MemoryBus is an in-process Bus. Replicas sharing one MemoryBus behave as
// if they shared a broker.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string][]Subscriber

	pool   *Pool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMemoryBus creates a MemoryBus delivering on a pool of the given size.
func NewMemoryBus(workers int) *MemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryBus{
		topics: make(map[string][]Subscriber),
		pool:   NewPool(workers),
		ctx:    ctx,
		cancel: cancel,
	}
}

// EnsureTopic creates topic if it does not exist.
func (b *MemoryBus) EnsureTopic(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = nil
	}
	return nil
}

// Subscribe registers sub on topic.
func (b *MemoryBus) Subscribe(_ context.Context, topic string, sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return oops.Code("PUBSUB_SUBSCRIBE_FAILED").With("topic", topic).Wrap(ErrTopicNotFound)
	}
	for _, s := range subs {
		if s.SubscriberID() == sub.SubscriberID() {
			return nil
		}
	}
	b.topics[topic] = append(subs, sub)
	return nil
}

// Unsubscribe removes sub from topic. Unknown subscribers are ignored.
func (b *MemoryBus) Unsubscribe(_ context.Context, topic string, sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return oops.Code("PUBSUB_UNSUBSCRIBE_FAILED").With("topic", topic).Wrap(ErrTopicNotFound)
	}
	for i, s := range subs {
		if s.SubscriberID() == sub.SubscriberID() {
			b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Publish hands payload to every subscriber of topic on the pool.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	subs, ok := b.topics[topic]
	targets := make([]Subscriber, len(subs))
	copy(targets, subs)
	b.mu.RUnlock()

	if !ok {
		return oops.Code("PUBSUB_PUBLISH_FAILED").With("topic", topic).Wrap(ErrTopicNotFound)
	}
	if b.ctx.Err() != nil {
		return oops.Code("PUBSUB_CLOSED").With("topic", topic).Errorf("bus is closed")
	}

	for _, sub := range targets {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		s := sub
		if err := b.pool.Go(b.ctx, func(dctx context.Context) { s.Deliver(dctx, msg) }); err != nil {
			slog.WarnContext(ctx, "message dropped: bus closing",
				"topic", topic,
				"subscriber", s.SubscriberID(),
			)
			return oops.Code("PUBSUB_PUBLISH_FAILED").With("topic", topic).Wrap(err)
		}
	}
	return nil
}

// Close stops accepting deliveries and waits for in-flight ones.
func (b *MemoryBus) Close() error {
	b.cancel()
	b.pool.Wait()
	return nil
}
