// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package pubsub provides the broadcast substrate replicas use to publish
// queries and announcements to every current subscriber of a topic.
//
// Delivery is at-least-once and unordered. A Bus never waits for a
// subscriber to finish handling a message; deliveries run on a shared
// bounded Pool.
package pubsub

import (
	"context"
	"errors"
)

// ErrTopicNotFound is returned when publishing or subscribing to a topic
// that was never created with EnsureTopic.
var ErrTopicNotFound = errors.New("topic not found")

// Subscriber receives messages published on a topic.
type Subscriber interface {
	// SubscriberID identifies the subscriber for Unsubscribe.
	SubscriberID() string

	// Deliver handles one message. It runs on a pool worker and may be
	// called concurrently.
	Deliver(ctx context.Context, payload []byte)
}

// Bus is a topic-based broadcast channel.
type Bus interface {
	// EnsureTopic creates the topic or retrieves it if it already exists.
	EnsureTopic(ctx context.Context, topic string) error

	// Publish sends payload to all current subscribers of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers sub on topic. Subscribing twice is a no-op.
	Subscribe(ctx context.Context, topic string, sub Subscriber) error

	// Unsubscribe removes sub from topic.
	Unsubscribe(ctx context.Context, topic string, sub Subscriber) error

	// Close releases resources and waits for in-flight deliveries.
	Close() error
}

// Publisher is the publish half of a Bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}
