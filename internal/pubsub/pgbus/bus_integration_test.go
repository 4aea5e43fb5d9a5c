// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

//go:build integration

package pgbus_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/icedrive/authd/internal/pubsub"
	"github.com/icedrive/authd/internal/pubsub/pgbus"
)

type chanSubscriber struct {
	id string
	ch chan []byte
}

func (s *chanSubscriber) SubscriberID() string { return s.id }

func (s *chanSubscriber) Deliver(_ context.Context, payload []byte) { s.ch <- payload }

var _ = Describe("Bus", func() {
	var (
		ctx       context.Context
		publisher *pgbus.Bus
		listener  *pgbus.Bus
	)

	BeforeEach(func() {
		ctx = context.Background()
		publisher = pgbus.New(testPool, testDSN, 2)
		listener = pgbus.New(testPool, testDSN, 2)
	})

	AfterEach(func() {
		Expect(publisher.Close()).To(Succeed())
		Expect(listener.Close()).To(Succeed())
	})

	It("creates topics idempotently across buses", func() {
		Expect(publisher.EnsureTopic(ctx, "icedrive.discovery")).To(Succeed())
		Expect(listener.EnsureTopic(ctx, "icedrive.discovery")).To(Succeed())
	})

	It("delivers a NOTIFY from one bus to subscribers of another", func() {
		Expect(publisher.EnsureTopic(ctx, "icedrive.auth.queries")).To(Succeed())

		sub := &chanSubscriber{id: "receiver", ch: make(chan []byte, 1)}
		Expect(listener.Subscribe(ctx, "icedrive.auth.queries", sub)).To(Succeed())

		Expect(publisher.Publish(ctx, "icedrive.auth.queries", []byte(`{"op":"login"}`))).To(Succeed())
		Eventually(sub.ch).WithTimeout(5 * time.Second).Should(Receive(Equal([]byte(`{"op":"login"}`))))
	})

	It("stops delivering after unsubscribe", func() {
		Expect(publisher.EnsureTopic(ctx, "quiet")).To(Succeed())
		sub := &chanSubscriber{id: "a", ch: make(chan []byte, 1)}
		Expect(listener.Subscribe(ctx, "quiet", sub)).To(Succeed())
		Expect(listener.Unsubscribe(ctx, "quiet", sub)).To(Succeed())

		Expect(publisher.Publish(ctx, "quiet", []byte("x"))).To(Succeed())
		Consistently(sub.ch, 300*time.Millisecond).ShouldNot(Receive())
	})

	It("rejects subscriptions to topics nobody created", func() {
		err := listener.Subscribe(ctx, "never-created", &chanSubscriber{id: "a", ch: make(chan []byte)})
		Expect(err).To(MatchError(pubsub.ErrTopicNotFound))
	})
})
