// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/icedrive/authd/internal/pubsub"
)

// DefaultAnnounceInterval is how often a replica announces itself.
const DefaultAnnounceInterval = 5 * time.Second

// Announcer periodically publishes one Announcement on the discovery topic.
type Announcer struct {
	bus      pubsub.Publisher
	topic    string
	payload  []byte
	ann      Announcement
	interval time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewAnnouncer creates an Announcer for ann. A non-positive interval selects
// DefaultAnnounceInterval.
func NewAnnouncer(bus pubsub.Publisher, topic string, ann Announcement, interval time.Duration) (*Announcer, error) {
	payload, err := ann.Encode()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultAnnounceInterval
	}
	return &Announcer{
		bus:      bus,
		topic:    topic,
		payload:  payload,
		ann:      ann,
		interval: interval,
	}, nil
}

// Start announces immediately and then every interval until Stop is called
// or ctx ends.
func (a *Announcer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return oops.Code("ANNOUNCER_ALREADY_RUNNING").Errorf("announcer already started")
	}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	a.running = true

	go a.run(ctx, a.stop, a.done)
	slog.Info("announcer started",
		"kind", a.ann.Kind,
		"ref", a.ann.Ref.String(),
		"topic", a.topic,
		"interval", a.interval)
	return nil
}

// Stop signals the loop and waits for it to exit. It is safe to call more
// than once.
func (a *Announcer) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	stop, done := a.stop, a.done
	a.mu.Unlock()

	close(stop)
	<-done
	slog.Info("announcer stopped", "ref", a.ann.Ref.String())
}

func (a *Announcer) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.announce(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.announce(ctx)
		}
	}
}

func (a *Announcer) announce(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, a.interval)
	defer cancel()
	if err := a.bus.Publish(pctx, a.topic, a.payload); err != nil {
		Announcements.WithLabelValues("error").Inc()
		slog.Warn("announce failed", "topic", a.topic, "error", err)
		return
	}
	Announcements.WithLabelValues("ok").Inc()
}
