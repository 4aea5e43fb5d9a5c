// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package discovery lets replicas find each other without a central registry.
//
// Every replica runs an Announcer that periodically publishes its own
// reference, and a Registry that passively collects everyone else's. Entries
// have no expiry; a peer is dropped the first time it fails a liveness probe
// during SelectPeer.
package discovery

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/icedrive/authd/internal/ref"
	"github.com/icedrive/authd/pkg/errutil"
)

// DefaultProbeTimeout bounds a single liveness probe.
const DefaultProbeTimeout = 2 * time.Second

// Prober checks that a reference is reachable.
type Prober interface {
	Ping(ctx context.Context, r ref.Ref) error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithProbeTimeout sets the per-probe deadline.
func WithProbeTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.probeTimeout = d
	}
}

// WithRandom replaces the sampling source.
func WithRandom(intN func(n int) int) RegistryOption {
	return func(r *Registry) {
		r.intN = intN
	}
}

// Registry holds announced peers by kind, keyed by reference identity.
type Registry struct {
	id           string
	self         ref.Ref
	prober       Prober
	probeTimeout time.Duration
	intN         func(n int) int

	mu    sync.Mutex
	peers map[Kind]map[ulid.ULID]ref.Ref
}

// NewRegistry creates a Registry. Announcements of self are ignored.
func NewRegistry(id string, self ref.Ref, prober Prober, opts ...RegistryOption) *Registry {
	r := &Registry{
		id:           id,
		self:         self,
		prober:       prober,
		probeTimeout: DefaultProbeTimeout,
		intN:         rand.IntN,
		peers:        make(map[Kind]map[ulid.ULID]ref.Ref, len(Kinds)),
	}
	for _, k := range Kinds {
		r.peers[k] = make(map[ulid.ULID]ref.Ref)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SubscriberID implements pubsub.Subscriber.
func (r *Registry) SubscriberID() string {
	return r.id
}

// Deliver implements pubsub.Subscriber.
func (r *Registry) Deliver(_ context.Context, payload []byte) {
	a, err := DecodeAnnouncement(payload)
	if err != nil {
		errutil.LogWarn(slog.Default(), "dropping malformed announcement", err)
		return
	}
	r.OnAnnounce(a.Kind, a.Ref)
}

// OnAnnounce records peer under kind and reports whether it was new. Known
// identities are left as they are.
func (r *Registry) OnAnnounce(kind Kind, peer ref.Ref) bool {
	if !kind.Valid() || peer.IsZero() || peer.SameIdentity(r.self) {
		return false
	}

	r.mu.Lock()
	set := r.peers[kind]
	if _, ok := set[peer.ID]; ok {
		r.mu.Unlock()
		return false
	}
	set[peer.ID] = peer
	n := len(set)
	r.mu.Unlock()

	Peers.WithLabelValues(string(kind)).Set(float64(n))
	slog.Info("peer discovered", "kind", kind, "peer", peer.String())
	return true
}

// SelectPeer returns a random live peer of kind. Peers that fail the probe
// are evicted before the next sample, so the search ends once the set is
// empty.
func (r *Registry) SelectPeer(ctx context.Context, kind Kind) (ref.Ref, bool) {
	for {
		candidate, ok := r.sample(kind)
		if !ok {
			return ref.Ref{}, false
		}

		pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
		err := r.prober.Ping(pctx, candidate)
		cancel()
		if err == nil {
			return candidate, true
		}
		if ctx.Err() != nil {
			// Our own deadline, not the peer's fault.
			return ref.Ref{}, false
		}

		r.evict(kind, candidate)
		slog.Info("peer evicted", "kind", kind, "peer", candidate.String(), "error", err)
	}
}

// Peers returns a snapshot of the known peers of kind.
func (r *Registry) Peers(kind Kind) []ref.Ref {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ref.Ref, 0, len(r.peers[kind]))
	for _, p := range r.peers[kind] {
		out = append(out, p)
	}
	return out
}

// Len returns the number of known peers of kind.
func (r *Registry) Len(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers[kind])
}

func (r *Registry) sample(kind Kind) (ref.Ref, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.peers[kind]
	if len(set) == 0 {
		return ref.Ref{}, false
	}
	i := r.intN(len(set))
	for _, p := range set {
		if i == 0 {
			return p, true
		}
		i--
	}
	return ref.Ref{}, false
}

func (r *Registry) evict(kind Kind, peer ref.Ref) {
	r.mu.Lock()
	set := r.peers[kind]
	_, present := set[peer.ID]
	delete(set, peer.ID)
	n := len(set)
	r.mu.Unlock()

	if present {
		Evictions.WithLabelValues(string(kind)).Inc()
	}
	Peers.WithLabelValues(string(kind)).Set(float64(n))
}
