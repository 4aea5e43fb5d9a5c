// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package replica assembles one authentication replica: credential store,
// session manager, query protocol, discovery, and the gRPC surface.
package replica

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"

	"github.com/icedrive/authd/internal/auth"
	"github.com/icedrive/authd/internal/discovery"
	rpc "github.com/icedrive/authd/internal/grpc"
	"github.com/icedrive/authd/internal/pubsub"
	"github.com/icedrive/authd/internal/query"
	"github.com/icedrive/authd/internal/ref"
	"github.com/icedrive/authd/pkg/errutil"
)

// Default topic names.
const (
	DefaultDiscoveryTopic = "icedrive.discovery"
	DefaultQueryTopic     = "icedrive.auth.queries"
)

// Config holds the replica's wiring parameters. Zero durations select the
// component defaults.
type Config struct {
	// ListenAddr is where the gRPC server binds, e.g. "0.0.0.0:9000".
	ListenAddr string
	// AdvertiseAddr is the address peers use to reach this replica.
	// Empty means the bound listener address.
	AdvertiseAddr string

	DiscoveryTopic string
	QueryTopic     string

	SessionTTL       time.Duration
	QueryTimeout     time.Duration
	AnnounceInterval time.Duration
	ProbeTimeout     time.Duration

	// TLSConfig enables mutual TLS on the gRPC server. Pair it with
	// Client.TLSConfig so outgoing calls present a certificate too.
	TLSConfig *tls.Config
	// Client configures outgoing calls to sibling replicas.
	Client rpc.ClientConfig
	// ServerOptions are appended to the gRPC server defaults.
	ServerOptions []grpc.ServerOption
}

func (c *Config) setDefaults() {
	if c.DiscoveryTopic == "" {
		c.DiscoveryTopic = DefaultDiscoveryTopic
	}
	if c.QueryTopic == "" {
		c.QueryTopic = DefaultQueryTopic
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = auth.DefaultSessionTTL
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = query.DefaultTimeout
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = discovery.DefaultAnnounceInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = discovery.DefaultProbeTimeout
	}
}

// Replica is a running authentication replica.
type Replica struct {
	cfg   Config
	store auth.CredentialStore
	bus   pubsub.Bus

	self        ref.Ref
	listener    net.Listener
	server      *grpc.Server
	client      *rpc.Client
	sessions    *auth.SessionManager
	queries     *query.Protocol
	coordinator *auth.Coordinator
	receiver    *auth.QueryReceiver
	registry    *discovery.Registry
	announcer   *discovery.Announcer

	cancel  context.CancelFunc
	serveWG sync.WaitGroup
	ready   atomic.Bool
	started atomic.Bool
	stopped atomic.Bool
}

// New creates a replica over store and bus. Nothing runs until Start.
func New(cfg Config, store auth.CredentialStore, bus pubsub.Bus) (*Replica, error) {
	if store == nil {
		return nil, oops.Code("REPLICA_INVALID_CONFIG").Errorf("credential store is required")
	}
	if bus == nil {
		return nil, oops.Code("REPLICA_INVALID_CONFIG").Errorf("bus is required")
	}
	if cfg.ListenAddr == "" {
		return nil, oops.Code("REPLICA_INVALID_CONFIG").Errorf("listen address is required")
	}
	cfg.setDefaults()
	return &Replica{cfg: cfg, store: store, bus: bus}, nil
}

// Start binds the listener, ensures both topics, serves gRPC, subscribes to
// queries and announcements, and starts announcing.
func (r *Replica) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return oops.Code("REPLICA_ALREADY_STARTED").Errorf("replica already started")
	}

	lis, err := net.Listen("tcp", r.cfg.ListenAddr)
	if err != nil {
		return oops.Code("REPLICA_LISTEN_FAILED").With("addr", r.cfg.ListenAddr).Wrap(err)
	}
	r.listener = lis

	if err := r.assemble(lis.Addr().String()); err != nil {
		_ = lis.Close() //nolint:errcheck // assembly error takes precedence
		return err
	}

	for _, topic := range []string{r.cfg.QueryTopic, r.cfg.DiscoveryTopic} {
		if err := r.bus.EnsureTopic(ctx, topic); err != nil {
			_ = lis.Close() //nolint:errcheck // topic error takes precedence
			return oops.Code("REPLICA_START_FAILED").With("topic", topic).Wrap(err)
		}
	}

	r.server = rpc.NewGRPCServer(r.cfg.TLSConfig, r.cfg.ServerOptions...)
	rpc.RegisterReplicaServer(r.server, rpc.NewServer(r.self, r.coordinator, r.sessions, r.queries,
		rpc.WithPeerSelector(r.registry)))
	r.serveWG.Add(1)
	go func() {
		defer r.serveWG.Done()
		if err := r.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errutil.LogError(slog.Default(), "grpc server stopped", err)
		}
	}()

	if err := r.bus.Subscribe(ctx, r.cfg.QueryTopic, r.receiver); err != nil {
		r.server.Stop()
		return oops.Code("REPLICA_START_FAILED").With("topic", r.cfg.QueryTopic).Wrap(err)
	}
	if err := r.bus.Subscribe(ctx, r.cfg.DiscoveryTopic, r.registry); err != nil {
		_ = r.bus.Unsubscribe(ctx, r.cfg.QueryTopic, r.receiver) //nolint:errcheck // subscribe error takes precedence
		r.server.Stop()
		return oops.Code("REPLICA_START_FAILED").With("topic", r.cfg.DiscoveryTopic).Wrap(err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	if err := r.announcer.Start(runCtx); err != nil {
		cancel()
		return err
	}

	r.ready.Store(true)
	slog.InfoContext(ctx, "replica started",
		"self", r.self.String(),
		"listen_addr", lis.Addr().String(),
		"query_topic", r.cfg.QueryTopic,
		"discovery_topic", r.cfg.DiscoveryTopic)
	return nil
}

// assemble builds the components once the advertised address is known.
func (r *Replica) assemble(boundAddr string) error {
	addr := r.cfg.AdvertiseAddr
	if addr == "" {
		addr = boundAddr
	}
	r.self = ref.New(addr)

	r.client = rpc.NewClient(r.cfg.Client)
	r.sessions = auth.NewSessionManager(addr, auth.WithSessionTTL(r.cfg.SessionTTL))
	r.queries = query.NewProtocol(r.bus, r.cfg.QueryTopic, addr)

	coordinator, err := auth.NewCoordinator(r.store, r.sessions, r.queries, r.cfg.QueryTimeout)
	if err != nil {
		return err
	}
	r.coordinator = coordinator
	r.receiver = auth.NewQueryReceiver("queries/"+r.self.ID.String(), r.store, r.sessions, r.client, r.queries)
	r.registry = discovery.NewRegistry("discovery/"+r.self.ID.String(), r.self, r.client,
		discovery.WithProbeTimeout(r.cfg.ProbeTimeout))

	announcer, err := discovery.NewAnnouncer(r.bus, r.cfg.DiscoveryTopic,
		discovery.Announcement{Kind: discovery.KindAuthentication, Ref: r.self}, r.cfg.AnnounceInterval)
	if err != nil {
		return err
	}
	r.announcer = announcer
	return nil
}

// Stop stops announcing, leaves both topics, drains the gRPC server, and
// resolves queries still pending. It is safe to call more than once.
func (r *Replica) Stop(ctx context.Context) error {
	if !r.started.Load() || !r.stopped.CompareAndSwap(false, true) {
		return nil
	}
	r.ready.Store(false)

	r.announcer.Stop()
	if r.cancel != nil {
		r.cancel()
	}

	var errs []error
	if err := r.bus.Unsubscribe(ctx, r.cfg.DiscoveryTopic, r.registry); err != nil {
		errs = append(errs, err)
	}
	if err := r.bus.Unsubscribe(ctx, r.cfg.QueryTopic, r.receiver); err != nil {
		errs = append(errs, err)
	}

	stopped := make(chan struct{})
	go func() {
		r.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		r.server.Stop()
		<-stopped
	}
	r.serveWG.Wait()

	r.queries.Close()
	if err := r.client.Close(); err != nil {
		errs = append(errs, err)
	}

	slog.InfoContext(ctx, "replica stopped", "self", r.self.String())
	if len(errs) > 0 {
		return oops.Code("REPLICA_STOP_FAILED").Wrap(errors.Join(errs...))
	}
	return nil
}

// Ready reports whether the replica is serving.
func (r *Replica) Ready() bool {
	return r.ready.Load()
}

// Self returns the replica's own reference. Valid after Start.
func (r *Replica) Self() ref.Ref {
	return r.self
}

// Addr returns the advertised address. Valid after Start.
func (r *Replica) Addr() string {
	return r.self.Addr
}

// Coordinator returns the authentication coordinator. Valid after Start.
func (r *Replica) Coordinator() *auth.Coordinator {
	return r.coordinator
}

// Registry returns the discovery registry. Valid after Start.
func (r *Replica) Registry() *discovery.Registry {
	return r.registry
}
