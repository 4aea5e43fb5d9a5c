// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package grpc exposes a replica over gRPC: the authentication surface, the
// session object surface, the query response surface, liveness probes, and
// discovery lookups.
package grpc

import (
	"context"
	"crypto/tls"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/icedrive/authd/internal/auth"
	"github.com/icedrive/authd/internal/discovery"
	"github.com/icedrive/authd/internal/query"
	"github.com/icedrive/authd/internal/ref"
)

// Authenticator is the authentication surface served by a replica.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*auth.Session, error)
	NewUser(ctx context.Context, username, password string) (*auth.Session, error)
	RemoveUser(ctx context.Context, username, password string) error
	VerifyUser(ctx context.Context, session ref.Ref) (bool, error)
}

// SessionLookup finds sessions minted by this replica.
type SessionLookup interface {
	Find(id ulid.ULID) (*auth.Session, bool)
}

// Resolver accepts responses to queries this replica issued.
type Resolver interface {
	Resolve(ctx context.Context, correlationID ulid.ULID, resp query.Response) error
	Pending(correlationID ulid.ULID) bool
}

// PeerSelector picks a live peer of a service kind.
type PeerSelector interface {
	SelectPeer(ctx context.Context, kind discovery.Kind) (ref.Ref, bool)
}

// Server implements ReplicaServer.
type Server struct {
	self     ref.Ref
	authn    Authenticator
	sessions SessionLookup
	queries  Resolver
	peers    PeerSelector
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithPeerSelector enables SelectPeer. Without one, SelectPeer finds nothing.
func WithPeerSelector(p PeerSelector) ServerOption {
	return func(s *Server) {
		s.peers = p
	}
}

// NewServer creates a Server for the replica identified by self.
func NewServer(self ref.Ref, authn Authenticator, sessions SessionLookup, queries Resolver, opts ...ServerOption) *Server {
	s := &Server{
		self:     self,
		authn:    authn,
		sessions: sessions,
		queries:  queries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login authenticates and mints a session on this replica.
func (s *Server) Login(ctx context.Context, req *CredentialsRequest) (*SessionReply, error) {
	sess, err := s.authn.Login(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	return &SessionReply{Session: sess.Ref.String(), Username: sess.Username}, nil
}

// NewUser creates an account and mints its first session.
func (s *Server) NewUser(ctx context.Context, req *CredentialsRequest) (*SessionReply, error) {
	sess, err := s.authn.NewUser(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	return &SessionReply{Session: sess.Ref.String(), Username: sess.Username}, nil
}

// RemoveUser deletes an account and invalidates its sessions.
func (s *Server) RemoveUser(ctx context.Context, req *CredentialsRequest) (*emptypb.Empty, error) {
	if err := s.authn.RemoveUser(ctx, req.Username, req.Password); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// VerifyUser reports whether a session was minted by any replica.
func (s *Server) VerifyUser(ctx context.Context, req *SessionRequest) (*wrapperspb.BoolValue, error) {
	session, err := ref.Parse(req.Session)
	if err != nil {
		return nil, invalidArgument("session", err)
	}
	ok, err := s.authn.VerifyUser(ctx, session)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bool(ok), nil
}

// SessionUsername returns the account a hosted session belongs to.
func (s *Server) SessionUsername(_ context.Context, req *SessionRequest) (*wrapperspb.StringValue, error) {
	sess, err := s.findSession(req.Session)
	if err != nil {
		return nil, err
	}
	return wrapperspb.String(sess.Username), nil
}

// SessionAlive reports whether a hosted session is alive. A session that is
// no longer hosted is not alive.
func (s *Server) SessionAlive(_ context.Context, req *SessionRequest) (*wrapperspb.BoolValue, error) {
	sess, err := s.findSession(req.Session)
	if err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return nil, err
		}
		return wrapperspb.Bool(false), nil
	}
	return wrapperspb.Bool(sess.IsAlive()), nil
}

// SessionRefresh restarts a hosted session's TTL window.
func (s *Server) SessionRefresh(_ context.Context, req *SessionRequest) (*emptypb.Empty, error) {
	sess, err := s.findSession(req.Session)
	if err != nil {
		return nil, err
	}
	if err := sess.Refresh(); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// Respond delivers a sibling's answer to a pending query. Late, duplicate,
// and unknown responses are accepted and dropped.
func (s *Server) Respond(ctx context.Context, req *RespondRequest) (*emptypb.Empty, error) {
	id, err := ulid.Parse(req.CorrelationID)
	if err != nil {
		return nil, invalidArgument("correlation_id", err)
	}
	if err := s.queries.Resolve(ctx, id, req.Response); err != nil {
		if query.IsProtocolRace(err) {
			return &emptypb.Empty{}, nil
		}
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// Ping succeeds when target names an identity hosted here: the replica
// itself, one of its sessions, or one of its pending correlations.
func (s *Server) Ping(_ context.Context, req *PingRequest) (*emptypb.Empty, error) {
	id, err := ulid.Parse(req.Target)
	if err != nil {
		return nil, invalidArgument("target", err)
	}
	if id == s.self.ID {
		return &emptypb.Empty{}, nil
	}
	if _, ok := s.sessions.Find(id); ok {
		return &emptypb.Empty{}, nil
	}
	if s.queries.Pending(id) {
		return &emptypb.Empty{}, nil
	}
	return nil, oops.Code("RPC_NOT_FOUND").With("target", req.Target).Wrap(ErrUnknownIdentity)
}

// SelectPeer returns a live peer of the requested kind, if any.
func (s *Server) SelectPeer(ctx context.Context, req *SelectPeerRequest) (*SelectPeerReply, error) {
	kind := discovery.Kind(req.Kind)
	if !kind.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown service kind %q", req.Kind)
	}
	if s.peers == nil {
		return &SelectPeerReply{}, nil
	}
	peer, ok := s.peers.SelectPeer(ctx, kind)
	if !ok {
		return &SelectPeerReply{}, nil
	}
	return &SelectPeerReply{Peer: peer.String(), Found: true}, nil
}

func (s *Server) findSession(raw string) (*auth.Session, error) {
	session, err := ref.Parse(raw)
	if err != nil {
		return nil, invalidArgument("session", err)
	}
	sess, ok := s.sessions.Find(session.ID)
	if !ok {
		return nil, oops.Code("RPC_NOT_FOUND").With("session", raw).Wrap(ErrUnknownIdentity)
	}
	return sess, nil
}

// UnaryServerInterceptor logs each call, records metrics, recovers panics,
// and maps domain errors onto gRPC status codes.
func UnaryServerInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic in rpc handler",
				"method", info.FullMethod,
				"panic", r,
				"stack", string(debug.Stack()))
			resp, err = nil, status.Error(codes.Internal, "internal error")
		}
		code := status.Code(err)
		RPCRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
		RPCDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
	}()

	resp, err = handler(ctx, req)
	err = toStatus(err)
	if err != nil {
		slog.DebugContext(ctx, "rpc failed",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"error", err)
		return nil, err
	}
	slog.DebugContext(ctx, "rpc served", "method", info.FullMethod, "duration", time.Since(start))
	return resp, nil
}

// ServerOptions returns the interceptor and keepalive policy every replica
// server uses.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(UnaryServerInterceptor),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
}

// NewGRPCServer creates a replica gRPC server with the default options plus
// extra. A nil tlsConfig serves plaintext; otherwise peers must complete the
// TLS handshake described by tlsConfig.
func NewGRPCServer(tlsConfig *tls.Config, extra ...grpc.ServerOption) *grpc.Server {
	opts := ServerOptions()
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	return grpc.NewServer(append(opts, extra...)...)
}
