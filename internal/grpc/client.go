// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/icedrive/authd/internal/discovery"
	"github.com/icedrive/authd/internal/query"
	"github.com/icedrive/authd/internal/ref"
)

// ClientConfig holds configuration for the replica client.
type ClientConfig struct {
	// TLSConfig for mTLS authentication. If nil, insecure connection is used.
	TLSConfig *tls.Config

	// KeepaliveTime is how often to ping the server (default: 10s)
	KeepaliveTime time.Duration

	// KeepaliveTimeout is how long to wait for ping response (default: 5s)
	KeepaliveTimeout time.Duration

	// DialOptions are appended to the defaults, e.g. a custom dialer.
	DialOptions []grpc.DialOption
}

// Client calls replicas by address. It keeps one connection per address.
type Client struct {
	opts []grpc.DialOption

	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	closed bool
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.KeepaliveTime == 0 {
		cfg.KeepaliveTime = 10 * time.Second
	}
	if cfg.KeepaliveTimeout == 0 {
		cfg.KeepaliveTimeout = 5 * time.Second
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}
	if cfg.TLSConfig != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(cfg.TLSConfig)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, cfg.DialOptions...)

	return &Client{
		opts:  opts,
		conns: make(map[string]*grpc.ClientConn),
	}
}

// Close closes every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*grpc.ClientConn)
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for addr, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, oops.With("addr", addr).Wrap(err))
		}
	}
	if len(errs) > 0 {
		return oops.Code("RPC_CLOSE_FAILED").Wrap(errors.Join(errs...))
	}
	return nil
}

func (c *Client) conn(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, oops.Code("RPC_CLIENT_CLOSED").With("addr", addr).Errorf("client is closed")
	}
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient("passthrough:///"+addr, c.opts...)
	if err != nil {
		return nil, oops.Code("RPC_UNREACHABLE").With("addr", addr).Wrap(errors.Join(ErrUnreachable, err))
	}
	c.conns[addr] = conn
	return conn, nil
}

func (c *Client) invoke(ctx context.Context, addr, method string, in, out any) error {
	if addr == "" {
		return oops.Code("RPC_NO_ADDRESS").With("method", method).Errorf("address is required")
	}
	conn, err := c.conn(addr)
	if err != nil {
		return err
	}
	if err := conn.Invoke(ctx, method, in, out); err != nil {
		return oops.With("addr", addr).Wrap(fromStatus(method, err))
	}
	return nil
}

// Login authenticates against the replica at addr.
func (c *Client) Login(ctx context.Context, addr, username, password string) (ref.Ref, error) {
	return c.mint(ctx, addr, methodLogin, username, password)
}

// NewUser creates an account through the replica at addr.
func (c *Client) NewUser(ctx context.Context, addr, username, password string) (ref.Ref, error) {
	return c.mint(ctx, addr, methodNewUser, username, password)
}

func (c *Client) mint(ctx context.Context, addr, method, username, password string) (ref.Ref, error) {
	var out SessionReply
	if err := c.invoke(ctx, addr, method, &CredentialsRequest{Username: username, Password: password}, &out); err != nil {
		return ref.Ref{}, err
	}
	session, err := ref.Parse(out.Session)
	if err != nil {
		return ref.Ref{}, oops.Code("RPC_BAD_REPLY").With("method", method).Wrap(err)
	}
	return session, nil
}

// RemoveUser deletes an account through the replica at addr.
func (c *Client) RemoveUser(ctx context.Context, addr, username, password string) error {
	return c.invoke(ctx, addr, methodRemoveUser, &CredentialsRequest{Username: username, Password: password}, &emptypb.Empty{})
}

// VerifyUser asks the replica at addr whether session was minted by the
// cluster.
func (c *Client) VerifyUser(ctx context.Context, addr string, session ref.Ref) (bool, error) {
	out := &wrapperspb.BoolValue{}
	if err := c.invoke(ctx, addr, methodVerifyUser, &SessionRequest{Session: session.String()}, out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// SessionUsername asks the session's owner which account it belongs to.
func (c *Client) SessionUsername(ctx context.Context, session ref.Ref) (string, error) {
	out := &wrapperspb.StringValue{}
	if err := c.invoke(ctx, session.Addr, methodSessionUsername, &SessionRequest{Session: session.String()}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// SessionAlive asks the session's owner whether it is alive.
func (c *Client) SessionAlive(ctx context.Context, session ref.Ref) (bool, error) {
	out := &wrapperspb.BoolValue{}
	if err := c.invoke(ctx, session.Addr, methodSessionAlive, &SessionRequest{Session: session.String()}, out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// SessionRefresh asks the session's owner to restart its TTL window.
func (c *Client) SessionRefresh(ctx context.Context, session ref.Ref) error {
	return c.invoke(ctx, session.Addr, methodSessionRefresh, &SessionRequest{Session: session.String()}, &emptypb.Empty{})
}

// Respond delivers resp to the replica hosting replyTo. It implements
// auth.Responder.
func (c *Client) Respond(ctx context.Context, replyTo ref.Ref, resp query.Response) error {
	req := &RespondRequest{CorrelationID: replyTo.ID.String(), Response: resp}
	return c.invoke(ctx, replyTo.Addr, methodRespond, req, &emptypb.Empty{})
}

// Ping checks that the replica at r.Addr still hosts r. It implements
// discovery.Prober; any error means the reference is unusable.
func (c *Client) Ping(ctx context.Context, r ref.Ref) error {
	return c.invoke(ctx, r.Addr, methodPing, &PingRequest{Target: r.ID.String()}, &emptypb.Empty{})
}

// SelectPeer asks the replica at addr for a live peer of kind.
func (c *Client) SelectPeer(ctx context.Context, addr string, kind discovery.Kind) (ref.Ref, bool, error) {
	var out SelectPeerReply
	if err := c.invoke(ctx, addr, methodSelectPeer, &SelectPeerRequest{Kind: string(kind)}, &out); err != nil {
		return ref.Ref{}, false, err
	}
	if !out.Found {
		return ref.Ref{}, false, nil
	}
	peer, err := ref.Parse(out.Peer)
	if err != nil {
		return ref.Ref{}, false, oops.Code("RPC_BAD_REPLY").With("method", methodSelectPeer).Wrap(err)
	}
	return peer, true, nil
}
