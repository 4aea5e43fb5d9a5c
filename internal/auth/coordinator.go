// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/icedrive/authd/internal/query"
	"github.com/icedrive/authd/internal/ref"
)

var tracer = otel.Tracer("icedrive/auth")

// Querier issues correlated broadcast queries. *query.Protocol implements it.
type Querier interface {
	Issue(ctx context.Context, q query.Query, timeout time.Duration, onTimeout query.Outcome) (*query.Future, error)
}

// Coordinator answers the authentication surface local-first, falling back
// to a broadcast query only when the local store cannot answer.
type Coordinator struct {
	store    CredentialStore
	sessions *SessionManager
	queries  Querier
	timeout  time.Duration
}

// NewCoordinator creates a Coordinator. A non-positive timeout selects
// query.DefaultTimeout.
func NewCoordinator(store CredentialStore, sessions *SessionManager, queries Querier, timeout time.Duration) (*Coordinator, error) {
	if store == nil {
		return nil, oops.Errorf("credential store is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("session manager is required")
	}
	if queries == nil {
		return nil, oops.Errorf("querier is required")
	}
	if timeout <= 0 {
		timeout = query.DefaultTimeout
	}
	return &Coordinator{store: store, sessions: sessions, queries: queries, timeout: timeout}, nil
}

// Sessions returns the session manager the coordinator mints into.
func (c *Coordinator) Sessions() *SessionManager {
	return c.sessions
}

// Login verifies credentials and mints a session here. When the local store
// rejects them, a sibling that owns the account may vouch for them.
func (c *Coordinator) Login(ctx context.Context, username, password string) (sess *Session, err error) {
	ctx, span, finish := c.begin(ctx, "login", username)
	source := SourceLocal
	defer func() { finish(source, err) }()

	ok, err := c.store.Verify(ctx, username, password)
	if err != nil {
		return nil, storeError("login", username, err)
	}
	if !ok {
		source = SourceRemote
		res := c.ask(ctx, span, query.Query{Op: query.OpLogin, Username: username, Password: password},
			query.FailWith(unauthorized(username, "credentials not recognised by any replica")))
		if res.Err != nil {
			source = SourceNone
			return nil, res.Err
		}
		if !res.Response.Verified {
			return nil, unauthorized(username, "remote replica declined credentials")
		}
	}

	sess = c.sessions.Create(username)
	span.SetAttributes(attribute.String("session.ref", sess.Ref.String()))
	slog.Info("login succeeded", "username", username, "source", source, "session", sess.Ref.String())
	return sess, nil
}

// NewUser creates an account here unless this replica or a sibling already
// knows username. Silence from siblings means the name is free.
func (c *Coordinator) NewUser(ctx context.Context, username, password string) (sess *Session, err error) {
	ctx, span, finish := c.begin(ctx, "new_user", username)
	source := SourceLocal
	defer func() { finish(source, err) }()

	if password == "" {
		return nil, oops.Code("AUTH_EMPTY_PASSWORD").With("username", username).Wrap(ErrEmptyPassword)
	}

	exists, err := c.store.Exists(ctx, username)
	if err != nil {
		return nil, storeError("new_user", username, err)
	}
	if exists {
		return nil, alreadyExists(username, SourceLocal)
	}

	source = SourceRemote
	res := c.ask(ctx, span, query.Query{Op: query.OpUserExists, Username: username},
		query.Silence(query.OpUserExists))
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Answered && res.Response.Verified {
		return nil, alreadyExists(username, SourceRemote)
	}
	if !res.Answered {
		source = SourceNone
	}

	inserted, err := c.store.Insert(ctx, username, password)
	if err != nil {
		return nil, storeError("new_user", username, err)
	}
	if !inserted {
		return nil, alreadyExists(username, SourceLocal)
	}

	sess = c.sessions.Create(username)
	span.SetAttributes(attribute.String("session.ref", sess.Ref.String()))
	slog.Info("user created", "username", username, "session", sess.Ref.String())
	return sess, nil
}

// RemoveUser deletes the account wherever it lives and invalidates every
// session of username minted here.
func (c *Coordinator) RemoveUser(ctx context.Context, username, password string) (err error) {
	ctx, span, finish := c.begin(ctx, "remove_user", username)
	source := SourceLocal
	defer func() { finish(source, err) }()

	deleted, err := c.store.Delete(ctx, username, password)
	if err != nil {
		return storeError("remove_user", username, err)
	}
	if !deleted {
		source = SourceRemote
		res := c.ask(ctx, span, query.Query{Op: query.OpRemoveUser, Username: username, Password: password},
			query.FailWith(unauthorized(username, "no replica removed the account")))
		if res.Err != nil {
			source = SourceNone
			return res.Err
		}
		if !res.Response.Verified {
			return unauthorized(username, "remote replica declined removal")
		}
	}

	n := c.sessions.InvalidateAll(username)
	span.SetAttributes(attribute.Int("sessions.invalidated", n))
	slog.Info("user removed", "username", username, "source", source, "sessions_invalidated", n)
	return nil
}

// VerifyUser reports whether session was minted by some replica and is still
// registered there. Silence means false.
func (c *Coordinator) VerifyUser(ctx context.Context, session ref.Ref) (ok bool, err error) {
	ctx, span, finish := c.begin(ctx, "verify_user", "")
	span.SetAttributes(attribute.String("session.ref", session.String()))
	source := SourceLocal
	defer func() { finish(source, err) }()

	if session.IsZero() {
		return false, nil
	}
	if c.sessions.Owns(session.ID) {
		return true, nil
	}

	source = SourceRemote
	res := c.ask(ctx, span, query.Query{Op: query.OpVerifyUser, Session: session},
		query.Silence(query.OpVerifyUser))
	if res.Err != nil {
		return false, res.Err
	}
	if !res.Answered {
		source = SourceNone
	}
	return res.Response.Verified, nil
}

// ask issues q and waits for its resolution. Publish failures surface as
// the timeout outcome would, so the caller always sees the taxonomy.
func (c *Coordinator) ask(ctx context.Context, span trace.Span, q query.Query, onTimeout query.Outcome) query.Result {
	span.AddEvent("broadcast fallback", trace.WithAttributes(attribute.String("query.op", string(q.Op))))

	future, err := c.queries.Issue(ctx, q, c.timeout, onTimeout)
	if err != nil {
		slog.Warn("broadcast fallback unavailable", "op", q.Op, "username", q.Username, "error", err)
		span.RecordError(err)
		return query.Result{Response: onTimeout.Default, Err: onTimeout.Err}
	}
	res := future.Await(ctx)
	span.SetAttributes(attribute.Bool("query.answered", res.Answered))
	return res
}

func (c *Coordinator) begin(ctx context.Context, op, username string) (context.Context, trace.Span, func(source string, err error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "auth."+op,
		trace.WithAttributes(attribute.String("auth.username", username)),
	)
	return ctx, span, func(source string, err error) {
		status := StatusSuccess
		switch {
		case err == nil:
		case errors.Is(err, ErrUnauthorized):
			status = StatusUnauthorized
		case errors.Is(err, ErrUserAlreadyExists):
			status = StatusExists
		default:
			status = StatusError
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("auth.source", source))
		span.End()
		recordRequest(op, source, status, time.Since(start))
	}
}

func unauthorized(username, reason string) error {
	return oops.Code("AUTH_UNAUTHORIZED").
		With("username", username).
		With("reason", reason).
		Wrap(ErrUnauthorized)
}

func alreadyExists(username, source string) error {
	return oops.Code("AUTH_USER_EXISTS").
		With("username", username).
		With("source", source).
		Wrap(ErrUserAlreadyExists)
}

func storeError(op, username string, err error) error {
	return oops.Code("AUTH_STORE_FAILED").
		With("operation", op).
		With("username", username).
		Wrap(err)
}
