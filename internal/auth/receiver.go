// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/icedrive/authd/internal/query"
	"github.com/icedrive/authd/internal/ref"
	"github.com/icedrive/authd/pkg/errutil"
)

// respondTimeout bounds the callback to the issuing replica.
const respondTimeout = 5 * time.Second

// SessionIndex is the receiver's read-mostly view of local sessions.
type SessionIndex interface {
	Owns(id ulid.ULID) bool
	InvalidateAll(username string) int
}

// Responder calls back the replica that issued a query.
type Responder interface {
	Respond(ctx context.Context, replyTo ref.Ref, resp query.Response) error
}

// PendingChecker reports correlation references this replica issued itself.
type PendingChecker interface {
	Pending(id ulid.ULID) bool
}

// QueryReceiver answers sibling queries from local data only. It never
// issues a query of its own and stays silent when it cannot help.
type QueryReceiver struct {
	id        string
	store     CredentialStore
	sessions  SessionIndex
	responder Responder
	own       PendingChecker
}

// NewQueryReceiver creates a receiver. id identifies it as a bus subscriber.
func NewQueryReceiver(id string, store CredentialStore, sessions SessionIndex, responder Responder, own PendingChecker) *QueryReceiver {
	return &QueryReceiver{
		id:        id,
		store:     store,
		sessions:  sessions,
		responder: responder,
		own:       own,
	}
}

// SubscriberID implements pubsub.Subscriber.
func (r *QueryReceiver) SubscriberID() string {
	return r.id
}

// Deliver implements pubsub.Subscriber.
func (r *QueryReceiver) Deliver(ctx context.Context, payload []byte) {
	q, err := query.DecodeQuery(payload)
	if err != nil {
		errutil.LogWarn(slog.Default(), "dropping malformed query", err)
		return
	}
	if r.own != nil && r.own.Pending(q.ReplyTo.ID) {
		return
	}

	resp, ok, err := r.Answer(ctx, q)
	if err != nil {
		errutil.LogWarn(slog.Default(), "local lookup failed, staying silent", err)
		return
	}
	if !ok {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, respondTimeout)
	defer cancel()
	if err := r.responder.Respond(rctx, q.ReplyTo, resp); err != nil {
		slog.Debug("response not delivered",
			"op", q.Op,
			"reply_to", q.ReplyTo.String(),
			"error", err)
		return
	}
	slog.Debug("answered query", "op", q.Op, "username", q.Username, "reply_to", q.ReplyTo.String())
}

// Answer computes the local answer to q. ok is false when this replica
// cannot help.
func (r *QueryReceiver) Answer(ctx context.Context, q query.Query) (resp query.Response, ok bool, err error) {
	switch q.Op {
	case query.OpLogin:
		ok, err = r.store.Verify(ctx, q.Username, q.Password)
	case query.OpUserExists:
		ok, err = r.store.Exists(ctx, q.Username)
	case query.OpRemoveUser:
		ok, err = r.store.Delete(ctx, q.Username, q.Password)
		if ok && err == nil {
			n := r.sessions.InvalidateAll(q.Username)
			slog.Info("user removed on behalf of sibling", "username", q.Username, "sessions_invalidated", n)
		}
	case query.OpVerifyUser:
		ok = r.sessions.Owns(q.Session.ID)
	}
	if err != nil || !ok {
		return query.Response{}, false, err
	}
	return query.Response{Op: q.Op, Username: q.Username, Verified: true}, true, nil
}
