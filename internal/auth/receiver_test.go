// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package auth_test

import (
	"context"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icedrive/authd/internal/auth"
	"github.com/icedrive/authd/internal/query"
	"github.com/icedrive/authd/internal/ref"
)

type recordedResponse struct {
	replyTo ref.Ref
	resp    query.Response
}

type recordingResponder struct {
	mu    sync.Mutex
	calls []recordedResponse
}

func (r *recordingResponder) Respond(_ context.Context, replyTo ref.Ref, resp query.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedResponse{replyTo: replyTo, resp: resp})
	return nil
}

type ownSet map[ulid.ULID]bool

func (s ownSet) Pending(id ulid.ULID) bool { return s[id] }

func encode(t *testing.T, q query.Query) []byte {
	t.Helper()
	data, err := q.Encode()
	require.NoError(t, err)
	return data
}

func TestQueryReceiver_Answer(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryCredentialStore(fastHasher())
	sessions := auth.NewSessionManager("b:1")
	_, err := store.Insert(ctx, "bob", "secret")
	require.NoError(t, err)
	owned := sessions.Create("bob")

	recv := auth.NewQueryReceiver("r", store, sessions, &recordingResponder{}, nil)

	tests := []struct {
		name string
		q    query.Query
		want bool
	}{
		{"login known", query.Query{Op: query.OpLogin, Username: "bob", Password: "secret"}, true},
		{"login wrong password", query.Query{Op: query.OpLogin, Username: "bob", Password: "nope"}, false},
		{"exists known", query.Query{Op: query.OpUserExists, Username: "bob"}, true},
		{"exists unknown", query.Query{Op: query.OpUserExists, Username: "zed"}, false},
		{"verify owned", query.Query{Op: query.OpVerifyUser, Session: owned.Ref}, true},
		{"verify foreign", query.Query{Op: query.OpVerifyUser, Session: ref.New("a:1")}, false},
		{"remove wrong password", query.Query{Op: query.OpRemoveUser, Username: "bob", Password: "nope"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, ok, err := recv.Answer(ctx, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Equal(t, tt.q.Op, resp.Op)
				assert.True(t, resp.Verified)
			}
		})
	}

	resp, ok, err := recv.Answer(ctx, query.Query{Op: query.OpRemoveUser, Username: "bob", Password: "secret"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bob", resp.Username)
	assert.False(t, owned.IsAlive(), "answering a removal invalidates local sessions")
}

func TestQueryReceiver_DeliverResponds(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryCredentialStore(fastHasher())
	_, err := store.Insert(ctx, "bob", "secret")
	require.NoError(t, err)
	responder := &recordingResponder{}
	recv := auth.NewQueryReceiver("r", store, auth.NewSessionManager("b:1"), responder, ownSet{})

	replyTo := ref.New("a:1")
	recv.Deliver(ctx, encode(t, query.Query{Op: query.OpLogin, Username: "bob", Password: "secret", ReplyTo: replyTo}))
	recv.Deliver(ctx, encode(t, query.Query{Op: query.OpLogin, Username: "bob", Password: "bad", ReplyTo: ref.New("a:1")}))

	require.Len(t, responder.calls, 1, "silent when it cannot help")
	assert.Equal(t, replyTo, responder.calls[0].replyTo)
	assert.Equal(t, query.Response{Op: query.OpLogin, Username: "bob", Verified: true}, responder.calls[0].resp)
}

func TestQueryReceiver_IgnoresOwnAndMalformedQueries(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryCredentialStore(fastHasher())
	_, err := store.Insert(ctx, "bob", "secret")
	require.NoError(t, err)

	replyTo := ref.New("b:1")
	responder := &recordingResponder{}
	recv := auth.NewQueryReceiver("r", store, auth.NewSessionManager("b:1"), responder, ownSet{replyTo.ID: true})

	recv.Deliver(ctx, encode(t, query.Query{Op: query.OpLogin, Username: "bob", Password: "secret", ReplyTo: replyTo}))
	recv.Deliver(ctx, []byte("{not json"))

	assert.Empty(t, responder.calls)
	assert.Equal(t, "r", recv.SubscriberID())
}
