// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icedrive/authd/internal/ref"
	"github.com/icedrive/authd/pkg/errutil"
)

func TestDecodeQuery(t *testing.T) {
	replyTo := ref.New("a:1")
	session := ref.New("b:2")

	valid, err := Query{Op: OpVerifyUser, Session: session, ReplyTo: replyTo}.Encode()
	require.NoError(t, err)

	q, err := DecodeQuery(valid)
	require.NoError(t, err)
	assert.Equal(t, OpVerifyUser, q.Op)
	assert.Equal(t, session, q.Session)
	assert.Equal(t, replyTo, q.ReplyTo)

	loginOnly, err := Query{Op: OpLogin, Username: "bob", Password: "pw", ReplyTo: replyTo}.Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(loginOnly), `"session"`)
}

func TestDecodeQuery_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"op":`},
		{"unknown op", `{"op":"drop_tables","reply_to":{"id":"01ARZ3NDEKTSV4RRFFQ69G5FAV","addr":"a:1"}}`},
		{"missing reply", `{"op":"login","username":"bob"}`},
		{"verify without session", `{"op":"verify_user","reply_to":{"id":"01ARZ3NDEKTSV4RRFFQ69G5FAV","addr":"a:1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeQuery([]byte(tt.payload))
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "QUERY_MALFORMED")
		})
	}
}
