// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package query

import (
	"encoding/json"

	"github.com/samber/oops"

	"github.com/icedrive/authd/internal/ref"
)

// Op names the question a query asks.
type Op string

// Query operations.
const (
	OpLogin      Op = "login"
	OpUserExists Op = "user_exists"
	OpRemoveUser Op = "remove_user"
	OpVerifyUser Op = "verify_user"
)

// Valid reports whether op is a known operation.
func (op Op) Valid() bool {
	switch op {
	case OpLogin, OpUserExists, OpRemoveUser, OpVerifyUser:
		return true
	default:
		return false
	}
}

// Query is the broadcast payload. ReplyTo is the correlation reference the
// answering replica calls back on.
type Query struct {
	Op       Op      `json:"op"`
	Username string  `json:"username,omitempty"`
	Password string  `json:"password,omitempty"`
	Session  ref.Ref `json:"session,omitzero"`
	ReplyTo  ref.Ref `json:"reply_to"`
}

// Response is a positive answer from a sibling replica. Replicas that cannot
// help stay silent, so Verified is true on every response actually sent.
type Response struct {
	Op       Op     `json:"op"`
	Username string `json:"username,omitempty"`
	Verified bool   `json:"verified"`
}

// Encode marshals q for publishing.
func (q Query) Encode() ([]byte, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return nil, oops.Code("QUERY_ENCODE_FAILED").With("op", string(q.Op)).Wrap(err)
	}
	return data, nil
}

// DecodeQuery parses and validates a broadcast payload.
func DecodeQuery(payload []byte) (Query, error) {
	var q Query
	if err := json.Unmarshal(payload, &q); err != nil {
		return Query{}, oops.Code("QUERY_MALFORMED").Wrap(err)
	}
	if !q.Op.Valid() {
		return Query{}, oops.Code("QUERY_MALFORMED").With("op", string(q.Op)).Errorf("unknown query op")
	}
	if q.ReplyTo.IsZero() {
		return Query{}, oops.Code("QUERY_MALFORMED").With("op", string(q.Op)).Errorf("missing reply reference")
	}
	if q.Op == OpVerifyUser && q.Session.IsZero() {
		return Query{}, oops.Code("QUERY_MALFORMED").With("op", string(q.Op)).Errorf("missing session reference")
	}
	return q, nil
}
