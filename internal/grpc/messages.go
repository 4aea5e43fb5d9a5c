// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package grpc

import "github.com/icedrive/authd/internal/query"

// CredentialsRequest carries a username and password.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionReply names a freshly minted session.
type SessionReply struct {
	Session  string `json:"session"`
	Username string `json:"username"`
}

// SessionRequest addresses a session by reference.
type SessionRequest struct {
	Session string `json:"session"`
}

// RespondRequest delivers a query response to its correlation reference.
type RespondRequest struct {
	CorrelationID string         `json:"correlation_id"`
	Response      query.Response `json:"response"`
}

// PingRequest asks whether an identity is hosted by the callee.
type PingRequest struct {
	Target string `json:"target"`
}

// SelectPeerRequest asks for a live peer of a service kind.
type SelectPeerRequest struct {
	Kind string `json:"kind"`
}

// SelectPeerReply is the peer found, if any.
type SelectPeerReply struct {
	Peer  string `json:"peer,omitempty"`
	Found bool   `json:"found"`
}
