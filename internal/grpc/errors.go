// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package grpc

import (
	"context"
	"errors"

	"github.com/samber/oops"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/icedrive/authd/internal/auth"
	"github.com/icedrive/authd/internal/query"
)

var (
	// ErrUnreachable is returned when a replica cannot be contacted. Probe
	// failures with this error evict the peer; they never reach callers of
	// the authentication surface.
	ErrUnreachable = errors.New("replica unreachable")

	// ErrUnknownIdentity is returned when the callee hosts no object with
	// the requested identity.
	ErrUnknownIdentity = errors.New("unknown identity")

	// ErrInvalidArgument is returned when a replica rejects a request as
	// malformed.
	ErrInvalidArgument = errors.New("invalid argument")
)

// toStatus maps a domain error to the gRPC status sent on the wire.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if s, ok := status.FromError(err); ok {
		return s.Err()
	}

	var code codes.Code
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, auth.ErrUserAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, auth.ErrAccountRemoved):
		code = codes.FailedPrecondition
	case errors.Is(err, ErrUnknownIdentity), errors.Is(err, query.ErrUnknownCorrelation):
		code = codes.NotFound
	case errors.Is(err, query.ErrAlreadyResolved):
		code = codes.Aborted
	case errors.Is(err, query.ErrUnexpectedResponse), errors.Is(err, auth.ErrEmptyPassword):
		code = codes.InvalidArgument
	case errors.Is(err, query.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// fromStatus maps a gRPC status received from a replica back onto the
// domain taxonomy.
func fromStatus(method string, err error) error {
	s, ok := status.FromError(err)
	if !ok {
		return oops.Code("RPC_FAILED").With("method", method).Wrap(err)
	}

	switch s.Code() {
	case codes.Unauthenticated:
		return oops.Code("AUTH_UNAUTHORIZED").
			With("method", method).
			With("reason", s.Message()).
			Wrap(auth.ErrUnauthorized)
	case codes.AlreadyExists:
		return oops.Code("AUTH_USER_EXISTS").
			With("method", method).
			With("source", "remote").
			Wrap(auth.ErrUserAlreadyExists)
	case codes.FailedPrecondition:
		return oops.Code("AUTH_ACCOUNT_REMOVED").
			With("method", method).
			Wrap(auth.ErrAccountRemoved)
	case codes.NotFound:
		return oops.Code("RPC_NOT_FOUND").
			With("method", method).
			With("reason", s.Message()).
			Wrap(ErrUnknownIdentity)
	case codes.InvalidArgument:
		return oops.Code("RPC_INVALID_ARGUMENT").
			With("method", method).
			With("reason", s.Message()).
			Wrap(ErrInvalidArgument)
	case codes.Unavailable, codes.DeadlineExceeded:
		return oops.Code("RPC_UNREACHABLE").
			With("method", method).
			With("status", s.Code().String()).
			Wrap(ErrUnreachable)
	default:
		return oops.Code("RPC_FAILED").
			With("method", method).
			With("status", s.Code().String()).
			Errorf("%s", s.Message())
	}
}

// invalidArgument rejects a malformed request field.
func invalidArgument(field string, err error) error {
	return status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
}
