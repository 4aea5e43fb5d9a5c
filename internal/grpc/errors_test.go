// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/icedrive/authd/internal/auth"
	"github.com/icedrive/authd/internal/query"
	"github.com/icedrive/authd/pkg/errutil"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"unauthorized", oops.Code("AUTH_UNAUTHORIZED").Wrap(auth.ErrUnauthorized), codes.Unauthenticated},
		{"already exists", oops.Code("AUTH_USER_EXISTS").Wrap(auth.ErrUserAlreadyExists), codes.AlreadyExists},
		{"account removed", oops.Code("AUTH_ACCOUNT_REMOVED").Wrap(auth.ErrAccountRemoved), codes.FailedPrecondition},
		{"unknown identity", ErrUnknownIdentity, codes.NotFound},
		{"unknown correlation", query.ErrUnknownCorrelation, codes.NotFound},
		{"already resolved", query.ErrAlreadyResolved, codes.Aborted},
		{"unexpected response", query.ErrUnexpectedResponse, codes.InvalidArgument},
		{"empty password", oops.Code("AUTH_EMPTY_PASSWORD").Wrap(auth.ErrEmptyPassword), codes.InvalidArgument},
		{"protocol closed", query.ErrClosed, codes.Unavailable},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"cancelled", context.Canceled, codes.Canceled},
		{"store failure", oops.Code("AUTH_STORE_FAILED").Wrap(errors.New("disk full")), codes.Internal},
		{"status passes through", status.Error(codes.InvalidArgument, "bad"), codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(toStatus(tt.err)))
		})
	}
	assert.NoError(t, toStatus(nil))
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		name     string
		code     codes.Code
		sentinel error
		wantCode string
	}{
		{"unauthenticated", codes.Unauthenticated, auth.ErrUnauthorized, "AUTH_UNAUTHORIZED"},
		{"already exists", codes.AlreadyExists, auth.ErrUserAlreadyExists, "AUTH_USER_EXISTS"},
		{"failed precondition", codes.FailedPrecondition, auth.ErrAccountRemoved, "AUTH_ACCOUNT_REMOVED"},
		{"not found", codes.NotFound, ErrUnknownIdentity, "RPC_NOT_FOUND"},
		{"invalid argument", codes.InvalidArgument, ErrInvalidArgument, "RPC_INVALID_ARGUMENT"},
		{"unavailable", codes.Unavailable, ErrUnreachable, "RPC_UNREACHABLE"},
		{"deadline", codes.DeadlineExceeded, ErrUnreachable, "RPC_UNREACHABLE"},
		{"internal", codes.Internal, nil, "RPC_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fromStatus(methodLogin, status.Error(tt.code, "msg"))
			require.Error(t, err)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestStatusRoundTripPreservesTaxonomy(t *testing.T) {
	for _, sentinel := range []error{auth.ErrUnauthorized, auth.ErrUserAlreadyExists, auth.ErrAccountRemoved} {
		err := fromStatus(methodLogin, toStatus(oops.Wrap(sentinel)))
		assert.ErrorIs(t, err, sentinel)
	}
}
