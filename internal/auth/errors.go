// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package auth

import "errors"

// Error taxonomy returned to callers. Match with errors.Is; returned errors
// are oops-wrapped with a code and context.
var (
	// ErrUnauthorized is returned for bad credentials and for refreshing an
	// expired session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUserAlreadyExists is returned when creating an account that this
	// replica or a sibling already knows.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrAccountRemoved is returned when refreshing a session whose account
	// has been removed.
	ErrAccountRemoved = errors.New("account no longer exists")

	// ErrEmptyPassword is returned when creating an account without a
	// password. It is rejected before any store or broadcast call.
	ErrEmptyPassword = errors.New("password cannot be empty")
)
