// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package errutil

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that the deepest code carried by err is code.
// Replica errors wrap layer upon layer, so the failure message includes the
// full chain rather than only the outermost type.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, oopsErr.Code(), "error chain: %v", err)
}

// AssertErrorContext asserts that err carries key=value in its oops context.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	ctx := oopsErr.Context()
	require.Contains(t, ctx, key, "error chain: %v", err)
	assert.Equal(t, value, ctx[key])
}

// AssertFailure asserts both halves of a replica failure: callers branch on
// the sentinel with errors.Is while logs and metrics key on the code.
// Neither alone pins the outcome: a sentinel can travel under more than one
// code, and a code says nothing about what errors.Is will match.
func AssertFailure(t *testing.T, err error, sentinel error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel), "expected %q in error chain: %v", sentinel, err)
	AssertErrorCode(t, err, code)
}
