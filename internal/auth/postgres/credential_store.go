// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package postgres implements auth.CredentialStore on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/icedrive/authd/internal/auth"
)

// poolIface is the subset of pgxpool.Pool the store uses.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CredentialStore keeps accounts in the users table.
type CredentialStore struct {
	pool   poolIface
	hasher auth.PasswordHasher
}

var _ auth.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore creates a store on pool hashing with hasher.
func NewCredentialStore(pool poolIface, hasher auth.PasswordHasher) *CredentialStore {
	return &CredentialStore{pool: pool, hasher: hasher}
}

// Insert implements auth.CredentialStore. A unique violation means the
// username is taken.
func (s *CredentialStore) Insert(ctx context.Context, username, password string) (bool, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, oops.Code("CREDENTIALS_INSERT_FAILED").
			With("operation", "hash password").
			With("username", username).
			Wrap(err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2)`,
		username, hash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return false, nil
		}
		return false, oops.Code("CREDENTIALS_INSERT_FAILED").
			With("operation", "insert user").
			With("username", username).
			Wrap(err)
	}
	return true, nil
}

// Exists implements auth.CredentialStore.
func (s *CredentialStore) Exists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, oops.Code("CREDENTIALS_EXISTS_FAILED").
			With("operation", "check user").
			With("username", username).
			Wrap(err)
	}
	return exists, nil
}

// Verify implements auth.CredentialStore.
func (s *CredentialStore) Verify(ctx context.Context, username, password string) (bool, error) {
	_, ok, err := s.match(ctx, username, password)
	return ok, err
}

// Delete implements auth.CredentialStore. The row is only removed if its
// hash is still the one the password was checked against.
func (s *CredentialStore) Delete(ctx context.Context, username, password string) (bool, error) {
	hash, ok, err := s.match(ctx, username, password)
	if err != nil || !ok {
		return false, err
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM users WHERE username = $1 AND password_hash = $2`,
		username, hash)
	if err != nil {
		return false, oops.Code("CREDENTIALS_DELETE_FAILED").
			With("operation", "delete user").
			With("username", username).
			Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// match loads the stored hash and checks password against it.
func (s *CredentialStore) match(ctx context.Context, username, password string) (string, bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash FROM users WHERE username = $1`, username).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, oops.Code("CREDENTIALS_VERIFY_FAILED").
			With("operation", "get password hash").
			With("username", username).
			Wrap(err)
	}

	ok, err := s.hasher.Verify(password, hash)
	if err != nil {
		return "", false, oops.Code("CREDENTIALS_VERIFY_FAILED").
			With("operation", "verify password").
			With("username", username).
			Wrap(err)
	}
	return hash, ok, nil
}
