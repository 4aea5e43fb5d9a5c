// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package sqlite implements auth.CredentialStore on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/samber/oops"

	"github.com/icedrive/authd/internal/auth"
)

// DefaultFileName is the database file created under the data directory.
const DefaultFileName = "users.db"

const schema = `
CREATE TABLE IF NOT EXISTS users (
    username      TEXT PRIMARY KEY,
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Config configures Open.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// CredentialStore keeps accounts in a SQLite users table.
type CredentialStore struct {
	db     *sql.DB
	hasher auth.PasswordHasher
}

var _ auth.CredentialStore = (*CredentialStore)(nil)

// Open opens (creating if needed) the database at cfg.Path and ensures the
// users table exists.
func Open(ctx context.Context, cfg Config, hasher auth.PasswordHasher) (*CredentialStore, error) {
	if cfg.Path == "" {
		return nil, oops.Code("SQLITE_OPEN_FAILED").Errorf("sqlite path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("path", cfg.Path).Wrap(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("path", cfg.Path).With("operation", "ping").Wrap(err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("path", cfg.Path).With("operation", "create schema").Wrap(err)
	}

	return &CredentialStore{db: db, hasher: hasher}, nil
}

// Close closes the database.
func (s *CredentialStore) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.Code("SQLITE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// Insert implements auth.CredentialStore.
func (s *CredentialStore) Insert(ctx context.Context, username, password string) (bool, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, oops.Code("CREDENTIALS_INSERT_FAILED").
			With("operation", "hash password").
			With("username", username).
			Wrap(err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)`, username, hash)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
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
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username).Scan(&exists)
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

// Delete implements auth.CredentialStore.
func (s *CredentialStore) Delete(ctx context.Context, username, password string) (bool, error) {
	hash, ok, err := s.match(ctx, username, password)
	if err != nil || !ok {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM users WHERE username = ? AND password_hash = ?`, username, hash)
	if err != nil {
		return false, oops.Code("CREDENTIALS_DELETE_FAILED").
			With("operation", "delete user").
			With("username", username).
			Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, oops.Code("CREDENTIALS_DELETE_FAILED").
			With("operation", "rows affected").
			With("username", username).
			Wrap(err)
	}
	return n > 0, nil
}

func (s *CredentialStore) match(ctx context.Context, username, password string) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
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
